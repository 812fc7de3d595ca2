package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/model"
)

func handleListTemplates(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := svc.List(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, templates)
	}
}

func handleGetTemplate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, t)
	}
}

func handleCreateTemplate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t model.Template
		if err := decodeJSON(r, &t, false); err != nil {
			respondError(w, r, err)
			return
		}
		created, err := svc.Create(r.Context(), t)
		if err != nil {
			respondError(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/templates/"+created.ID)
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleUpdateTemplate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t model.Template
		if err := decodeJSON(r, &t, false); err != nil {
			respondError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		if t.ID != "" && t.ID != id {
			WriteBadRequest(w, "template id in body does not match the path")
			return
		}
		updated, err := svc.Update(r.Context(), id, t)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteTemplate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRender(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RenderRequest
		if err := decodeJSON(r, &req, false); err != nil {
			respondError(w, r, err)
			return
		}
		resp, err := svc.Render(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// handleSimulate reads the context from the query (templateId, role,
// customerId, lang) and the field values from the body.
func handleSimulate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := service.SimulateRequest{
			TemplateID: q.Get("templateId"),
			CustomerID: q.Get("customerId"),
		}
		if req.TemplateID == "" {
			WriteBadRequest(w, "templateId is required")
			return
		}
		role, err := parseRole(q.Get("role"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		req.Role = role
		if err := decodeJSON(r, &req.FieldValues, true); err != nil {
			respondError(w, r, err)
			return
		}

		res, err := svc.Simulate(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleExportTemplate(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := svc.Export(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, exp)
	}
}

func handleExportTemplates(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exports, err := svc.ExportMany(r.Context(), strings.Split(r.URL.Query().Get("ids"), ","))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, exports)
	}
}

func handleTemplateSchema(svc *service.TemplateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := parseRole(r.URL.Query().Get("role"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		s, err := svc.JSONSchema(r.Context(), chi.URLParam(r, "id"), model.RenderContext{
			Role:       role,
			CustomerID: r.URL.Query().Get("customerId"),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, s)
	}
}

// parseRole accepts an empty role, which matches no role override.
func parseRole(s string) (model.Role, error) {
	if s == "" {
		return "", nil
	}
	role, err := model.ParseRole(s)
	if err != nil {
		return "", model.NewBadRequestError(err.Error())
	}
	return role, nil
}

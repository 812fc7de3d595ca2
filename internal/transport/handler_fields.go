package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/model"
)

func handleListFields(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, err := svc.List(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, fields)
	}
}

func handleGetField(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, f)
	}
}

func handleCreateField(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f model.Field
		if err := decodeJSON(r, &f, false); err != nil {
			respondError(w, r, err)
			return
		}
		created, err := svc.Create(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/fields/"+created.ID)
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleUpdateField(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f model.Field
		if err := decodeJSON(r, &f, false); err != nil {
			respondError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		if f.ID != "" && f.ID != id {
			WriteBadRequest(w, "field id in body does not match the path")
			return
		}
		updated, err := svc.Update(r.Context(), id, f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteField(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleValidateValue validates the JSON body against the field named by the
// fieldId query parameter.
func handleValidateValue(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fieldID := r.URL.Query().Get("fieldId")
		if fieldID == "" {
			WriteBadRequest(w, "fieldId is required")
			return
		}
		var value model.Value
		if err := decodeJSON(r, &value, true); err != nil {
			respondError(w, r, err)
			return
		}
		rep, err := svc.ValidateValue(r.Context(), fieldID, value)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rep)
	}
}

func handleValidationSchema(svc *service.FieldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, svc.ValidationSchema(chi.URLParam(r, "fieldType")))
	}
}

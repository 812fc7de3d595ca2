package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/internal/store"
)

func handleListChanges(svc *service.ChangeLogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := store.DefaultChangeLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				WriteBadRequest(w, "limit must be a positive integer")
				return
			}
			limit = n
		}
		entries, err := svc.List(r.Context(), limit, r.URL.Query().Get("entityType"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, entries)
	}
}

func handleEntityChanges(svc *service.ChangeLogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.ForEntity(r.Context(), chi.URLParam(r, "entityId"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, entries)
	}
}

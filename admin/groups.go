package admin

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// handleListGroups handles GET /admin/groups
func (h *AdminHandlers) handleListGroups(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Groups(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, snaps)
}

// handleGetGroup handles GET /admin/groups/{group}
func (h *AdminHandlers) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	name, ok := groupParam(w, r)
	if !ok {
		return
	}
	snap, found, err := h.svc.Group(r.Context(), name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		writeErrorResponse(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSONResponse(w, snap)
}

// handleState handles GET /admin/state
func (h *AdminHandlers) handleState(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, status)
}

// handleSyncedSet handles GET /admin/synced-set
func (h *AdminHandlers) handleSyncedSet(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"procs":  status.SyncedSet,
		"leader": status.Leader,
	})
}

func groupParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "group"))
	if err != nil || name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid group name")
		return "", false
	}
	return name, true
}

package admin

import (
	"context"
	"net/http"
)

type connectRequest struct {
	User string `json:"user"`
}

type memberRequest struct {
	Member string `json:"member"`
}

// handleConnect handles POST /admin/sessions
func (h *AdminHandlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.sessions.Connect(req.User)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]interface{}{
		"name":    s.Name,
		"mailbox": s.Mailbox,
	})
}

// handleKill handles POST /admin/sessions/kill. The engine forgets the
// member before the session closes so no view is lost mid-flight.
func (h *AdminHandlers) handleKill(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil || req.Member == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Kill(r.Context(), req.Member); err != nil {
		writeEngineError(w, err)
		return
	}
	h.sessions.Disconnect(req.Member)
	writeJSONResponse(w, map[string]string{"killed": req.Member})
}

// handleNotifications handles GET /admin/sessions/notifications?member=...
// It drains the notifications queued for the session without blocking.
func (h *AdminHandlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	member := r.URL.Query().Get("member")
	s, ok := h.sessions.Lookup(member)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	out := make([]map[string]interface{}, 0)
drain:
	for {
		select {
		case n, open := <-s.Notifications():
			if !open {
				break drain
			}
			out = append(out, map[string]interface{}{
				"view":         n,
				"service_type": n.ServiceType(),
			})
		default:
			break drain
		}
	}
	writeJSONResponse(w, map[string]interface{}{
		"notifications": out,
		"dropped":       s.Dropped(),
	})
}

// handleJoin handles POST /admin/groups/{group}/join
func (h *AdminHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	h.membershipOp(w, r, h.svc.Join)
}

// handleLeave handles POST /admin/groups/{group}/leave
func (h *AdminHandlers) handleLeave(w http.ResponseWriter, r *http.Request) {
	h.membershipOp(w, r, h.svc.Leave)
}

func (h *AdminHandlers) membershipOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, member, group string) error) {
	group, ok := groupParam(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil || req.Member == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := op(r.Context(), req.Member, group); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONResponse(w, map[string]string{"member": req.Member, "group": group})
}

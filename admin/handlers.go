package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxpert/groupd/daemon"
	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/session"
	"github.com/rs/zerolog/log"
)

// Service is the engine surface served by the admin API. *daemon.Loop
// implements it.
type Service interface {
	Groups(ctx context.Context) ([]groups.GroupSnapshot, error)
	Group(ctx context.Context, name string) (groups.GroupSnapshot, bool, error)
	Status(ctx context.Context) (groups.Status, error)
	Join(ctx context.Context, member, group string) error
	Leave(ctx context.Context, member, group string) error
	Kill(ctx context.Context, member string) error
}

// Sessions is the local session directory driven by the debug routes.
type Sessions interface {
	Connect(user string) (*session.Session, error)
	Disconnect(name string)
	Lookup(name string) (*session.Session, bool)
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	svc      Service
	sessions Sessions
}

// NewAdminHandlers creates a new AdminHandlers instance. sessions may be nil
// when debug routes are disabled.
func NewAdminHandlers(svc Service, sessions Sessions) *AdminHandlers {
	return &AdminHandlers{
		svc:      svc,
		sessions: sessions,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeEngineError maps engine and loop errors onto HTTP statuses
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, groups.ErrNoSuchGroup), errors.Is(err, groups.ErrNoSuchMember):
		status = http.StatusNotFound
	case errors.Is(err, groups.ErrAlreadyMember):
		status = http.StatusConflict
	case errors.Is(err, groups.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, groups.ErrNotOperational), errors.Is(err, daemon.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeErrorResponse(w, status, err.Error())
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

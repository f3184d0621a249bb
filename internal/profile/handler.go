package profile

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/oidc"
	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

type Handler struct {
	svc    *Service
	events oidc.Publisher
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, events oidc.Publisher, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, events: events, logger: logger}
}

// Get handles GET /rest/v1/profiles/{id}. Users read their own profile;
// admins may read any.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := r.PathValue("id")
	if id != claims.Subject && !h.isAdmin(r, claims.Subject) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get", id, err)
		return
	}
	writeJSON(w, http.StatusOK, entity.ToRecord(p))
}

// Create handles POST /rest/v1/profiles for the caller's own id.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var np entity.NewProfile
	if err := decodeStrict(r, &np); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if np.ID == "" {
		np.ID = claims.Subject
	}
	if np.ID != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	// admins are promoted out of band
	if np.Role == entity.RoleAdmin {
		writeError(w, http.StatusForbidden, "role not allowed")
		return
	}
	if np.Email == "" {
		np.Email = claims.Email
	}
	p, err := h.svc.Create(r.Context(), np)
	if err != nil {
		h.fail(w, "create", np.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, entity.ToRecord(p))
}

// Update handles PATCH /rest/v1/profiles/{id}. Unknown fields, role
// included, are rejected.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := r.PathValue("id")
	if id != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var patch entity.Patch
	if err := decodeStrict(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	p, err := h.svc.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update", id, err)
		return
	}
	if h.events != nil {
		h.events.Publish(id, oidc.EventUserUpdated)
	}
	writeJSON(w, http.StatusOK, entity.ToRecord(p))
}

func (h *Handler) isAdmin(r *http.Request, userID string) bool {
	p, err := h.svc.Get(r.Context(), userID)
	return err == nil && p.Role == entity.RoleAdmin
}

func (h *Handler) fail(w http.ResponseWriter, op, id string, err error) {
	var verr *entity.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, ErrExists):
		writeError(w, http.StatusConflict, "profile already exists")
	case errors.Is(err, ErrNoUser):
		writeError(w, http.StatusUnprocessableEntity, "no account for profile")
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, entity.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, "empty patch")
	case errors.Is(err, entity.ErrMalformed):
		h.logger.Errorw("stored profile is malformed", "op", op, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "malformed profile")
	default:
		h.logger.Errorw("profile request failed", "op", op, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

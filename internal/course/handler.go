package course

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/oidc"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /rest/v1/courses?teacher_id=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := oidc.ClaimsFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	teacherID := r.URL.Query().Get("teacher_id")
	if teacherID == "" {
		writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}
	cs, err := h.svc.TeacherCourses(r.Context(), teacherID)
	if err != nil {
		h.fail(w, "list", teacherID, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// Purchased handles GET /rest/v1/courses/purchased for the caller.
func (h *Handler) Purchased(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	cs, err := h.svc.PurchasedCourses(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, "purchased", claims.Subject, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// Contents handles GET /rest/v1/courses/{id}/contents.
func (h *Handler) Contents(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := r.PathValue("id")
	items, err := h.svc.Contents(r.Context(), claims.Subject, id)
	if err != nil {
		h.fail(w, "contents", id, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) fail(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	h.logger.Errorw("course request failed", "op", op, "id", id, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/user"
	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
)

// Accounts is the slice of *user.UserService the auth endpoints use.
type Accounts interface {
	SignupUser(ctx context.Context, na user.NewAccount) (*userentity.MinimalAuthView, error)
	AuthenticatePassword(ctx context.Context, email, password string) (*userentity.MinimalAuthView, error)
	GetMinimalAuthView(ctx context.Context, id string) (*userentity.MinimalAuthView, error)
	BumpVersionAndRevoke(ctx context.Context, userID string) (int64, error)
}

// Publisher pushes auth change events to a user's connected clients.
type Publisher interface {
	Publish(userID, event string)
}

// event names shared with the client
const (
	EventSignedOut   = "SIGNED_OUT"
	EventUserUpdated = "USER_UPDATED"
)

type Handler struct {
	svc     *OIDCService
	userSvc Accounts
	events  Publisher
	logger  *zap.SugaredLogger
}

func NewHandler(svc *OIDCService, accounts Accounts, events Publisher, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, userSvc: accounts, events: events, logger: logger}
}

func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.svc.Issuer()
	out := map[string]any{
		"issuer":            issuer,
		"jwks_uri":          issuer + "/jwks.json",
		"token_endpoint":    issuer + "/auth/v1/token",
		"userinfo_endpoint": issuer + "/auth/v1/user",
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.JWKS())
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Email    string              `json:"email"`
	Password string              `json:"password"`
	Data     userentity.Metadata `json:"data"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid payload")
		return
	}
	view, err := h.userSvc.SignupUser(r.Context(), user.NewAccount{Email: req.Email, Password: req.Password, Metadata: req.Data})
	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailExists):
			writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		case errors.Is(err, user.ErrInvalidSignup):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		default:
			h.logger.Warnw("signup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "signup failed")
		}
		return
	}
	tokens, err := h.svc.IssueSession(r.Context(), view, clientID(r))
	if err != nil {
		h.logger.Errorw("issue session after signup", "user_id", view.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "signup failed")
		return
	}
	h.logger.Infow("user signed up", "user_id", view.ID, "role", view.Metadata().Role)
	writeJSON(w, http.StatusOK, toSessionResponse(tokens, view))
}

// TokenRequest covers both grants; unused fields stay empty.
type TokenRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	grant := r.URL.Query().Get("grant_type")
	if grant != "password" && grant != "refresh_token" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid payload")
		return
	}
	if grant == "password" {
		h.passwordGrant(w, r, req)
		return
	}
	h.refreshGrant(w, r, req)
}

func (h *Handler) passwordGrant(w http.ResponseWriter, r *http.Request, req TokenRequest) {
	view, err := h.userSvc.AuthenticatePassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		// map common errors to status codes
		switch {
		case errors.Is(err, user.ErrBadCredentials):
			writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
		case errors.Is(err, user.ErrLocked):
			writeError(w, http.StatusForbidden, "user_locked", "account locked")
		case errors.Is(err, user.ErrDisabled):
			writeError(w, http.StatusForbidden, "user_disabled", "account disabled")
		default:
			h.logger.Warnw("password grant failed", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "login failed")
		}
		return
	}
	tokens, err := h.svc.IssueSession(r.Context(), view, clientID(r))
	if err != nil {
		h.logger.Errorw("issue session", "user_id", view.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "login failed")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(tokens, view))
}

func (h *Handler) refreshGrant(w http.ResponseWriter, r *http.Request, req TokenRequest) {
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token required")
		return
	}
	session, err := h.svc.ValidateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrInvalidRefreshToken) {
			h.logger.Warnw("validate refresh token", "err", err)
		}
		writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")
		return
	}
	// load minimal view for the user
	v, err := h.userSvc.GetMinimalAuthView(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")
		return
	}
	// rotate refresh token: revoke old and issue new
	tokens, err := h.svc.Rotate(r.Context(), session, req.RefreshToken, v)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")
			return
		}
		h.logger.Errorw("rotate refresh token", "user_id", v.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(tokens, v))
}

// Logout revokes the caller's session. scope=global (default) also revokes
// every other session and invalidates outstanding access tokens; scope=local
// only drops the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "")
		return
	}
	scope := r.URL.Query().Get("scope")
	var err error
	switch scope {
	case "local":
		err = h.svc.RevokeSession(r.Context(), claims.SessionID)
	case "", "global":
		if err = h.svc.RevokeUser(r.Context(), claims.Subject); err == nil {
			_, err = h.userSvc.BumpVersionAndRevoke(r.Context(), claims.Subject)
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown scope")
		return
	}
	if err != nil {
		h.logger.Errorw("logout", "user_id", claims.Subject, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "logout failed")
		return
	}
	if scope != "local" && h.events != nil {
		h.events.Publish(claims.Subject, EventSignedOut)
	}
	h.logger.Infow("user signed out", "user_id", claims.Subject, "scope", scope)
	w.WriteHeader(http.StatusNoContent)
}

// User returns the account behind the bearer token.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "")
		return
	}
	v, err := h.userSvc.GetMinimalAuthView(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_token", "")
			return
		}
		h.logger.Errorw("load user", "user_id", claims.Subject, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(v))
}

func clientID(r *http.Request) string {
	if c := r.Header.Get("X-Client-Info"); c != "" {
		return c
	}
	return "buds"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, ErrorResponse{Error: code, Description: desc})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	// browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("access_token")
}

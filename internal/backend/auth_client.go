// Package backend holds the HTTP adapters the session resolver runs on.
package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/credstore"
	"github.com/ovaphlow/englishbuds/internal/oidc"
	"github.com/ovaphlow/englishbuds/internal/session"
	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
)

// CredentialStore persists the session between runs; *credstore.Store implements it.
type CredentialStore interface {
	Load(ctx context.Context, api string) (*credstore.Credential, error)
	Save(ctx context.Context, c credstore.Credential) error
	Delete(ctx context.Context, api string) error
}

type Option func(*AuthClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *AuthClient) { c.http = hc }
}

// WithRefreshMargin refreshes access tokens that expire within d. The
// margin never exceeds half of a token's lifetime.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *AuthClient) { c.margin = d }
}

// WithPush toggles the websocket listener for server-pushed events.
func WithPush(enabled bool) Option {
	return func(c *AuthClient) { c.push = enabled }
}

// AuthClient implements session.AuthBackend against the auth endpoints.
// Listeners are called synchronously: SignInWithPassword returns only after
// every listener has seen SIGNED_IN.
type AuthClient struct {
	base   string
	http   *http.Client
	store  CredentialStore
	margin time.Duration
	push   bool
	logger *zap.SugaredLogger
	now    func() time.Time
	// readWait bounds how long the push channel may stay silent
	readWait time.Duration

	mu        sync.Mutex
	current   *session.Session
	loaded    bool
	listeners map[int]func(session.Event, *session.Session)
	nextSub   int
	stopPush  context.CancelFunc
	pushDone  chan struct{}
	pushUser  string
}

func NewAuthClient(baseURL string, store CredentialStore, logger *zap.SugaredLogger, opts ...Option) *AuthClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &AuthClient{
		base:      strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		store:     store,
		margin:    time.Minute,
		push:      true,
		readWait:  pushReadWait,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(session.Event, *session.Session)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type subscription struct {
	c  *AuthClient
	id int
}

func (s subscription) Unsubscribe() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	delete(s.c.listeners, s.id)
}

func (c *AuthClient) OnAuthStateChange(fn func(session.Event, *session.Session)) session.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.listeners[c.nextSub] = fn
	return subscription{c: c, id: c.nextSub}
}

func (c *AuthClient) emit(ev session.Event, s *session.Session) {
	c.mu.Lock()
	fns := make([]func(session.Event, *session.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		var cp *session.Session
		if s != nil {
			v := *s
			cp = &v
		}
		fn(ev, cp)
	}
}

func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	s, err := c.grant(ctx, "sign in", "password", oidc.TokenRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	c.adopt(ctx, s)
	c.emit(session.EventSignedIn, s)
	return s, nil
}

func (c *AuthClient) SignUp(ctx context.Context, email, password string, meta session.Metadata) (*session.Session, error) {
	req := oidc.SignupRequest{
		Email:    email,
		Password: password,
		Data:     userentity.Metadata{Role: meta.Role, DisplayName: meta.DisplayName},
	}
	resp, err := doJSON(ctx, c.http, http.MethodPost, c.base+"/auth/v1/signup", "", req)
	if err != nil {
		return nil, networkError("sign up", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, authError("sign up", resp)
	}
	s, err := c.decodeSession(resp)
	if err != nil {
		return nil, &session.AuthError{Op: "sign up", Code: session.CodeUnknown, Err: err}
	}
	c.adopt(ctx, s)
	c.emit(session.EventSignedIn, s)
	return s, nil
}

// SignOut revokes every session of the user. A token the server no longer
// accepts counts as signed out.
func (c *AuthClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		resp, err := doJSON(ctx, c.http, http.MethodPost, c.base+"/auth/v1/logout", cur.AccessToken, nil)
		if err != nil {
			return networkError("sign out", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusUnauthorized {
			return authError("sign out", resp)
		}
	}
	c.forget(ctx)
	c.emit(session.EventSignedOut, nil)
	return nil
}

// GetSession returns the in-memory or persisted session, refreshing it
// when it is about to expire. It returns nil when there is nothing to restore.
func (c *AuthClient) GetSession(ctx context.Context) (*session.Session, error) {
	s, err := c.load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if c.usable(s) {
		c.startPush(s)
		return s, nil
	}
	fresh, err := c.refresh(ctx, s)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			c.logger.Infow("stored session expired", "user_id", s.User.ID)
			c.forget(ctx)
			return nil, nil
		}
		return nil, err
	}
	return fresh, nil
}

// AccessToken returns a usable access token, refreshing it when needed.
func (c *AuthClient) AccessToken(ctx context.Context) (string, error) {
	s, err := c.load(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", session.ErrNotSignedIn
	}
	if c.usable(s) {
		return s.AccessToken, nil
	}
	fresh, err := c.refresh(ctx, s)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// usable reports whether s is valid for longer than the refresh margin.
func (c *AuthClient) usable(s *session.Session) bool {
	margin := c.margin
	if iat := tokenIssuedAt(s.AccessToken); !iat.IsZero() && s.ExpiresAt.After(iat) {
		margin = min(margin, s.ExpiresAt.Sub(iat)/2)
	}
	return c.now().Add(margin).Before(s.ExpiresAt)
}

func (c *AuthClient) GetUser(ctx context.Context) (*session.User, error) {
	token, err := c.AccessToken(ctx)
	if errors.Is(err, session.ErrNotSignedIn) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp, err := doJSON(ctx, c.http, http.MethodGet, c.base+"/auth/v1/user", token, nil)
	if err != nil {
		return nil, networkError("get user", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, authError("get user", resp)
	}
	var u oidc.UserResponse
	if err := decodeBody(resp, &u); err != nil {
		return nil, &session.AuthError{Op: "get user", Code: session.CodeUnknown, Err: err}
	}
	out := toUser(u)
	return &out, nil
}

// Close stops the push listener.
func (c *AuthClient) Close() {
	c.stopListening()
}

func (c *AuthClient) grant(ctx context.Context, op, grantType string, body oidc.TokenRequest) (*session.Session, error) {
	u := c.base + "/auth/v1/token?grant_type=" + url.QueryEscape(grantType)
	resp, err := doJSON(ctx, c.http, http.MethodPost, u, "", body)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, authError(op, resp)
	}
	s, err := c.decodeSession(resp)
	if err != nil {
		return nil, &session.AuthError{Op: op, Code: session.CodeUnknown, Err: err}
	}
	return s, nil
}

func (c *AuthClient) refresh(ctx context.Context, old *session.Session) (*session.Session, error) {
	s, err := c.grant(ctx, "refresh", "refresh_token", oidc.TokenRequest{RefreshToken: old.RefreshToken})
	if err != nil {
		return nil, err
	}
	c.adopt(ctx, s)
	c.logger.Debugw("access token refreshed", "user_id", s.User.ID)
	c.emit(session.EventTokenRefreshed, s)
	return s, nil
}

func (c *AuthClient) decodeSession(resp *http.Response) (*session.Session, error) {
	var body oidc.SessionResponse
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	if body.AccessToken == "" || body.User.ID == "" {
		return nil, errors.New("session response without token or user")
	}
	exp := time.Unix(body.ExpiresAt, 0)
	if body.ExpiresAt == 0 {
		exp = tokenExpiry(body.AccessToken, c.now())
	}
	return &session.Session{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    exp,
		User:         toUser(body.User),
	}, nil
}

// tokenExpiry reads exp without verifying the signature; the server
// verifies, the client only schedules refreshes.
func tokenExpiry(token string, fallback time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

// tokenIssuedAt returns iat, or the zero time when the token has none.
func tokenIssuedAt(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.IssuedAt == nil {
		return time.Time{}
	}
	return claims.IssuedAt.Time
}

func toUser(u oidc.UserResponse) session.User {
	return session.User{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.UserMetadata.Role,
		DisplayName: u.UserMetadata.DisplayName,
	}
}

// load returns the current session, reading the store once per process.
func (c *AuthClient) load(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil || c.loaded || c.store == nil {
		return copySession(c.current), nil
	}
	cred, err := c.store.Load(ctx, c.base)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			c.loaded = true
			return nil, nil
		}
		return nil, err
	}
	c.loaded = true
	c.current = &session.Session{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		User: session.User{
			ID:          cred.UserID,
			Email:       cred.Email,
			Role:        cred.Role,
			DisplayName: cred.DisplayName,
		},
	}
	return copySession(c.current), nil
}

// adopt makes s current, persists it and (re)connects the push listener.
func (c *AuthClient) adopt(ctx context.Context, s *session.Session) {
	c.mu.Lock()
	c.current = copySession(s)
	c.loaded = true
	c.mu.Unlock()
	if c.store != nil {
		err := c.store.Save(ctx, credstore.Credential{
			API:          c.base,
			UserID:       s.User.ID,
			Email:        s.User.Email,
			Role:         s.User.Role,
			DisplayName:  s.User.DisplayName,
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
			ExpiresAt:    s.ExpiresAt,
		})
		if err != nil {
			c.logger.Warnw("persist credential", "err", err)
		}
	}
	c.startPush(s)
}

// forget stops the push listener and drops the session.
func (c *AuthClient) forget(ctx context.Context) {
	c.stopListening()
	c.clear(ctx)
}

// clear drops the session locally and from the store.
func (c *AuthClient) clear(ctx context.Context) {
	c.mu.Lock()
	c.current = nil
	c.loaded = true
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Delete(ctx, c.base); err != nil {
			c.logger.Warnw("delete credential", "err", err)
		}
	}
}

func copySession(s *session.Session) *session.Session {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

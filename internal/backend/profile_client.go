package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	"github.com/ovaphlow/englishbuds/internal/session"
)

// TokenSource hands out a current access token; *AuthClient implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ProfileClient implements session.ProfileStore against the profile
// endpoints. Every record it returns has passed entity.Parse.
type ProfileClient struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

func NewProfileClient(baseURL string, tokens TokenSource, hc *http.Client) *ProfileClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ProfileClient{base: strings.TrimRight(baseURL, "/"), http: hc, tokens: tokens}
}

func (c *ProfileClient) profileURL(userID string) string {
	return c.base + "/rest/v1/profiles/" + url.PathEscape(userID)
}

func (c *ProfileClient) Get(ctx context.Context, userID string) (*entity.Profile, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := doJSON(ctx, c.http, http.MethodGet, c.profileURL(userID), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, session.ErrProfileNotFound
	default:
		return nil, statusError(resp)
	}
	var rec entity.Record
	if err := decodeBody(resp, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrProfileMalformed, err)
	}
	p, err := entity.Parse(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrProfileMalformed, err)
	}
	return p, nil
}

func (c *ProfileClient) Insert(ctx context.Context, np entity.NewProfile) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	resp, err := doJSON(ctx, c.http, http.MethodPost, c.base+"/rest/v1/profiles", token, np)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	return nil
}

func (c *ProfileClient) Update(ctx context.Context, userID string, patch entity.Patch) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	resp, err := doJSON(ctx, c.http, http.MethodPatch, c.profileURL(userID), token, patch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return session.ErrProfileNotFound
	}
	return statusError(resp)
}

// StatusError is a non-success response from the REST endpoints.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %d %s", e.Code, e.Message)
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

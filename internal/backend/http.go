package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ovaphlow/englishbuds/internal/oidc"
	"github.com/ovaphlow/englishbuds/internal/session"
)

const clientInfo = "buds-cli"

// doJSON sends body as JSON and returns the response; the caller closes it.
func doJSON(ctx context.Context, hc *http.Client, method, url, token string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", clientInfo)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return hc.Do(req)
}

func decodeBody(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// authError maps an auth endpoint failure onto the resolver's taxonomy.
func authError(op string, resp *http.Response) error {
	var body oidc.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	code := session.CodeUnknown
	switch body.Error {
	case "invalid_grant":
		code = session.CodeInvalidCredentials
		if op == "refresh" {
			code = session.CodeSessionExpired
		}
	case "user_already_exists":
		code = session.CodeDuplicateAccount
	case "user_locked", "user_disabled":
		code = session.CodeLocked
	case "validation_failed", "invalid_request":
		code = session.CodeInvalidInput
	case "missing_token", "invalid_token":
		code = session.CodeSessionExpired
	default:
		if resp.StatusCode == http.StatusUnauthorized {
			code = session.CodeSessionExpired
		}
	}
	msg := resp.Status
	if body.Description != "" {
		msg += ": " + body.Description
	}
	return &session.AuthError{Op: op, Code: code, Err: errors.New(msg)}
}

func networkError(op string, err error) error {
	return &session.AuthError{Op: op, Code: session.CodeNetwork, Err: err}
}

// wsURL turns an http(s) base into the matching ws(s) base.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

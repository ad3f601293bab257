// Package chatclient is the client half of the chat: account calls over HTTP,
// the single websocket session, and the form handler that ties them to a view.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chatwire"
)

const (
	registerPath = "/register"
	loginPath    = "/login"
)

// StatusError is returned for any non-2xx answer from /register or /login.
// Body holds the response body verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// AuthClient posts credentials to the account endpoints of the chat server.
type AuthClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewAuthClient(baseURL string) *AuthClient {
	return &AuthClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

// Register creates an account.
func (a *AuthClient) Register(ctx context.Context, c chatwire.Credentials) error {
	return a.post(ctx, registerPath, c)
}

// Login checks credentials. A nil error means the server answered 2xx.
func (a *AuthClient) Login(ctx context.Context, c chatwire.Credentials) error {
	return a.post(ctx, loginPath, c)
}

func (a *AuthClient) post(ctx context.Context, path string, c chatwire.Credentials) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("[client] account call ok")
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	return &StatusError{Code: resp.StatusCode, Body: string(raw)}
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HTTPVerifier resolves tokens against the identity provider's user endpoint.
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPVerifier(baseURL, apiKey string, hc *http.Client) *HTTPVerifier {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPVerifier{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: hc}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, &campaign.AuthenticationError{Reason: "missing bearer token"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Identity{}, &campaign.TransportError{Op: "verify token", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return Identity{}, &campaign.TransportError{Op: "verify token", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, &campaign.AuthenticationError{Reason: "token rejected by identity provider"}
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, &campaign.TransportError{Op: "verify token", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, &campaign.TransportError{Op: "verify token", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode user: %w", err)}
	}
	if id.UserID == "" {
		return Identity{}, &campaign.AuthenticationError{Reason: "identity provider returned no user"}
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

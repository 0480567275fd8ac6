// Package dispatch submits bulk send campaigns to the delivery backend and
// tracks their progress until completion.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

const defaultHTTPTimeout = 30 * time.Second

// TokenSource supplies the bearer credential issued by the identity provider.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", &campaign.AuthenticationError{Reason: "no bearer token configured"}
	}
	return string(s), nil
}

// Client talks to the delivery backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		tokens:  tokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendEmails issues exactly one dispatch request. It never retries.
func (c *Client) SendEmails(ctx context.Context, req campaign.SendEmailsReq) (campaign.SendEmailsResp, error) {
	var resp campaign.SendEmailsResp
	err := c.do(ctx, "send emails", http.MethodPost, "/api/send-emails", req, &resp)
	return resp, err
}

func (c *Client) CampaignStatus(ctx context.Context, campaignID string) (campaign.CampaignStatus, error) {
	var st campaign.CampaignStatus
	path := "/api/campaigns/" + url.PathEscape(campaignID) + "/status"
	err := c.do(ctx, "campaign status", http.MethodGet, path, nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if c.tokens == nil {
		return &campaign.AuthenticationError{Reason: "no token source"}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		var ae *campaign.AuthenticationError
		if errors.As(err, &ae) {
			return err
		}
		return &campaign.AuthenticationError{Reason: "token unavailable", Err: err}
	}
	if token == "" {
		return &campaign.AuthenticationError{Reason: "empty bearer token"}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &campaign.TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &campaign.TransportError{Op: op, StatusCode: res.StatusCode, Err: err}
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return &campaign.AuthenticationError{Reason: backendMessage(raw, res.StatusCode)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &campaign.TransportError{Op: op, StatusCode: res.StatusCode, Message: backendMessage(raw, res.StatusCode)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &campaign.TransportError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func backendMessage(raw []byte, status int) string {
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	return fmt.Sprintf("HTTP error! status: %d", status)
}

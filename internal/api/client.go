// Package api talks to the backend's HTTP collaborators: channel bootstrap,
// conversation history, the work-order list, and the completion toggle.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zulandar/fieldchat/internal/auth"
	"github.com/zulandar/fieldchat/internal/config"
	"github.com/zulandar/fieldchat/internal/logging"
	"github.com/zulandar/fieldchat/internal/models"
	"go.uber.org/zap"
)

const (
	headerSubscriptionKey = "Ocp-Apim-Subscription-Key"
	headerAuthToken       = "Auth-Token"

	// maxErrorBody bounds how much of a failed response is kept in StatusError.
	maxErrorBody = 512
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client is the backend HTTP client.
type Client struct {
	cfg    config.APIConfig
	http   *http.Client
	auth   auth.Provider
	logger *zap.Logger
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Config     config.APIConfig
	Auth       auth.Provider // optional; anonymous when nil
	HTTPClient *http.Client  // optional; defaults to one with Config.TimeoutSec
	Logger     *zap.Logger
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Config.BaseURL == "" {
		return nil, fmt.Errorf("api: base url is required")
	}
	if _, err := url.Parse(opts.Config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(opts.Config.TimeoutSec) * time.Second}
	}
	provider := opts.Auth
	if provider == nil {
		provider = auth.Static("")
	}
	return &Client{
		cfg:    opts.Config,
		http:   hc,
		auth:   provider,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

type bootstrapRequest struct {
	UserID string `json:"userId"`
}

type bootstrapResponse struct {
	WSURL string `json:"wsUrl"`
}

// Bootstrap asks the connection-info endpoint for a channel address.
func (c *Client) Bootstrap(ctx context.Context) (string, error) {
	body, err := json.Marshal(bootstrapRequest{UserID: c.cfg.UserID})
	if err != nil {
		return "", fmt.Errorf("api: bootstrap: %w", err)
	}
	var resp bootstrapResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.ChatConnectionPath, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.WSURL == "" {
		return "", fmt.Errorf("api: bootstrap: response has no wsUrl")
	}
	return resp.WSURL, nil
}

type historyResponse struct {
	Messages []models.HistoricalMessage `json:"messages"`
}

// History fetches the ordered history of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]models.HistoricalMessage, error) {
	q := url.Values{"conversation_id": {conversationID}}
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.ChatHistoryPath, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// WorkOrders fetches the technician's ordered work-order list.
func (c *Client) WorkOrders(ctx context.Context) ([]models.WorkOrder, error) {
	var orders []models.WorkOrder
	if err := c.do(ctx, http.MethodGet, c.cfg.WorkOrdersPath, nil, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// SetDone marks a conversation done or not done. Only the status matters.
func (c *Client) SetDone(ctx context.Context, conversationID string, done bool) error {
	q := url.Values{
		"conversationId": {conversationID},
		"done":           {strconv.FormatBool(done)},
	}
	return c.do(ctx, http.MethodPost, c.cfg.ChatDonePath, q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SubscriptionKey != "" {
		req.Header.Set(headerSubscriptionKey, c.cfg.SubscriptionKey)
	}
	if tok := c.token(ctx); tok != "" {
		req.Header.Set(headerAuthToken, tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: path, Code: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s %s: decode: %w", method, path, err)
	}
	return nil
}

// token fetches the auth token. Failures degrade to an anonymous request.
func (c *Client) token(ctx context.Context) string {
	tok, err := c.auth.Token(ctx)
	if err != nil {
		c.logger.Warn("auth token unavailable", zap.Error(err))
		return ""
	}
	return tok
}

// Token exposes the auth token for outbound chat envelopes.
func (c *Client) Token(ctx context.Context) string {
	return c.token(ctx)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradepit/internal/game"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// ActionResult is the body returned by the admin control endpoints.
type ActionResult struct {
	OK        bool       `json:"ok"`
	Phase     game.Phase `json:"phase"`
	Countdown int        `json:"countdown"`
}

type Health struct {
	OK       bool       `json:"ok"`
	Phase    game.Phase `json:"phase"`
	Sessions int        `json:"sessions"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.jsonRequest(ctx, http.MethodGet, "/healthz", "", nil, &out)
	return out, err
}

func (c *Client) State(ctx context.Context) (game.MarketView, error) {
	var out game.MarketView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/state", "", nil, &out)
	return out, err
}

func (c *Client) AdminStart(ctx context.Context, token string) (ActionResult, error) {
	return c.adminAction(ctx, "start", token)
}

func (c *Client) AdminCancel(ctx context.Context, token string) (ActionResult, error) {
	return c.adminAction(ctx, "cancel", token)
}

func (c *Client) AdminReset(ctx context.Context, token string) (ActionResult, error) {
	return c.adminAction(ctx, "reset", token)
}

func (c *Client) adminAction(ctx context.Context, action, token string) (ActionResult, error) {
	var out ActionResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/"+action, token, nil, &out)
	return out, err
}

func (c *Client) AdminExport(ctx context.Context, token string) (game.Export, error) {
	var out game.Export
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/export", token, nil, &out)
	return out, err
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server status %d: %s", e.Status, e.Message)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

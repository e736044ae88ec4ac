package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roasbeef/outreach/internal/account"
)

// DefaultClientTimeout bounds one admin API call from the CLI.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Code    int
	Message string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %s (%d)", e.Message, e.Code)
}

// Client talks to a running daemon's admin API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for addr, a host:port or a full URL. hc may be
// nil.
func NewClient(addr string, hc *http.Client) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("admin api address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid admin api address %q", addr)
	}

	if hc == nil {
		hc = &http.Client{Timeout: DefaultClientTimeout}
	}

	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: hc,
	}, nil
}

// Promote advances the account's maturity by one step.
func (c *Client) Promote(ctx context.Context, id string) (account.Account,
	error) {

	return c.accountOp(ctx, id, "promote", nil)
}

// Activate puts the account back into rotation.
func (c *Client) Activate(ctx context.Context, id string) (account.Account,
	error) {

	return c.accountOp(ctx, id, "activate", nil)
}

// Rest takes the account out of rotation.
func (c *Client) Rest(ctx context.Context, id string,
	req RestRequest) (account.Account, error) {

	return c.accountOp(ctx, id, "rest", req)
}

func (c *Client) accountOp(ctx context.Context, id, op string,
	body any) (account.Account, error) {

	path := "/accounts/" + url.PathEscape(id) + "/" + op

	var resp AccountResponse
	if err := c.post(ctx, path, body, &resp); err != nil {
		return account.Account{}, err
	}

	return resp.Account, nil
}

func (c *Client) post(ctx context.Context, path string, body,
	out any) error {

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.base+path, &buf,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin api unreachable, is outreachd "+
			"running? %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			msg = e.Error.Message
		}

		return &APIError{Code: resp.StatusCode, Message: msg}
	}

	return json.Unmarshal(raw, out)
}

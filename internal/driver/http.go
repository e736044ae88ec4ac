package driver

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

	"github.com/roasbeef/outreach/internal/executor"
	"github.com/roasbeef/outreach/internal/health"
)

const (
	// DefaultHTTPTimeout bounds one bridge request. The executor's own
	// driver deadline usually fires first.
	DefaultHTTPTimeout = 60 * time.Second

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 64 << 10

	// maxDetailBytes caps the response text kept as record detail.
	maxDetailBytes = 2048
)

// ErrNoEndpoint is returned when the HTTP driver has no usable endpoint.
var ErrNoEndpoint = errors.New("http driver endpoint missing")

// HTTPConfig configures the HTTP bridge driver.
type HTTPConfig struct {
	// Endpoint receives one POST per action.
	Endpoint string

	// Timeout bounds each request. Defaults to DefaultHTTPTimeout.
	Timeout time.Duration

	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// HTTP forwards actions to an automation bridge (a browser worker or an
// API proxy) and classifies its responses, including the restriction
// signals a platform serves when it flags an account.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTP bridge driver.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoEndpoint, cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTP{
		endpoint: u.String(),
		client:   client,
	}, nil
}

// dispatchRequest is the body posted to the bridge. Payload is opaque and
// travels base64 encoded.
type dispatchRequest struct {
	Handle  string `json:"handle"`
	Payload []byte `json:"payload,omitempty"`
}

// dispatchResponse is what a bridge may answer with on success.
type dispatchResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Dispatch implements executor.ActionDriver.
func (h *HTTP) Dispatch(ctx context.Context, handle string,
	payload []byte) (executor.DriverResult, error) {

	body, err := json.Marshal(dispatchRequest{
		Handle:  handle,
		Payload: payload,
	})
	if err != nil {
		return executor.DriverResult{}, fmt.Errorf("encode request: %w",
			err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, h.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return executor.DriverResult{}, fmt.Errorf("build request: %w",
			err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return executor.DriverResult{}, ctx.Err()
		}

		// A failed round trip never reached the platform.
		log.DebugS(ctx, "Bridge request failed", "err", err)

		return executor.DriverResult{
			Status: executor.StatusSoftFail,
			Detail: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return executor.DriverResult{
			Status: executor.StatusSoftFail,
			Detail: fmt.Sprintf("read response: %v", err),
		}, nil
	}

	result := ClassifyResponse(resp.StatusCode, string(raw))

	log.DebugS(ctx, "Bridge responded",
		"http_status", resp.StatusCode,
		"status", result.Status)

	return result, nil
}

// ClassifyResponse maps a bridge response onto a driver status. Restriction
// and rate-limit signals take precedence over everything else.
func ClassifyResponse(code int, body string) executor.DriverResult {
	detail := truncate(body)

	switch {
	case health.IsRestrictionResponse(code, body):
		return executor.DriverResult{
			Status: executor.StatusRestricted,
			Detail: withCode(code, detail),
		}

	case code == http.StatusTooManyRequests ||
		health.IsRateLimitResponse(code, body):

		return executor.DriverResult{
			Status: executor.StatusRateLimited,
			Detail: withCode(code, detail),
		}

	case code >= 200 && code < 300:
		return classifySuccess(body, detail)

	case health.IsBlockedPage(body):
		return executor.DriverResult{
			Status: executor.StatusBlockedPage,
			Detail: withCode(code, detail),
		}
	}

	var status executor.DriverStatus
	switch {
	case code == http.StatusForbidden, code == http.StatusNotFound,
		code == http.StatusGone, code == http.StatusUnprocessableEntity:

		status = executor.StatusPermanentFail

	case code == http.StatusRequestTimeout, code >= 500:
		status = executor.StatusSoftFail

	default:
		status = executor.StatusUnknown
	}

	return executor.DriverResult{
		Status: status,
		Detail: withCode(code, detail),
	}
}

// classifySuccess reads the bridge's own verdict from a 2xx body. A bridge
// that answers with plain text is trusted unless the text is a block page.
func classifySuccess(body, detail string) executor.DriverResult {
	var resp dispatchResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		if health.IsBlockedPage(body) {
			return executor.DriverResult{
				Status: executor.StatusBlockedPage,
				Detail: detail,
			}
		}

		return executor.DriverResult{
			Status: executor.StatusOK,
			Detail: detail,
		}
	}

	status := executor.DriverStatus(resp.Status)
	switch status {
	case "":
		status = executor.StatusOK

	case executor.StatusOK, executor.StatusSoftFail,
		executor.StatusRateLimited, executor.StatusRestricted,
		executor.StatusBlockedPage, executor.StatusPermanentFail,
		executor.StatusUnknown:

	default:
		status = executor.StatusUnknown
	}

	if status == executor.StatusOK && health.IsBlockedPage(resp.Detail) {
		status = executor.StatusBlockedPage
	}

	return executor.DriverResult{
		Status: status,
		Detail: truncate(resp.Detail),
	}
}

func withCode(code int, detail string) string {
	if detail == "" {
		return fmt.Sprintf("http %d", code)
	}

	return fmt.Sprintf("http %d: %s", code, detail)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetailBytes {
		return s
	}

	return s[:maxDetailBytes]
}

var _ executor.ActionDriver = (*HTTP)(nil)

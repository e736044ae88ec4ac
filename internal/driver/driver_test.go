package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/executor"
	"github.com/stretchr/testify/require"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want executor.DriverStatus
	}{
		{"plain ok", 200, "done", executor.StatusOK},
		{"json ok", 200, `{"status":"ok","detail":"id 42"}`,
			executor.StatusOK},
		{"bridge soft fail", 200, `{"status":"soft_fail"}`,
			executor.StatusSoftFail},
		{"bridge nonsense status", 200, `{"status":"maybe"}`,
			executor.StatusUnknown},
		{"ok carrying challenge", 200,
			`{"status":"ok","detail":"Verify your identity"}`,
			executor.StatusBlockedPage},
		{"empty 403", 403, "", executor.StatusRestricted},
		{"suspended 403", 403, "Your account is suspended",
			executor.StatusRestricted},
		{"target 403", 403, "you cannot message this user",
			executor.StatusPermanentFail},
		{"empty 429", 429, "", executor.StatusRateLimited},
		{"wordy 429", 429, "slow down", executor.StatusRateLimited},
		{"locked page", 500, "Your account has been locked",
			executor.StatusBlockedPage},
		{"gone", 410, "", executor.StatusPermanentFail},
		{"server error", 502, "bad gateway", executor.StatusSoftFail},
		{"teapot", 418, "", executor.StatusUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyResponse(tc.code, tc.body)
			require.Equal(t, tc.want, got.Status)
		})
	}
}

func TestHTTPDispatch(t *testing.T) {
	var got dispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t,
				json.NewDecoder(r.Body).Decode(&got))

			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("account temporarily limited"))
		},
	))
	defer srv.Close()

	d, err := NewHTTP(HTTPConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := d.Dispatch(
		context.Background(), "handle-A", []byte(`{"text":"hi"}`),
	)
	require.NoError(t, err)
	require.Equal(t, executor.StatusRestricted, res.Status)
	require.Equal(t, "http 403: account temporarily limited", res.Detail)

	require.Equal(t, "handle-A", got.Handle)
	require.JSONEq(t, `{"text":"hi"}`, string(got.Payload))
}

func TestHTTPDispatchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	d, err := NewHTTP(HTTPConfig{Endpoint: endpoint})
	require.NoError(t, err)

	res, err := d.Dispatch(context.Background(), "handle-A", nil)
	require.NoError(t, err)
	require.Equal(t, executor.StatusSoftFail, res.Status)
	require.NotEmpty(t, res.Detail)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dispatch(ctx, "handle-A", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPRejectsBadEndpoint(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	require.ErrorIs(t, err, ErrNoEndpoint)

	_, err = NewHTTP(HTTPConfig{Endpoint: "not a url"})
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestDryRun(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	d := NewDryRun(0, clock.NewTestClock(now))

	res, err := d.Dispatch(context.Background(), "handle-A", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, executor.StatusOK, res.Status)

	history := d.History()
	require.Len(t, history, 1)
	require.Equal(t, "handle-A", history[0].Handle)
	require.Equal(t, now, history[0].At)

	slow := NewDryRun(time.Hour, clock.NewTestClock(now))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Dispatch(ctx, "handle-A", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, slow.History())
}

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/account"
	"github.com/roasbeef/outreach/internal/domain"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/store"
	"github.com/roasbeef/outreach/internal/target"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fixedStatus struct {
	status scheduler.Status
}

func (f fixedStatus) Status() scheduler.Status {
	return f.status
}

type harness struct {
	server *Server
	queue  *target.Queue
	super  *health.Supervisor
	pool   *account.Pool
	repo   *store.MockStore
	wakes  atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx := context.Background()
	clk := clock.NewTestClock(testNow)
	repo := store.NewMockStore()

	blocked := target.NewBlocklist(repo)
	_, err := blocked.Add(ctx, "@Spammer")
	require.NoError(t, err)

	pool := account.NewPool(account.DefaultPoolConfig(), clk)
	pool.Add(account.Account{
		ID:       "acct-new",
		Platform: "x",
		Role:     account.RoleOutreach,
		Status:   account.StatusNurturing,
		Maturity: account.MaturityNew,
	})
	pool.Add(account.Account{
		ID:       "acct-banned",
		Platform: "x",
		Role:     account.RoleOutreach,
		Status:   account.StatusBanned,
		Maturity: account.MaturityActive,
	})

	h := &harness{
		pool:  pool,
		repo:  repo,
		queue: target.NewQueue(target.DefaultQueueConfig(), clk, blocked),
		super: health.NewSupervisor(
			health.DefaultConfig(),
			health.NewRepoHaltStore(repo, health.DefaultRepoKey),
			nil, clk,
		),
	}
	h.server = NewServer(DefaultConfig(), Deps{
		Targets: h.queue.Intake(),
		Status: fixedStatus{scheduler.Status{
			Day:            "2026-05-04",
			Cycles:         7,
			ActiveKeywords: []string{"golang", "sqlite"},
		}},
		Halt:         h.super,
		Accounts:     pool,
		AccountStore: repo,
		Clock:        clk,
		Wake:         func() { h.wakes.Add(1) },
	})

	return h
}

func (h *harness) do(t *testing.T, method, path string,
	body any) *httptest.ResponseRecorder {

	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	return rec
}

func TestSubmitTarget(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/targets", target.Target{
		Key:       "post-1",
		Kind:      domain.KindReply,
		Payload:   []byte("hello"),
		Recipient: "alice",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "post-1", resp.Key)
	require.EqualValues(t, 1, h.wakes.Load())

	require.Equal(t, 1, h.queue.Pending())
	drained := h.queue.DrainIntake(context.Background())
	require.Equal(t, 1, drained.Accepted)
	require.Equal(t, 1, h.queue.LenKind(domain.KindReply))
}

func TestSubmitRejections(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{
			name: "malformed",
			body: "not a target",
			code: http.StatusBadRequest,
		},
		{
			name: "missing key",
			body: target.Target{Kind: domain.KindReply},
			code: http.StatusBadRequest,
		},
		{
			name: "search is not a target kind",
			body: target.Target{Key: "q", Kind: domain.KindSearch},
			code: http.StatusBadRequest,
		},
		{
			name: "blocklisted recipient",
			body: target.Target{
				Key:       "post-2",
				Kind:      domain.KindDM,
				Recipient: "spammer",
			},
			code: http.StatusConflict,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/targets", tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	h.queue.MarkTerminal("done")
	rec := h.do(t, http.MethodPost, "/targets", target.Target{
		Key:  "done",
		Kind: domain.KindLike,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, h.wakes.Load())
}

func TestHaltResumeRoundTrip(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/halt", HaltRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/halt", HaltRequest{
		Reason: "manual check",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var view HaltView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.True(t, view.Halted)
	require.Equal(t, "manual check", view.Reason)
	require.Equal(t, DefaultHaltSource, view.Source)

	rec = h.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.True(t, status.Halt.Halted)
	require.EqualValues(t, 7, status.Scheduler.Cycles)
	require.Equal(t, []string{"golang", "sqlite"},
		status.Scheduler.ActiveKeywords)

	rec = h.do(t, http.MethodPost, "/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed ResumeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resumed))
	require.True(t, resumed.Resumed)
	require.False(t, resumed.Halt.Halted)
	require.Equal(t, health.DefaultConfig().ResumeCycles,
		resumed.Halt.ResumeCyclesRemaining)

	// A second resume has nothing to clear.
	rec = h.do(t, http.MethodPost, "/resume", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resumed))
	require.False(t, resumed.Resumed)

	require.EqualValues(t, 2, h.wakes.Load())
}

func (h *harness) account(t *testing.T,
	rec *httptest.ResponseRecorder) account.Account {

	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	return resp.Account
}

func TestAccountLifecycleRoutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// new -> nurturing -> active.
	a := h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/promote", nil))
	require.Equal(t, account.MaturityNurturing, a.Maturity)
	require.Equal(t, account.StatusNurturing, a.Status)

	a = h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/promote", nil))
	require.Equal(t, account.MaturityActive, a.Maturity)
	require.Equal(t, account.StatusActive, a.Status)

	// An empty rest body uses the default rest.
	a = h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/rest", nil))
	require.Equal(t, account.StatusResting, a.Status)
	require.NotNil(t, a.RestingUntil)
	require.True(t, a.RestingUntil.Equal(
		testNow.Add(DefaultConfig().DefaultRest),
	))

	a = h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/rest", RestRequest{For: "90m"}))
	require.True(t, a.RestingUntil.Equal(testNow.Add(90*time.Minute)))

	until := testNow.Add(48 * time.Hour)
	a = h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/rest", RestRequest{Until: until}))
	require.True(t, a.RestingUntil.Equal(until))

	a = h.account(t, h.do(t, http.MethodPost,
		"/accounts/acct-new/activate", nil))
	require.Equal(t, account.StatusActive, a.Status)
	require.Nil(t, a.RestingUntil)

	// Every change reached the repository.
	stored, err := h.repo.LoadAccounts(ctx, "")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, account.StatusActive, stored[0].Status)
	require.Equal(t, account.MaturityActive, stored[0].Maturity)

	require.EqualValues(t, 6, h.wakes.Load())
}

func TestAccountLifecycleRejections(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{
			name: "unknown account",
			path: "/accounts/nobody/promote",
			code: http.StatusNotFound,
		},
		{
			name: "banned account",
			path: "/accounts/acct-banned/activate",
			code: http.StatusConflict,
		},
		{
			name: "banned account rest",
			path: "/accounts/acct-banned/rest",
			code: http.StatusConflict,
		},
		{
			name: "bad duration",
			path: "/accounts/acct-new/rest",
			body: RestRequest{For: "soon"},
			code: http.StatusBadRequest,
		},
		{
			name: "negative duration",
			path: "/accounts/acct-new/rest",
			body: RestRequest{For: "-1h"},
			code: http.StatusBadRequest,
		},
		{
			name: "until in the past",
			path: "/accounts/acct-new/rest",
			body: RestRequest{Until: testNow.Add(-time.Hour)},
			code: http.StatusBadRequest,
		},
		{
			name: "both ends",
			path: "/accounts/acct-new/rest",
			body: RestRequest{
				Until: testNow.Add(time.Hour), For: "1h",
			},
			code: http.StatusBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	require.Zero(t, h.wakes.Load())

	a := h.pool.Get("acct-new").UnwrapOrFail(t)
	require.Equal(t, account.MaturityNew, a.Maturity)
}

func TestClientAccountOps(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx := context.Background()

	// A bare host:port gets a scheme.
	c, err := NewClient(strings.TrimPrefix(srv.URL, "http://"), nil)
	require.NoError(t, err)

	a, err := c.Promote(ctx, "acct-new")
	require.NoError(t, err)
	require.Equal(t, account.MaturityNurturing, a.Maturity)

	a, err = c.Rest(ctx, "acct-new", RestRequest{For: "2h"})
	require.NoError(t, err)
	require.True(t, a.RestingUntil.Equal(testNow.Add(2*time.Hour)))

	a, err = c.Activate(ctx, "acct-new")
	require.NoError(t, err)
	require.Equal(t, account.StatusActive, a.Status)

	_, err = c.Activate(ctx, "acct-banned")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Code)
	require.Contains(t, apiErr.Message, "banned")

	_, err = NewClient("", nil)
	require.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	h := newHarness(t)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	h.server.cfg = cfg

	l, err := h.server.Listen()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- h.server.Serve(l)
	}()

	url := "http://" + l.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))
	require.NoError(t, <-done)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, strings.Contains(rec.Body.String(), "panic"))
}

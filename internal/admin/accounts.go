package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/outreach/internal/account"
)

// AccountControl is the slice of the account pool operators drive.
type AccountControl interface {
	Get(id string) fn.Option[account.Account]
	Promote(id string) (account.Maturity, error)
	Activate(id string) error
	Rest(id string, until time.Time) error
}

// AccountSaver persists an account right after an operator change, so the
// change survives a restart that happens before the next cycle ends.
type AccountSaver interface {
	UpsertAccount(ctx context.Context, a account.Account) error
}

// RestRequest is the body of POST /accounts/{id}/rest. Exactly one of
// Until and For is set; an empty body rests for the supervisor cooldown.
type RestRequest struct {
	Until time.Time `json:"until,omitzero"`
	For   string    `json:"for,omitempty"`
}

// AccountResponse is the body of every account lifecycle route.
type AccountResponse struct {
	Op      string          `json:"op"`
	Account account.Account `json:"account"`
}

func (s *Server) accountRoutes(r chi.Router) {
	r.Post("/promote", func(w http.ResponseWriter, r *http.Request) {
		s.changeAccount(w, r, "promote", func(id string) error {
			_, err := s.deps.Accounts.Promote(id)
			return err
		})
	})
	r.Post("/activate", func(w http.ResponseWriter, r *http.Request) {
		s.changeAccount(w, r, "activate", s.deps.Accounts.Activate)
	})
	r.Post("/rest", s.handleRest)
}

func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req RestRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid request body: %v",
			err)
		return
	}

	until, err := s.restUntil(req)
	if err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}

	s.changeAccount(w, r, "rest", func(id string) error {
		return s.deps.Accounts.Rest(id, until)
	})
}

// restUntil resolves a rest request against the server clock.
func (s *Server) restUntil(req RestRequest) (time.Time, error) {
	now := s.now()

	switch {
	case !req.Until.IsZero() && req.For != "":
		return time.Time{}, errors.New("set either until or for, " +
			"not both")

	case !req.Until.IsZero():
		if !req.Until.After(now) {
			return time.Time{}, fmt.Errorf("until %v is in the past",
				req.Until)
		}

		return req.Until, nil

	case req.For != "":
		d, err := time.ParseDuration(req.For)
		if err != nil {
			return time.Time{}, fmt.Errorf("for: %w", err)
		}
		if d <= 0 {
			return time.Time{}, fmt.Errorf("for must be positive, "+
				"got %v", d)
		}

		return now.Add(d), nil

	default:
		return now.Add(s.cfg.DefaultRest), nil
	}
}

// changeAccount applies one lifecycle step, persists the result and
// answers with the updated account.
func (s *Server) changeAccount(w http.ResponseWriter, r *http.Request,
	op string, apply func(id string) error) {

	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := apply(id); err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			httpError(w, http.StatusNotFound, "%v", err)

		case errors.Is(err, account.ErrBanned),
			errors.Is(err, account.ErrInvalidTransition):

			httpError(w, http.StatusConflict, "%v", err)

		default:
			httpError(w, http.StatusInternalServerError, "%s: %v",
				op, err)
		}

		return
	}

	acct, err := s.deps.Accounts.Get(id).UnwrapOrErr(account.ErrNotFound)
	if err != nil {
		httpError(w, http.StatusNotFound, "%v: %s", err, id)
		return
	}

	if s.deps.AccountStore != nil {
		if err := s.deps.AccountStore.UpsertAccount(ctx, acct); err != nil {
			httpError(w, http.StatusInternalServerError,
				"persist account: %v", err)
			return
		}
	}

	log.InfoS(ctx, "Account changed by operator",
		"account_id", id,
		"op", op,
		"status", acct.Status,
		"maturity", acct.Maturity)

	s.wake()

	writeJSON(w, http.StatusOK, AccountResponse{Op: op, Account: acct})
}

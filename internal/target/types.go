package target

import (
	"errors"
	"time"

	"github.com/roasbeef/outreach/internal/domain"
)

var (
	// ErrQueueFull is returned when the queue holds MaxPending targets.
	ErrQueueFull = errors.New("target queue is full")

	// ErrTerminal is returned when a finished target is enqueued again.
	ErrTerminal = errors.New("target already terminal")

	// ErrBlocked is returned when the target's recipient is blocklisted.
	ErrBlocked = errors.New("recipient is blocklisted")

	// ErrInvalidTarget is returned for targets without a key or with an
	// unknown kind.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrNotFound is returned for operations on unknown keys.
	ErrNotFound = errors.New("target not found")
)

// Target is one unit of outreach work.
type Target struct {
	// Key is the platform-stable identity, e.g. a post or user id.
	Key string `json:"key"`

	Kind domain.ActionKind `json:"kind"`

	// Payload is opaque to the core and handed to the driver verbatim.
	Payload []byte `json:"payload,omitempty"`

	// Priority orders targets within a kind; lower goes first.
	Priority int `json:"priority"`

	// Recipient is the handle the blocklist is checked against.
	Recipient string `json:"recipient,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	Attempts       int       `json:"attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at,omitempty"`
	Terminal       bool      `json:"terminal,omitempty"`
}

// Eligible reports whether the target may be emitted at now.
func (t Target) Eligible(now time.Time) bool {
	return !t.Terminal && !now.Before(t.NextEligibleAt)
}

// Validate checks the fields the queue relies on.
func (t Target) Validate() error {
	switch {
	case t.Key == "":
		return errors.Join(ErrInvalidTarget, errors.New("empty key"))

	case !t.Kind.Valid() || t.Kind == domain.KindSearch:
		return errors.Join(ErrInvalidTarget,
			errors.New("unsupported kind "+string(t.Kind)))
	}

	return nil
}

// QueueConfig holds configuration for the target queue.
type QueueConfig struct {
	// MaxPending is the maximum number of live targets.
	MaxPending int

	// IntakeSize bounds the producer channel.
	IntakeSize int
}

// DefaultQueueConfig returns sensible defaults for the queue.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxPending: 1000,
		IntakeSize: 256,
	}
}

// Stats summarises the queue.
type Stats struct {
	Pending  map[domain.ActionKind]int `json:"pending"`
	InFlight int                       `json:"in_flight"`
	Terminal int                       `json:"terminal"`
}

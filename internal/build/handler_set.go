package build

import (
	"context"
	"errors"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet fans log records out to several btclog handlers, typically the
// console and the rotating daemon log.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
}

// NewHandlerSet combines handlers. All of them start at the info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	h := &HandlerSet{set: handlers}
	h.SetLevel(btclog.LevelInfo)

	return h
}

func (h *HandlerSet) slogHandlers() fanout {
	out := make(fanout, len(h.set))
	for i, handler := range h.set {
		out[i] = handler
	}

	return out
}

// derive applies f to every member and returns the resulting set.
func (h *HandlerSet) derive(
	f func(btclogv2.Handler) btclogv2.Handler) *HandlerSet {

	next := &HandlerSet{
		level: h.level,
		set:   make([]btclogv2.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		next.set[i] = f(handler)
	}

	return next
}

// Enabled implements slog.Handler.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	return h.slogHandlers().Enabled(ctx, level)
}

// Handle implements slog.Handler. Every member sees the record even when
// an earlier one fails.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	return h.slogHandlers().Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.slogHandlers().WithAttrs(attrs)
}

// WithGroup implements slog.Handler.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return h.slogHandlers().WithGroup(name)
}

// SubSystem implements btclog.Handler.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	return h.derive(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.SubSystem(tag)
	})
}

// WithPrefix implements btclog.Handler.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	return h.derive(func(handler btclogv2.Handler) btclogv2.Handler {
		return handler.WithPrefix(prefix)
	})
}

// SetLevel implements btclog.Handler.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level implements btclog.Handler.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// fanout is the plain slog view of a HandlerSet, produced once attributes
// or groups are attached.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, handler := range f {
		out[i] = handler.WithAttrs(attrs)
	}

	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, handler := range f {
		out[i] = handler.WithGroup(name)
	}

	return out
}

var _ slog.Handler = fanout(nil)

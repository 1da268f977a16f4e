// Package receiver runs the inbound side of a push: decode, dedup, display
// and keep the badge counter in step with what the user can see.
package receiver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/client/badge"
	"github.com/engagepush/backend/internal/client/dedup"
)

// Sink displays notifications. Implemented by the host environment.
type Sink interface {
	Show(ctx context.Context, m Message) error
	ShowInApp(ctx context.Context, m Message) error
	// CloseTag closes visible notifications with tag and returns how many were closed.
	CloseTag(ctx context.Context, tag string) (int, error)
	// Open focuses an existing window on url or opens a new one.
	Open(ctx context.Context, url string) error
}

// Disposition is what Receive did with a message.
type Disposition string

const (
	Dropped   Disposition = "dropped"
	InApp     Disposition = "in_app"
	Displayed Disposition = "displayed"
	Replaced  Disposition = "replaced"
)

type Receiver struct {
	filter     *dedup.Filter
	counter    *badge.Counter
	sink       Sink
	foreground func() bool
	logger     *zap.Logger
}

// New creates a receiver. foreground reports whether the app is visible; nil
// means it never is.
func New(filter *dedup.Filter, counter *badge.Counter, sink Sink, foreground func() bool, logger *zap.Logger) *Receiver {
	if foreground == nil {
		foreground = func() bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		filter:     filter,
		counter:    counter,
		sink:       sink,
		foreground: foreground,
		logger:     logger,
	}
}

// Receive handles one push. messageID is the transport message id, if any.
func (r *Receiver) Receive(ctx context.Context, raw []byte, messageID string) (Disposition, error) {
	m := Decode(raw)
	m.ID = messageID

	ok, err := r.filter.Admit(ctx, dedup.Message{ID: m.ID, Title: m.Title, Body: m.Body})
	if err != nil {
		// an unreachable seen-set must not suppress the notification
		r.logger.Warn("dedup check failed", zap.Error(err))
		ok = true
	}
	if !ok {
		r.logger.Debug("duplicate push dropped", zap.String("title", m.Title))
		return Dropped, nil
	}

	if r.foreground() {
		if err := r.sink.ShowInApp(ctx, m); err != nil {
			return InApp, fmt.Errorf("show in app: %w", err)
		}
		return InApp, nil
	}

	closed := 0
	if m.Tag != "" {
		closed, err = r.sink.CloseTag(ctx, m.Tag)
		if err != nil {
			r.logger.Warn("failed to close tagged notifications", zap.String("tag", m.Tag), zap.Error(err))
			closed = 0
		}
	}

	if err := r.sink.Show(ctx, m); err != nil {
		return Displayed, fmt.Errorf("show notification: %w", err)
	}

	if closed > 0 {
		return Replaced, nil
	}
	if _, err := r.counter.Increment(ctx); err != nil {
		return Displayed, err
	}
	return Displayed, nil
}

// Click closes the notification's badge slot and navigates to its target.
func (r *Receiver) Click(ctx context.Context, m Message) error {
	if _, err := r.counter.Decrement(ctx); err != nil {
		r.logger.Warn("failed to decrement badge on click", zap.Error(err))
	}
	url := m.URL
	if url == "" {
		url = fallback().URL
	}
	return r.sink.Open(ctx, url)
}

// Dismiss accounts for a notification closed without a click.
func (r *Receiver) Dismiss(ctx context.Context, _ Message) error {
	_, err := r.counter.Decrement(ctx)
	return err
}

// Activate re-syncs the OS badge when the app comes to the foreground.
func (r *Receiver) Activate(ctx context.Context) error {
	_, err := r.counter.SyncOnForeground(ctx)
	return err
}

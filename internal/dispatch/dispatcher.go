// Package dispatch fans a notification out to every active subscription of a
// set of users and turns transport responses into registry updates.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/metrics"
	"github.com/engagepush/backend/internal/payload"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultConcurrency = 32
)

// Request is one message for one subscription.
type Request struct {
	Subscription *domain.Subscription
	Payload      payload.Payload
	TTL          time.Duration
	Urgency      domain.Urgency
}

// Sender hands a request to a push transport and reports the HTTP-equivalent
// status code. A zero status with an error means the transport was not reached.
type Sender interface {
	Send(ctx context.Context, req Request) (int, error)
}

// Validator is implemented by senders that need configuration before use.
type Validator interface {
	Validate() error
}

// Registry is the subset of the subscription registry the dispatcher needs.
type Registry interface {
	ListActive(ctx context.Context, userID string) ([]*domain.Subscription, error)
	ListActiveBySegment(ctx context.Context, segment domain.Segment) ([]*domain.Subscription, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Result aggregates outcomes of a dispatch.
type Result struct {
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

// Add merges another result into r.
func (r *Result) Add(o Result) {
	r.Successful += o.Successful
	r.Failed += o.Failed
	r.Deactivated += o.Deactivated
}

type Config struct {
	TTL         time.Duration
	Concurrency int
}

// Dispatcher delivers notifications. Safe for concurrent use.
type Dispatcher struct {
	registry   Registry
	translator *payload.Translator
	webPush    Sender
	token      Sender
	recorder   domain.OutcomeRecorder
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder stores every outcome through rec.
func WithRecorder(rec domain.OutcomeRecorder) Option {
	return func(d *Dispatcher) { d.recorder = rec }
}

// WithClock overrides the outcome timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher. webPush must be set; token may be nil when no
// token transport is configured.
func New(registry Registry, translator *payload.Translator, webPush, token Sender, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry:   registry,
		translator: translator,
		webPush:    webPush,
		token:      token,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/engagepush/backend/internal/dispatch"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckConfig fails when the key-based transport cannot sign requests.
func (d *Dispatcher) CheckConfig() error {
	if d.webPush == nil {
		return &domain.ConfigurationError{Setting: "webpush", Reason: "no Web Push sender configured"}
	}
	if v, ok := d.webPush.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SendToUsers delivers n to every active subscription of the given users.
// Partial failure is reported in the Result, never as an error.
func (d *Dispatcher) SendToUsers(ctx context.Context, userIDs []string, n domain.Notification) (Result, error) {
	if err := n.Validate(); err != nil {
		return Result{}, err
	}
	if err := d.CheckConfig(); err != nil {
		return Result{}, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.SendToUsers",
		trace.WithAttributes(
			attribute.Int("push.users", len(userIDs)),
			attribute.String("push.type", string(n.Type)),
		))
	defer span.End()

	subs := d.collect(ctx, userIDs)
	res := d.deliver(ctx, subs, n)
	span.SetAttributes(
		attribute.Int("push.successful", res.Successful),
		attribute.Int("push.failed", res.Failed),
		attribute.Int("push.deactivated", res.Deactivated),
	)
	return res, nil
}

// SendToSegment delivers n to every active subscription in the segment.
func (d *Dispatcher) SendToSegment(ctx context.Context, segment domain.Segment, n domain.Notification) (Result, error) {
	if err := n.Validate(); err != nil {
		return Result{}, err
	}
	if err := d.CheckConfig(); err != nil {
		return Result{}, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.SendToSegment",
		trace.WithAttributes(attribute.String("push.segment.level", segment.Level)))
	defer span.End()

	subs, err := d.registry.ListActiveBySegment(ctx, segment)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("list segment subscriptions: %w", err)
	}
	return d.deliver(ctx, subs, n), nil
}

// collect lists subscriptions per distinct user; one user's failure does not
// affect others.
func (d *Dispatcher) collect(ctx context.Context, userIDs []string) []*domain.Subscription {
	var (
		mu   sync.Mutex
		subs []*domain.Subscription
	)
	seen := make(map[string]struct{}, len(userIDs))
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		g.Go(func() error {
			list, err := d.registry.ListActive(ctx, userID)
			if err != nil {
				d.logger.Warn("failed to list subscriptions", zap.String("user_id", userID), zap.Error(err))
				return nil
			}
			mu.Lock()
			subs = append(subs, list...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return subs
}

func (d *Dispatcher) deliver(ctx context.Context, subs []*domain.Subscription, n domain.Notification) Result {
	n = n.WithDefaults()
	outcomes := make([]domain.DeliveryOutcome, len(subs))

	// Every goroutine returns nil so one failure never cancels its siblings.
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			outcomes[i] = d.sendOne(ctx, sub, n)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for _, o := range outcomes {
		switch o.Kind {
		case domain.OutcomeDelivered:
			res.Successful++
		case domain.OutcomeExpired:
			res.Deactivated++
		default:
			res.Failed++
		}
		metrics.PushDeliveriesTotal.WithLabelValues(string(o.Platform), string(o.Protocol), string(o.Kind)).Inc()
	}

	if d.recorder != nil && len(outcomes) > 0 {
		if err := d.recorder.RecordOutcomes(context.WithoutCancel(ctx), outcomes); err != nil {
			d.logger.Warn("failed to record delivery outcomes", zap.Error(err))
		}
	}

	d.logger.Info("push dispatch finished",
		zap.String("type", string(n.Type)),
		zap.Int("subscriptions", len(subs)),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Int("deactivated", res.Deactivated),
	)
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, sub *domain.Subscription, n domain.Notification) (out domain.DeliveryOutcome) {
	out = domain.DeliveryOutcome{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Platform:       sub.Platform,
		Protocol:       sub.Protocol,
		Type:           n.Type,
		Kind:           domain.OutcomeError,
	}
	defer func() { out.Timestamp = d.now() }()

	log := d.logger.With(
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID),
		zap.String("platform", string(sub.Platform)),
	)

	p, err := d.translator.Translate(n, sub.Platform, sub.Protocol)
	if err != nil {
		out.Err = err
		log.Warn("failed to translate payload", zap.Error(err))
		return out
	}

	sender := d.senderFor(sub.Protocol)
	if sender == nil {
		out.Err = fmt.Errorf("%w: no sender for protocol %q", domain.ErrTransport, sub.Protocol)
		log.Warn("no transport configured for subscription", zap.String("protocol", string(sub.Protocol)))
		return out
	}

	start := time.Now()
	status, err := sender.Send(ctx, Request{
		Subscription: sub,
		Payload:      p,
		TTL:          d.cfg.TTL,
		Urgency:      n.Urgency,
	})
	metrics.PushSendDuration.WithLabelValues(string(sub.Protocol)).Observe(time.Since(start).Seconds())
	out.StatusCode = status

	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		if derr := d.registry.Deactivate(ctx, sub.ID); derr != nil {
			out.Err = fmt.Errorf("deactivate expired subscription: %w", derr)
			log.Error("failed to deactivate expired subscription", zap.Int("status", status), zap.Error(derr))
			return out
		}
		out.Kind = domain.OutcomeExpired
		out.Err = domain.ErrSubscriptionExpired
		metrics.PushSubscriptionsDeactivatedTotal.WithLabelValues("expired").Inc()
		log.Info("deactivated expired subscription", zap.Int("status", status))

	case status == http.StatusTooManyRequests:
		out.Kind = domain.OutcomeRateLimited
		out.Err = domain.ErrRateLimited
		log.Warn("push service rate limited the request")

	case status >= 200 && status < 300:
		out.Kind = domain.OutcomeDelivered
		out.Err = nil

	case err != nil:
		if !errors.Is(err, domain.ErrTransport) {
			err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		out.Err = err
		log.Warn("push send failed", zap.Int("status", status), zap.Error(err))

	default:
		out.Err = fmt.Errorf("%w: unexpected status %d", domain.ErrTransport, status)
		log.Warn("push service returned unexpected status", zap.Int("status", status))
	}
	return out
}

func (d *Dispatcher) senderFor(p domain.Protocol) Sender {
	switch p {
	case domain.ProtocolWebPush:
		return d.webPush
	case domain.ProtocolToken:
		return d.token
	}
	return nil
}

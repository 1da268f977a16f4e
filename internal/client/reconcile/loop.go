// Package reconcile watches for a push subscription silently disappearing on
// the client and re-creates and re-registers it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/domain"
)

var ErrRecoveryExhausted = errors.New("reconcile: recovery attempts exhausted")

// State of the loop.
type State string

const (
	Inactive       State = "inactive"
	Active         State = "active"
	Checking       State = "checking"
	Recovering     State = "recovering"
	RecoveryFailed State = "recovery_failed"
	CoolingDown    State = "cooling_down"
)

const (
	DefaultWarmUp      = 3 * time.Second
	DefaultInterval    = 5 * time.Minute
	DefaultCooldown    = 30 * time.Minute
	DefaultMaxFailures = 3
	DefaultTimeout     = 30 * time.Second
)

// PushSubscription is what the client's push manager hands back.
type PushSubscription struct {
	Endpoint string
	Keys     domain.Keys
}

// PushManager is the client's push subscription API.
type PushManager interface {
	// Subscription returns the current subscription, or nil when there is none.
	Subscription(ctx context.Context) (*PushSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey string) (*PushSubscription, error)
	Unsubscribe(ctx context.Context) error
}

// RegisterRequest is sent to the registration endpoint.
type RegisterRequest struct {
	Endpoint      string          `json:"endpoint"`
	Keys          domain.Keys     `json:"keys"`
	Platform      domain.Platform `json:"platform"`
	Protocol      domain.Protocol `json:"protocol"`
	AutoRecovered bool            `json:"auto_recovery"`
}

// Registrar stores a subscription with the server.
type Registrar interface {
	Register(ctx context.Context, req RegisterRequest) error
}

type Config struct {
	// Monitored is the only platform the loop runs on.
	Monitored   domain.Platform
	AppKey      string
	WarmUp      time.Duration
	Interval    time.Duration
	Cooldown    time.Duration
	MaxFailures int
	// Timeout bounds one timer-driven check.
	Timeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Monitored == "" {
		c.Monitored = domain.PlatformIOS
	}
	if c.WarmUp <= 0 {
		c.WarmUp = DefaultWarmUp
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

type stopper interface {
	Stop() bool
}

// afterFunc schedules f after d. Replaced in tests.
type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Loop is the reconciliation state machine. All timer state lives in a single
// handle guarded by mu.
type Loop struct {
	cfg       Config
	platform  domain.Platform
	push      PushManager
	registrar Registrar
	logger    *zap.Logger
	after     afterFunc

	mu       sync.Mutex
	state    State
	failures int
	visible  bool
	armed    bool
	checking bool
	timer    stopper
}

// New creates a loop for a client whose platform was detected once at startup.
// The page is assumed visible until SetVisible says otherwise.
func New(cfg Config, platform domain.Platform, push PushManager, registrar Registrar, logger *zap.Logger) *Loop {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:       cfg,
		platform:  platform,
		push:      push,
		registrar: registrar,
		logger:    logger,
		after:     realAfterFunc,
		state:     Inactive,
		visible:   true,
	}
}

// Enabled reports whether the loop applies to this client at all.
func (l *Loop) Enabled() bool {
	return l.platform == l.cfg.Monitored
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// Start arms the loop: one check after the warm-up, then one per interval.
// It is a no-op when disabled, hidden, already armed or cooling down.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startLocked()
}

func (l *Loop) startLocked() {
	if !l.Enabled() || !l.visible || l.armed || l.state == CoolingDown {
		return
	}
	l.armed = true
	if !l.checking {
		l.state = Active
	}
	l.scheduleLocked(l.cfg.WarmUp, l.tick)
	l.logger.Debug("subscription reconciliation started")
}

// Stop disarms the loop and cancels any pending timer, including a cooldown.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelTimerLocked()
	l.armed = false
	if !l.checking {
		l.state = Inactive
	}
}

// SetVisible reacts to page visibility. Becoming visible starts an idle loop;
// becoming hidden stops scheduling new checks while an in-flight check completes.
func (l *Loop) SetVisible(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = visible
	if visible {
		l.startLocked()
		return
	}
	if l.state == CoolingDown {
		return
	}
	l.cancelTimerLocked()
	l.armed = false
	if !l.checking {
		l.state = Inactive
	}
}

func (l *Loop) scheduleLocked(d time.Duration, f func()) {
	l.cancelTimerLocked()
	l.timer = l.after(d, f)
}

func (l *Loop) cancelTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Loop) tick() {
	l.mu.Lock()
	l.timer = nil
	if !l.armed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Timeout)
	err := l.Check(ctx)
	cancel()
	if err != nil && !errors.Is(err, ErrRecoveryExhausted) {
		l.logger.Warn("subscription check failed", zap.Error(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.armed && l.visible && l.state != CoolingDown && l.timer == nil {
		l.scheduleLocked(l.cfg.Interval, l.tick)
	}
}

// Check runs one reconciliation cycle. Concurrent calls collapse into the one
// already running.
func (l *Loop) Check(ctx context.Context) error {
	l.mu.Lock()
	if l.checking || l.state == CoolingDown {
		l.mu.Unlock()
		return nil
	}
	l.checking = true
	l.state = Checking
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.checking = false
		l.mu.Unlock()
	}()

	sub, err := l.push.Subscription(ctx)
	if err != nil {
		l.setState(Active)
		return fmt.Errorf("read push subscription: %w", err)
	}
	if sub != nil {
		l.mu.Lock()
		l.state = Active
		l.failures = 0
		l.mu.Unlock()
		return nil
	}

	l.logger.Info("push subscription lost, recovering")
	l.setState(Recovering)
	if err := l.recover(ctx); err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.state = Active
	l.failures = 0
	l.mu.Unlock()
	l.logger.Info("push subscription recovered")
	return nil
}

func (l *Loop) recover(ctx context.Context) error {
	if err := l.push.Unsubscribe(ctx); err != nil {
		l.logger.Debug("stale subscription unsubscribe failed", zap.Error(err))
	}
	sub, err := l.push.Subscribe(ctx, l.cfg.AppKey)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if sub == nil {
		return errors.New("subscribe returned no subscription")
	}
	err = l.registrar.Register(ctx, RegisterRequest{
		Endpoint:      sub.Endpoint,
		Keys:          sub.Keys,
		Platform:      l.platform,
		Protocol:      domain.ProtocolWebPush,
		AutoRecovered: true,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (l *Loop) fail(cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures++
	l.state = RecoveryFailed
	l.logger.Warn("subscription recovery failed", zap.Int("failures", l.failures), zap.Error(cause))
	if l.failures < l.cfg.MaxFailures {
		return cause
	}

	l.armed = false
	l.failures = 0
	l.state = CoolingDown
	l.scheduleLocked(l.cfg.Cooldown, l.rearm)
	l.logger.Warn("subscription recovery paused", zap.Duration("cooldown", l.cfg.Cooldown))
	return fmt.Errorf("%w: %w", ErrRecoveryExhausted, cause)
}

func (l *Loop) rearm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	if l.state != CoolingDown {
		return
	}
	l.state = Inactive
	l.startLocked()
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

var (
	iosPattern     = regexp.MustCompile(`iPad|iPhone|iPod`)
	androidPattern = regexp.MustCompile(`(?i)android`)
)

// DetectPlatform classifies a user agent. Called once per client start.
func DetectPlatform(userAgent string) domain.Platform {
	switch {
	case iosPattern.MatchString(userAgent):
		return domain.PlatformIOS
	case androidPattern.MatchString(userAgent):
		return domain.PlatformAndroid
	}
	return domain.PlatformDesktop
}

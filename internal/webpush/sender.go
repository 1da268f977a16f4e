package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
)

// Config holds the VAPID key pair and contact subject.
type Config struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	Timeout    time.Duration
}

// Sender delivers VAPID-signed, encrypted Web Push messages.
type Sender struct {
	cfg    Config
	client webpush.HTTPClient
	logger *zap.Logger
}

// NewSender creates a Web Push sender. client may be nil.
func NewSender(cfg Config, client webpush.HTTPClient, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Subject = strings.TrimPrefix(strings.TrimSpace(cfg.Subject), "mailto:")
	return &Sender{cfg: cfg, client: client, logger: logger}
}

// PublicKey returns the application server key clients subscribe with.
func (s *Sender) PublicKey() string {
	return s.cfg.PublicKey
}

// Validate reports missing VAPID settings as a configuration error.
func (s *Sender) Validate() error {
	switch {
	case s.cfg.PublicKey == "":
		return &domain.ConfigurationError{Setting: "VAPID_PUBLIC_KEY", Reason: "not set"}
	case s.cfg.PrivateKey == "":
		return &domain.ConfigurationError{Setting: "VAPID_PRIVATE_KEY", Reason: "not set"}
	case s.cfg.Subject == "":
		return &domain.ConfigurationError{Setting: "VAPID_SUBJECT", Reason: "not set"}
	}
	return nil
}

// Send encrypts the payload for the subscription and posts it to the push service.
func (s *Sender) Send(ctx context.Context, req dispatch.Request) (int, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: req.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: req.Subscription.Keys.P256dh,
			Auth:   req.Subscription.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             int(req.TTL.Seconds()),
		Urgency:         toUrgency(req.Urgency),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Debug("push service rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("endpoint_host", endpointHost(sub.Endpoint)),
			zap.String("detail", string(detail)),
		)
		return resp.StatusCode, fmt.Errorf("%w: status %d", domain.ErrTransport, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func toUrgency(u domain.Urgency) webpush.Urgency {
	switch u {
	case domain.UrgencyLow:
		return webpush.UrgencyLow
	case domain.UrgencyHigh:
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}

func endpointHost(endpoint string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// GenerateKeys returns a new VAPID key pair.
func GenerateKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}

package fcm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/payload"
)

type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client is the token-based transport backed by Firebase Cloud Messaging.
type Client struct {
	msgClient messenger
	logger    *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will utilize environment variable GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// Send delivers a token payload. Firebase errors are mapped onto the status
// codes the dispatcher classifies: unregistered tokens become 404, rejected
// messages 400, quota 429.
func (c *Client) Send(ctx context.Context, req dispatch.Request) (int, error) {
	p, ok := req.Payload.(*payload.Token)
	if !ok {
		return 0, fmt.Errorf("%w: fcm cannot send %T", domain.ErrTransport, req.Payload)
	}

	message := buildMessage(req.Subscription.Endpoint, p, req.TTL, req.Urgency)
	if _, err := c.msgClient.Send(ctx, message); err != nil {
		status := statusFor(err)
		c.logger.Warn("Failed to send FCM message",
			zap.String("subscription_id", req.Subscription.ID.String()),
			zap.Int("status", status),
			zap.Error(err),
		)
		return status, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return http.StatusOK, nil
}

func buildMessage(token string, p *payload.Token, ttl time.Duration, urgency domain.Urgency) *messaging.Message {
	priority := "normal"
	if urgency == domain.UrgencyHigh {
		priority = "high"
	}

	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: p.Notification.Title,
			Body:  p.Notification.Body,
		},
		Data: p.Data,
		Android: &messaging.AndroidConfig{
			Priority: priority,
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				Icon:        p.Notification.Icon,
				Color:       p.AndroidStyle.Color,
				ClickAction: p.AndroidStyle.ClickAction,
				Tag:         p.AndroidStyle.Tag,
				Sound:       p.AndroidStyle.Sound,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{
				"TTL":     fmt.Sprintf("%d", int(ttl.Seconds())),
				"Urgency": string(urgency),
			},
			Notification: &messaging.WebpushNotification{
				Title: p.Notification.Title,
				Body:  p.Notification.Body,
				Icon:  p.Notification.Icon,
				Badge: p.Badge,
				Tag:   p.AndroidStyle.Tag,
			},
		},
	}
}

func statusFor(err error) int {
	switch {
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return http.StatusNotFound
	case messaging.IsInvalidArgument(err):
		// malformed message or token; the subscription stays active
		return http.StatusBadRequest
	case messaging.IsQuotaExceeded(err):
		return http.StatusTooManyRequests
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

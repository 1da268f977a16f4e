package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Platform is the logical client platform, fixed at registration.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
)

// Protocol is the transport used to reach an endpoint, fixed at registration.
type Protocol string

const (
	ProtocolWebPush Protocol = "webpush"
	ProtocolToken   Protocol = "token"
)

// PlaceholderKey fills both key slots of a token-based subscription.
const PlaceholderKey = "fcm"

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		return true
	}
	return false
}

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolWebPush || p == ProtocolToken
}

// Keys holds the Web Push encryption material of a subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PlaceholderKeys is stored for token-based subscriptions.
func PlaceholderKeys() Keys {
	return Keys{P256dh: PlaceholderKey, Auth: PlaceholderKey}
}

// Subscription is one (user, endpoint) push registration.
type Subscription struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	Endpoint      string    `json:"endpoint"`
	Keys          Keys      `json:"keys"`
	Platform      Platform  `json:"platform"`
	Protocol      Protocol  `json:"protocol"`
	IsActive      bool      `json:"is_active"`
	AutoRecovered bool      `json:"auto_recovered"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RegisterParams holds parameters for a registration upsert
type RegisterParams struct {
	UserID        string
	Endpoint      string
	Keys          Keys
	Platform      Platform
	Protocol      Protocol
	AutoRecovered bool
}

// Segment selects subscriptions by user attributes.
type Segment struct {
	Level     string     `json:"level"`
	Platforms []Platform `json:"platforms,omitempty"`
}

// Matches reports whether a subscription's platform is inside the segment.
func (s Segment) Matches(sub *Subscription) bool {
	if len(s.Platforms) == 0 {
		return true
	}
	for _, p := range s.Platforms {
		if sub.Platform == p {
			return true
		}
	}
	return false
}

// SubscriptionRepository defines the interface for subscription data access
type SubscriptionRepository interface {
	UpsertSubscription(ctx context.Context, params RegisterParams) (*Subscription, error)
	DeactivateSubscription(ctx context.Context, id uuid.UUID) error
	DeactivateUserSubscriptions(ctx context.Context, userID, endpoint string) (int64, error)
	ListActiveSubscriptions(ctx context.Context, userIDs []string) ([]*Subscription, error)
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engagepush/backend/pkg/validator"
)

const maxEndpointLength = 2048

// RegistryService owns the lifecycle of push subscriptions
type RegistryService struct {
	repo     SubscriptionRepository
	profiles ProfileProvider
	logger   *zap.Logger
}

// NewRegistryService creates a new registry service. profiles may be nil when
// segment delivery is not used.
func NewRegistryService(repo SubscriptionRepository, profiles ProfileProvider, logger *zap.Logger) *RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryService{
		repo:     repo,
		profiles: profiles,
		logger:   logger,
	}
}

// Register upserts a subscription by (user_id, endpoint).
func (s *RegistryService) Register(ctx context.Context, params RegisterParams) (uuid.UUID, error) {
	params.UserID = strings.TrimSpace(params.UserID)
	params.Endpoint = strings.TrimSpace(params.Endpoint)

	if err := validateRegistration(&params); err != nil {
		return uuid.Nil, err
	}

	sub, err := s.repo.UpsertSubscription(ctx, params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert subscription: %w", err)
	}

	s.logger.Info("push subscription registered",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID),
		zap.String("platform", string(sub.Platform)),
		zap.String("protocol", string(sub.Protocol)),
		zap.Bool("auto_recovered", params.AutoRecovered),
	)
	return sub.ID, nil
}

func validateRegistration(params *RegisterParams) error {
	var errs validator.ValidationErrors
	errs.Required("user_id", params.UserID)
	errs.Required("endpoint", params.Endpoint)
	if len(params.Endpoint) > maxEndpointLength {
		errs.Add("endpoint", "is too long")
	}
	if !params.Platform.Valid() {
		errs.Add("platform", "must be one of ios, android, desktop")
	}

	switch params.Protocol {
	case ProtocolWebPush:
		errs.Required("keys.p256dh", params.Keys.P256dh)
		errs.Required("keys.auth", params.Keys.Auth)
		if params.Endpoint != "" && !validator.ValidateEndpointURL(params.Endpoint) {
			errs.Add("endpoint", "must be an https URL")
		}
	case ProtocolToken:
		if params.Keys.P256dh == "" && params.Keys.Auth == "" {
			params.Keys = PlaceholderKeys()
		}
	default:
		errs.Add("protocol", "must be one of webpush, token")
	}

	if errs.HasErrors() {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Deactivate marks a subscription inactive. Repeating it, or deactivating an
// unknown id, is not an error.
func (s *RegistryService) Deactivate(ctx context.Context, id uuid.UUID) error {
	err := s.repo.DeactivateSubscription(ctx, id)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("deactivate subscription %s: %w", id, err)
	}
	s.logger.Info("push subscription deactivated", zap.String("subscription_id", id.String()))
	return nil
}

// DeactivateEndpoint deactivates one endpoint of a user.
func (s *RegistryService) DeactivateEndpoint(ctx context.Context, userID, endpoint string) (int64, error) {
	if strings.TrimSpace(endpoint) == "" {
		return 0, NewValidationError("endpoint", "is required")
	}
	return s.deactivateUser(ctx, userID, strings.TrimSpace(endpoint))
}

// DeactivateUser deactivates every subscription of a user.
func (s *RegistryService) DeactivateUser(ctx context.Context, userID string) (int64, error) {
	return s.deactivateUser(ctx, userID, "")
}

func (s *RegistryService) deactivateUser(ctx context.Context, userID, endpoint string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, NewValidationError("user_id", "is required")
	}
	n, err := s.repo.DeactivateUserSubscriptions(ctx, userID, endpoint)
	if err != nil {
		return 0, fmt.Errorf("unsubscribe user %s: %w", userID, err)
	}
	s.logger.Info("push subscriptions deactivated",
		zap.String("user_id", userID),
		zap.Int64("count", n),
	)
	return n, nil
}

// ListActive returns the active subscriptions of a user.
func (s *RegistryService) ListActive(ctx context.Context, userID string) ([]*Subscription, error) {
	return s.repo.ListActiveSubscriptions(ctx, []string{userID})
}

// ListActiveBySegment returns the active subscriptions of every user in the segment.
func (s *RegistryService) ListActiveBySegment(ctx context.Context, segment Segment) ([]*Subscription, error) {
	if s.profiles == nil {
		return nil, &ConfigurationError{Setting: "profiles", Reason: "no profile provider configured"}
	}
	userIDs, err := s.profiles.UserIDsByLevel(ctx, segment.Level)
	if err != nil {
		return nil, fmt.Errorf("resolve segment %q: %w", segment.Level, err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	subs, err := s.repo.ListActiveSubscriptions(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	filtered := subs[:0]
	for _, sub := range subs {
		if segment.Matches(sub) {
			filtered = append(filtered, sub)
		}
	}
	return filtered, nil
}

// UserIDsBySegment resolves the user ids of a segment.
func (s *RegistryService) UserIDsBySegment(ctx context.Context, segment Segment) ([]string, error) {
	if s.profiles == nil {
		return nil, &ConfigurationError{Setting: "profiles", Reason: "no profile provider configured"}
	}
	return s.profiles.UserIDsByLevel(ctx, segment.Level)
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind classifies the result of one send attempt.
type OutcomeKind string

const (
	OutcomeDelivered   OutcomeKind = "delivered"
	OutcomeExpired     OutcomeKind = "expired"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeError       OutcomeKind = "error"
)

// DeliveryOutcome is the per-subscription record of a dispatch.
type DeliveryOutcome struct {
	SubscriptionID uuid.UUID
	UserID         string
	Platform       Platform
	Protocol       Protocol
	Type           NotificationType
	Kind           OutcomeKind
	StatusCode     int
	Err            error
	Timestamp      time.Time
}

// OutcomeRecorder stores delivery outcomes. Recording is best effort.
type OutcomeRecorder interface {
	RecordOutcomes(ctx context.Context, outcomes []DeliveryOutcome) error
}

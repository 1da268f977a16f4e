package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/kv"
	"github.com/engagepush/backend/pkg/response"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Dispatcher sends notifications on behalf of the delivery endpoint.
type Dispatcher interface {
	SendToUsers(ctx context.Context, userIDs []string, n domain.Notification) (dispatch.Result, error)
	SendToSegment(ctx context.Context, segment domain.Segment, n domain.Notification) (dispatch.Result, error)
}

type DeliveryHandler struct {
	dispatcher     Dispatcher
	seen           kv.SeenSet
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewDeliveryHandler creates the handler. seen may be nil to disable
// idempotency keys.
func NewDeliveryHandler(dispatcher Dispatcher, seen kv.SeenSet, idempotencyTTL time.Duration, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		dispatcher:     dispatcher,
		seen:           seen,
		idempotencyTTL: idempotencyTTL,
		logger:         logger,
	}
}

type AchievementRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ReminderRequest struct {
	Message string `json:"message"`
}

// DeliveryRequest targets either explicit users or a segment. The message is
// a full notification or one of the achievement and reminder templates.
type DeliveryRequest struct {
	UserIDs      []string             `json:"user_ids"`
	Segment      *domain.Segment      `json:"segment"`
	Notification *domain.Notification `json:"notification"`
	Achievement  *AchievementRequest  `json:"achievement"`
	Reminder     *ReminderRequest     `json:"reminder"`
}

func (req DeliveryRequest) notification() (domain.Notification, error) {
	switch {
	case req.Notification != nil:
		return *req.Notification, nil
	case req.Achievement != nil:
		return domain.AchievementNotification(req.Achievement.Title, req.Achievement.Description), nil
	case req.Reminder != nil:
		return domain.ReminderNotification(req.Reminder.Message), nil
	}
	return domain.Notification{}, domain.NewValidationError("notification", "is required")
}

// Deliver sends a notification and reports aggregate counts.
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if (len(req.UserIDs) == 0) == (req.Segment == nil) {
		response.BadRequest(w, "exactly one of user_ids or segment is required")
		return
	}
	if req.Segment != nil && req.Segment.Level == "" {
		h.writeError(w, domain.NewValidationError("segment.level", "is required"))
		return
	}
	n, err := req.notification()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if key := r.Header.Get(IdempotencyKeyHeader); key != "" && h.seen != nil {
		first, err := h.seen.MarkSeen(r.Context(), "delivery:"+key, h.idempotencyTTL)
		if err != nil {
			h.logger.Warn("idempotency check unavailable", zap.Error(err))
		} else if !first {
			response.Conflict(w, "delivery already accepted for this idempotency key")
			return
		}
	}

	var result dispatch.Result
	if req.Segment != nil {
		result, err = h.dispatcher.SendToSegment(r.Context(), *req.Segment, n)
	} else {
		result, err = h.dispatcher.SendToUsers(r.Context(), req.UserIDs, n)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, result)
}

func (h *DeliveryHandler) writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var ce *domain.ConfigurationError
	switch {
	case errors.As(err, &ve):
		response.ValidationFailed(w, "invalid notification", ve.Errors)
	case errors.As(err, &ce):
		h.logger.Error("push delivery misconfigured", zap.String("setting", ce.Setting), zap.String("reason", ce.Reason))
		response.ServiceUnavailable(w, "push delivery is not configured")
	default:
		h.logger.Error("push delivery failed", zap.Error(err))
		response.InternalError(w, "failed to deliver notification")
	}
}

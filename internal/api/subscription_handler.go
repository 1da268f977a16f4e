package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/metrics"
	"github.com/engagepush/backend/internal/middleware"
	"github.com/engagepush/backend/pkg/response"
)

// AutoRecoveryHeader marks a registration made by the client reconciliation loop.
const AutoRecoveryHeader = "X-Auto-Recovery"

const maxBodyBytes = 64 << 10

// Registry is the registration surface of the subscription registry.
type Registry interface {
	Register(ctx context.Context, params domain.RegisterParams) (uuid.UUID, error)
	DeactivateEndpoint(ctx context.Context, userID, endpoint string) (int64, error)
	DeactivateUser(ctx context.Context, userID string) (int64, error)
}

type SubscriptionHandler struct {
	registry  Registry
	publicKey string
	logger    *zap.Logger
}

func NewSubscriptionHandler(registry Registry, publicKey string, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		registry:  registry,
		publicKey: publicKey,
		logger:    logger,
	}
}

type RegisterRequest struct {
	Endpoint     string          `json:"endpoint"`
	Keys         domain.Keys     `json:"keys"`
	Platform     domain.Platform `json:"platform"`
	Protocol     domain.Protocol `json:"protocol"`
	AutoRecovery bool            `json:"auto_recovery"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Register stores or refreshes the caller's subscription.
func (h *SubscriptionHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Protocol == "" {
		req.Protocol = domain.ProtocolWebPush
	}
	autoRecovered := req.AutoRecovery
	if v, err := strconv.ParseBool(r.Header.Get(AutoRecoveryHeader)); err == nil && v {
		autoRecovered = true
	}

	id, err := h.registry.Register(r.Context(), domain.RegisterParams{
		UserID:        userID,
		Endpoint:      req.Endpoint,
		Keys:          req.Keys,
		Platform:      req.Platform,
		Protocol:      req.Protocol,
		AutoRecovered: autoRecovered,
	})
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			response.ValidationFailed(w, "invalid subscription", ve.Errors)
			return
		}
		h.logger.Error("failed to register subscription", zap.String("user_id", userID), zap.Error(err))
		response.InternalError(w, "failed to register subscription")
		return
	}

	metrics.PushSubscriptionsRegisteredTotal.WithLabelValues(
		string(req.Platform), string(req.Protocol), strconv.FormatBool(autoRecovered),
	).Inc()

	response.Created(w, map[string]string{"subscription_id": id.String()})
}

// Unsubscribe deactivates one endpoint of the caller, or all of them.
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req UnsubscribeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}

	var (
		n   int64
		err error
	)
	if req.Endpoint != "" {
		n, err = h.registry.DeactivateEndpoint(r.Context(), userID, req.Endpoint)
	} else {
		n, err = h.registry.DeactivateUser(r.Context(), userID)
	}
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			response.ValidationFailed(w, "invalid unsubscribe request", ve.Errors)
			return
		}
		h.logger.Error("failed to deactivate subscriptions", zap.String("user_id", userID), zap.Error(err))
		response.InternalError(w, "failed to unsubscribe")
		return
	}

	metrics.PushSubscriptionsDeactivatedTotal.WithLabelValues("unsubscribed").Add(float64(n))
	response.OK(w, map[string]int64{"deactivated": n})
}

// VAPIDPublicKey returns the application server key clients subscribe with.
func (h *SubscriptionHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		response.ServiceUnavailable(w, "push is not configured")
		return
	}
	response.OK(w, map[string]string{"public_key": h.publicKey})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

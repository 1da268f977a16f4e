package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository implements domain.SubscriptionRepository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// RunMigrations creates tables if they don't exist
func (r *PostgresRepository) RunMigrations(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, platform, protocol, is_active, auto_recovered, created_at, updated_at`

const upsertSubscriptionSQL = `
	INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, platform, protocol, is_active, auto_recovered)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
	ON CONFLICT (user_id, endpoint) DO UPDATE SET
		p256dh = EXCLUDED.p256dh,
		auth = EXCLUDED.auth,
		platform = EXCLUDED.platform,
		protocol = EXCLUDED.protocol,
		is_active = TRUE,
		auto_recovered = EXCLUDED.auto_recovered,
		updated_at = NOW()
	RETURNING ` + subscriptionColumns

// UpsertSubscription inserts or refreshes the (user_id, endpoint) row
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, params domain.RegisterParams) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, upsertSubscriptionSQL,
		params.UserID,
		params.Endpoint,
		params.Keys.P256dh,
		params.Keys.Auth,
		string(params.Platform),
		string(params.Protocol),
		params.AutoRecovered,
	)
	return scanSubscription(row)
}

// DeactivateSubscription flips is_active off for one subscription
func (r *PostgresRepository) DeactivateSubscription(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE push_subscriptions SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// DeactivateUserSubscriptions deactivates one endpoint of a user, or all when endpoint is empty
func (r *PostgresRepository) DeactivateUserSubscriptions(ctx context.Context, userID, endpoint string) (int64, error) {
	query := `
		UPDATE push_subscriptions SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active = TRUE AND ($2 = '' OR endpoint = $2)
	`
	tag, err := r.db.Exec(ctx, query, userID, endpoint)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveSubscriptions returns active subscriptions for the given users
func (r *PostgresRepository) ListActiveSubscriptions(ctx context.Context, userIDs []string) ([]*domain.Subscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + subscriptionColumns + `
		FROM push_subscriptions
		WHERE user_id = ANY($1) AND is_active = TRUE
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Helper functions for scanning rows

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var platform, protocol string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Endpoint,
		&sub.Keys.P256dh,
		&sub.Keys.Auth,
		&platform,
		&protocol,
		&sub.IsActive,
		&sub.AutoRecovered,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	sub.Platform = domain.Platform(platform)
	sub.Protocol = domain.Protocol(protocol)
	return &sub, nil
}

// PurgeDeliveryLog removes delivery log rows older than the retention window
func (r *PostgresRepository) PurgeDeliveryLog(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM push_delivery_log WHERE created_at < $1`
	tag, err := r.db.Exec(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// StartCleanupWorker starts a background worker that trims the delivery log
func (r *PostgresRepository) StartCleanupWorker(ctx context.Context, interval, retention time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.PurgeDeliveryLog(ctx, retention)
				if err != nil {
					logger.Warn("delivery log cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Debug("delivery log cleaned", zap.Int64("rows", n))
				}
			}
		}
	}()
}

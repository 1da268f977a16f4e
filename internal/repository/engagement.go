package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engagepush/backend/internal/domain"
)

// ListPreferences returns reminder preferences and engagement stats for every user
func (r *PostgresRepository) ListPreferences(ctx context.Context) ([]domain.UserPreferences, error) {
	query := `
		SELECT user_id, name, level, preferred_reminder_hour, reminder_frequency, opt_ins,
			streak_days, last_practice_at, weekly_xp
		FROM user_engagement
		ORDER BY user_id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []domain.UserPreferences
	for rows.Next() {
		var (
			p         domain.UserPreferences
			hour      *int
			frequency string
			optIns    map[string]bool
			lastSeen  *time.Time
		)
		if err := rows.Scan(
			&p.UserID,
			&p.Name,
			&p.Level,
			&hour,
			&frequency,
			&optIns,
			&p.StreakDays,
			&lastSeen,
			&p.WeeklyXP,
		); err != nil {
			return nil, err
		}

		p.PreferredHour = domain.NoPreferredHour
		if hour != nil {
			p.PreferredHour = *hour
		}
		p.Frequency = domain.Frequency(frequency)
		p.LastPracticeAt = lastSeen
		if len(optIns) > 0 {
			p.OptIns = make(map[domain.NotificationType]bool, len(optIns))
			for k, v := range optIns {
				p.OptIns[domain.NotificationType(k)] = v
			}
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// UserIDsByLevel returns the ids of users at a proficiency level
func (r *PostgresRepository) UserIDsByLevel(ctx context.Context, level string) ([]string, error) {
	query := `SELECT user_id FROM user_engagement WHERE level = $1 ORDER BY user_id`
	rows, err := r.db.Query(ctx, query, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordOutcomes appends delivery outcomes to the delivery log in one batch
func (r *PostgresRepository) RecordOutcomes(ctx context.Context, outcomes []domain.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	query := `
		INSERT INTO push_delivery_log
			(subscription_id, user_id, platform, protocol, notification_type, outcome, status_code, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		var errText *string
		if o.Err != nil {
			s := o.Err.Error()
			errText = &s
		}
		batch.Queue(query,
			o.SubscriptionID,
			o.UserID,
			string(o.Platform),
			string(o.Protocol),
			string(o.Type),
			string(o.Kind),
			o.StatusCode,
			errText,
			o.Timestamp,
		)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

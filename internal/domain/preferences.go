package domain

import (
	"context"
	"time"
)

// Frequency controls how often practice reminders may be sent.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyNever    Frequency = "never"
)

// NoPreferredHour marks a user without a preferred reminder hour.
const NoPreferredHour = -1

// UserPreferences is what the upstream preferences provider knows about a user.
type UserPreferences struct {
	UserID         string
	Name           string
	Level          string
	PreferredHour  int
	Frequency      Frequency
	OptIns         map[NotificationType]bool
	StreakDays     int
	LastPracticeAt *time.Time
	WeeklyXP       int
}

// OptedIn reports whether the user accepts notifications of type t.
// A missing entry counts as opted in.
func (p UserPreferences) OptedIn(t NotificationType) bool {
	if p.Frequency == FrequencyNever {
		return false
	}
	v, ok := p.OptIns[t]
	return !ok || v
}

// PracticedSince reports whether the last practice happened at or after t.
func (p UserPreferences) PracticedSince(t time.Time) bool {
	return p.LastPracticeAt != nil && !p.LastPracticeAt.Before(t)
}

// PreferencesProvider supplies user preferences. Implemented outside this core.
type PreferencesProvider interface {
	ListPreferences(ctx context.Context) ([]UserPreferences, error)
}

// ProfileProvider resolves user ids for a segment level.
type ProfileProvider interface {
	UserIDsByLevel(ctx context.Context, level string) ([]string, error)
}

package domain

import "strings"

// NotificationType tags a notification with the stream it belongs to.
type NotificationType string

const (
	TypeAchievement      NotificationType = "achievement"
	TypeReminder         NotificationType = "reminder"
	TypeStreakReminder   NotificationType = "streak_reminder"
	TypeWeeklyChallenge  NotificationType = "weekly_challenge"
	TypePracticeReminder NotificationType = "practice_reminder"
	TypeGoalReminder     NotificationType = "goal_reminder"
	TypeGeneric          NotificationType = "generic"
)

// Urgency is the Web Push urgency hint.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

const (
	DefaultIcon      = "/icons/icon-192x192.png"
	DefaultBadgeIcon = "/icons/icon-72x72.png"
	DefaultURL       = "/chat"
	DefaultSound     = "default"
)

// Notification is built per send and never persisted.
type Notification struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Icon    string            `json:"icon,omitempty"`
	Badge   string            `json:"badge,omitempty"`
	URL     string            `json:"url,omitempty"`
	Tag     string            `json:"tag,omitempty"`
	Sound   string            `json:"sound,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
	Type    NotificationType  `json:"type,omitempty"`
	Urgency Urgency           `json:"urgency,omitempty"`
}

// WithDefaults fills unset presentation fields. Title and body are left alone.
func (n Notification) WithDefaults() Notification {
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadgeIcon
	}
	if n.URL == "" {
		n.URL = DefaultURL
	}
	if n.Sound == "" {
		n.Sound = DefaultSound
	}
	if n.Type == "" {
		n.Type = TypeGeneric
	}
	if n.Urgency == "" {
		n.Urgency = UrgencyNormal
		if n.Type == TypeStreakReminder {
			n.Urgency = UrgencyHigh
		}
	}
	if n.Tag == "" {
		n.Tag = string(n.Type)
	}
	return n
}

// Validate rejects notifications that would render empty.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return NewValidationError("title", "is required")
	}
	return nil
}

// DataWith returns a copy of the data map with the url and type keys set.
func (n Notification) DataWith() map[string]string {
	data := make(map[string]string, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = v
	}
	if n.URL != "" {
		data["url"] = n.URL
	}
	if n.Type != "" {
		data["type"] = string(n.Type)
	}
	return data
}

// AchievementNotification announces an unlocked achievement.
func AchievementNotification(title, description string) Notification {
	return Notification{
		Title: "🏆 " + title,
		Body:  description,
		URL:   DefaultURL,
		Type:  TypeAchievement,
		Data:  map[string]string{"achievement": title},
	}
}

// ReminderNotification is the generic practice nudge.
func ReminderNotification(message string) Notification {
	if message == "" {
		message = "Time to practice English with Charlotte!"
	}
	return Notification{
		Title: "Charlotte - English Practice",
		Body:  message,
		URL:   DefaultURL,
		Type:  TypeReminder,
	}
}

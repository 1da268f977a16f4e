package receiver

import (
	"encoding/json"
	"strings"

	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/payload"
)

const (
	FallbackTitle = "Charlotte"
	FallbackBody  = "Nova mensagem!"
	FallbackTag   = "charlotte-default"
)

// Message is a decoded inbound push.
type Message struct {
	ID    string
	Title string
	Body  string
	Icon  string
	Badge string
	URL   string
	Tag   string
	Type  domain.NotificationType
	Data  map[string]string
	// Fallback marks a message synthesized because the push carried no usable data.
	Fallback bool
}

// envelope covers every wire shape the translator produces.
type envelope struct {
	WebPush      int               `json:"web_push"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Icon         string            `json:"icon"`
	Badge        string            `json:"badge"`
	URL          string            `json:"url"`
	Tag          string            `json:"tag"`
	Data         map[string]string `json:"data"`
	Notification *struct {
		Title    string `json:"title"`
		Body     string `json:"body"`
		Icon     string `json:"icon"`
		Badge    string `json:"badge"`
		Tag      string `json:"tag"`
		Navigate string `json:"navigate"`
	} `json:"notification"`
	AndroidStyle *payload.AndroidStyle `json:"android_style"`
}

// Decode parses any payload shape back into a Message. Empty or unreadable
// data yields the fallback notification rather than an error.
func Decode(raw []byte) Message {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fallback()
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fallback()
	}

	var m Message
	switch {
	case env.Notification != nil:
		n := env.Notification
		m = Message{Title: n.Title, Body: n.Body, Icon: n.Icon, Badge: n.Badge, Tag: n.Tag, URL: n.Navigate}
		if env.AndroidStyle != nil {
			if m.URL == "" {
				m.URL = env.AndroidStyle.ClickAction
			}
			if m.Tag == "" {
				m.Tag = env.AndroidStyle.Tag
			}
		}
		if m.Badge == "" {
			m.Badge = env.Badge
		}
	case env.Title != "":
		m = Message{Title: env.Title, Body: env.Body, Icon: env.Icon, Badge: env.Badge, Tag: env.Tag, URL: env.URL}
	default:
		return fallback()
	}

	m.Data = env.Data
	if m.URL == "" {
		m.URL = env.Data["url"]
	}
	if t := env.Data["type"]; t != "" {
		m.Type = domain.NotificationType(t)
	}
	if m.Title == "" {
		m.Title = FallbackTitle
	}
	if m.URL == "" {
		m.URL = domain.DefaultURL
	}
	if m.Icon == "" {
		m.Icon = domain.DefaultIcon
	}
	if m.Badge == "" {
		m.Badge = domain.DefaultBadgeIcon
	}
	if m.Tag == "" && m.Type != "" {
		m.Tag = string(m.Type)
	}
	return m
}

func fallback() Message {
	return Message{
		Title:    FallbackTitle,
		Body:     FallbackBody,
		Icon:     domain.DefaultIcon,
		Badge:    domain.DefaultBadgeIcon,
		URL:      domain.DefaultURL,
		Tag:      FallbackTag,
		Fallback: true,
	}
}

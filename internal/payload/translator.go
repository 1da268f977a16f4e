// Package payload turns a notification into the wire shape a client platform
// can render.
package payload

import (
	"github.com/engagepush/backend/internal/domain"
)

// DeclarativeMarker identifies a declarative Web Push message to iOS.
const DeclarativeMarker = 8030

// DefaultAndroidColor is the accent color of token-delivered notifications.
const DefaultAndroidColor = "#4F46E5"

// Payload is a platform-specific wire payload.
type Payload interface {
	Title() string
	Body() string
}

// Standard is the flat shape rendered by the service worker on Android and desktop.
type Standard struct {
	TitleText string            `json:"title"`
	BodyText  string            `json:"body"`
	Icon      string            `json:"icon"`
	Badge     string            `json:"badge"`
	URL       string            `json:"url"`
	Tag       string            `json:"tag,omitempty"`
	Data      map[string]string `json:"data"`
}

func (p *Standard) Title() string { return p.TitleText }
func (p *Standard) Body() string  { return p.BodyText }

// DeclarativeNotification is rendered by the OS without running the worker.
type DeclarativeNotification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Navigate string `json:"navigate"`
	Sound    string `json:"sound,omitempty"`
	AppBadge string `json:"app_badge"`
}

// Declarative is the iOS declarative Web Push envelope.
type Declarative struct {
	WebPush      int                     `json:"web_push"`
	Notification DeclarativeNotification `json:"notification"`
}

func (p *Declarative) Title() string { return p.Notification.Title }
func (p *Declarative) Body() string  { return p.Notification.Body }

// ImperativeNotification is displayed by the service worker.
type ImperativeNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	Tag   string `json:"tag,omitempty"`
}

// Imperative is the worker-handled envelope for iOS versions without declarative support.
type Imperative struct {
	Notification ImperativeNotification `json:"notification"`
	Data         map[string]string      `json:"data"`
}

func (p *Imperative) Title() string { return p.Notification.Title }
func (p *Imperative) Body() string  { return p.Notification.Body }

// TokenNotification is the visible part of a token-based message.
type TokenNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
}

// AndroidStyle carries the Android presentation hints.
type AndroidStyle struct {
	Color       string `json:"color"`
	ClickAction string `json:"click_action"`
	Tag         string `json:"tag,omitempty"`
	Sound       string `json:"sound,omitempty"`
}

// Token is sent through the token-based transport.
type Token struct {
	Notification TokenNotification `json:"notification"`
	Data         map[string]string `json:"data"`
	AndroidStyle AndroidStyle      `json:"android_style"`
	Badge        string            `json:"badge,omitempty"`
}

func (p *Token) Title() string { return p.Notification.Title }
func (p *Token) Body() string  { return p.Notification.Body }

// Translator builds wire payloads. It is pure and safe for concurrent use.
type Translator struct {
	iosDeclarative bool
	androidColor   string
}

// NewTranslator creates a translator. iosDeclarative selects the declarative
// envelope for iOS Web Push subscriptions.
func NewTranslator(iosDeclarative bool, androidColor string) *Translator {
	if androidColor == "" {
		androidColor = DefaultAndroidColor
	}
	return &Translator{iosDeclarative: iosDeclarative, androidColor: androidColor}
}

// Translate selects the payload shape from the stored platform and protocol.
func (t *Translator) Translate(n domain.Notification, platform domain.Platform, protocol domain.Protocol) (Payload, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	n = n.WithDefaults()

	switch {
	case protocol == domain.ProtocolToken:
		return &Token{
			Notification: TokenNotification{Title: n.Title, Body: n.Body, Icon: n.Icon},
			Data:         n.DataWith(),
			AndroidStyle: AndroidStyle{
				Color:       t.androidColor,
				ClickAction: n.URL,
				Tag:         n.Tag,
				Sound:       n.Sound,
			},
			Badge: n.Badge,
		}, nil

	case platform == domain.PlatformIOS && t.iosDeclarative:
		return &Declarative{
			WebPush: DeclarativeMarker,
			Notification: DeclarativeNotification{
				Title:    n.Title,
				Body:     n.Body,
				Navigate: n.URL,
				Sound:    n.Sound,
				AppBadge: "1",
			},
		}, nil

	case platform == domain.PlatformIOS:
		return &Imperative{
			Notification: ImperativeNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  n.Icon,
				Badge: n.Badge,
				Tag:   n.Tag,
			},
			Data: n.DataWith(),
		}, nil

	default:
		return &Standard{
			TitleText: n.Title,
			BodyText:  n.Body,
			Icon:      n.Icon,
			Badge:     n.Badge,
			URL:       n.URL,
			Tag:       n.Tag,
			Data:      n.DataWith(),
		}, nil
	}
}

package payload

import (
	"encoding/json"
	"testing"

	"github.com/engagepush/backend/internal/domain"
)

func TestTranslate_Branches(t *testing.T) {
	n := domain.Notification{Title: "Hi", Body: "Practice time", URL: "/lesson/3"}

	tests := []struct {
		name        string
		declarative bool
		platform    domain.Platform
		protocol    domain.Protocol
		check       func(t *testing.T, p Payload)
	}{
		{
			name:        "ios declarative",
			declarative: true,
			platform:    domain.PlatformIOS,
			protocol:    domain.ProtocolWebPush,
			check: func(t *testing.T, p Payload) {
				d, ok := p.(*Declarative)
				if !ok {
					t.Fatalf("got %T, want *Declarative", p)
				}
				if d.WebPush != DeclarativeMarker {
					t.Errorf("web_push = %d", d.WebPush)
				}
				if d.Notification.Navigate != "/lesson/3" || d.Notification.AppBadge != "1" {
					t.Errorf("notification = %+v", d.Notification)
				}
			},
		},
		{
			name:     "ios imperative",
			platform: domain.PlatformIOS,
			protocol: domain.ProtocolWebPush,
			check: func(t *testing.T, p Payload) {
				d, ok := p.(*Imperative)
				if !ok {
					t.Fatalf("got %T, want *Imperative", p)
				}
				if d.Data["url"] != "/lesson/3" {
					t.Errorf("data = %v", d.Data)
				}
			},
		},
		{
			name:        "android token",
			declarative: true,
			platform:    domain.PlatformAndroid,
			protocol:    domain.ProtocolToken,
			check: func(t *testing.T, p Payload) {
				d, ok := p.(*Token)
				if !ok {
					t.Fatalf("got %T, want *Token", p)
				}
				if d.AndroidStyle.ClickAction != "/lesson/3" || d.AndroidStyle.Color != DefaultAndroidColor {
					t.Errorf("android style = %+v", d.AndroidStyle)
				}
				if d.Data["type"] != string(domain.TypeGeneric) {
					t.Errorf("data = %v", d.Data)
				}
			},
		},
		{
			name:        "ios token stays token",
			declarative: true,
			platform:    domain.PlatformIOS,
			protocol:    domain.ProtocolToken,
			check: func(t *testing.T, p Payload) {
				if _, ok := p.(*Token); !ok {
					t.Fatalf("got %T, want *Token", p)
				}
			},
		},
		{
			name:        "desktop standard",
			declarative: true,
			platform:    domain.PlatformDesktop,
			protocol:    domain.ProtocolWebPush,
			check: func(t *testing.T, p Payload) {
				d, ok := p.(*Standard)
				if !ok {
					t.Fatalf("got %T, want *Standard", p)
				}
				if d.Icon != domain.DefaultIcon || d.Badge != domain.DefaultBadgeIcon {
					t.Errorf("defaults not applied: %+v", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranslator(tt.declarative, "")
			p, err := tr.Translate(n, tt.platform, tt.protocol)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if p.Title() != n.Title || p.Body() != n.Body {
				t.Errorf("title/body = %q/%q, want verbatim copy", p.Title(), p.Body())
			}
			tt.check(t, p)
		})
	}
}

func TestTranslate_EmptyTitle(t *testing.T) {
	tr := NewTranslator(true, "")
	_, err := tr.Translate(domain.Notification{Body: "x"}, domain.PlatformDesktop, domain.ProtocolWebPush)
	if !domain.IsValidationError(err) {
		t.Errorf("Translate() error = %v, want ValidationError", err)
	}
}

func TestDeclarativeWireShape(t *testing.T) {
	tr := NewTranslator(true, "")
	p, err := tr.Translate(domain.Notification{Title: "T", Body: "B"}, domain.PlatformIOS, domain.ProtocolWebPush)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["web_push"] != float64(8030) {
		t.Errorf("web_push = %v", got["web_push"])
	}
	notif, ok := got["notification"].(map[string]any)
	if !ok {
		t.Fatalf("notification missing: %s", raw)
	}
	if notif["navigate"] != domain.DefaultURL {
		t.Errorf("navigate = %v", notif["navigate"])
	}
}

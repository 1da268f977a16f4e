package webpush

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/payload"
)

func testKeys(t *testing.T) domain.Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	return domain.Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func testSender(t *testing.T) *Sender {
	t.Helper()
	privateKey, publicKey, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	return NewSender(Config{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "mailto:ops@example.com",
	}, nil, zaptest.NewLogger(t))
}

func TestSend_StatusPassthrough(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"created", http.StatusCreated, false},
		{"gone", http.StatusGone, true},
		{"rate limited", http.StatusTooManyRequests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTTL, gotUrgency, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTTL = r.Header.Get("TTL")
				gotUrgency = r.Header.Get("Urgency")
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := testSender(t)
			p, err := payload.NewTranslator(true, "").Translate(domain.Notification{Title: "Hi", Body: "B"}, domain.PlatformDesktop, domain.ProtocolWebPush)
			if err != nil {
				t.Fatal(err)
			}

			status, err := s.Send(context.Background(), dispatch.Request{
				Subscription: &domain.Subscription{
					ID:       uuid.New(),
					Endpoint: srv.URL + "/push/abc",
					Keys:     testKeys(t),
					Platform: domain.PlatformDesktop,
					Protocol: domain.ProtocolWebPush,
				},
				Payload: p,
				TTL:     24 * time.Hour,
				Urgency: domain.UrgencyHigh,
			})
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if gotTTL != "86400" {
				t.Errorf("TTL header = %q", gotTTL)
			}
			if gotUrgency != "high" {
				t.Errorf("Urgency header = %q", gotUrgency)
			}
			if gotAuth == "" {
				t.Error("missing VAPID Authorization header")
			}
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := testSender(t)
	p, _ := payload.NewTranslator(true, "").Translate(domain.Notification{Title: "Hi"}, domain.PlatformDesktop, domain.ProtocolWebPush)
	status, err := s.Send(context.Background(), dispatch.Request{
		Subscription: &domain.Subscription{Endpoint: url, Keys: testKeys(t)},
		Payload:      p,
		TTL:          time.Minute,
	})
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		setting string
	}{
		{"missing public", Config{PrivateKey: "k", Subject: "s"}, "VAPID_PUBLIC_KEY"},
		{"missing private", Config{PublicKey: "k", Subject: "s"}, "VAPID_PRIVATE_KEY"},
		{"missing subject", Config{PublicKey: "k", PrivateKey: "k"}, "VAPID_SUBJECT"},
		{"complete", Config{PublicKey: "k", PrivateKey: "k", Subject: "mailto:a@b.c"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSender(tt.cfg, nil, nil).Validate()
			if tt.setting == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			var ce *domain.ConfigurationError
			if !errors.As(err, &ce) || ce.Setting != tt.setting {
				t.Errorf("Validate() = %v, want setting %s", err, tt.setting)
			}
		})
	}
}

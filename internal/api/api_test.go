package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/engagepush/backend/internal/auth"
	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/kv"
	"github.com/engagepush/backend/internal/metrics"
	"github.com/engagepush/backend/internal/middleware"
	"github.com/engagepush/backend/internal/scheduler"
)

const (
	testDeliverySecret = "delivery-secret"
	testCronSecret     = "cron-secret"
)

type mockRegistry struct {
	registerFunc           func(ctx context.Context, params domain.RegisterParams) (uuid.UUID, error)
	deactivateEndpointFunc func(ctx context.Context, userID, endpoint string) (int64, error)
	deactivateUserFunc     func(ctx context.Context, userID string) (int64, error)
}

func (m *mockRegistry) Register(ctx context.Context, params domain.RegisterParams) (uuid.UUID, error) {
	return m.registerFunc(ctx, params)
}

func (m *mockRegistry) DeactivateEndpoint(ctx context.Context, userID, endpoint string) (int64, error) {
	return m.deactivateEndpointFunc(ctx, userID, endpoint)
}

func (m *mockRegistry) DeactivateUser(ctx context.Context, userID string) (int64, error) {
	return m.deactivateUserFunc(ctx, userID)
}

type mockDispatcher struct {
	sendToUsersFunc   func(ctx context.Context, userIDs []string, n domain.Notification) (dispatch.Result, error)
	sendToSegmentFunc func(ctx context.Context, segment domain.Segment, n domain.Notification) (dispatch.Result, error)
}

func (m *mockDispatcher) SendToUsers(ctx context.Context, userIDs []string, n domain.Notification) (dispatch.Result, error) {
	return m.sendToUsersFunc(ctx, userIDs, n)
}

func (m *mockDispatcher) SendToSegment(ctx context.Context, segment domain.Segment, n domain.Notification) (dispatch.Result, error) {
	return m.sendToSegmentFunc(ctx, segment, n)
}

type mockRunner struct {
	runFunc    func(ctx context.Context, task scheduler.Task, now time.Time) (scheduler.TaskResult, error)
	runAllFunc func(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error)
	runDueFunc func(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error)
}

func (m *mockRunner) Run(ctx context.Context, task scheduler.Task, now time.Time) (scheduler.TaskResult, error) {
	return m.runFunc(ctx, task, now)
}

func (m *mockRunner) RunAll(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error) {
	return m.runAllFunc(ctx, now)
}

func (m *mockRunner) RunDue(ctx context.Context, now time.Time) ([]scheduler.TaskResult, error) {
	return m.runDueFunc(ctx, now)
}

func (m *mockRunner) Status(time.Time) []scheduler.NextRun {
	return []scheduler.NextRun{{Task: scheduler.PracticeReminders, Description: "Practice reminders every hour"}}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	srv *httptest.Server
	jwt *auth.JWTManager
}

func newTestServer(t *testing.T, reg Registry, disp Dispatcher, runner TaskRunner, deps map[string]Pinger) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	jm := auth.NewJWTManager("jwt-secret", "")
	router := NewRouter(
		NewSubscriptionHandler(reg, "BPublicKey", logger),
		NewDeliveryHandler(disp, kv.NewMemory(), time.Hour, logger),
		NewSchedulerHandler(runner, logger),
		NewHealthHandler(deps),
		jm,
		RouterConfig{
			DeliverySecret:  testDeliverySecret,
			CronSecret:      testCronSecret,
			RegisterLimiter: middleware.NewRateLimiter(100, 100),
		},
		logger,
	)
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, jwt: jm}
}

func (ts *testServer) do(t *testing.T, method, path, bearer, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(userID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestRegisterSubscription(t *testing.T) {
	id := uuid.New()
	var got domain.RegisterParams
	reg := &mockRegistry{registerFunc: func(_ context.Context, p domain.RegisterParams) (uuid.UUID, error) {
		got = p
		return id, nil
	}}
	ts := newTestServer(t, reg, nil, nil, nil)
	counter := metrics.PushSubscriptionsRegisteredTotal.WithLabelValues("ios", "webpush", "true")
	before := testutil.ToFloat64(counter)

	body := `{"endpoint":"https://web.push.apple.com/x","keys":{"p256dh":"p","auth":"a"},"platform":"ios"}`
	resp, decoded := ts.do(t, http.MethodPost, "/api/v1/push/subscriptions", ts.token(t, "user-1"), body,
		map[string]string{AutoRecoveryHeader: "true"})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, decoded)
	}
	data := decoded["data"].(map[string]any)
	if data["subscription_id"] != id.String() {
		t.Errorf("subscription_id = %v", data["subscription_id"])
	}
	if got.UserID != "user-1" || got.Protocol != domain.ProtocolWebPush || !got.AutoRecovered {
		t.Errorf("register params = %+v", got)
	}
	if d := testutil.ToFloat64(counter) - before; d != 1 {
		t.Errorf("registered counter delta = %v", d)
	}
}

func TestRegisterSubscription_Errors(t *testing.T) {
	tests := []struct {
		name       string
		token      bool
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", false, `{}`, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"malformed body", true, `{`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"validation", true, `{"platform":"ios"}`, domain.NewValidationError("endpoint", "is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"storage", true, `{"platform":"ios"}`, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &mockRegistry{registerFunc: func(context.Context, domain.RegisterParams) (uuid.UUID, error) {
				return uuid.Nil, tt.err
			}}
			ts := newTestServer(t, reg, nil, nil, nil)
			bearer := ""
			if tt.token {
				bearer = ts.token(t, "user-1")
			}

			resp, decoded := ts.do(t, http.MethodPost, "/api/v1/push/subscriptions", bearer, tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			errInfo, _ := decoded["error"].(map[string]any)
			if errInfo["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", errInfo["code"], tt.wantCode)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	var endpointCalls, userCalls int
	reg := &mockRegistry{
		deactivateEndpointFunc: func(_ context.Context, userID, endpoint string) (int64, error) {
			endpointCalls++
			if userID != "user-1" || endpoint != "https://e" {
				t.Errorf("DeactivateEndpoint(%q, %q)", userID, endpoint)
			}
			return 1, nil
		},
		deactivateUserFunc: func(_ context.Context, userID string) (int64, error) {
			userCalls++
			return 3, nil
		},
	}
	ts := newTestServer(t, reg, nil, nil, nil)
	tok := ts.token(t, "user-1")

	resp, decoded := ts.do(t, http.MethodDelete, "/api/v1/push/subscriptions", tok, `{"endpoint":"https://e"}`, nil)
	if resp.StatusCode != http.StatusOK || decoded["data"].(map[string]any)["deactivated"] != float64(1) {
		t.Errorf("single: status=%d body=%v", resp.StatusCode, decoded)
	}

	resp, decoded = ts.do(t, http.MethodDelete, "/api/v1/push/subscriptions", tok, "", nil)
	if resp.StatusCode != http.StatusOK || decoded["data"].(map[string]any)["deactivated"] != float64(3) {
		t.Errorf("all: status=%d body=%v", resp.StatusCode, decoded)
	}
	if endpointCalls != 1 || userCalls != 1 {
		t.Errorf("endpointCalls=%d userCalls=%d", endpointCalls, userCalls)
	}
}

func TestVAPIDPublicKey(t *testing.T) {
	ts := newTestServer(t, &mockRegistry{}, nil, nil, nil)
	resp, decoded := ts.do(t, http.MethodGet, "/api/v1/push/vapid-public-key", "", "", nil)
	if resp.StatusCode != http.StatusOK || decoded["data"].(map[string]any)["public_key"] != "BPublicKey" {
		t.Errorf("status=%d body=%v", resp.StatusCode, decoded)
	}
}

func TestDeliver(t *testing.T) {
	var gotUsers []string
	var gotNote domain.Notification
	disp := &mockDispatcher{
		sendToUsersFunc: func(_ context.Context, ids []string, n domain.Notification) (dispatch.Result, error) {
			gotUsers, gotNote = ids, n
			return dispatch.Result{Successful: 2, Failed: 1, Deactivated: 1}, nil
		},
		sendToSegmentFunc: func(_ context.Context, s domain.Segment, n domain.Notification) (dispatch.Result, error) {
			if s.Level != "Novice" {
				t.Errorf("segment = %+v", s)
			}
			return dispatch.Result{Successful: 5}, nil
		},
	}
	ts := newTestServer(t, &mockRegistry{}, disp, nil, nil)

	resp, decoded := ts.do(t, http.MethodPost, "/api/v1/push/deliveries", testDeliverySecret,
		`{"user_ids":["a","b"],"notification":{"title":"Hi","body":"there"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, decoded)
	}
	data := decoded["data"].(map[string]any)
	if data["successful"] != float64(2) || data["failed"] != float64(1) || data["deactivated"] != float64(1) {
		t.Errorf("data = %v", data)
	}
	if len(gotUsers) != 2 || gotNote.Title != "Hi" {
		t.Errorf("users=%v note=%+v", gotUsers, gotNote)
	}

	resp, decoded = ts.do(t, http.MethodPost, "/api/v1/push/deliveries", testDeliverySecret,
		`{"segment":{"level":"Novice"},"achievement":{"title":"First Chat","description":"Well done"}}`, nil)
	if resp.StatusCode != http.StatusOK || decoded["data"].(map[string]any)["successful"] != float64(5) {
		t.Errorf("segment: status=%d body=%v", resp.StatusCode, decoded)
	}
}

func TestDeliver_Errors(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		body       string
		sendErr    error
		wantStatus int
	}{
		{"wrong secret", "nope", `{"user_ids":["a"],"notification":{"title":"t"}}`, nil, http.StatusUnauthorized},
		{"no target", testDeliverySecret, `{"notification":{"title":"t"}}`, nil, http.StatusBadRequest},
		{"both targets", testDeliverySecret, `{"user_ids":["a"],"segment":{"level":"x"},"notification":{"title":"t"}}`, nil, http.StatusBadRequest},
		{"segment without level", testDeliverySecret, `{"segment":{},"notification":{"title":"t"}}`, nil, http.StatusBadRequest},
		{"no notification", testDeliverySecret, `{"user_ids":["a"]}`, nil, http.StatusBadRequest},
		{"empty title", testDeliverySecret, `{"user_ids":["a"],"notification":{}}`, domain.NewValidationError("title", "is required"), http.StatusBadRequest},
		{"configuration", testDeliverySecret, `{"user_ids":["a"],"notification":{"title":"t"}}`,
			&domain.ConfigurationError{Setting: "VAPID_PRIVATE_KEY", Reason: "missing"}, http.StatusServiceUnavailable},
		{"unexpected", testDeliverySecret, `{"user_ids":["a"],"notification":{"title":"t"}}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := &mockDispatcher{sendToUsersFunc: func(context.Context, []string, domain.Notification) (dispatch.Result, error) {
				return dispatch.Result{}, tt.sendErr
			}}
			ts := newTestServer(t, &mockRegistry{}, disp, nil, nil)
			resp, decoded := ts.do(t, http.MethodPost, "/api/v1/push/deliveries", tt.secret, tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %v", resp.StatusCode, tt.wantStatus, decoded)
			}
		})
	}
}

func TestDeliver_IdempotencyKey(t *testing.T) {
	calls := 0
	disp := &mockDispatcher{sendToUsersFunc: func(context.Context, []string, domain.Notification) (dispatch.Result, error) {
		calls++
		return dispatch.Result{Successful: 1}, nil
	}}
	ts := newTestServer(t, &mockRegistry{}, disp, nil, nil)
	body := `{"user_ids":["a"],"reminder":{}}`
	hdr := map[string]string{IdempotencyKeyHeader: "evt-1"}

	first, _ := ts.do(t, http.MethodPost, "/api/v1/push/deliveries", testDeliverySecret, body, hdr)
	second, _ := ts.do(t, http.MethodPost, "/api/v1/push/deliveries", testDeliverySecret, body, hdr)

	if first.StatusCode != http.StatusOK || second.StatusCode != http.StatusConflict {
		t.Errorf("statuses = %d, %d", first.StatusCode, second.StatusCode)
	}
	if calls != 1 {
		t.Errorf("dispatcher calls = %d, want 1", calls)
	}
}

func TestSchedulerRun(t *testing.T) {
	var ran []string
	runner := &mockRunner{
		runFunc: func(_ context.Context, task scheduler.Task, _ time.Time) (scheduler.TaskResult, error) {
			ran = append(ran, string(task))
			return scheduler.TaskResult{Task: task, Eligible: 3, Successful: 2, Failed: 1}, nil
		},
		runAllFunc: func(context.Context, time.Time) ([]scheduler.TaskResult, error) {
			ran = append(ran, TaskAll)
			return nil, nil
		},
		runDueFunc: func(context.Context, time.Time) ([]scheduler.TaskResult, error) {
			ran = append(ran, TaskDue)
			return nil, nil
		},
	}
	ts := newTestServer(t, &mockRegistry{}, nil, runner, nil)

	tests := []struct {
		body       string
		wantStatus int
	}{
		{``, http.StatusOK},
		{`{"task_type":"all"}`, http.StatusOK},
		{`{"task_type":"goal_reminders"}`, http.StatusOK},
		{`{"task_type":"bogus"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, decoded := ts.do(t, http.MethodPost, "/api/v1/scheduler/run", testCronSecret, tt.body, nil)
		if resp.StatusCode != tt.wantStatus {
			t.Errorf("body %q: status = %d, want %d (%v)", tt.body, resp.StatusCode, tt.wantStatus, decoded)
		}
	}
	if strings.Join(ran, ",") != "due,all,goal_reminders" {
		t.Errorf("ran = %v", ran)
	}

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/scheduler/run", testDeliverySecret, ``, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d", resp.StatusCode)
	}
}

func TestSchedulerRun_ConfigurationError(t *testing.T) {
	runner := &mockRunner{runDueFunc: func(context.Context, time.Time) ([]scheduler.TaskResult, error) {
		return nil, &domain.ConfigurationError{Setting: "VAPID_PUBLIC_KEY", Reason: "missing"}
	}}
	ts := newTestServer(t, &mockRegistry{}, nil, runner, nil)
	resp, _ := ts.do(t, http.MethodPost, "/api/v1/scheduler/run", testCronSecret, `{"task_type":"due"}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSchedulerStatus(t *testing.T) {
	ts := newTestServer(t, &mockRegistry{}, nil, &mockRunner{}, nil)
	resp, decoded := ts.do(t, http.MethodGet, "/api/v1/scheduler/status", testCronSecret, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	next := decoded["data"].(map[string]any)["next_tasks"].([]any)
	if len(next) != 1 {
		t.Errorf("next_tasks = %v", next)
	}
}

func TestHealth(t *testing.T) {
	deps := map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	ts := newTestServer(t, &mockRegistry{}, nil, nil, deps)

	for path, want := range map[string]int{
		"/health":       http.StatusOK,
		"/health/live":  http.StatusOK,
		"/health/ready": http.StatusServiceUnavailable,
	} {
		resp, decoded := ts.do(t, http.MethodGet, path, "", "", nil)
		if resp.StatusCode != want {
			t.Errorf("%s status = %d, want %d (%v)", path, resp.StatusCode, want, decoded)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &mockRegistry{}, nil, nil, nil)
	resp, err := http.Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

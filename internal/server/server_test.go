package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	"github.com/smallbiznis/eventpay/internal/clock"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	paymentdomain "github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeEvents struct {
	eventdomain.Service
	event     eventdomain.Event
	updateErr error
	patch     eventdomain.EventPatch
}

func (f *fakeEvents) Get(_ context.Context, id snowflake.ID) (eventdomain.Event, error) {
	if id != f.event.ID {
		return eventdomain.Event{}, eventdomain.ErrNotFound
	}
	return f.event, nil
}

func (f *fakeEvents) Update(_ context.Context, req eventdomain.UpdateEventRequest) (eventdomain.UpdateEventResponse, error) {
	f.patch = req.Patch
	if f.updateErr != nil {
		return eventdomain.UpdateEventResponse{}, f.updateErr
	}
	return eventdomain.UpdateEventResponse{Event: req.Patch.Apply(f.event)}, nil
}

type fakeCanceler struct {
	calls int
	event eventdomain.Event
}

func (f *fakeCanceler) Cancel(_ context.Context, _ snowflake.ID, note *string) (eventdomain.Event, error) {
	f.calls++
	if f.calls > 1 {
		return f.event, eventdomain.ErrAlreadyCanceled
	}
	at := testNow
	f.event.CanceledAt = &at
	f.event.CancellationNote = note
	return f.event, nil
}

type fakeAttendances struct {
	attendancedomain.Service
	admitErr error
	admitted attendancedomain.AdmitRequest
	byToken  map[string]attendancedomain.Attendance
	changed  attendancedomain.ChangeStatusRequest
}

func (f *fakeAttendances) Admit(_ context.Context, req attendancedomain.AdmitRequest) (attendancedomain.AdmitResult, error) {
	f.admitted = req
	if f.admitErr != nil {
		return attendancedomain.AdmitResult{}, f.admitErr
	}
	return attendancedomain.AdmitResult{
		Attendance: attendancedomain.Attendance{ID: 99, EventID: req.EventID, Name: req.Name},
		Outcome:    attendancedomain.CapacityOutcome{Admitted: true, Current: 1},
		GuestToken: "secret",
	}, nil
}

func (f *fakeAttendances) GetByGuestToken(_ context.Context, token string) (attendancedomain.Attendance, error) {
	item, ok := f.byToken[token]
	if !ok {
		return attendancedomain.Attendance{}, attendancedomain.ErrNotFound
	}
	return item, nil
}

func (f *fakeAttendances) ChangeStatus(_ context.Context, req attendancedomain.ChangeStatusRequest) (attendancedomain.ChangeStatusResult, error) {
	f.changed = req
	return attendancedomain.ChangeStatusResult{
		Attendance: attendancedomain.Attendance{ID: req.ID, Status: req.Status},
	}, nil
}

type fakeSessions struct {
	startErr  error
	started   snowflake.ID
	reason    string
	eligibles int
}

func (f *fakeSessions) Eligibility(_ context.Context, _ snowflake.ID) (paymentdomain.EligibilityResult, error) {
	f.eligibles++
	return paymentdomain.EligibilityResult{Eligible: f.reason == "", Reason: optionalString(f.reason)}, nil
}

func (f *fakeSessions) Start(_ context.Context, attendanceID snowflake.ID) (paymentdomain.SessionRef, error) {
	f.started = attendanceID
	if f.startErr != nil {
		return paymentdomain.SessionRef{}, f.startErr
	}
	return paymentdomain.SessionRef{PaymentID: 5, SessionID: "cs_test", URL: "https://checkout.example/cs_test", Amount: 1000}, nil
}

type fakeReconcile struct {
	paymentdomain.ReconcileService
	transition paymentdomain.TransitionRequest
	err        error
}

func (f *fakeReconcile) Transition(_ context.Context, req paymentdomain.TransitionRequest) (paymentdomain.Payment, error) {
	f.transition = req
	if f.err != nil {
		return paymentdomain.Payment{}, f.err
	}
	return paymentdomain.Payment{ID: req.PaymentID, Status: req.To, Version: 2}, nil
}

type fakeWebhooks struct {
	err      error
	provider string
	payload  []byte
}

func (f *fakeWebhooks) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) error {
	f.provider = provider
	f.payload = payload
	return f.err
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

type testServer struct {
	engine      *gin.Engine
	events      *fakeEvents
	canceler    *fakeCanceler
	attendances *fakeAttendances
	sessions    *fakeSessions
	reconcile   *fakeReconcile
	webhooks    *fakeWebhooks
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	event := eventdomain.Event{
		ID:                   42,
		OwnerID:              7,
		Title:                "Workshop",
		ScheduledAt:          testNow.Add(48 * time.Hour),
		Fee:                  1000,
		PaymentMethods:       eventdomain.NewPaymentMethods(eventdomain.PaymentMethodOnline),
		RegistrationDeadline: testNow.Add(24 * time.Hour),
	}
	ts := &testServer{
		engine:   gin.New(),
		events:   &fakeEvents{event: event},
		canceler: &fakeCanceler{event: event},
		attendances: &fakeAttendances{byToken: map[string]attendancedomain.Attendance{
			"guest-secret": {ID: 99, EventID: event.ID, Name: "Ana", Status: attendancedomain.StatusAttending},
		}},
		sessions:  &fakeSessions{},
		reconcile: &fakeReconcile{},
		webhooks:  &fakeWebhooks{},
	}
	ts.engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:        ts.engine,
		log:           zap.NewNop(),
		clock:         clock.NewFakeClock(testNow),
		eventSvc:      ts.events,
		canceler:      ts.canceler,
		attendanceSvc: ts.attendances,
		sessionSvc:    ts.sessions,
		reconcileSvc:  ts.reconcile,
		webhookSvc:    ts.webhooks,
	}
	srv.registerRoutes()
	return ts
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp struct {
		Error errorPayload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestGetEventIncludesDerivedStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/events/42", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upcoming", resp.Data["status"])
	assert.Equal(t, "Workshop", resp.Data["title"])
	assert.Equal(t, "42", resp.Data["id"])

	rec = ts.do(http.MethodGet, "/api/events/43", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/events/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "id", payload.Errors[0].Field)
}

func TestUpdateEventDistinguishesNullFromAbsent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPatch, "/api/events/42", `{"capacity": null, "title": "Renamed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.events.patch.Capacity.Set)
	assert.Nil(t, ts.events.patch.Capacity.Value)
	assert.False(t, ts.events.patch.OnlinePaymentDeadline.Set)
	require.NotNil(t, ts.events.patch.Title)
	assert.Equal(t, "Renamed", *ts.events.patch.Title)
}

func TestUpdateEventRestrictionConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.events.updateErr = &eventdomain.RestrictionError{Violations: []eventdomain.Violation{
		{Field: eventdomain.FieldFee, Level: eventdomain.LevelStructural, Message: "fee is locked"},
	}}

	rec := ts.do(http.MethodPatch, "/api/events/42", `{"fee": 2000}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "edit_restricted", payload.Type)
	details, ok := payload.Details.(map[string]any)
	require.True(t, ok)
	violations, ok := details["violations"].([]any)
	require.True(t, ok)
	assert.Len(t, violations, 1)
}

func TestCancelEventTwice(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/events/42/cancel", map[string]string{"note": "venue closed"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Event           map[string]any `json:"event"`
			AlreadyCanceled bool           `json:"already_canceled"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.AlreadyCanceled)
	assert.Equal(t, "canceled", resp.Data.Event["status"])

	rec = ts.do(http.MethodPost, "/api/events/42/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.AlreadyCanceled)
	assert.Equal(t, 2, ts.canceler.calls)
}

func TestAdmitAttendance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/events/42/attendances", map[string]any{
		"name":            "Ana",
		"source":          "admin",
		"bypass_capacity": true,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, snowflake.ID(42), ts.attendances.admitted.EventID)
	assert.True(t, ts.attendances.admitted.Bypass)
	assert.Equal(t, attendancedomain.SourceAdmin, ts.attendances.admitted.Source)

	rec = ts.do(http.MethodPost, "/api/events/42/attendances", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmitCapacityExceeded(t *testing.T) {
	ts := newTestServer(t)
	ts.attendances.admitErr = &attendancedomain.CapacityExceededError{Capacity: 2, Current: 2}

	rec := ts.do(http.MethodPost, "/api/events/42/attendances", map[string]any{"name": "Ana"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "capacity_exceeded", payload.Type)
	details, ok := payload.Details.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, details["capacity"])
	assert.EqualValues(t, 2, details["current"])
}

func TestCheckoutErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		errType    string
		retryAfter string
	}{
		{
			name:    "ineligible",
			err:     &paymentdomain.IneligibleError{Result: paymentdomain.EligibilityResult{Reason: optionalString("already_paid")}},
			status:  http.StatusConflict,
			errType: "payment_ineligible",
		},
		{
			name:       "rate limited",
			err:        &paymentdomain.RateLimitedError{RetryAfter: 1500 * time.Millisecond},
			status:     http.StatusServiceUnavailable,
			errType:    "service_unavailable",
			retryAfter: "2",
		},
		{
			name:    "in progress",
			err:     paymentdomain.ErrSessionInProgress,
			status:  http.StatusConflict,
			errType: "conflict",
		},
		{
			name:    "payout missing",
			err:     paymentdomain.ErrPayoutAccountMissing,
			status:  http.StatusServiceUnavailable,
			errType: "service_unavailable",
		},
		{
			name:    "not found",
			err:     attendancedomain.ErrNotFound,
			status:  http.StatusNotFound,
			errType: "not_found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.sessions.startErr = tc.err

			rec := ts.do(http.MethodPost, "/api/attendances/99/checkout", nil, nil)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.errType, decodeError(t, rec).Type)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestGuestRoutesUseToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/guest/checkout", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/guest/checkout", nil, map[string]string{headerGuestToken: "wrong"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/guest/checkout", nil, map[string]string{headerGuestToken: "guest-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snowflake.ID(99), ts.sessions.started)

	rec = ts.do(http.MethodPatch, "/api/guest/attendance", map[string]any{"status": "maybe"}, map[string]string{headerGuestToken: "guest-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, attendancedomain.SourceGuest, ts.attendances.changed.Source)
	assert.False(t, ts.attendances.changed.Bypass)

	rec = ts.do(http.MethodGet, "/api/guest/attendance", nil, map[string]string{headerGuestToken: "guest-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTransitionPayment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/payments/5/transitions", map[string]any{
		"status":           "received",
		"expected_version": 1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paymentdomain.StatusReceived, ts.reconcile.transition.To)
	assert.Equal(t, paymentdomain.SourceManual, ts.reconcile.transition.Source)
	require.NotNil(t, ts.reconcile.transition.ExpectedVersion)
	assert.EqualValues(t, 1, *ts.reconcile.transition.ExpectedVersion)

	ts.reconcile.err = paymentdomain.ErrVersionConflict
	rec = ts.do(http.MethodPost, "/api/payments/5/transitions", map[string]any{"status": "received"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookResponses(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stripe", ts.webhooks.provider)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(ts.webhooks.payload))

	ts.webhooks.err = paymentdomain.ErrInvalidSignature
	rec = ts.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyErrorForLogHidesInternals(t *testing.T) {
	errType, code := classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)

	errType, code = classifyErrorForLog(paymentdomain.ErrVersionConflict)
	assert.Equal(t, "conflict", errType)
	assert.Equal(t, "payment_version_conflict", code)

	status, payload := mapError(attendancedomain.ErrConcurrentUpdate)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", payload.Type)
}

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// --- Mocks ---
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Register(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}
func (m *MockEngine) Unregister(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}
func (m *MockEngine) SendToToken(ctx context.Context, token string, n dispatch.Notification) error {
	return m.Called(ctx, token, n).Error(0)
}
func (m *MockEngine) SendToUser(ctx context.Context, userID string, n dispatch.Notification) (engine.Report, error) {
	args := m.Called(ctx, userID, n)
	return args.Get(0).(engine.Report), args.Error(1)
}

// --- Setup ---
func setupAPI(t *testing.T, secret string) (http.Handler, *MockEngine, *MockEngine) {
	t.Helper()
	apnsEngine, fcmEngine := new(MockEngine), new(MockEngine)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pushAPI := api.NewPushAPI(map[string]api.PushEngine{
		dispatch.ProviderAPNS: apnsEngine,
		dispatch.ProviderFCM:  fcmEngine,
	}, logger)

	auth := api.RequireRequestToken(secret)
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/pushes/{provider}/add-token", auth(http.HandlerFunc(pushAPI.AddToken)))
	mux.Handle("POST /api/v1/pushes/{provider}/delete-token", auth(http.HandlerFunc(pushAPI.DeleteToken)))
	mux.Handle("POST /api/v1/pushes/{provider}/send-by-user-id", auth(http.HandlerFunc(pushAPI.SendByUserID)))
	mux.Handle("POST /api/v1/pushes/{provider}/send-by-token", auth(http.HandlerFunc(pushAPI.SendByToken)))
	return mux, apnsEngine, fcmEngine
}

func post(t *testing.T, h http.Handler, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestTokenRoutes(t *testing.T) {
	h, apnsEngine, fcmEngine := setupAPI(t, "")

	t.Run("Add token answers 201", func(t *testing.T) {
		apnsEngine.On("Register", mock.Anything, "u1", "t1").Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1", "token": "t1"})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		apnsEngine.AssertExpectations(t)
	})

	t.Run("Delete token answers 204", func(t *testing.T) {
		fcmEngine.On("Unregister", mock.Anything, "u1", "t1").Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/fcm/delete-token", map[string]string{"user_id": "u1", "token": "t1"})

		assert.Equal(t, http.StatusNoContent, w.Code)
		fcmEngine.AssertExpectations(t)
	})

	t.Run("Missing token storage answers 503", func(t *testing.T) {
		apnsEngine.On("Register", mock.Anything, "u1", "t1").Return(engine.ErrNoTokenStore).Once()

		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1", "token": "t1"})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "No token storage was initialized")
	})

	t.Run("Missing fields fail validation", func(t *testing.T) {
		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "Token")
	})

	t.Run("Invalid JSON answers 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pushes/apns/add-token", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown provider answers 404", func(t *testing.T) {
		w := post(t, h, "/api/v1/pushes/web/add-token", map[string]string{"user_id": "u1", "token": "t1"})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSendByToken(t *testing.T) {
	h, apnsEngine, fcmEngine := setupAPI(t, "")

	t.Run("Top-level guid and default status", func(t *testing.T) {
		expected := dispatch.Notification{GUID: "call-1", Status: "initializing"}
		apnsEngine.On("SendToToken", mock.Anything, "t1", expected).Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/apns/send-by-token", map[string]any{"token": "t1", "guid": "call-1"})

		assert.Equal(t, http.StatusNoContent, w.Code)
		apnsEngine.AssertExpectations(t)
	})

	t.Run("Call object is used when guid is absent", func(t *testing.T) {
		expected := dispatch.Notification{GUID: "call-2", Status: "ended"}
		fcmEngine.On("SendToToken", mock.Anything, "t1", expected).Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/fcm/send-by-token", map[string]any{
			"token": "t1",
			"call":  map[string]string{"guid": "call-2", "status": "ended"},
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		fcmEngine.AssertExpectations(t)
	})

	t.Run("Delivery hints are passed through", func(t *testing.T) {
		badge, expiration, wake := 3, int64(1700000000), false
		expected := dispatch.Notification{GUID: "call-3", Status: "ringing"}
		expected.Badge = &badge
		expected.Sound = "ring.caf"
		expected.ContentAvailable = &wake
		expected.MutableContent = true
		expected.ThreadID = "thread-9"
		expected.Category = "INCOMING_CALL"
		expected.Expiration = &expiration
		apnsEngine.On("SendToToken", mock.Anything, "t1", expected).Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/apns/send-by-token", map[string]any{
			"token":             "t1",
			"guid":              "call-3",
			"status":            "ringing",
			"badge":             3,
			"sound":             "ring.caf",
			"content_available": false,
			"mutable_content":   true,
			"thread_id":         "thread-9",
			"category":          "INCOMING_CALL",
			"expiration":        1700000000,
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		apnsEngine.AssertExpectations(t)
	})

	t.Run("Negative badge fails validation", func(t *testing.T) {
		w := post(t, h, "/api/v1/pushes/apns/send-by-token", map[string]any{"token": "t1", "badge": -1})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	testCases := []struct {
		name     string
		provider string
		outcome  dispatch.Outcome
		status   int
		message  string
	}{
		{"APNs bad device token", "apns", dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: "BadDeviceToken"}, http.StatusBadRequest, "APNS error: BadDeviceToken"},
		{"APNs expired token", "apns", dispatch.Outcome{Kind: dispatch.KindTokenExpired, Reason: "ExpiredToken"}, http.StatusGone, "APNS error: ExpiredToken"},
		{"APNs unregistered", "apns", dispatch.Outcome{Kind: dispatch.KindSuppressed, Reason: "Unregistered"}, http.StatusGone, "APNS error: Unregistered"},
		{"APNs too many requests", "apns", dispatch.Outcome{Kind: dispatch.KindRateLimited, Reason: "TooManyRequests"}, http.StatusTooManyRequests, "APNS error: TooManyRequests"},
		{"APNs other reason", "apns", dispatch.Outcome{Kind: dispatch.KindRejected, Reason: "TopicDisallowed"}, http.StatusInternalServerError, "TopicDisallowed"},
		{"APNs unavailable", "apns", dispatch.Unavailable(errors.New("timeout")), http.StatusInternalServerError, "APNS isn't available"},
		{"FCM token not found", "fcm", dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: "TokenNotFound"}, http.StatusBadRequest, "FCM token is not registered"},
		{"FCM unavailable", "fcm", dispatch.Unavailable(errors.New("503")), http.StatusInternalServerError, "FCM isn't available"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eng := apnsEngine
			if tc.provider == "fcm" {
				eng = fcmEngine
			}
			eng.On("SendToToken", mock.Anything, "bad", mock.Anything).
				Return(engine.NewDeliveryError(tc.provider, tc.outcome)).Once()

			w := post(t, h, "/api/v1/pushes/"+tc.provider+"/send-by-token", map[string]any{"token": "bad", "guid": "g"})

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.message)
		})
	}
}

func TestSendByUserID(t *testing.T) {
	h, apnsEngine, fcmEngine := setupAPI(t, "")

	t.Run("Successful fan-out answers 204", func(t *testing.T) {
		expected := dispatch.Notification{GUID: "call-1", Status: "ringing", Title: "Hi", Data: map[string]string{"k": "v"}}
		apnsEngine.On("SendToUser", mock.Anything, "u1", expected).Return(engine.Report{Recipients: 2}, nil).Once()

		w := post(t, h, "/api/v1/pushes/apns/send-by-user-id", map[string]any{
			"user_id": "u1", "guid": "call-1", "status": "ringing", "title": "Hi", "data": map[string]string{"k": "v"},
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		apnsEngine.AssertExpectations(t)
	})

	t.Run("Partial failure answers 500 with the provider label", func(t *testing.T) {
		fcmEngine.On("SendToUser", mock.Anything, "u1", mock.Anything).
			Return(engine.Report{Recipients: 3}, engine.ErrPartialFailure).Once()

		w := post(t, h, "/api/v1/pushes/fcm/send-by-user-id", map[string]any{"user_id": "u1", "guid": "g"})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "An FCM error occured. Some pushes were not sent")
	})

	t.Run("Repository failure answers 500", func(t *testing.T) {
		apnsEngine.On("SendToUser", mock.Anything, "u2", mock.Anything).
			Return(engine.Report{}, errors.New("redis down")).Once()

		w := post(t, h, "/api/v1/pushes/apns/send-by-user-id", map[string]any{"user_id": "u2", "guid": "g"})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRequireRequestToken(t *testing.T) {
	h, apnsEngine, _ := setupAPI(t, "s3cret")

	t.Run("Wrong secret answers 401", func(t *testing.T) {
		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1", "token": "t1"},
			"Authorization", "nope")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Authorization code is incorrect")
		apnsEngine.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Missing header answers 401", func(t *testing.T) {
		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1", "token": "t1"})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Matching secret passes", func(t *testing.T) {
		apnsEngine.On("Register", mock.Anything, "u1", "t1").Return(nil).Once()

		w := post(t, h, "/api/v1/pushes/apns/add-token", map[string]string{"user_id": "u1", "token": "t1"},
			"Authorization", "s3cret")

		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

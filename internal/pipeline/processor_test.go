package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendToToken(ctx context.Context, token string, n dispatch.Notification) error {
	return m.Called(ctx, token, n).Error(0)
}
func (m *mockDispatcher) SendToUser(ctx context.Context, userID string, n dispatch.Notification) (engine.Report, error) {
	args := m.Called(ctx, userID, n)
	return args.Get(0).(engine.Report), args.Error(1)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}
	notif := dispatch.Notification{GUID: "call-1", Status: "initializing"}

	setup := func() (*mockDispatcher, messagepipeline.StreamProcessor[pipeline.PushJob]) {
		apns := new(mockDispatcher)
		proc := pipeline.NewProcessor(map[string]pipeline.Dispatcher{dispatch.ProviderAPNS: apns}, newTestLogger())
		return apns, proc
	}

	t.Run("Fan-out success is acknowledged", func(t *testing.T) {
		apns, proc := setup()
		apns.On("SendToUser", ctx, "u1", notif).Return(engine.Report{Recipients: 2}, nil).Once()

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "apns", UserID: "u1", GUID: "call-1"})

		assert.NoError(t, err)
		apns.AssertExpectations(t)
	})

	t.Run("Partial failure is acknowledged", func(t *testing.T) {
		apns, proc := setup()
		apns.On("SendToUser", ctx, "u1", notif).Return(engine.Report{Recipients: 2}, engine.ErrPartialFailure)

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "apns", UserID: "u1", GUID: "call-1"})

		assert.NoError(t, err)
	})

	t.Run("Token lookup failure is retried", func(t *testing.T) {
		apns, proc := setup()
		lookupErr := errors.New("redis down")
		apns.On("SendToUser", ctx, "u1", notif).Return(engine.Report{}, lookupErr)

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "apns", UserID: "u1", GUID: "call-1"})

		assert.ErrorIs(t, err, lookupErr)
	})

	t.Run("Single token unavailable is retried", func(t *testing.T) {
		apns, proc := setup()
		apns.On("SendToToken", ctx, "t1", notif).
			Return(engine.NewDeliveryError("apns", dispatch.Unavailable(errors.New("timeout"))))

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "apns", Token: "t1", GUID: "call-1"})

		assert.ErrorIs(t, err, engine.ErrProviderUnavailable)
	})

	t.Run("Single token rejection is dropped", func(t *testing.T) {
		apns, proc := setup()
		apns.On("SendToToken", ctx, "t1", notif).
			Return(engine.NewDeliveryError("apns", dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: "BadDeviceToken"}))

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "apns", Token: "t1", GUID: "call-1"})

		assert.NoError(t, err)
	})

	t.Run("Disabled provider is dropped", func(t *testing.T) {
		apns, proc := setup()

		err := proc(ctx, msg, &pipeline.PushJob{Provider: "fcm", UserID: "u1"})

		assert.NoError(t, err)
		apns.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything, mock.Anything)
	})
}

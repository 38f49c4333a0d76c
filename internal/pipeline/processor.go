package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Dispatcher is the subset of *engine.Engine the processor drives.
type Dispatcher interface {
	SendToToken(ctx context.Context, token string, n dispatch.Notification) error
	SendToUser(ctx context.Context, userID string, n dispatch.Notification) (engine.Report, error)
}

// NewProcessor routes each job to the engine of its provider family.
//
// An error is returned (nack, redelivery) only when nothing was sent: the
// token lookup failed or a single-token send hit an unavailable provider.
// Partial fan-out failures are acknowledged so delivered recipients are not
// notified twice.
func NewProcessor(
	engines map[string]Dispatcher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[PushJob] {

	return func(ctx context.Context, original messagepipeline.Message, job *PushJob) error {
		procLogger := logger.With(
			"provider", job.Provider,
			"guid", job.GUID,
			"pubsub_msg_id", original.ID,
		)

		eng, ok := engines[job.Provider]
		if !ok {
			procLogger.Warn("Provider not enabled; dropping push job.")
			return nil
		}

		n := job.Notification()

		if job.Token != "" {
			err := eng.SendToToken(ctx, job.Token, n)
			switch {
			case err == nil:
				procLogger.Debug("Push delivered", "token", job.Token)
				return nil
			case errors.Is(err, engine.ErrProviderUnavailable):
				procLogger.Error("Provider unavailable", "token", job.Token, "err", err)
				return err // Retryable
			default:
				procLogger.Warn("Push rejected; dropping", "token", job.Token, "err", err)
				return nil
			}
		}

		procLogger = procLogger.With("user_id", job.UserID)
		report, err := eng.SendToUser(ctx, job.UserID, n)
		switch {
		case err == nil:
			procLogger.Info("Push fan-out finished", "recipients", report.Recipients)
			return nil
		case errors.Is(err, engine.ErrPartialFailure):
			procLogger.Error("Push fan-out partially failed", "recipients", report.Recipients, "err", err)
			return nil
		case errors.Is(err, engine.ErrNoTokenStore):
			procLogger.Warn("No token storage; dropping user push job.")
			return nil
		default:
			procLogger.Error("Failed to fetch device tokens", "err", err)
			return err // Retryable
		}
	}
}

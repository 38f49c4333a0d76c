// Package pushgateway assembles the HTTP surface and the optional Pub/Sub
// ingestion pipeline around the per-provider dispatch engines.
package pushgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

type Wrapper struct {
	*microservice.BaseServer
	// nil when no subscription is configured.
	pipelineService *messagepipeline.StreamingService[pipeline.PushJob]
	logger          *slog.Logger
}

// New assembles the service. engines is keyed by provider family; families
// without credentials are simply absent. consumer may be nil, in which case
// only the HTTP API is served.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	engines map[string]*engine.Engine,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	apiEngines := make(map[string]api.PushEngine, len(engines))
	jobEngines := make(map[string]pipeline.Dispatcher, len(engines))
	for name, eng := range engines {
		apiEngines[name] = eng
		jobEngines[name] = eng
		logger.Info("Provider enabled", "provider", name, "token_store", eng.HasTokenStore())
	}

	// 2. Pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.PushJob]
	if consumer != nil {
		processor := pipeline.NewProcessor(jobEngines, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushJobTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	pushAPI := api.NewPushAPI(apiEngines, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/pushes/{provider}/add-token", pushAPI.AddToken)
	handle("POST /api/v1/pushes/{provider}/delete-token", pushAPI.DeleteToken)
	handle("POST /api/v1/pushes/{provider}/send-by-user-id", pushAPI.SendByUserID)
	handle("POST /api/v1/pushes/{provider}/send-by-token", pushAPI.SendByToken)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Push ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

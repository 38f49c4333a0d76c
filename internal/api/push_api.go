package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const maxBodyBytes = 64 << 10

// PushEngine is the subset of *engine.Engine the handlers use.
type PushEngine interface {
	Register(ctx context.Context, userID, token string) error
	Unregister(ctx context.Context, userID, token string) error
	SendToToken(ctx context.Context, token string, n dispatch.Notification) error
	SendToUser(ctx context.Context, userID string, n dispatch.Notification) (engine.Report, error)
}

// PushAPI serves /api/v1/pushes/{provider}/... for every enabled provider family.
type PushAPI struct {
	Engines map[string]PushEngine
	Logger  *slog.Logger
}

func NewPushAPI(engines map[string]PushEngine, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Engines: engines,
		Logger:  logger.With("component", "PushAPI"),
	}
}

// AddToken handles POST /api/v1/pushes/{provider}/add-token.
func (api *PushAPI) AddToken(w http.ResponseWriter, r *http.Request) {
	provider, eng, log, ok := api.resolve(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if !api.decode(w, r, log, &req) {
		return
	}

	if err := eng.Register(r.Context(), req.UserID, req.Token); err != nil {
		log.Error("Failed to register token", "user_id", req.UserID, "err", err)
		api.writeError(w, provider, err)
		return
	}
	log.Info("Token registered", "user_id", req.UserID)
	w.WriteHeader(http.StatusCreated)
}

// DeleteToken handles POST /api/v1/pushes/{provider}/delete-token.
func (api *PushAPI) DeleteToken(w http.ResponseWriter, r *http.Request) {
	provider, eng, log, ok := api.resolve(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if !api.decode(w, r, log, &req) {
		return
	}

	if err := eng.Unregister(r.Context(), req.UserID, req.Token); err != nil {
		log.Error("Failed to unregister token", "user_id", req.UserID, "err", err)
		api.writeError(w, provider, err)
		return
	}
	log.Info("Token unregistered", "user_id", req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// SendByUserID handles POST /api/v1/pushes/{provider}/send-by-user-id.
func (api *PushAPI) SendByUserID(w http.ResponseWriter, r *http.Request) {
	provider, eng, log, ok := api.resolve(w, r)
	if !ok {
		return
	}

	var req SendByUserRequest
	if !api.decode(w, r, log, &req) {
		return
	}

	n := req.Notification()
	report, err := eng.SendToUser(r.Context(), req.UserID, n)
	if err != nil {
		log.Error("Send by user failed", "user_id", req.UserID, "guid", n.GUID, "err", err)
		api.writeError(w, provider, err)
		return
	}
	log.Info("Send by user finished", "user_id", req.UserID, "guid", n.GUID, "recipients", report.Recipients)
	w.WriteHeader(http.StatusNoContent)
}

// SendByToken handles POST /api/v1/pushes/{provider}/send-by-token.
func (api *PushAPI) SendByToken(w http.ResponseWriter, r *http.Request) {
	provider, eng, log, ok := api.resolve(w, r)
	if !ok {
		return
	}

	var req SendByTokenRequest
	if !api.decode(w, r, log, &req) {
		return
	}

	n := req.Notification()
	if err := eng.SendToToken(r.Context(), req.Token, n); err != nil {
		log.Warn("Send by token failed", "guid", n.GUID, "err", err)
		api.writeError(w, provider, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolve picks the engine for the {provider} path segment and tags the
// request with an id.
func (api *PushAPI) resolve(w http.ResponseWriter, r *http.Request) (string, PushEngine, *slog.Logger, bool) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	provider := r.PathValue("provider")
	log := api.Logger.With("request_id", requestID, "provider", provider)

	eng, ok := api.Engines[provider]
	if !ok {
		log.Warn("Request for unknown or disabled provider")
		response.WriteJSONError(w, http.StatusNotFound, "unknown push provider")
		return "", nil, nil, false
	}
	return provider, eng, log, true
}

func (api *PushAPI) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Warn("JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validateStruct(dest); err != nil {
		log.Warn("Validation failed", "err", err)
		response.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// writeError maps engine errors onto the gateway's HTTP contract.
func (api *PushAPI) writeError(w http.ResponseWriter, provider string, err error) {
	label := strings.ToUpper(provider)

	switch {
	case errors.Is(err, engine.ErrNoTokenStore):
		response.WriteJSONError(w, http.StatusServiceUnavailable, "No token storage was initialized")
		return
	case errors.Is(err, engine.ErrMalformedRequest):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrPartialFailure):
		response.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("An %s error occured. Some pushes were not sent", label))
		return
	}

	var de *engine.DeliveryError
	if !errors.As(err, &de) {
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case errors.Is(err, engine.ErrTokenInvalid):
		if provider == dispatch.ProviderFCM {
			response.WriteJSONError(w, http.StatusBadRequest, "FCM token is not registered")
			return
		}
		response.WriteJSONError(w, http.StatusBadRequest, label+" error: "+de.Reason)
	case errors.Is(err, engine.ErrTokenGone):
		response.WriteJSONError(w, http.StatusGone, label+" error: "+de.Reason)
	case errors.Is(err, engine.ErrRateLimited):
		response.WriteJSONError(w, http.StatusTooManyRequests, label+" error: "+de.Reason)
	case errors.Is(err, engine.ErrRejected):
		response.WriteJSONError(w, http.StatusInternalServerError, de.Reason)
	default:
		response.WriteJSONError(w, http.StatusInternalServerError, label+" isn't available")
	}
}

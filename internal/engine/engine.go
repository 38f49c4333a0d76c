// Package engine implements the dispatch policy shared by every provider
// family: retry-once on a stale credential, token pruning, and fan-out
// aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const defaultWorkers = 4

// Config wires one provider family into an engine.
type Config struct {
	// Provider names the family in logs and errors ("apns", "fcm").
	Provider    string
	Sender      dispatch.Sender
	Credentials dispatch.CredentialManager
	// Tokens may be nil, in which case only SendToToken works.
	Tokens dispatch.TokenRepository
	// Workers bounds the concurrent sends of one fan-out.
	Workers int
	// SendRate caps outbound sends per second across the engine. Zero is unlimited.
	SendRate float64
}

// Engine dispatches notifications for one provider family.
type Engine struct {
	provider string
	sender   dispatch.Sender
	creds    dispatch.CredentialManager
	tokens   dispatch.TokenRepository
	workers  int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Sender == nil || cfg.Credentials == nil {
		return nil, errors.New("engine requires a sender and a credential manager")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), workers)
	}
	return &Engine{
		provider: cfg.Provider,
		sender:   cfg.Sender,
		creds:    cfg.Credentials,
		tokens:   cfg.Tokens,
		workers:  workers,
		limiter:  limiter,
		logger:   logger.With("component", "DispatchEngine", "provider", cfg.Provider),
	}, nil
}

// Provider returns the family name the engine was built for.
func (e *Engine) Provider() string {
	return e.provider
}

// HasTokenStore reports whether user-addressed operations are available.
func (e *Engine) HasTokenStore() bool {
	return e.tokens != nil
}

// Register adds a device token to the user's set.
func (e *Engine) Register(ctx context.Context, userID, token string) error {
	if e.tokens == nil {
		return ErrNoTokenStore
	}
	if userID == "" || token == "" {
		return ErrMalformedRequest
	}
	return e.tokens.Add(ctx, userID, token)
}

// Unregister removes a device token from the user's set.
func (e *Engine) Unregister(ctx context.Context, userID, token string) error {
	if e.tokens == nil {
		return ErrNoTokenStore
	}
	if userID == "" || token == "" {
		return ErrMalformedRequest
	}
	return e.tokens.Delete(ctx, userID, token)
}

// SendToToken delivers to a single device. Every non-delivered outcome is
// returned as a *DeliveryError; nothing is pruned.
func (e *Engine) SendToToken(ctx context.Context, token string, n dispatch.Notification) error {
	if token == "" {
		return ErrMalformedRequest
	}

	outcome, _ := e.deliver(ctx, token, n)
	if outcome.Kind == dispatch.KindDelivered {
		return nil
	}
	return NewDeliveryError(e.provider, outcome)
}

// SendToUser fans out to every registered token of the user. Per-token
// failures never stop the loop; the only error surfaced for the sends
// themselves is ErrPartialFailure.
func (e *Engine) SendToUser(ctx context.Context, userID string, n dispatch.Notification) (Report, error) {
	if e.tokens == nil {
		return Report{}, ErrNoTokenStore
	}
	if userID == "" {
		return Report{}, ErrMalformedRequest
	}

	tokens, err := e.tokens.GetAllByUser(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read %s tokens for user %s: %w", e.provider, userID, err)
	}

	log := e.logger.With("user_id", userID, "guid", n.GUID)
	report := Report{Recipients: len(tokens), Results: make(map[string]Result, len(tokens))}
	if len(tokens) == 0 {
		log.Debug("No devices registered for user")
		return report, nil
	}

	results := make([]Result, len(tokens))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, token := range tokens {
		g.Go(func() error {
			results[i] = e.dispatchOne(ctx, log, userID, token, n)
			return nil
		})
	}
	_ = g.Wait()

	for i, token := range tokens {
		report.Results[token] = results[i]
	}

	if report.Failed() {
		log.Error("Fan-out finished with failures", report.attrs()...)
		return report, fmt.Errorf("%w: %d of %d %s sends failed",
			ErrPartialFailure, report.Count(ResultProviderUnavailable), report.Recipients, e.provider)
	}
	log.Info("Fan-out finished", report.attrs()...)
	return report, nil
}

// dispatchOne applies the fan-out policy to one token's final outcome.
func (e *Engine) dispatchOne(ctx context.Context, log *slog.Logger, userID, token string, n dispatch.Notification) Result {
	outcome, retried := e.deliver(ctx, token, n)

	switch outcome.Kind {
	case dispatch.KindDelivered:
		if retried {
			return ResultRetriedAndDelivered
		}
		return ResultDelivered

	case dispatch.KindTokenInvalid, dispatch.KindTokenExpired:
		log.Info("Pruning invalid device token", "token", token, "reason", outcome.Reason)
		if err := e.tokens.Delete(ctx, userID, token); err != nil {
			// The send itself did not fail; the token will be retried and pruned next time.
			log.Warn("Failed to prune device token", "token", token, "err", err)
		}
		return ResultTokenInvalidated

	case dispatch.KindSuppressed, dispatch.KindRateLimited:
		log.Debug("Skipping device token", "token", token, "outcome", outcome.Kind)
		return ResultSkipped

	case dispatch.KindRejected, dispatch.KindUnavailable, dispatch.KindCredentialStale:
		log.Warn("Send failed", "token", token, "outcome", outcome.Kind, "reason", outcome.Reason, "err", outcome.Err)
		return ResultProviderUnavailable

	default:
		log.Error("Unclassified outcome", "token", token, "outcome", outcome.Kind)
		return ResultProviderUnavailable
	}
}

type attemptState int

const (
	attemptFresh attemptState = iota
	attemptRetriedOnce
)

// deliver sends once and, on a stale credential, invalidates it and resends
// exactly once. A credential still stale after the resend is reported as
// unavailable. retried is true when the resend happened.
func (e *Engine) deliver(ctx context.Context, token string, n dispatch.Notification) (outcome dispatch.Outcome, retried bool) {
	state := attemptFresh
	for {
		outcome = e.send(ctx, token, n)
		if outcome.Kind != dispatch.KindCredentialStale {
			return outcome, state == attemptRetriedOnce
		}

		switch state {
		case attemptFresh:
			e.logger.Info("Credential rejected as stale; refreshing", "token", token, "reason", outcome.Reason)
			if err := e.creds.Invalidate(ctx); err != nil {
				e.logger.Warn("Failed to invalidate credential", "err", err)
			}
			state = attemptRetriedOnce
		case attemptRetriedOnce:
			return dispatch.Unavailable(fmt.Errorf("credential still stale after refresh (%s)", outcome.Reason)), true
		}
	}
}

func (e *Engine) send(ctx context.Context, token string, n dispatch.Notification) dispatch.Outcome {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return dispatch.Unavailable(fmt.Errorf("send rate limiter: %w", err))
		}
	}
	return e.sender.Send(ctx, token, n)
}

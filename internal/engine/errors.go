package engine

import (
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

var (
	// ErrTokenInvalid: the device token is malformed or unknown to the provider.
	ErrTokenInvalid = errors.New("device token is invalid")
	// ErrTokenGone: the device token expired or the app was removed from the device.
	ErrTokenGone = errors.New("device token is no longer active")
	// ErrRateLimited: too many notifications were sent to the same device token.
	ErrRateLimited = errors.New("too many requests for device token")
	// ErrRejected: the provider refused the notification for a reason outside the known table.
	ErrRejected = errors.New("provider rejected notification")
	// ErrProviderUnavailable: transport failure, malformed response, or no usable credential.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrMalformedRequest: the caller supplied an empty user id or token.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrPartialFailure: at least one token of a fan-out hit an unavailable provider.
	ErrPartialFailure = errors.New("some pushes were not sent")
	// ErrNoTokenStore: the operation needs a token repository and none is configured.
	ErrNoTokenStore = errors.New("no token storage was initialized")
)

// DeliveryError describes a failed single-token send. It matches one of the
// sentinels above with errors.Is and keeps the provider's reason.
type DeliveryError struct {
	Provider string
	Kind     dispatch.Kind
	Reason   string
	sentinel error
	cause    error
}

// NewDeliveryError applies the single-token error policy to a non-delivered outcome.
func NewDeliveryError(provider string, outcome dispatch.Outcome) *DeliveryError {
	return &DeliveryError{
		Provider: provider,
		Kind:     outcome.Kind,
		Reason:   outcome.Reason,
		sentinel: sentinelFor(outcome.Kind),
		cause:    outcome.Err,
	}
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.sentinel)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.cause}
}

// sentinelFor is the single-token error policy.
func sentinelFor(kind dispatch.Kind) error {
	switch kind {
	case dispatch.KindTokenInvalid:
		return ErrTokenInvalid
	case dispatch.KindTokenExpired, dispatch.KindSuppressed:
		return ErrTokenGone
	case dispatch.KindRateLimited:
		return ErrRateLimited
	case dispatch.KindRejected:
		return ErrRejected
	case dispatch.KindUnavailable, dispatch.KindCredentialStale:
		return ErrProviderUnavailable
	default:
		return ErrProviderUnavailable
	}
}

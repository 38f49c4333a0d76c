package dispatch

import (
	"context"
	"time"
)

// Sender defines the contract for a provider client that can deliver one
// notification to one device token (e.g., Apple's APNS, Google's FCM).
// Every response, including transport failures, is classified into an Outcome.
type Sender interface {
	Send(ctx context.Context, token string, n Notification) Outcome
}

// TokenRepository defines the contract for managing user device tokens of a
// single provider family. Add and Delete are idempotent.
type TokenRepository interface {
	// Add registers a device token for a user. Adding a present token is a no-op.
	Add(ctx context.Context, userID, token string) error

	// Delete removes a device token. Deleting an absent token is a no-op.
	Delete(ctx context.Context, userID, token string) error

	// GetAllByUser returns the (unordered, unique) set of tokens for a user.
	GetAllByUser(ctx context.Context, userID string) ([]string, error)
}

// CredentialCache is a key/value store with per-entry expiration.
// Get never returns a value whose expiry has passed.
type CredentialCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
}

// CredentialManager hands out a currently-valid bearer credential for one
// provider family, minting a new one when the cache is empty.
type CredentialManager interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/tinywideclouds/go-push-gateway/internal/credential"
)

// CredentialCacheKey is where the FCM access token lives in the credential cache.
const CredentialCacheKey = "firebase_access_token"

// MessagingScope is the OAuth2 scope required by the FCM v1 send endpoint.
const MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// expirySkew is subtracted from every expiry so a token is never used in its
// final minute.
const expirySkew = time.Minute

// CredentialConfig holds the service account used for the OAuth2 exchange.
type CredentialConfig struct {
	ServiceAccountJSON []byte
	// DefaultLifetime is assumed when the token endpoint omits an expiry.
	DefaultLifetime time.Duration
}

// NewMinter validates the service account up front and returns a MintFunc
// performing the JWT-bearer exchange on every call.
func NewMinter(cfg CredentialConfig) (credential.MintFunc, error) {
	jwtConfig, err := google.JWTConfigFromJSON(cfg.ServiceAccountJSON, MessagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse firebase service account: %w", err)
	}

	lifetime := cfg.DefaultLifetime
	if lifetime <= 0 {
		lifetime = 60 * time.Minute
	}

	return func(ctx context.Context) (string, time.Time, error) {
		tok, err := jwtConfig.TokenSource(ctx).Token()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("firebase token exchange failed: %w", err)
		}

		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(lifetime)
		}
		return tok.AccessToken, expiry.Add(-expirySkew), nil
	}, nil
}

// ProjectIDFromServiceAccount reads project_id from the service account file
// so FIREBASE_PROJECT_ID can be omitted.
func ProjectIDFromServiceAccount(serviceAccountJSON []byte) (string, error) {
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(serviceAccountJSON, &sa); err != nil {
		return "", fmt.Errorf("failed to parse firebase service account: %w", err)
	}
	if sa.ProjectID == "" {
		return "", fmt.Errorf("firebase service account has no project_id")
	}
	return sa.ProjectID, nil
}

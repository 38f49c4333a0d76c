package apns

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-gateway/internal/credential"
)

// CredentialCacheKey is where the APNs provider token lives in the credential cache.
const CredentialCacheKey = "apns_access_token"

// TokenLifetime is how long a minted provider token is handed out. Apple
// rejects tokens older than an hour.
const TokenLifetime = 55 * time.Minute

// CredentialConfig holds the material required to sign APNs provider tokens.
type CredentialConfig struct {
	KeyID  string
	TeamID string
	// P8Key is the raw content of the .p8 file.
	P8Key []byte
}

// NewMinter parses the .p8 key immediately so bad credentials fail on startup.
// The returned MintFunc signs an ES256 assertion {iss: teamId, iat: now}.
func NewMinter(cfg CredentialConfig) (credential.MintFunc, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, fmt.Errorf("APNs key id and team id are required")
	}
	authKey, err := token.AuthKeyFromBytes(cfg.P8Key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}
	return newMinter(cfg.KeyID, cfg.TeamID, authKey, time.Now), nil
}

func newMinter(keyID, teamID string, key *ecdsa.PrivateKey, now func() time.Time) credential.MintFunc {
	return func(ctx context.Context) (string, time.Time, error) {
		issuedAt := now()

		tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"iss": teamID,
			"iat": issuedAt.Unix(),
		})
		tok.Header["kid"] = keyID

		signed, err := tok.SignedString(key)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to sign APNs provider token: %w", err)
		}
		return signed, issuedAt.Add(TokenLifetime), nil
	}
}

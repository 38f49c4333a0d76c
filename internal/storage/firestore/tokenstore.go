package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements dispatch.TokenRepository for one provider family
// using Google Cloud Firestore. APNs and FCM stores share the same devices
// collection and are separated by the platform field.
type FirestoreStore struct {
	client   *firestore.Client
	platform string
}

func NewFirestoreStore(client *firestore.Client, platform string) *FirestoreStore {
	return &FirestoreStore{client: client, platform: platform}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Add(ctx context.Context, userID, token string) error {
	record := deviceRecord{
		Platform:  s.platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}

	// Set on a deterministic doc id makes a repeated add an overwrite.
	if _, err := s.deviceRef(userID, token).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to add %s token: %w", s.platform, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, userID, token string) error {
	_, err := s.deviceRef(userID, token).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s token: %w", s.platform, err)
	}
	return nil
}

// GetAllByUser returns every token of this store's platform for the user.
func (s *FirestoreStore) GetAllByUser(ctx context.Context, userID string) ([]string, error) {
	iter := s.devicesCollection(userID).Where("platform", "==", s.platform).Documents(ctx)
	defer iter.Stop()

	tokens := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// corrupt rows are skipped
			continue
		}
		if record.Token != "" {
			tokens = append(tokens, record.Token)
		}
	}

	return tokens, nil
}

// deviceRef: users/{userID}/devices/{platform}-{tokenHash}
func (s *FirestoreStore) deviceRef(userID, token string) *firestore.DocumentRef {
	return s.devicesCollection(userID).Doc(s.platform + "-" + hashToken(token))
}

func (s *FirestoreStore) devicesCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("devices")
}

// Hashing keeps doc ids fixed-length and free of '/'.
func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

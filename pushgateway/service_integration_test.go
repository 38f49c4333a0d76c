//go:build integration

package pushgateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-gateway/internal/credential"
	"github.com/tinywideclouds/go-push-gateway/internal/engine"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

func newFCMEngine(t *testing.T, sender dispatch.Sender, repo dispatch.TokenRepository, logger *slog.Logger) *engine.Engine {
	t.Helper()
	creds := credential.NewManager(cache.NewMemoryCache(), "firebase_access_token", staticMint, logger)
	eng, err := engine.New(engine.Config{
		Provider:    dispatch.ProviderFCM,
		Sender:      sender,
		Credentials: creds,
		Tokens:      repo,
	}, logger)
	require.NoError(t, err)
	return eng
}

func TestPushGateway_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	// 2. Token Store (Firestore Implementation)
	tokenStore := fsStore.NewFirestoreStore(fsClient, dispatch.ProviderFCM)

	t.Run("Full Lifecycle: Register -> Publish -> Fan-out", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		sender := newFakeSender()
		sender.outcomes["android-token-dead"] = dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: "TokenNotFound"}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := pushgateway.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			map[string]*engine.Engine{dispatch.ProviderFCM: newFCMEngine(t, sender, tokenStore, logger)},
			func(h http.Handler) http.Handler { return h },
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: Register tokens directly in the store
		require.NoError(t, tokenStore.Add(ctx, "integ-user", "android-token-999"))
		require.NoError(t, tokenStore.Add(ctx, "integ-user", "android-token-dead"))

		// Step B: Publish a user-addressed job; the service resolves the tokens.
		payload, err := json.Marshal(pipeline.PushJob{
			Provider: dispatch.ProviderFCM,
			UserID:   "integ-user",
			GUID:     "call-42",
			Status:   "ringing",
		})
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: both tokens were tried and the dead one was pruned.
		require.Eventually(t, func() bool {
			return len(sender.Sent()) == 2
		}, 10*time.Second, 100*time.Millisecond)
		assert.ElementsMatch(t, []string{"android-token-999", "android-token-dead"}, sender.Sent())

		require.Eventually(t, func() bool {
			tokens, err := tokenStore.GetAllByUser(ctx, "integ-user")
			return err == nil && len(tokens) == 1 && tokens[0] == "android-token-999"
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}

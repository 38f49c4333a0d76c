// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// ReasonExpiredToken is returned (410) when a device token was valid once but
// is no longer. apns2 only knows it under the old Unregistered spelling.
const ReasonExpiredToken = "ExpiredToken"

const voipSuffix = ".voip"

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the static delivery settings.
type Config struct {
	// Topic is the app bundle id. A ".voip" suffix switches the push type to voip.
	Topic      string
	UseSandbox bool
	// Host overrides the sandbox/production endpoint.
	Host    string
	Timeout time.Duration
}

// Client sends one notification to one device token and classifies the answer.
type Client struct {
	client  APNSClient
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient builds an apns2 client whose requests are authorized with the
// provider token handed out by creds. apns2's own token signing is not used so
// the credential lives in the shared cache.
func NewClient(cfg Config, creds dispatch.CredentialManager, logger *slog.Logger) *Client {
	host := cfg.Host
	if host == "" {
		host = apns2.HostProduction
		if cfg.UseSandbox {
			host = apns2.HostDevelopment
		}
	}

	httpClient := &http.Client{
		Transport: &bearerTransport{
			base:  &http.Transport{ForceAttemptHTTP2: true},
			creds: creds,
		},
	}

	return newClient(&apns2.Client{Host: host, HTTPClient: httpClient}, cfg, logger)
}

func newClient(client APNSClient, cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  client,
		topic:   cfg.Topic,
		timeout: timeout,
		logger:  logger.With("component", "APNSClient"),
	}
}

// Send implements dispatch.Sender.
func (c *Client) Send(ctx context.Context, deviceToken string, n dispatch.Notification) dispatch.Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.client.PushWithContext(ctx, c.notification(deviceToken, n))
	if err != nil {
		// Transport failure, unparseable body or credential minting failure.
		c.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
		return dispatch.Unavailable(err)
	}

	outcome := Classify(res)
	if outcome.Kind != dispatch.KindDelivered {
		c.logger.Warn("APNs rejected notification",
			"token", deviceToken, "status", res.StatusCode, "reason", res.Reason, "outcome", outcome.Kind)
	}
	return outcome
}

func (c *Client) notification(deviceToken string, n dispatch.Notification) *apns2.Notification {
	var expiration int64
	if n.Expiration != nil {
		expiration = *n.Expiration
	}

	notif := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.topic,
		Payload:     buildPayload(n),
		// Unix(0) is a non-zero time, so apns2 sends "apns-expiration: 0".
		Expiration: time.Unix(expiration, 0),
	}
	if strings.HasSuffix(c.topic, voipSuffix) {
		notif.PushType = apns2.PushTypeVOIP
	}
	return notif
}

// Classify maps an APNs response onto the provider-agnostic outcome.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func Classify(res *apns2.Response) dispatch.Outcome {
	if res.StatusCode == http.StatusOK {
		return dispatch.Delivered()
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken:
		return dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: res.Reason}
	case apns2.ReasonExpiredProviderToken:
		return dispatch.Outcome{Kind: dispatch.KindCredentialStale, Reason: res.Reason}
	case ReasonExpiredToken:
		return dispatch.Outcome{Kind: dispatch.KindTokenExpired, Reason: res.Reason}
	case apns2.ReasonUnregistered:
		return dispatch.Outcome{Kind: dispatch.KindSuppressed, Reason: res.Reason}
	case apns2.ReasonTooManyRequests:
		return dispatch.Outcome{Kind: dispatch.KindRateLimited, Reason: res.Reason}
	case "":
		return dispatch.Unavailable(fmt.Errorf("APNs returned status %d without a reason", res.StatusCode))
	default:
		return dispatch.Outcome{Kind: dispatch.KindRejected, Reason: res.Reason}
	}
}

// bearerTransport stamps every request with the current provider token.
type bearerTransport struct {
	base  http.RoundTripper
	creds dispatch.CredentialManager
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.creds.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("authorization", "bearer "+tok)
	return t.base.RoundTrip(authed)
}

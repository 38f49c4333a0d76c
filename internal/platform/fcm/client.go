// Package fcm provides the client for the Firebase Cloud Messaging v1 API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// DefaultEndpoint is the FCM v1 API base.
const DefaultEndpoint = "https://fcm.googleapis.com"

// DefaultClickAction is what Flutter apps register for notification taps.
const DefaultClickAction = "FLUTTER_NOTIFICATION_CLICK"

// ReasonTokenNotFound is the outcome reason for 400/404 answers.
const ReasonTokenNotFound = "TokenNotFound"

// Config holds the static delivery settings.
type Config struct {
	ProjectID   string
	ClickAction string
	// Endpoint overrides DefaultEndpoint.
	Endpoint string
	Timeout  time.Duration
}

// Client sends one notification to one registration token and classifies the answer.
type Client struct {
	httpClient  *http.Client
	sendURL     string
	clickAction string
	creds       dispatch.CredentialManager
	logger      *slog.Logger
}

func NewClient(cfg Config, creds dispatch.CredentialManager, logger *slog.Logger) *Client {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	clickAction := cfg.ClickAction
	if clickAction == "" {
		clickAction = DefaultClickAction
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		sendURL:     fmt.Sprintf("%s/v1/projects/%s/messages:send", endpoint, cfg.ProjectID),
		clickAction: clickAction,
		creds:       creds,
		logger:      logger.With("component", "FCMClient"),
	}
}

// sendRequest is the v1 envelope around a single message.
type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

// Send implements dispatch.Sender.
func (c *Client) Send(ctx context.Context, token string, n dispatch.Notification) dispatch.Outcome {
	bearer, err := c.creds.Token(ctx)
	if err != nil {
		c.logger.Error("FCM credential unavailable", "err", err)
		return dispatch.Unavailable(err)
	}

	body, err := json.Marshal(sendRequest{Message: c.message(token, n)})
	if err != nil {
		return dispatch.Unavailable(fmt.Errorf("failed to encode FCM message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return dispatch.Unavailable(err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("FCM transport failed", "token", token, "err", err)
		return dispatch.Unavailable(err)
	}
	defer res.Body.Close()

	outcome := Classify(res.StatusCode)
	if outcome.Kind != dispatch.KindDelivered {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		c.logger.Warn("FCM rejected notification",
			"token", token, "status", res.StatusCode, "outcome", outcome.Kind, "body", string(detail))
	} else {
		_, _ = io.Copy(io.Discard, res.Body)
	}
	return outcome
}

func (c *Client) message(token string, n dispatch.Notification) *messaging.Message {
	data := make(map[string]string, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = v
	}
	data["guid"] = n.GUID
	data["call_status"] = n.Status
	data["click_action"] = c.clickAction

	msg := &messaging.Message{
		Token: token,
		Data:  data,
	}
	if n.Title != "" || n.Body != "" {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
	}
	return msg
}

// Classify maps an FCM v1 status onto the provider-agnostic outcome. 401 is
// documented as an invalid or expired OAuth2 token; other statuses carry no
// actionable meaning for the token or the credential.
func Classify(status int) dispatch.Outcome {
	switch status {
	case http.StatusOK:
		return dispatch.Delivered()
	case http.StatusBadRequest, http.StatusNotFound:
		return dispatch.Outcome{Kind: dispatch.KindTokenInvalid, Reason: ReasonTokenNotFound}
	case http.StatusUnauthorized:
		return dispatch.Outcome{Kind: dispatch.KindCredentialStale, Reason: http.StatusText(status)}
	default:
		return dispatch.Unavailable(fmt.Errorf("FCM returned status %d", status))
	}
}

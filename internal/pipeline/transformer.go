// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

var validate = validator.New()

// PushJob is an asynchronous send request. Exactly one of UserID and Token is set.
type PushJob struct {
	Provider string            `json:"provider" validate:"required,oneof=apns fcm"`
	UserID   string            `json:"user_id" validate:"required_without=Token,excluded_with=Token"`
	Token    string            `json:"token"`
	GUID     string            `json:"guid"`
	Status   string            `json:"status"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data"`

	dispatch.DeliveryHints
}

// Notification converts the job into the value handed to the engine.
func (j *PushJob) Notification() dispatch.Notification {
	status := j.Status
	if status == "" {
		status = "initializing"
	}
	return dispatch.Notification{
		GUID:   j.GUID,
		Status: status,
		Title:  j.Title,
		Body:   j.Body,
		Data:   j.Data,

		DeliveryHints: j.DeliveryHints,
	}
}

// PushJobTransformer is a dataflow Transformer that unmarshals and validates
// a raw message payload into a PushJob.
func PushJobTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PushJob, bool, error) {
	var job PushJob

	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// skip=true lets the StreamingService route the message to the DLQ.
		return nil, true, fmt.Errorf("failed to unmarshal push job from message %s: %w", msg.ID, err)
	}
	if err := validate.Struct(&job); err != nil {
		return nil, true, fmt.Errorf("invalid push job in message %s: %w", msg.ID, err)
	}

	return &job, false, nil
}

package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const defaultStatus = "initializing"

var validate = validator.New()

// validateStruct turns validator errors into one readable message.
func validateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

// TokenRequest is the body of add-token and delete-token.
type TokenRequest struct {
	UserID string `json:"user_id" validate:"required,max=256"`
	Token  string `json:"token" validate:"required,max=4096"`
}

// CallObject is the legacy envelope some clients still send instead of
// top-level guid/status.
type CallObject struct {
	GUID   *string `json:"guid"`
	Status *string `json:"status"`
}

// PushFields is what every send request carries.
type PushFields struct {
	GUID   *string           `json:"guid"`
	Status *string           `json:"status"`
	Call   *CallObject       `json:"call"`
	Title  string            `json:"title" validate:"max=256"`
	Body   string            `json:"body" validate:"max=4096"`
	Data   map[string]string `json:"data" validate:"max=64"`

	dispatch.DeliveryHints
}

type SendByTokenRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
	PushFields
}

type SendByUserRequest struct {
	UserID string `json:"user_id" validate:"required,max=256"`
	PushFields
}

// Notification resolves guid and status, falling back to the call object when
// guid is absent.
func (p PushFields) Notification() dispatch.Notification {
	guid, status := p.GUID, p.Status
	if guid == nil && p.Call != nil {
		guid, status = p.Call.GUID, p.Call.Status
	}

	n := dispatch.Notification{
		Status: defaultStatus,
		Title:  p.Title,
		Body:   p.Body,
		Data:   p.Data,

		DeliveryHints: p.DeliveryHints,
	}
	if guid != nil {
		n.GUID = *guid
	}
	if status != nil && *status != "" {
		n.Status = *status
	}
	return n
}

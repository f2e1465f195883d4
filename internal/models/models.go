// Package models defines the core data structures for the flower shop bot.
//
// It includes occasions (events), preorders, bouquet tiers, per-user conversation
// state and the inline keyboard / button payload types shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation and lookup errors shared by the store, dialog and API layers.
var (
	ErrEventNotFound             = errors.New("event not found")
	ErrPreorderNotFound          = errors.New("preorder not found")
	ErrInvalidEventType          = errors.New("invalid event type")
	ErrMissingCustomName         = errors.New("custom name is required for events of type other")
	ErrEmptyRecipientName        = errors.New("recipient name cannot be empty")
	ErrEmptyOwner                = errors.New("event owner cannot be empty")
	ErrInvalidDate               = errors.New("day and month do not form a calendar date")
	ErrInvalidEventStatus        = errors.New("invalid event status")
	ErrInvalidPreorderStatus     = errors.New("invalid preorder status")
	ErrInvalidStatusTransition   = errors.New("invalid preorder status transition")
	ErrInvalidFulfillment        = errors.New("invalid fulfillment method")
	ErrMissingDeliveryDetails    = errors.New("delivery address, phone and time are required for delivery")
	ErrUnexpectedDeliveryDetails = errors.New("delivery details must be empty for self pickup")
	ErrInvalidBouquetTier        = errors.New("invalid bouquet tier")
	ErrUnknownSettingKey         = errors.New("unknown setting key")
	ErrInvalidSettingValue       = errors.New("invalid setting value")
	ErrEmptyPayloadAction        = errors.New("payload action cannot be empty")
	ErrInvalidPhone              = errors.New("invalid phone number")
	ErrPhoneTaken                = errors.New("phone number is bound to another user")
)

// InboundMessage is one chat event delivered by a messaging gateway.
// Exactly one of Text or Payload is meaningful: a button press carries a Payload.
type InboundMessage struct {
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	Text       string    `json:"text,omitempty"`
	Payload    Payload   `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// Intent is a coarse classification of free text used when no keyword matches.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentHelp     Intent = "help"
	IntentOrder    Intent = "order"
	IntentUnknown  Intent = "unknown"
)

// ParseIntent maps a classifier answer onto a known intent.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentGreeting, IntentHelp, IntentOrder:
		return Intent(s)
	default:
		return IntentUnknown
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

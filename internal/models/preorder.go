package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fulfillment is how a preorder reaches the customer.
type Fulfillment string

const (
	FulfillmentSelfPickup Fulfillment = "self_pickup"
	FulfillmentDelivery   Fulfillment = "delivery"
)

// IsValid reports whether f is a known fulfillment method.
func (f Fulfillment) IsValid() bool {
	return f == FulfillmentSelfPickup || f == FulfillmentDelivery
}

// PreorderStatus is the staff-managed lifecycle of a preorder.
type PreorderStatus string

const (
	PreorderStatusNew       PreorderStatus = "new"
	PreorderStatusConfirmed PreorderStatus = "confirmed"
	PreorderStatusCompleted PreorderStatus = "completed"
	PreorderStatusCancelled PreorderStatus = "cancelled"
)

// IsValid reports whether s is a known preorder status.
func (s PreorderStatus) IsValid() bool {
	switch s {
	case PreorderStatusNew, PreorderStatusConfirmed, PreorderStatusCompleted, PreorderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PreorderStatus) IsTerminal() bool {
	return s == PreorderStatusCompleted || s == PreorderStatusCancelled
}

// CanTransitionTo reports whether staff may move a preorder from s to next.
func (s PreorderStatus) CanTransitionTo(next PreorderStatus) bool {
	switch s {
	case PreorderStatusNew:
		return next == PreorderStatusConfirmed || next == PreorderStatusCancelled
	case PreorderStatusConfirmed:
		return next == PreorderStatusCompleted || next == PreorderStatusCancelled
	}
	return false
}

// DeliveryDetails are collected only for courier delivery.
type DeliveryDetails struct {
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Time    string `json:"time"`
}

func (d DeliveryDetails) complete() bool {
	return strings.TrimSpace(d.Address) != "" && strings.TrimSpace(d.Phone) != "" && strings.TrimSpace(d.Time) != ""
}

// Preorder is a bouquet order tied to an event. Bouquet name and price are
// copied at order time and never follow later catalog edits.
type Preorder struct {
	ID            string           `json:"id"`
	EventID       string           `json:"event_id"`
	BuyerID       string           `json:"buyer_id"`
	Tier          BouquetTier      `json:"tier"`
	BouquetRef    string           `json:"bouquet_ref"`
	BouquetName   string           `json:"bouquet_name"`
	BouquetPrice  decimal.Decimal  `json:"bouquet_price"`
	FinalPrice    decimal.Decimal  `json:"final_price"`
	Fulfillment   Fulfillment      `json:"fulfillment"`
	Delivery      *DeliveryDetails `json:"delivery,omitempty"`
	RecipientName string           `json:"recipient_name"`
	DeliveryDate  time.Time        `json:"delivery_date"`
	Status        PreorderStatus   `json:"status"`
	Archived      bool             `json:"archived"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Validate enforces the fulfillment/delivery invariant and required references.
func (p Preorder) Validate() error {
	if p.EventID == "" {
		return ErrEventNotFound
	}
	if !p.Tier.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidBouquetTier, p.Tier)
	}
	if p.Status != "" && !p.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPreorderStatus, p.Status)
	}
	switch p.Fulfillment {
	case FulfillmentSelfPickup:
		if p.Delivery != nil {
			return ErrUnexpectedDeliveryDetails
		}
	case FulfillmentDelivery:
		if p.Delivery == nil || !p.Delivery.complete() {
			return ErrMissingDeliveryDetails
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFulfillment, p.Fulfillment)
	}
	return nil
}

// User is a customer known to the bot.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// Phone is the canonical number used by the WhatsApp gateways.
	Phone           string    `json:"phone,omitempty"`
	MessagesAllowed bool      `json:"messages_allowed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

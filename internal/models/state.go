// Package models defines state management structures for the order dialog.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DialogStep is the step a customer is at inside the order dialog.
type DialogStep string

const (
	StepSelectEventByNumber DialogStep = "select_event_by_number"
	StepSelectDelivery      DialogStep = "select_delivery"
	StepEnterAddress        DialogStep = "enter_address"
	StepEnterPhone          DialogStep = "enter_phone"
	StepEnterTime           DialogStep = "enter_time"
	StepConfirm             DialogStep = "confirm"
)

// ConversationState is the persisted dialog context of one user. Its presence
// means the user is mid-dialog.
type ConversationState struct {
	UserID    string         `json:"user_id"`
	Step      DialogStep     `json:"step"`
	EventIDs  []string       `json:"event_ids,omitempty"`
	Draft     *PreorderDraft `json:"draft,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PreorderDraft accumulates the order while the dialog runs. The event and
// bouquet are snapshots taken when the bouquet was selected.
type PreorderDraft struct {
	EventID       string      `json:"event_id"`
	EventName     string      `json:"event_name"`
	RecipientName string      `json:"recipient_name"`
	EventDate     DayMonth    `json:"event_date"`
	Bouquet       Bouquet     `json:"bouquet"`
	Fulfillment   Fulfillment `json:"fulfillment,omitempty"`
	Address       string      `json:"address,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	Time          string      `json:"time,omitempty"`
}

// DeliveryDetails returns the collected delivery fields, or nil for self pickup.
func (d PreorderDraft) DeliveryDetails() *DeliveryDetails {
	if d.Fulfillment != FulfillmentDelivery {
		return nil
	}
	return &DeliveryDetails{Address: d.Address, Phone: d.Phone, Time: d.Time}
}

// Price returns the snapshotted bouquet price.
func (d PreorderDraft) Price() decimal.Decimal {
	return d.Bouquet.Price
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadAction is the discriminator of a button payload.
type PayloadAction string

const (
	ActionSelectBouquet    PayloadAction = "select_bouquet"
	ActionDeliverySelf     PayloadAction = "delivery_self"
	ActionDeliveryDelivery PayloadAction = "delivery_delivery"
	ActionConfirmPreorder  PayloadAction = "confirm_preorder"
	ActionCancelPreorder   PayloadAction = "cancel_preorder"
	ActionRemindLater      PayloadAction = "remind_later"
)

// Payload is the data a button carries back to the bot when pressed.
type Payload interface {
	Action() PayloadAction
}

// SelectBouquet is pressed on a reminder or on the bouquet selection message.
type SelectBouquet struct {
	Tier    BouquetTier
	EventID string
}

// DeliverySelf chooses self pickup.
type DeliverySelf struct{}

// DeliveryCourier chooses courier delivery.
type DeliveryCourier struct{}

// ConfirmPreorder places the order.
type ConfirmPreorder struct{}

// CancelPreorder abandons the dialog.
type CancelPreorder struct{}

// RemindLater acknowledges a reminder without ordering.
type RemindLater struct{}

// UnknownPayload is any action this version does not understand.
type UnknownPayload struct {
	Name string
}

func (SelectBouquet) Action() PayloadAction   { return ActionSelectBouquet }
func (DeliverySelf) Action() PayloadAction    { return ActionDeliverySelf }
func (DeliveryCourier) Action() PayloadAction { return ActionDeliveryDelivery }
func (ConfirmPreorder) Action() PayloadAction { return ActionConfirmPreorder }
func (CancelPreorder) Action() PayloadAction  { return ActionCancelPreorder }
func (RemindLater) Action() PayloadAction     { return ActionRemindLater }
func (u UnknownPayload) Action() PayloadAction {
	return PayloadAction(u.Name)
}

// wirePayload is the JSON shape exchanged with the messaging platform.
type wirePayload struct {
	Action    string   `json:"action"`
	BouquetID string   `json:"bouquet_id,omitempty"`
	EventID   flexible `json:"event_id,omitempty"`
}

// flexible accepts both JSON strings and numbers.
type flexible string

func (f *flexible) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("event_id must be a string or number: %w", err)
	}
	*f = flexible(n.String())
	return nil
}

// ParsePayload decodes a raw button payload.
func ParsePayload(raw string) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	action := strings.TrimSpace(w.Action)
	if action == "" {
		return nil, ErrEmptyPayloadAction
	}
	switch PayloadAction(action) {
	case ActionSelectBouquet:
		return SelectBouquet{Tier: BouquetTier(w.BouquetID), EventID: string(w.EventID)}, nil
	case ActionDeliverySelf:
		return DeliverySelf{}, nil
	case ActionDeliveryDelivery:
		return DeliveryCourier{}, nil
	case ActionConfirmPreorder:
		return ConfirmPreorder{}, nil
	case ActionCancelPreorder:
		return CancelPreorder{}, nil
	case ActionRemindLater:
		return RemindLater{}, nil
	default:
		return UnknownPayload{Name: action}, nil
	}
}

// EncodePayload produces the wire JSON of p.
func EncodePayload(p Payload) string {
	w := wirePayload{Action: string(p.Action())}
	if sb, ok := p.(SelectBouquet); ok {
		w.BouquetID = string(sb.Tier)
		w.EventID = flexible(sb.EventID)
	}
	b, err := json.Marshal(w)
	if err != nil {
		// wirePayload contains only strings
		panic(err)
	}
	return string(b)
}

// ButtonColor is the visual style of a keyboard button.
type ButtonColor string

const (
	ColorSecondary ButtonColor = "secondary"
	ColorPrimary   ButtonColor = "primary"
	ColorPositive  ButtonColor = "positive"
	ColorNegative  ButtonColor = "negative"
)

// Button is a labeled keyboard button carrying a payload.
type Button struct {
	Label   string
	Payload Payload
	Color   ButtonColor
}

// Keyboard is a set of button rows attached to an outbound message.
type Keyboard struct {
	Inline bool
	Rows   [][]Button
}

// Buttons returns every button in row order.
func (k *Keyboard) Buttons() []Button {
	if k == nil {
		return nil
	}
	var out []Button
	for _, row := range k.Rows {
		out = append(out, row...)
	}
	return out
}

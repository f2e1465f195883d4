package vk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SevereCloud/vksdk/v2/events"
	"github.com/SevereCloud/vksdk/v2/object"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// Callback API event types handled by the bot.
const (
	EventConfirmation = events.EventConfirmation
	EventMessageNew   = events.EventMessageNew
	EventMessageAllow = events.EventMessageAllow
	EventMessageDeny  = events.EventMessageDeny
)

// ParseCallback decodes a Callback API request body.
func ParseCallback(body []byte) (*events.GroupEvent, error) {
	var e events.GroupEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("failed to decode callback: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("callback type is empty")
	}
	return &e, nil
}

// MessageNew decodes the message of a message_new event.
func MessageNew(e events.GroupEvent) (*object.MessagesMessage, error) {
	var obj events.MessageNewObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode message_new object: %w", err)
	}
	if obj.Message.FromID == 0 {
		return nil, fmt.Errorf("message_new without from_id")
	}
	return &obj.Message, nil
}

// ConsentUserID decodes the user of a message_allow or message_deny event.
func ConsentUserID(e events.GroupEvent) (string, error) {
	var userID int
	switch e.Type {
	case events.EventMessageAllow:
		var obj events.MessageAllowObject
		if err := json.Unmarshal(e.Object, &obj); err != nil {
			return "", fmt.Errorf("failed to decode %s object: %w", e.Type, err)
		}
		userID = obj.UserID
	case events.EventMessageDeny:
		var obj events.MessageDenyObject
		if err := json.Unmarshal(e.Object, &obj); err != nil {
			return "", fmt.Errorf("failed to decode %s object: %w", e.Type, err)
		}
		userID = obj.UserID
	default:
		return "", fmt.Errorf("%s is not a consent event", e.Type)
	}
	if userID == 0 {
		return "", fmt.Errorf("%s without user_id", e.Type)
	}
	return strconv.Itoa(userID), nil
}

// Inbound converts a message into the gateway-neutral form. An unparsable
// payload is kept as an UnknownPayload so the dialog can log and ignore it.
func Inbound(m object.MessagesMessage, eventID string) models.InboundMessage {
	msg := models.InboundMessage{
		MessageID: eventID,
		UserID:    strconv.Itoa(m.FromID),
		Text:      strings.TrimSpace(m.Text),
	}
	if msg.MessageID == "" {
		msg.MessageID = "vk-" + strconv.Itoa(m.ID)
	}
	if m.Date > 0 {
		msg.ReceivedAt = time.Unix(int64(m.Date), 0).UTC()
	}
	if m.Payload != "" {
		p, err := models.ParsePayload(m.Payload)
		if err != nil {
			p = models.UnknownPayload{Name: m.Payload}
		}
		msg.Payload = p
	}
	return msg
}

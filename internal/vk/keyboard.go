package vk

import (
	"encoding/json"

	"github.com/SevereCloud/vksdk/v2/object"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// Keyboard converts kb into a VK bot keyboard. Payloads are embedded as JSON
// objects; a button without one sends none. A nil or empty keyboard converts to nil.
func Keyboard(kb *models.Keyboard) *object.MessagesKeyboard {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	out := object.NewMessagesKeyboard(false)
	if kb.Inline {
		out = object.NewMessagesKeyboardInline()
	}
	for _, row := range kb.Rows {
		out.AddRow()
		for _, b := range row {
			if b.Payload == nil {
				out.AddTextButton(b.Label, nil, string(b.Color))
				last := out.Buttons[len(out.Buttons)-1]
				last[len(last)-1].Action.Payload = ""
				continue
			}
			out.AddTextButton(b.Label, json.RawMessage(models.EncodePayload(b.Payload)), string(b.Color))
		}
	}
	return out
}

// EncodeKeyboard renders kb in the VK bot keyboard format. A nil keyboard encodes to "".
func EncodeKeyboard(kb *models.Keyboard) (string, error) {
	k := Keyboard(kb)
	if k == nil {
		return "", nil
	}
	data, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

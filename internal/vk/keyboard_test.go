package vk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

func TestEncodeKeyboard_Nil(t *testing.T) {
	s, err := EncodeKeyboard(nil)
	require.NoError(t, err)
	assert.Equal(t, "", s)

	s, err = EncodeKeyboard(&models.Keyboard{Inline: true})
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestEncodeKeyboard(t *testing.T) {
	kb := &models.Keyboard{
		Inline: true,
		Rows: [][]models.Button{
			{{Label: "Букет эконом — 1500₽", Payload: models.SelectBouquet{Tier: models.TierEconomy, EventID: "42"}, Color: models.ColorSecondary}},
			{{Label: "❌ Отмена", Payload: models.CancelPreorder{}, Color: models.ColorNegative}},
		},
	}

	s, err := EncodeKeyboard(kb)
	require.NoError(t, err)

	var decoded struct {
		Inline  bool `json:"inline"`
		Buttons [][]struct {
			Action struct {
				Type    string `json:"type"`
				Label   string `json:"label"`
				Payload string `json:"payload"`
			} `json:"action"`
			Color string `json:"color"`
		} `json:"buttons"`
	}
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.True(t, decoded.Inline)
	require.Len(t, decoded.Buttons, 2)

	first := decoded.Buttons[0][0]
	assert.Equal(t, "text", first.Action.Type)
	assert.Equal(t, "Букет эконом — 1500₽", first.Action.Label)
	assert.Equal(t, "secondary", first.Color)
	p, err := models.ParsePayload(first.Action.Payload)
	require.NoError(t, err)
	assert.Equal(t, models.SelectBouquet{Tier: models.TierEconomy, EventID: "42"}, p)

	cancel := decoded.Buttons[1][0]
	assert.Equal(t, "negative", cancel.Color)
	p, err = models.ParsePayload(cancel.Action.Payload)
	require.NoError(t, err)
	assert.Equal(t, models.CancelPreorder{}, p)
}

func TestKeyboard_ButtonWithoutPayload(t *testing.T) {
	kb := Keyboard(&models.Keyboard{Rows: [][]models.Button{{{Label: "Сайт", Color: models.ColorPrimary}}}})
	require.NotNil(t, kb)
	assert.False(t, bool(kb.Inline))
	require.Len(t, kb.Buttons, 1)
	require.Len(t, kb.Buttons[0], 1)
	assert.Equal(t, "Сайт", kb.Buttons[0][0].Action.Label)
	assert.Empty(t, kb.Buttons[0][0].Action.Payload)
}

package vk

import (
	"testing"
	"time"

	"github.com/SevereCloud/vksdk/v2/events"
	"github.com/SevereCloud/vksdk/v2/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

func TestParseCallback(t *testing.T) {
	_, err := ParseCallback([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseCallback([]byte(`{"group_id": 1}`))
	assert.Error(t, err)

	cb, err := ParseCallback([]byte(`{"type":"confirmation","group_id":229211436,"secret":"s3"}`))
	require.NoError(t, err)
	assert.Equal(t, EventConfirmation, cb.Type)
	assert.Equal(t, 229211436, cb.GroupID)
	assert.Equal(t, "s3", cb.Secret)
}

func TestMessageNew_Text(t *testing.T) {
	body := `{"type":"message_new","group_id":1,"event_id":"ev-1","object":{"message":
		{"id":77,"date":1700000000,"from_id":518565944,"peer_id":518565944,"text":"  Привет  "}}}`
	cb, err := ParseCallback([]byte(body))
	require.NoError(t, err)

	msg, err := MessageNew(*cb)
	require.NoError(t, err)
	in := Inbound(*msg, cb.EventID)

	assert.Equal(t, "ev-1", in.MessageID)
	assert.Equal(t, "518565944", in.UserID)
	assert.Equal(t, "Привет", in.Text)
	assert.Nil(t, in.Payload)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), in.ReceivedAt)
}

func TestMessageNew_Payload(t *testing.T) {
	body := `{"type":"message_new","group_id":1,"object":{"message":
		{"id":78,"from_id":5,"text":"Букет","payload":"{\"action\":\"select_bouquet\",\"bouquet_id\":\"premium\",\"event_id\":12}"}}}`
	cb, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	msg, err := MessageNew(*cb)
	require.NoError(t, err)

	in := Inbound(*msg, "")
	assert.Equal(t, "vk-78", in.MessageID)
	assert.Equal(t, models.SelectBouquet{Tier: models.TierPremium, EventID: "12"}, in.Payload)
}

func TestMessageNew_BadPayloadBecomesUnknown(t *testing.T) {
	in := Inbound(object.MessagesMessage{ID: 1, FromID: 5, Payload: `{broken`}, "ev")
	assert.Equal(t, models.UnknownPayload{Name: `{broken`}, in.Payload)
}

func TestMessageNew_MissingSender(t *testing.T) {
	e := events.GroupEvent{Type: EventMessageNew, Object: []byte(`{"message":{"id":1,"text":"x"}}`)}
	_, err := MessageNew(e)
	assert.Error(t, err)
}

func TestConsentUserID(t *testing.T) {
	e := events.GroupEvent{Type: EventMessageAllow, Object: []byte(`{"user_id":518565944,"key":"x"}`)}
	id, err := ConsentUserID(e)
	require.NoError(t, err)
	assert.Equal(t, "518565944", id)

	e = events.GroupEvent{Type: EventMessageDeny, Object: []byte(`{"user_id":42}`)}
	id, err = ConsentUserID(e)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	e = events.GroupEvent{Type: EventMessageDeny, Object: []byte(`{}`)}
	_, err = ConsentUserID(e)
	assert.Error(t, err)

	e = events.GroupEvent{Type: EventMessageNew, Object: []byte(`{"user_id":42}`)}
	_, err = ConsentUserID(e)
	assert.Error(t, err)
}

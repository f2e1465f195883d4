package vk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithToken("secret-token"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func writeAPI(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprint(w, body)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}

func TestSendMessage_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages.send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		token := r.PostForm.Get("access_token")
		if token == "" {
			token = r.Header.Get("Authorization")
		}
		assert.Contains(t, token, "secret-token")
		assert.Equal(t, DefaultAPIVersion, r.PostForm.Get("v"))
		assert.Equal(t, "518565944", r.PostForm.Get("peer_id"))
		assert.Equal(t, "Привет", r.PostForm.Get("message"))
		assert.NotEmpty(t, r.PostForm.Get("random_id"))
		assert.Equal(t, `{"inline":true,"buttons":[]}`, r.PostForm.Get("keyboard"))
		writeAPI(w, `{"response": 42}`)
	})

	id, err := c.SendMessage(context.Background(), "518565944", "Привет", `{"inline":true,"buttons":[]}`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestSendMessage_OmitsEmptyKeyboard(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, ok := r.PostForm["keyboard"]
		assert.False(t, ok)
		writeAPI(w, `{"response": 1}`)
	})
	_, err := c.SendMessage(context.Background(), "1", "hi", "")
	require.NoError(t, err)
}

func TestSendMessage_RejectsNonNumericUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.SendMessage(context.Background(), "whatsapp:+79127971348", "hi", "")
	assert.Error(t, err)
}

func TestSendMessage_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPI(w, `{"error": {"error_code": 901, "error_msg": "Can't send messages for users without permission"}}`)
	})

	_, err := c.SendMessage(context.Background(), "1", "hi", "")
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrMessagesDenySend, apiErr.Code)
	assert.True(t, IsMessagesDenied(err))
}

func TestSendMessage_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.SendMessage(context.Background(), "1", "hi", "")
	require.Error(t, err)
	assert.False(t, IsMessagesDenied(err))
}

func TestSendMessage_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SendMessage(ctx, "1", "hi", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsMessagesDenied(t *testing.T) {
	assert.True(t, IsMessagesDenied(&api.Error{Code: api.ErrMessagesUserBlocked}))
	assert.False(t, IsMessagesDenied(&api.Error{Code: api.ErrTooMany}))
	assert.False(t, IsMessagesDenied(fmt.Errorf("plain")))
	assert.True(t, IsMessagesDenied(fmt.Errorf("wrapped: %w", &api.Error{Code: api.ErrMessagesDenySend})))
}

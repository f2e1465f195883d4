package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/twiliowhatsapp"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/whatsapp"
)

func tierKeyboard() *models.Keyboard {
	return &models.Keyboard{Inline: true, Rows: [][]models.Button{
		{{Label: "Эконом", Payload: models.SelectBouquet{Tier: models.TierEconomy, EventID: "e1"}}},
		{{Label: "Премиум", Payload: models.SelectBouquet{Tier: models.TierPremium, EventID: "e1"}}},
	}}
}

func TestRenderText(t *testing.T) {
	assert.Equal(t, "hello", RenderText("hello", nil))

	got := RenderText("Выбери букет", tierKeyboard())
	assert.True(t, strings.HasPrefix(got, "Выбери букет\n"))
	assert.Contains(t, got, "\n1. Эконом")
	assert.Contains(t, got, "\n2. Премиум")
}

func TestKeyboardMemory(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := NewKeyboardMemory(st)
	require.NoError(t, m.Remember(ctx, "79120000000", tierKeyboard()))

	_, ok := m.Resolve(ctx, "79120000000", "3")
	assert.False(t, ok, "out of range")
	_, ok = m.Resolve(ctx, "79120000000", "адрес")
	assert.False(t, ok, "not a number")
	_, ok = m.Resolve(ctx, "79990000000", "1")
	assert.False(t, ok, "other recipient")

	restarted := NewKeyboardMemory(st)
	p, ok := restarted.Resolve(ctx, "79120000000", " 2 ")
	require.True(t, ok, "choices outlive the process")
	assert.Equal(t, models.SelectBouquet{Tier: models.TierPremium, EventID: "e1"}, p)

	_, ok = m.Resolve(ctx, "79120000000", "1")
	assert.False(t, ok, "keyboard is consumed")

	require.NoError(t, m.Remember(ctx, "79120000000", tierKeyboard()))
	require.NoError(t, m.Remember(ctx, "79120000000", nil))
	_, ok = m.Resolve(ctx, "79120000000", "1")
	assert.False(t, ok, "plain message forgets keyboard")
}

func TestPhoneBook(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	require.NoError(t, st.UpsertUser(ctx, models.User{ID: "518565944"}))
	book := NewPhoneBook(st)

	_, err := book.AddressOf(ctx, "518565944")
	assert.ErrorIs(t, err, ErrNoPhone, "a mini-app user without a phone is unreachable")

	require.NoError(t, st.SetUserPhone(ctx, "518565944", "79127971348"))
	phone, err := book.AddressOf(ctx, "518565944")
	require.NoError(t, err)
	assert.Equal(t, "79127971348", phone)

	phone, err = book.AddressOf(ctx, "+7 912 000-00-00")
	require.NoError(t, err)
	assert.Equal(t, "79120000000", phone, "unknown ids are treated as phones")

	assert.Equal(t, "518565944", book.UserOf(ctx, "79127971348"))
	assert.Equal(t, "79120000000", book.UserOf(ctx, "79120000000"))
}

func TestRecordingGateway(t *testing.T) {
	gw := NewRecordingGateway()
	ctx := context.Background()
	require.NoError(t, gw.SendMessage(ctx, "1", "a", nil))
	require.NoError(t, gw.SendMessage(ctx, "2", "b", tierKeyboard()))

	gw.FailFor("3", errors.New("boom"))
	assert.Error(t, gw.SendMessage(ctx, "3", "c", nil))

	assert.Len(t, gw.Messages(), 2)
	assert.Len(t, gw.MessagesTo("2"), 1)
	last, ok := gw.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.Text)

	gw.Reset()
	assert.Empty(t, gw.Messages())
}

type blockingGateway struct{}

func (blockingGateway) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithSendTimeout(t *testing.T) {
	gw := WithSendTimeout(blockingGateway{}, 20*time.Millisecond)
	start := time.Now()
	err := gw.SendMessage(context.Background(), "1", "x", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type fakeVKClient struct {
	mu       sync.Mutex
	userID   string
	text     string
	keyboard string
	err      error
}

func (f *fakeVKClient) SendMessage(ctx context.Context, userID, text, keyboardJSON string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.userID, f.text, f.keyboard = userID, text, keyboardJSON
	return 7, nil
}

func TestVKService(t *testing.T) {
	client := &fakeVKClient{}
	svc := NewVKService(client)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	require.NoError(t, svc.SendMessage(ctx, "518565944", "Напоминание", tierKeyboard()))
	assert.Equal(t, "518565944", client.userID)
	assert.Contains(t, client.keyboard, `"inline":true`)
	assert.Contains(t, client.keyboard, "select_bouquet")

	require.NoError(t, svc.SendMessage(ctx, "518565944", "plain", nil))
	assert.Equal(t, "", client.keyboard)

	require.True(t, svc.Emit(models.InboundMessage{MessageID: "ev1", UserID: "518565944", Text: "привет"}))
	msg := <-svc.Responses()
	assert.Equal(t, "ev1", msg.MessageID)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	assert.False(t, svc.Emit(models.InboundMessage{MessageID: "ev2"}))
	assert.ErrorIs(t, svc.SendMessage(ctx, "1", "x", nil), ErrServiceStopped)
	_, open := <-svc.Responses()
	assert.False(t, open)
}

func TestCanonicalPhone(t *testing.T) {
	got, err := CanonicalPhone("whatsapp:+7 (912) 797-13-48")
	require.NoError(t, err)
	assert.Equal(t, "79127971348", got)
	_, err = CanonicalPhone("12")
	assert.ErrorIs(t, err, models.ErrInvalidPhone)

	_, err = CanonicalPhone("")
	assert.Error(t, err)
	_, err = CanonicalPhone("abc")
	assert.Error(t, err)
	_, err = CanonicalPhone("+123")
	assert.Error(t, err)
}

func TestTwilioService_SendRendersKeyboard(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock, store.NewInMemoryStore())

	require.NoError(t, svc.SendMessage(context.Background(), "79127971348", "Выбери", tierKeyboard()))
	msgs := mock.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+79127971348", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "1. Эконом")

	assert.Error(t, svc.SendMessage(context.Background(), "12", "x", nil))
}

func TestTwilioService_RoutesUsersThroughBoundPhones(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	require.NoError(t, st.UpsertUser(ctx, models.User{ID: "518565944"}))
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock, st)

	assert.ErrorIs(t, svc.SendMessage(ctx, "518565944", "Напоминание", nil), ErrNoPhone)
	assert.Empty(t, mock.Messages(), "a mini-app id is never dialed as a number")

	require.NoError(t, st.SetUserPhone(ctx, "518565944", "79127971348"))
	require.NoError(t, svc.SendMessage(ctx, "518565944", "Напоминание", tierKeyboard()))
	msgs := mock.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+79127971348", msgs[0].To)

	rec := postTwilio(t, svc, url.Values{"From": {"whatsapp:+79127971348"}, "Body": {"2"}, "MessageSid": {"SM9"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	msg := <-svc.Responses()
	assert.Equal(t, "518565944", msg.UserID, "inbound phone resolves to the owner")
	assert.Equal(t, models.SelectBouquet{Tier: models.TierPremium, EventID: "e1"}, msg.Payload)
}

func postTwilio(t *testing.T, svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	return rec
}

func TestTwilioService_WebhookResolvesNumericReply(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), store.NewInMemoryStore())
	require.NoError(t, svc.SendMessage(context.Background(), "+79127971348", "Выбери", tierKeyboard()))

	rec := postTwilio(t, svc, url.Values{"From": {"whatsapp:+79127971348"}, "Body": {"1"}, "MessageSid": {"SM1"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	msg := <-svc.Responses()
	assert.Equal(t, "SM1", msg.MessageID)
	assert.Equal(t, "79127971348", msg.UserID)
	assert.Equal(t, "", msg.Text)
	assert.Equal(t, models.SelectBouquet{Tier: models.TierEconomy, EventID: "e1"}, msg.Payload)

	rec = postTwilio(t, svc, url.Values{"From": {"whatsapp:+79127971348"}, "Body": {"1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	msg = <-svc.Responses()
	assert.Equal(t, "1", msg.Text, "keyboard consumed, digit is plain text now")
	assert.Nil(t, msg.Payload)
	assert.NotEmpty(t, msg.MessageID)
}

func TestTwilioService_WebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), store.NewInMemoryStore())
	rec := postTwilio(t, svc, url.Values{"From": {"whatsapp:+79127971348"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = postTwilio(t, svc, url.Values{"From": {"x"}, "Body": {"hi"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeWhatsApp struct {
	*twiliowhatsapp.MockClient
	mu      sync.Mutex
	handler func(whatsapp.IncomingText)
}

func (f *fakeWhatsApp) OnText(fn func(whatsapp.IncomingText)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
	}
}

func (f *fakeWhatsApp) deliver(in whatsapp.IncomingText) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(in)
	}
}

func TestWhatsAppService(t *testing.T) {
	client := &fakeWhatsApp{MockClient: twiliowhatsapp.NewMockClient()}
	svc := NewWhatsAppService(client, store.NewInMemoryStore())
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	require.NoError(t, svc.SendMessage(ctx, "+79127971348", "Выбери", tierKeyboard()))
	sent := client.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "79127971348", sent[0].To)

	client.deliver(whatsapp.IncomingText{ID: "wa1", From: "79127971348", Text: "2", SentAt: time.Unix(10, 0)})
	msg := <-svc.Responses()
	assert.Equal(t, "wa1", msg.MessageID)
	assert.Equal(t, models.SelectBouquet{Tier: models.TierPremium, EventID: "e1"}, msg.Payload)

	require.NoError(t, svc.Stop())
	client.mu.Lock()
	assert.Nil(t, client.handler)
	client.mu.Unlock()
	assert.ErrorIs(t, svc.SendMessage(ctx, "79127971348", "x", nil), ErrServiceStopped)
}

type countingHandler struct {
	mu   sync.Mutex
	msgs []models.InboundMessage
	err  error
}

func (h *countingHandler) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestResponseHandler_Dedup(t *testing.T) {
	st := store.NewInMemoryStore()
	h := &countingHandler{}
	rh := NewResponseHandler(st, h)
	ctx := context.Background()

	handled, err := rh.Process(ctx, models.InboundMessage{MessageID: "ev1", UserID: "1", Text: "привет"})
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = rh.Process(ctx, models.InboundMessage{MessageID: "ev1", UserID: "1", Text: "привет"})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, 1, h.count())

	dup, err := st.IsDuplicate(ctx, "ev1")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestResponseHandler_HandlerError(t *testing.T) {
	h := &countingHandler{err: errors.New("boom")}
	rh := NewResponseHandler(nil, h)
	handled, err := rh.Process(context.Background(), models.InboundMessage{MessageID: "x", UserID: "1"})
	assert.True(t, handled)
	assert.Error(t, err)
}

func TestResponseHandler_Run(t *testing.T) {
	svc := NewVKService(&fakeVKClient{})
	h := &countingHandler{}
	rh := NewResponseHandler(store.NewInMemoryStore(), h)

	done := make(chan struct{})
	go func() {
		rh.Run(context.Background(), svc)
		close(done)
	}()

	svc.Emit(models.InboundMessage{MessageID: "a", UserID: "1"})
	svc.Emit(models.InboundMessage{MessageID: "a", UserID: "1"})
	svc.Emit(models.InboundMessage{MessageID: "b", UserID: "1"})
	require.NoError(t, svc.Stop())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the source closed")
	}
	assert.Equal(t, 2, h.count())
}

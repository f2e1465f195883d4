package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/twiliowhatsapp"
)

// CanonicalPhone strips a "whatsapp:" prefix and every non-digit character.
// Numbers with fewer than 6 digits are rejected.
func CanonicalPhone(recipient string) (string, error) {
	return models.NormalizePhone(recipient)
}

// TwilioService implements Service using the Twilio WhatsApp API. Keyboards
// are rendered as numbered text and numeric replies are mapped back to payloads.
type TwilioService struct {
	client twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	memory *KeyboardMemory
	phones *PhoneBook
	queue  *responseQueue
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService. st keeps offered choices and
// the phones bound to users.
func NewTwilioService(client twiliowhatsapp.Sender, st TextChannelStore) *TwilioService {
	return &TwilioService{
		client: client,
		memory: NewKeyboardMemory(st),
		phones: NewPhoneBook(st),
		queue:  newResponseQueue("TwilioService"),
	}
}

// Start is a no-op; inbound messages arrive via WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel.
func (s *TwilioService) Stop() error {
	if s.queue.stop() {
		slog.Info("TwilioService stopped")
	}
	return nil
}

// SendMessage sends text via Twilio with kb appended as a numbered list.
func (s *TwilioService) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	phone, err := s.phones.AddressOf(ctx, to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: no address", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, "+"+phone, RenderText(text, kb)); err != nil {
		return err
	}
	if err := s.memory.Remember(ctx, phone, kb); err != nil {
		slog.Warn("TwilioService.SendMessage: keyboard not remembered", "error", err, "to", to)
	}
	return nil
}

// Responses returns the channel of inbound messages.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.queue.responses
}

// WebhookHandler handles inbound Twilio webhook requests and emits them into
// the Responses channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	sid := r.FormValue("MessageSid")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	phone, err := CanonicalPhone(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	userID := s.phones.UserOf(ctx, phone)

	msg := models.InboundMessage{MessageID: sid, UserID: userID, Text: body, ReceivedAt: time.Now().UTC()}
	if msg.MessageID == "" {
		msg.MessageID = "twilio-" + phone + "-" + fmt.Sprint(msg.ReceivedAt.UnixNano())
	}
	if p, ok := s.memory.Resolve(ctx, phone, body); ok {
		msg.Payload = p
		msg.Text = ""
	}
	slog.Info("Inbound WhatsApp message from Twilio", "from", userID, "has_payload", msg.Payload != nil)

	s.queue.emit(msg)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

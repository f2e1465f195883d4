package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/whatsapp"
)

// TextSubscriber delivers incoming WhatsApp texts. *whatsapp.Client implements it.
type TextSubscriber interface {
	OnText(fn func(whatsapp.IncomingText)) func()
}

var _ TextSubscriber = (*whatsapp.Client)(nil)

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client      whatsapp.Sender
	subscriber  TextSubscriber
	memory      *KeyboardMemory
	phones      *PhoneBook
	queue       *responseQueue
	mu          sync.Mutex
	unsubscribe func()
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService. If client also implements
// TextSubscriber, Start subscribes to incoming messages. st keeps offered
// choices and the phones bound to users.
func NewWhatsAppService(client whatsapp.Sender, st TextChannelStore) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		memory: NewKeyboardMemory(st),
		phones: NewPhoneBook(st),
		queue:  newResponseQueue("WhatsAppService"),
	}
	if sub, ok := client.(TextSubscriber); ok {
		s.subscriber = sub
		slog.Debug("WhatsAppService created with event subscription")
	} else {
		slog.Debug("WhatsAppService created with send-only client (likely mock)")
	}
	return s
}

// Start subscribes to incoming texts.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.subscriber.OnText(s.handleIncoming)
		slog.Debug("WhatsAppService event handler registered")
	}
	return nil
}

// Stop unsubscribes and closes the responses channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()
	if s.queue.stop() {
		slog.Info("WhatsAppService stopped and channels closed")
	}
	return nil
}

// SendMessage sends text with kb appended as a numbered list.
func (s *WhatsAppService) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	phone, err := s.phones.AddressOf(ctx, to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: no address", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, phone, RenderText(text, kb)); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", to)
		return err
	}
	if err := s.memory.Remember(ctx, phone, kb); err != nil {
		slog.Warn("WhatsAppService.SendMessage: keyboard not remembered", "error", err, "to", to)
	}
	return nil
}

// Responses returns the channel of inbound messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.queue.responses
}

func (s *WhatsAppService) handleIncoming(in whatsapp.IncomingText) {
	phone, err := CanonicalPhone(in.From)
	if err != nil {
		slog.Debug("WhatsAppService ignoring message from invalid sender", "from", in.From)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
	defer cancel()
	msg := models.InboundMessage{MessageID: in.ID, UserID: s.phones.UserOf(ctx, phone), Text: in.Text, ReceivedAt: in.SentAt}
	if p, ok := s.memory.Resolve(ctx, phone, in.Text); ok {
		msg.Payload = p
		msg.Text = ""
	}
	s.queue.emit(msg)
}

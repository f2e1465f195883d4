package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
)

// VKSender is the part of vk.Client used by VKService.
type VKSender interface {
	SendMessage(ctx context.Context, userID, text, keyboardJSON string) (int64, error)
}

var _ VKSender = (*vk.Client)(nil)

// VKService implements Service on top of the VK API. Inbound messages arrive
// through the Callback API handler, which hands them to Emit.
type VKService struct {
	client VKSender
	queue  *responseQueue
}

var _ Service = (*VKService)(nil)

// NewVKService creates a VKService wrapping client.
func NewVKService(client VKSender) *VKService {
	return &VKService{client: client, queue: newResponseQueue("VKService")}
}

// Start is a no-op: VK pushes events to the HTTP callback.
func (s *VKService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel.
func (s *VKService) Stop() error {
	if s.queue.stop() {
		slog.Info("VKService stopped")
	}
	return nil
}

// SendMessage sends text with kb rendered as a native inline keyboard.
func (s *VKService) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	kbJSON, err := vk.EncodeKeyboard(kb)
	if err != nil {
		return fmt.Errorf("failed to encode keyboard: %w", err)
	}
	id, err := s.client.SendMessage(ctx, to, text, kbJSON)
	if err != nil {
		if vk.IsMessagesDenied(err) {
			slog.Warn("VKService recipient does not accept messages", "to", to, "error", err)
		}
		return err
	}
	slog.Debug("VKService message sent", "to", to, "message_id", id, "has_keyboard", kbJSON != "")
	return nil
}

// Emit queues an inbound message received by the callback handler.
func (s *VKService) Emit(msg models.InboundMessage) bool {
	return s.queue.emit(msg)
}

// Responses returns the channel of inbound messages.
func (s *VKService) Responses() <-chan models.InboundMessage {
	return s.queue.responses
}

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

// MessageHandler processes one inbound message. The dialog engine implements it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage) error
}

// ResponseHandler feeds inbound messages to a MessageHandler, skipping
// redeliveries recorded in the dedup repository.
type ResponseHandler struct {
	dedup   store.DedupRepo
	handler MessageHandler
}

// NewResponseHandler creates a ResponseHandler. dedup may be nil to disable deduplication.
func NewResponseHandler(dedup store.DedupRepo, handler MessageHandler) *ResponseHandler {
	return &ResponseHandler{dedup: dedup, handler: handler}
}

// Process handles one message unless it was already seen. It reports whether
// the message was passed to the handler.
func (rh *ResponseHandler) Process(ctx context.Context, msg models.InboundMessage) (bool, error) {
	if rh.dedup != nil && msg.MessageID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, msg.MessageID, msg.UserID)
		if err != nil {
			// a broken dedup table must not silence the bot
			slog.Error("ResponseHandler RecordInbound failed", "error", err, "message_id", msg.MessageID)
		} else if !fresh {
			slog.Info("ResponseHandler skipping duplicate message", "message_id", msg.MessageID, "from", msg.UserID)
			return false, nil
		}
	}

	start := time.Now()
	err := rh.handler.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("ResponseHandler HandleMessage failed", "error", err, "from", msg.UserID, "message_id", msg.MessageID)
	} else {
		slog.Debug("ResponseHandler message handled", "from", msg.UserID, "duration", time.Since(start))
	}

	if rh.dedup != nil && msg.MessageID != "" {
		if markErr := rh.dedup.MarkProcessed(ctx, msg.MessageID); markErr != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "error", markErr, "message_id", msg.MessageID)
		}
	}
	if err != nil {
		return true, fmt.Errorf("handle message %s: %w", msg.MessageID, err)
	}
	return true, nil
}

// Run processes messages from src until its channel closes or ctx is done.
// Messages are handled one at a time in arrival order.
func (rh *ResponseHandler) Run(ctx context.Context, src ResponseSource) {
	slog.Debug("ResponseHandler started")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping due to context cancellation")
			return
		case msg, ok := <-src.Responses():
			if !ok {
				slog.Debug("ResponseHandler source closed")
				return
			}
			_, _ = rh.Process(ctx, msg)
		}
	}
}

// Package messaging connects the bot to chat platforms.
//
// A Gateway delivers outbound text with an optional keyboard. Push gateways
// additionally implement Service and surface inbound messages on a channel,
// which ResponseHandler pumps into the dialog engine.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// Constants for gateway services
const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultSendTimeout bounds a single outbound send.
	DefaultSendTimeout = 10 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Gateway sends a message to one recipient. kb may be nil.
type Gateway interface {
	SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error
}

// ResponseSource provides inbound messages.
type ResponseSource interface {
	Responses() <-chan models.InboundMessage
}

// Service defines a pluggable message delivery abstraction with inbound events.
type Service interface {
	Gateway
	ResponseSource

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the responses channel.
	Stop() error
}

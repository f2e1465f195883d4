package messaging

import (
	"context"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithSendTimeout bounds every send through gw by d. A non-positive d uses DefaultSendTimeout.
func WithSendTimeout(gw Gateway, d time.Duration) Gateway {
	if d <= 0 {
		d = DefaultSendTimeout
	}
	return &timeoutGateway{next: gw, timeout: d}
}

func (g *timeoutGateway) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.SendMessage(ctx, to, text, kb)
}

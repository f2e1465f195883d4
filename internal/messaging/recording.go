package messaging

import (
	"context"
	"sync"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// SentMessage is one message captured by RecordingGateway.
type SentMessage struct {
	To       string
	Text     string
	Keyboard *models.Keyboard
}

// RecordingGateway is an in-process Gateway that records every send. Tests
// use it in place of a real platform.
type RecordingGateway struct {
	mu   sync.Mutex
	sent []SentMessage
	// failFor maps a recipient to the error its sends return.
	failFor map[string]error
}

var _ Gateway = (*RecordingGateway)(nil)

// NewRecordingGateway creates an empty RecordingGateway.
func NewRecordingGateway() *RecordingGateway {
	return &RecordingGateway{failFor: make(map[string]error)}
}

// FailFor makes every send to recipient fail with err. A nil err clears it.
func (g *RecordingGateway) FailFor(recipient string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failFor, recipient)
		return
	}
	g.failFor[recipient] = err
}

func (g *RecordingGateway) SendMessage(ctx context.Context, to, text string, kb *models.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failFor[to]; err != nil {
		return err
	}
	g.sent = append(g.sent, SentMessage{To: to, Text: text, Keyboard: kb})
	return nil
}

// Messages returns a copy of everything sent so far.
func (g *RecordingGateway) Messages() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentMessage(nil), g.sent...)
}

// MessagesTo returns the messages sent to one recipient.
func (g *RecordingGateway) MessagesTo(to string) []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []SentMessage
	for _, m := range g.sent {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message, or false when nothing was sent.
func (g *RecordingGateway) Last() (SentMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return SentMessage{}, false
	}
	return g.sent[len(g.sent)-1], true
}

// Reset forgets every recorded message.
func (g *RecordingGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

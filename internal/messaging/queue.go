package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// responseQueue is the inbound channel shared by the services. Emits after
// stop are dropped and the channel is closed exactly once.
type responseQueue struct {
	name      string
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

func newResponseQueue(name string) *responseQueue {
	return &responseQueue{name: name, responses: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (q *responseQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// stop marks the queue stopped and closes the channel. It reports whether
// this call did the stopping.
func (q *responseQueue) stop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.stopped = true
	close(q.responses)
	return true
}

// emit pushes msg, waiting at most DefaultChannelTimeout for buffer space.
func (q *responseQueue) emit(msg models.InboundMessage) bool {
	// the read lock keeps stop from closing the channel mid-send
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		slog.Warn(q.name+" dropping inbound message (service stopped)", "from", msg.UserID)
		return false
	}

	select {
	case q.responses <- msg:
		slog.Debug(q.name+" emitted inbound message", "from", msg.UserID, "message_id", msg.MessageID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(q.name+" responses channel blocked, dropping message", "from", msg.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

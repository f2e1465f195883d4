// Package dialog implements the per-user order conversation: keyword commands,
// event selection by number, bouquet and fulfillment choice, delivery details
// and order confirmation. All dialog state lives in the store.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/messaging"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

// Constants for dialog configuration
const (
	// DefaultTimeout bounds the handling of one inbound message.
	DefaultTimeout = 20 * time.Second
	// MaxListedEvents is how many events the order command lists.
	MaxListedEvents = 10
)

// DialogStore is the subset of the store used by the engine.
type DialogStore interface {
	GetEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error)
	SetConversationState(ctx context.Context, state models.ConversationState) error
	ClearConversationState(ctx context.Context, userID string) error
	CreatePreorder(ctx context.Context, p *models.Preorder) error
	GetPreorder(ctx context.Context, filter store.PreorderFilter) (*models.Preorder, error)
	GetBouquetTierConfig(ctx context.Context) (models.TierConfig, error)
	GetShopSettings(ctx context.Context) (models.ShopSettings, error)
}

// IntentClassifier guesses what free text that matched no keyword means.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (models.Intent, error)
}

// Opts holds configuration options for the engine.
type Opts struct {
	StaffRecipients []string
	Timeout         time.Duration
	Clock           func() time.Time
	UTCOffset       time.Duration
	Classifier      IntentClassifier
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithStaffRecipients sets who is notified about new preorders.
func WithStaffRecipients(ids ...string) Option {
	return func(o *Opts) { o.StaffRecipients = append([]string(nil), ids...) }
}

// WithTimeout bounds the handling of one message.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// WithUTCOffset sets the fixed offset of the shop's local time.
func WithUTCOffset(offset time.Duration) Option {
	return func(o *Opts) { o.UTCOffset = offset }
}

// WithIntentClassifier enables the free-text fallback.
func WithIntentClassifier(c IntentClassifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// Engine interprets inbound messages and drives the order dialog.
type Engine struct {
	st   DialogStore
	gw   messaging.Gateway
	opts Opts
}

var _ messaging.MessageHandler = (*Engine)(nil)

// NewEngine creates an Engine.
func NewEngine(st DialogStore, gw messaging.Gateway, opts ...Option) *Engine {
	cfg := Opts{Timeout: DefaultTimeout, Clock: time.Now, UTCOffset: reminder.DefaultUTCOffset}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{st: st, gw: gw, opts: cfg}
}

// HandleMessage processes one inbound message. A returned error is only for
// logging: the user has already been answered where possible.
func (e *Engine) HandleMessage(ctx context.Context, msg models.InboundMessage) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.HandleMessage: panic recovered", "panic", r, "userID", msg.UserID, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic handling message from %s: %v", msg.UserID, r)
		}
	}()

	if msg.UserID == "" {
		return fmt.Errorf("inbound message %s has no sender", msg.MessageID)
	}
	if msg.Payload != nil {
		slog.Debug("Engine.HandleMessage: payload", "userID", msg.UserID, "action", msg.Payload.Action())
		return e.handlePayload(ctx, msg.UserID, msg.Payload)
	}
	slog.Debug("Engine.HandleMessage: text", "userID", msg.UserID, "length", len(msg.Text))
	return e.handleText(ctx, msg.UserID, msg.Text)
}

// reply sends one message to userID, logging failures.
func (e *Engine) reply(ctx context.Context, userID, text string, kb *models.Keyboard) error {
	if err := e.gw.SendMessage(ctx, userID, text, kb); err != nil {
		slog.Error("Engine.reply: send failed", "error", err, "userID", userID)
		return fmt.Errorf("reply to %s: %w", userID, err)
	}
	return nil
}

func (e *Engine) saveState(ctx context.Context, state models.ConversationState) error {
	state.UpdatedAt = e.opts.Clock().UTC()
	if err := e.st.SetConversationState(ctx, state); err != nil {
		return fmt.Errorf("save state of %s: %w", state.UserID, err)
	}
	return nil
}

func (e *Engine) clearState(ctx context.Context, userID string) {
	if err := e.st.ClearConversationState(ctx, userID); err != nil {
		slog.Error("Engine.clearState failed", "error", err, "userID", userID)
	}
}

// restart clears the dialog and tells the user to start over.
func (e *Engine) restart(ctx context.Context, userID, text string) error {
	e.clearState(ctx, userID)
	return e.reply(ctx, userID, text, nil)
}

func (e *Engine) tiers(ctx context.Context) models.TierConfig {
	tiers, err := e.st.GetBouquetTierConfig(ctx)
	if err != nil {
		slog.Warn("Engine: tier config unavailable, using defaults", "error", err)
		return models.DefaultTierConfig()
	}
	return tiers
}

func (e *Engine) shop(ctx context.Context) models.ShopSettings {
	shop, err := e.st.GetShopSettings(ctx)
	if err != nil {
		slog.Warn("Engine: shop settings unavailable, using defaults", "error", err)
		return models.DefaultShopSettings()
	}
	return shop
}

// Package reminder sends the 7, 3 and 1 day reminders of upcoming events and
// resets passed events for the next yearly cycle.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/composer"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/messaging"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

// Defaults of the shop the bot was built for.
const (
	DefaultUTCOffset = 5 * time.Hour
	DefaultSendDelay = 3 * time.Second
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("reminder run already in progress")

// ReminderStore is the subset of the store used by the dispatcher.
type ReminderStore interface {
	GetEvents(ctx context.Context, filter store.EventFilter) ([]models.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserConsent(ctx context.Context, userID string) (bool, error)
	GetPreorder(ctx context.Context, filter store.PreorderFilter) (*models.Preorder, error)
	GetBouquetTierConfig(ctx context.Context) (models.TierConfig, error)
	GetShopSettings(ctx context.Context) (models.ShopSettings, error)
}

// Sleeper pauses between sends. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Summary counts what one run did.
type Summary struct {
	Day7       int `json:"day7"`
	Day3       int `json:"day3"`
	Day1       int `json:"day1"`
	RolledOver int `json:"rolled_over"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Sent is the number of reminders delivered.
func (s Summary) Sent() int {
	return s.Day7 + s.Day3 + s.Day1
}

func (s *Summary) count(stage Stage) {
	switch stage {
	case Stage7Days:
		s.Day7++
	case Stage3Days:
		s.Day3++
	case Stage1Day:
		s.Day1++
	}
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	UTCOffset    time.Duration
	SendDelay    time.Duration
	Sleeper      Sleeper
	StrictStages bool
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithUTCOffset sets the fixed offset of the shop's local time.
func WithUTCOffset(offset time.Duration) Option {
	return func(o *Opts) { o.UTCOffset = offset }
}

// WithSendDelay sets the pause between consecutive sends.
func WithSendDelay(d time.Duration) Option {
	return func(o *Opts) { o.SendDelay = d }
}

// WithSleeper replaces the pause implementation, e.g. in tests.
func WithSleeper(s Sleeper) Option {
	return func(o *Opts) { o.Sleeper = s }
}

// WithStrictStages requires the 7 day reminder before the 3 and 1 day ones.
func WithStrictStages(strict bool) Option {
	return func(o *Opts) { o.StrictStages = strict }
}

// Dispatcher runs the daily reminder cycle.
type Dispatcher struct {
	st   ReminderStore
	gw   messaging.Gateway
	opts Opts
	mu   sync.Mutex
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st ReminderStore, gw messaging.Gateway, opts ...Option) *Dispatcher {
	cfg := Opts{UTCOffset: DefaultUTCOffset, SendDelay: DefaultSendDelay, Sleeper: sleepContext}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = sleepContext
	}
	return &Dispatcher{st: st, gw: gw, opts: cfg}
}

// Run sends the reminders due at now and then rolls passed events over.
// Per-event failures are logged and counted; an error is returned only when
// the run could not start or was cancelled.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (Summary, error) {
	if !d.mu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer d.mu.Unlock()

	var sum Summary
	today := LocalDate(now, d.opts.UTCOffset)
	targets := TargetsFor(today)
	slog.Info("Dispatcher.Run: starting", "today", today.Format("2006-01-02"), "strict", d.opts.StrictStages)

	if err := d.dispatch(ctx, targets, &sum); err != nil {
		return sum, err
	}
	if err := d.rollover(ctx, today, &sum); err != nil {
		return sum, err
	}

	slog.Info("Dispatcher.Run: finished", "day7", sum.Day7, "day3", sum.Day3, "day1", sum.Day1,
		"rolled_over", sum.RolledOver, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, t Targets, sum *Summary) error {
	events, err := d.st.GetEvents(ctx, store.EventFilter{
		NotificationsEnabled: store.BoolPtr(true),
		StatusIn:             dispatchStatuses,
	})
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	tiers, err := d.st.GetBouquetTierConfig(ctx)
	if err != nil {
		slog.Warn("Dispatcher.dispatch: tier config unavailable, using defaults", "error", err)
		tiers = models.DefaultTierConfig()
	}
	shop, err := d.st.GetShopSettings(ctx)
	if err != nil {
		slog.Warn("Dispatcher.dispatch: shop settings unavailable, using defaults", "error", err)
		shop = models.DefaultShopSettings()
	}

	sends := 0
	for _, e := range events {
		stage := MatchStage(e.Status, e.Date(), t, d.opts.StrictStages)
		if stage == StageNone {
			continue
		}

		allowed, err := d.st.GetUserConsent(ctx, e.OwnerID)
		if err != nil {
			slog.Error("Dispatcher.dispatch: consent lookup failed", "error", err, "eventID", e.ID, "ownerID", e.OwnerID)
			sum.Failed++
			continue
		}
		if !allowed {
			slog.Debug("Dispatcher.dispatch: owner does not accept messages", "eventID", e.ID, "ownerID", e.OwnerID)
			sum.Skipped++
			continue
		}

		if sends > 0 {
			if err := d.opts.Sleeper(ctx, d.opts.SendDelay); err != nil {
				return fmt.Errorf("reminder run interrupted: %w", err)
			}
		}
		sends++

		text, kb := d.compose(ctx, stage, e, tiers, shop)
		if err := d.gw.SendMessage(ctx, e.OwnerID, text, kb); errors.Is(err, messaging.ErrNoPhone) {
			slog.Warn("Dispatcher.dispatch: owner has no phone bound", "eventID", e.ID, "ownerID", e.OwnerID)
			sum.Skipped++
			continue
		} else if err != nil {
			slog.Error("Dispatcher.dispatch: send failed", "error", err, "eventID", e.ID, "stage", stage.String())
			sum.Failed++
			continue
		}
		if err := d.st.UpdateEventStatus(ctx, e.ID, stage.NextStatus()); err != nil {
			slog.Error("Dispatcher.dispatch: status update failed", "error", err, "eventID", e.ID, "stage", stage.String())
			sum.Failed++
			continue
		}
		sum.count(stage)
		slog.Info("Dispatcher.dispatch: reminder sent", "eventID", e.ID, "ownerID", e.OwnerID, "stage", stage.String())
	}
	return nil
}

func (d *Dispatcher) compose(ctx context.Context, stage Stage, e models.Event, tiers models.TierConfig, shop models.ShopSettings) (string, *models.Keyboard) {
	firstName := ""
	if u, err := d.st.GetUser(ctx, e.OwnerID); err != nil {
		slog.Warn("Dispatcher.compose: user lookup failed", "error", err, "ownerID", e.OwnerID)
	} else if u != nil {
		firstName = u.FirstName
	}

	switch stage {
	case Stage7Days:
		return composer.Reminder7Days(firstName, e, tiers), composer.TierKeyboard(tiers, e.ID, true)
	case Stage3Days:
		return composer.Reminder3Days(firstName, e, tiers), composer.TierKeyboard(tiers, e.ID, false)
	default:
		pending, err := d.st.GetPreorder(ctx, store.PreorderFilter{
			EventID:  e.ID,
			StatusIn: []models.PreorderStatus{models.PreorderStatusNew},
		})
		if err != nil {
			slog.Warn("Dispatcher.compose: preorder lookup failed", "error", err, "eventID", e.ID)
		}
		return composer.Reminder1Day(firstName, e, pending, shop), nil
	}
}

func (d *Dispatcher) rollover(ctx context.Context, today time.Time, sum *Summary) error {
	events, err := d.st.GetEvents(ctx, store.EventFilter{StatusIn: rolloverStatuses})
	if err != nil {
		return fmt.Errorf("failed to load events for rollover: %w", err)
	}
	for _, e := range events {
		if !IsPast(today, e.Date()) {
			continue
		}
		if err := d.st.UpdateEventStatus(ctx, e.ID, models.EventStatusActive); err != nil {
			slog.Error("Dispatcher.rollover: status reset failed", "error", err, "eventID", e.ID)
			sum.Failed++
			continue
		}
		sum.RolledOver++
		slog.Debug("Dispatcher.rollover: event reset to active", "eventID", e.ID, "previous", e.Status)
	}
	return nil
}

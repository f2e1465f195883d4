// Package store provides storage backends for the flower shop bot.
//
// It defines narrow repository interfaces for events, preorders, conversation
// state, settings and users, and ships in-memory, SQLite and PostgreSQL
// implementations of them.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// EventFilter selects events. Zero values mean "no constraint".
type EventFilter struct {
	NotificationsEnabled *bool
	StatusIn             []models.EventStatus
	OwnerID              string
	Limit                int
}

// PreorderFilter selects preorders. Archived preorders are skipped unless IncludeArchived is set.
type PreorderFilter struct {
	ID              string
	EventID         string
	BuyerID         string
	StatusIn        []models.PreorderStatus
	IncludeArchived bool
	Limit           int
}

// EventRepo persists occasions. GetEvents returns events ordered by month, then day.
type EventRepo interface {
	GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	// DeleteEvent removes the event and cancels its open preorders.
	DeleteEvent(ctx context.Context, id string) error
	UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error
}

// StateRepo persists at most one conversation state per user.
type StateRepo interface {
	GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error)
	SetConversationState(ctx context.Context, state models.ConversationState) error
	ClearConversationState(ctx context.Context, userID string) error
}

// PreorderRepo persists bouquet orders.
type PreorderRepo interface {
	// CreatePreorder inserts the preorder and moves its event to preordered
	// atomically. On error neither change is visible.
	CreatePreorder(ctx context.Context, p *models.Preorder) error
	GetPreorder(ctx context.Context, filter PreorderFilter) (*models.Preorder, error)
	ListPreorders(ctx context.Context, filter PreorderFilter) ([]models.Preorder, error)
	UpdatePreorderStatus(ctx context.Context, id string, status models.PreorderStatus) error
}

// SettingsRepo exposes staff-editable configuration.
type SettingsRepo interface {
	GetBouquetTierConfig(ctx context.Context) (models.TierConfig, error)
	GetShopSettings(ctx context.Context) (models.ShopSettings, error)
	SetSetting(ctx context.Context, key, value string) error
}

// UserRepo persists customers and their messaging consent.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	// UpsertUser inserts the user or refreshes its names; consent is left untouched
	// for existing users.
	UpsertUser(ctx context.Context, user models.User) error
	GetUserConsent(ctx context.Context, userID string) (bool, error)
	SetUserConsent(ctx context.Context, userID string, allowed bool) error
	// GetUserByPhone returns the user bound to a canonical phone, or nil.
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	// SetUserPhone binds a canonical phone to the user, creating the user if
	// needed. An empty phone unbinds. A phone held by another user fails with
	// models.ErrPhoneTaken.
	SetUserPhone(ctx context.Context, userID, phone string) error
}

// ChoiceRepo remembers the numbered options last offered to an address on a
// channel without native buttons. Payloads are kept in wire form.
type ChoiceRepo interface {
	// SaveChoices replaces the options of address. No payloads clears them.
	SaveChoices(ctx context.Context, address string, payloads []string) error
	GetChoices(ctx context.Context, address string) ([]string, error)
	ClearChoices(ctx context.Context, address string) error
}

// MaintenanceRepo backs the periodic cleanup job.
type MaintenanceRepo interface {
	// ArchivePreorders archives completed or cancelled preorders last updated before olderThan.
	ArchivePreorders(ctx context.Context, olderThan time.Time) (int, error)
	// PruneConversationStates deletes states last updated before olderThan,
	// along with remembered choices of the same age.
	PruneConversationStates(ctx context.Context, olderThan time.Time) (int, error)
}

// Store is the full persistence contract.
type Store interface {
	EventRepo
	StateRepo
	PreorderRepo
	SettingsRepo
	UserRepo
	MaintenanceRepo
	DedupRepo
	ChoiceRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks the backend for dsn: in-memory when empty, PostgreSQL or SQLite otherwise.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// BoolPtr is a helper for EventFilter.NotificationsEnabled.
func BoolPtr(b bool) *bool { return &b }

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// sqlBackend implements the repositories on top of database/sql. Queries are
// written with ? placeholders and rebound for PostgreSQL.
type sqlBackend struct {
	db     *sql.DB
	name   string
	rebind func(string) string
	now    func() time.Time
}

// openDB opens, pings and migrates a database. configure tunes the pool
// before the first connection is made.
func openDB(driver, dsn, migrations string, configure func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if configure != nil {
		configure(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("openDB: ping failed", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		slog.Error("openDB: migrations failed", "driver", driver, "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("openDB: migrations applied", "driver", driver)
	return db, nil
}

func newSQLBackend(db *sql.DB, name string, rebind func(string) string) *sqlBackend {
	return &sqlBackend{db: db, name: name, rebind: rebind, now: func() time.Time { return time.Now().UTC() }}
}

func (b *sqlBackend) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return b.db.ExecContext(ctx, b.rebind(query), args...)
}

func (b *sqlBackend) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return b.db.QueryRowContext(ctx, b.rebind(query), args...)
}

func (b *sqlBackend) GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	var where []string
	var args []interface{}
	if filter.NotificationsEnabled != nil {
		where = append(where, "notifications_enabled = ?")
		args = append(args, *filter.NotificationsEnabled)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.StatusIn) > 0 {
		where = append(where, inClause("status", len(filter.StatusIn)))
		for _, s := range filter.StatusIn {
			args = append(args, string(s))
		}
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY month, day, created_at`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		slog.Error(b.name+" GetEvents query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			slog.Error(b.name+" GetEvents scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	slog.Debug(b.name+" GetEvents succeeded", "count", len(events))
	return events, nil
}

func (b *sqlBackend) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e, err := scanEvent(b.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(b.name+" GetEvent not found", "eventID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetEvent failed", "error", err, "eventID", id)
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return &e, nil
}

func (b *sqlBackend) CreateEvent(ctx context.Context, e *models.Event) error {
	prepareEvent(e, b.now())
	_, err := b.exec(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, string(e.Type), nilIfEmpty(e.CustomName), e.Day, e.Month, e.RecipientName,
		nilIfEmpty(e.Comment), e.NotificationsEnabled, string(e.Status), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		slog.Error(b.name+" CreateEvent failed", "error", err, "ownerID", e.OwnerID)
		return fmt.Errorf("failed to insert event: %w", err)
	}
	slog.Debug(b.name+" CreateEvent succeeded", "eventID", e.ID, "ownerID", e.OwnerID)
	return nil
}

func (b *sqlBackend) DeleteEvent(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := b.now()
	if _, err := tx.ExecContext(ctx, b.rebind(`UPDATE preorders SET status = ?, updated_at = ?
		WHERE event_id = ? AND `+inClause("status", 2)),
		string(models.PreorderStatusCancelled), now, id,
		string(models.PreorderStatusNew), string(models.PreorderStatusConfirmed)); err != nil {
		return fmt.Errorf("failed to cancel preorders of event %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, b.rebind(`DELETE FROM events WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete event %s: %w", id, models.ErrEventNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event deletion: %w", err)
	}
	slog.Debug(b.name+" DeleteEvent succeeded", "eventID", id)
	return nil
}

func (b *sqlBackend) UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error {
	res, err := b.exec(ctx, `UPDATE events SET status = ?, updated_at = ? WHERE id = ?`, string(status), b.now(), id)
	if err != nil {
		slog.Error(b.name+" UpdateEventStatus failed", "error", err, "eventID", id, "status", status)
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update event %s: %w", id, models.ErrEventNotFound)
	}
	slog.Debug(b.name+" UpdateEventStatus succeeded", "eventID", id, "status", status)
	return nil
}

func (b *sqlBackend) GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error) {
	st, err := scanState(b.queryRow(ctx,
		`SELECT user_id, step, data, updated_at FROM conversation_states WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetConversationState failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug(b.name+" GetConversationState found", "userID", userID, "step", st.Step)
	return st, nil
}

func (b *sqlBackend) SetConversationState(ctx context.Context, state models.ConversationState) error {
	data, err := encodeStateData(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = b.now()
	}
	_, err = b.exec(ctx, `INSERT INTO conversation_states (user_id, step, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET step = excluded.step, data = excluded.data, updated_at = excluded.updated_at`,
		state.UserID, string(state.Step), data, updated.UTC())
	if err != nil {
		slog.Error(b.name+" SetConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state of %s: %w", state.UserID, err)
	}
	slog.Debug(b.name+" SetConversationState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

func (b *sqlBackend) ClearConversationState(ctx context.Context, userID string) error {
	if _, err := b.exec(ctx, `DELETE FROM conversation_states WHERE user_id = ?`, userID); err != nil {
		slog.Error(b.name+" ClearConversationState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to clear conversation state of %s: %w", userID, err)
	}
	return nil
}

func (b *sqlBackend) CreatePreorder(ctx context.Context, p *models.Preorder) error {
	if err := preparePreorder(p, b.now()); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	address, phone, at := deliveryColumns(p)
	var deliveryDate interface{}
	if !p.DeliveryDate.IsZero() {
		deliveryDate = p.DeliveryDate.UTC()
	}
	_, err = tx.ExecContext(ctx, b.rebind(`INSERT INTO preorders (`+preorderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.EventID, p.BuyerID, string(p.Tier), p.BouquetRef, p.BouquetName, p.BouquetPrice, p.FinalPrice,
		string(p.Fulfillment), address, phone, at, p.RecipientName, deliveryDate,
		string(p.Status), p.Archived, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error(b.name+" CreatePreorder insert failed", "error", err, "eventID", p.EventID)
		return fmt.Errorf("failed to insert preorder: %w", err)
	}

	res, err := tx.ExecContext(ctx, b.rebind(`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`),
		string(models.EventStatusPreordered), p.CreatedAt, p.EventID)
	if err != nil {
		return fmt.Errorf("failed to advance event %s: %w", p.EventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create preorder: %w", models.ErrEventNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preorder: %w", err)
	}
	slog.Debug(b.name+" CreatePreorder succeeded", "preorderID", p.ID, "eventID", p.EventID)
	return nil
}

func (b *sqlBackend) preorderQuery(filter PreorderFilter) (string, []interface{}) {
	var where []string
	var args []interface{}
	if filter.ID != "" {
		where = append(where, "id = ?")
		args = append(args, filter.ID)
	}
	if filter.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.BuyerID != "" {
		where = append(where, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if !filter.IncludeArchived {
		where = append(where, "archived = ?")
		args = append(args, false)
	}
	if len(filter.StatusIn) > 0 {
		where = append(where, inClause("status", len(filter.StatusIn)))
		for _, s := range filter.StatusIn {
			args = append(args, string(s))
		}
	}
	query := `SELECT ` + preorderColumns + ` FROM preorders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	return query, args
}

func (b *sqlBackend) GetPreorder(ctx context.Context, filter PreorderFilter) (*models.Preorder, error) {
	filter.Limit = 1
	query, args := b.preorderQuery(filter)
	p, err := scanPreorder(b.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetPreorder failed", "error", err)
		return nil, fmt.Errorf("failed to get preorder: %w", err)
	}
	return &p, nil
}

func (b *sqlBackend) ListPreorders(ctx context.Context, filter PreorderFilter) ([]models.Preorder, error) {
	query, args := b.preorderQuery(filter)
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		slog.Error(b.name+" ListPreorders query failed", "error", err)
		return nil, fmt.Errorf("failed to query preorders: %w", err)
	}
	defer rows.Close()

	var out []models.Preorder
	for rows.Next() {
		p, err := scanPreorder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preorder row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate preorder rows: %w", err)
	}
	return out, nil
}

func (b *sqlBackend) UpdatePreorderStatus(ctx context.Context, id string, status models.PreorderStatus) error {
	var from []interface{}
	for _, s := range []models.PreorderStatus{models.PreorderStatusNew, models.PreorderStatusConfirmed,
		models.PreorderStatusCompleted, models.PreorderStatusCancelled} {
		if s.CanTransitionTo(status) {
			from = append(from, string(s))
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", models.ErrInvalidStatusTransition, status)
	}

	args := append([]interface{}{string(status), b.now(), id}, from...)
	res, err := b.exec(ctx, `UPDATE preorders SET status = ?, updated_at = ? WHERE id = ? AND `+
		inClause("status", len(from)), args...)
	if err != nil {
		slog.Error(b.name+" UpdatePreorderStatus failed", "error", err, "preorderID", id)
		return fmt.Errorf("failed to update preorder %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug(b.name+" UpdatePreorderStatus succeeded", "preorderID", id, "status", status)
		return nil
	}

	current, err := b.GetPreorder(ctx, PreorderFilter{ID: id, IncludeArchived: true})
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("update preorder %s: %w", id, models.ErrPreorderNotFound)
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, current.Status, status)
}

func (b *sqlBackend) loadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM settings`)
	if err != nil {
		slog.Error(b.name+" loadSettings query failed", "error", err)
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()
	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func (b *sqlBackend) GetBouquetTierConfig(ctx context.Context) (models.TierConfig, error) {
	settings, err := b.loadSettings(ctx)
	if err != nil {
		return models.TierConfig{}, err
	}
	return models.TierConfigFromSettings(settings), nil
}

func (b *sqlBackend) GetShopSettings(ctx context.Context) (models.ShopSettings, error) {
	settings, err := b.loadSettings(ctx)
	if err != nil {
		return models.ShopSettings{}, err
	}
	return models.ShopSettingsFromSettings(settings), nil
}

func (b *sqlBackend) SetSetting(ctx context.Context, key, value string) error {
	if err := models.ValidateSetting(key, value); err != nil {
		return err
	}
	_, err := b.exec(ctx, `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`,
		key, value, b.now())
	if err != nil {
		slog.Error(b.name+" SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

const userColumns = `id, first_name, last_name, phone, messages_allowed, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var first, last, phone sql.NullString
	if err := row.Scan(&u.ID, &first, &last, &phone, &u.MessagesAllowed, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.FirstName, u.LastName, u.Phone = first.String, last.String, phone.String
	return &u, nil
}

func (b *sqlBackend) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(b.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetUser failed", "error", err, "userID", id)
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return u, nil
}

func (b *sqlBackend) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	if phone == "" {
		return nil, nil
	}
	u, err := scanUser(b.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(b.name+" GetUserByPhone failed", "error", err)
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}
	return u, nil
}

func (b *sqlBackend) SetUserPhone(ctx context.Context, userID, phone string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if phone != "" {
		var holder string
		err := tx.QueryRowContext(ctx, b.rebind(`SELECT id FROM users WHERE phone = ? AND id <> ?`), phone, userID).Scan(&holder)
		switch {
		case err == nil:
			return fmt.Errorf("bind phone to %s: %w", userID, models.ErrPhoneTaken)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check phone owner: %w", err)
		}
	}
	now := b.now()
	_, err = tx.ExecContext(ctx, b.rebind(`INSERT INTO users (id, phone, messages_allowed, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET phone = excluded.phone, updated_at = excluded.updated_at`),
		userID, nilIfEmpty(phone), false, now, now)
	if err != nil {
		slog.Error(b.name+" SetUserPhone failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to bind phone of %s: %w", userID, err)
	}
	return tx.Commit()
}

func (b *sqlBackend) UpsertUser(ctx context.Context, u models.User) error {
	now := b.now()
	_, err := b.exec(ctx, `INSERT INTO users (id, first_name, last_name, messages_allowed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name,
		updated_at = excluded.updated_at`,
		u.ID, nilIfEmpty(u.FirstName), nilIfEmpty(u.LastName), u.MessagesAllowed, now, now)
	if err != nil {
		slog.Error(b.name+" UpsertUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (b *sqlBackend) GetUserConsent(ctx context.Context, userID string) (bool, error) {
	u, err := b.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u != nil && u.MessagesAllowed, nil
}

func (b *sqlBackend) SetUserConsent(ctx context.Context, userID string, allowed bool) error {
	now := b.now()
	_, err := b.exec(ctx, `INSERT INTO users (id, messages_allowed, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET messages_allowed = excluded.messages_allowed, updated_at = excluded.updated_at`,
		userID, allowed, now, now)
	if err != nil {
		slog.Error(b.name+" SetUserConsent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update consent of %s: %w", userID, err)
	}
	slog.Debug(b.name+" SetUserConsent succeeded", "userID", userID, "allowed", allowed)
	return nil
}

func (b *sqlBackend) ArchivePreorders(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := b.exec(ctx, `UPDATE preorders SET archived = ? WHERE archived = ? AND updated_at < ? AND `+
		inClause("status", 2),
		true, false, olderThan.UTC(), string(models.PreorderStatusCompleted), string(models.PreorderStatusCancelled))
	if err != nil {
		slog.Error(b.name+" ArchivePreorders failed", "error", err)
		return 0, fmt.Errorf("failed to archive preorders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive rows affected check failed: %w", err)
	}
	return int(n), nil
}

func (b *sqlBackend) PruneConversationStates(ctx context.Context, olderThan time.Time) (int, error) {
	if _, err := b.exec(ctx, `DELETE FROM keyboard_choices WHERE updated_at < ?`, olderThan.UTC()); err != nil {
		slog.Error(b.name+" PruneConversationStates: choices failed", "error", err)
		return 0, fmt.Errorf("failed to prune keyboard choices: %w", err)
	}
	res, err := b.exec(ctx, `DELETE FROM conversation_states WHERE updated_at < ?`, olderThan.UTC())
	if err != nil {
		slog.Error(b.name+" PruneConversationStates failed", "error", err)
		return 0, fmt.Errorf("failed to prune conversation states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected check failed: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	slog.Debug("Closing " + b.name + " database connection")
	err := b.db.Close()
	if err != nil {
		slog.Error("Failed to close "+b.name+" database", "error", err)
	}
	return err
}

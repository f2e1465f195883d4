package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// InMemoryStore keeps everything in process memory. It is used by tests and
// when no database DSN is configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    map[string]models.Event
	preorders map[string]models.Preorder
	states    map[string]models.ConversationState
	users     map[string]models.User
	settings  map[string]string
	dedup     map[string]DedupRecord
	choices   map[string]rememberedChoices
	now       func() time.Time
}

type rememberedChoices struct {
	payloads  []string
	updatedAt time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:    make(map[string]models.Event),
		preorders: make(map[string]models.Preorder),
		states:    make(map[string]models.ConversationState),
		users:     make(map[string]models.User),
		settings:  make(map[string]string),
		dedup:     make(map[string]DedupRecord),
		choices:   make(map[string]rememberedChoices),
		now:       time.Now,
	}
}

func containsStatus[T comparable](set []T, v T) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.events {
		if filter.NotificationsEnabled != nil && e.NotificationsEnabled != *filter.NotificationsEnabled {
			continue
		}
		if filter.OwnerID != "" && e.OwnerID != filter.OwnerID {
			continue
		}
		if !containsStatus(filter.StatusIn, e.Status) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *InMemoryStore) CreateEvent(ctx context.Context, event *models.Event) error {
	prepareEvent(event, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = *event
	slog.Debug("InMemoryStore CreateEvent succeeded", "eventID", event.ID, "ownerID", event.OwnerID)
	return nil
}

func (s *InMemoryStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("delete event %s: %w", id, models.ErrEventNotFound)
	}
	now := s.now()
	for pid, p := range s.preorders {
		if p.EventID == id && !p.Status.IsTerminal() {
			p.Status = models.PreorderStatusCancelled
			p.UpdatedAt = now
			s.preorders[pid] = p
		}
	}
	delete(s.events, id)
	return nil
}

func (s *InMemoryStore) UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("update event %s: %w", id, models.ErrEventNotFound)
	}
	e.Status = status
	e.UpdatedAt = s.now()
	s.events[id] = e
	return nil
}

func (s *InMemoryStore) GetConversationState(ctx context.Context, userID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return cloneState(st), nil
}

func (s *InMemoryStore) SetConversationState(ctx context.Context, state models.ConversationState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = *cloneState(state)
	return nil
}

func (s *InMemoryStore) ClearConversationState(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *InMemoryStore) CreatePreorder(ctx context.Context, p *models.Preorder) error {
	if err := preparePreorder(p, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[p.EventID]
	if !ok {
		return fmt.Errorf("create preorder: %w", models.ErrEventNotFound)
	}
	e.Status = models.EventStatusPreordered
	e.UpdatedAt = p.CreatedAt
	s.events[e.ID] = e
	s.preorders[p.ID] = clonePreorder(*p)
	return nil
}

func (s *InMemoryStore) matchPreorders(filter PreorderFilter) []models.Preorder {
	var out []models.Preorder
	for _, p := range s.preorders {
		if filter.ID != "" && p.ID != filter.ID {
			continue
		}
		if filter.EventID != "" && p.EventID != filter.EventID {
			continue
		}
		if filter.BuyerID != "" && p.BuyerID != filter.BuyerID {
			continue
		}
		if !filter.IncludeArchived && p.Archived {
			continue
		}
		if !containsStatus(filter.StatusIn, p.Status) {
			continue
		}
		out = append(out, clonePreorder(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (s *InMemoryStore) GetPreorder(ctx context.Context, filter PreorderFilter) (*models.Preorder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.matchPreorders(filter)
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (s *InMemoryStore) ListPreorders(ctx context.Context, filter PreorderFilter) ([]models.Preorder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchPreorders(filter), nil
}

func (s *InMemoryStore) UpdatePreorderStatus(ctx context.Context, id string, status models.PreorderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.preorders[id]
	if !ok {
		return fmt.Errorf("update preorder %s: %w", id, models.ErrPreorderNotFound)
	}
	if !p.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, p.Status, status)
	}
	p.Status = status
	p.UpdatedAt = s.now()
	s.preorders[id] = p
	return nil
}

func (s *InMemoryStore) snapshotSettings() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

func (s *InMemoryStore) GetBouquetTierConfig(ctx context.Context) (models.TierConfig, error) {
	return models.TierConfigFromSettings(s.snapshotSettings()), nil
}

func (s *InMemoryStore) GetShopSettings(ctx context.Context) (models.ShopSettings, error) {
	return models.ShopSettingsFromSettings(s.snapshotSettings()), nil
}

func (s *InMemoryStore) SetSetting(ctx context.Context, key, value string) error {
	if err := models.ValidateSetting(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *InMemoryStore) UpsertUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.users[user.ID]; ok {
		existing.FirstName = user.FirstName
		existing.LastName = user.LastName
		// the phone is only changed through SetUserPhone
		existing.UpdatedAt = now
		s.users[user.ID] = existing
		return nil
	}
	user.Phone = ""
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return nil
}

func (s *InMemoryStore) GetUserConsent(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].MessagesAllowed, nil
}

func (s *InMemoryStore) SetUserConsent(ctx context.Context, userID string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u, ok := s.users[userID]
	if !ok {
		u = models.User{ID: userID, CreatedAt: now}
	}
	u.MessagesAllowed = allowed
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *InMemoryStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	if phone == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SetUserPhone(ctx context.Context, userID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phone != "" {
		for id, u := range s.users {
			if id != userID && u.Phone == phone {
				return fmt.Errorf("bind phone to %s: %w", userID, models.ErrPhoneTaken)
			}
		}
	}
	now := s.now()
	u, ok := s.users[userID]
	if !ok {
		u = models.User{ID: userID, CreatedAt: now}
	}
	u.Phone = phone
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *InMemoryStore) SaveChoices(ctx context.Context, address string, payloads []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(payloads) == 0 {
		delete(s.choices, address)
		return nil
	}
	s.choices[address] = rememberedChoices{payloads: append([]string(nil), payloads...), updatedAt: s.now()}
	return nil
}

func (s *InMemoryStore) GetChoices(ctx context.Context, address string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.choices[address]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), c.payloads...), nil
}

func (s *InMemoryStore) ClearChoices(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.choices, address)
	return nil
}

func (s *InMemoryStore) ArchivePreorders(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.preorders {
		if p.Archived || !p.Status.IsTerminal() || !p.UpdatedAt.Before(olderThan) {
			continue
		}
		p.Archived = true
		s.preorders[id] = p
		n++
	}
	return n, nil
}

func (s *InMemoryStore) PruneConversationStates(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, c := range s.choices {
		if c.updatedAt.Before(olderThan) {
			delete(s.choices, addr)
		}
	}
	n := 0
	for id, st := range s.states {
		if st.UpdatedAt.Before(olderThan) {
			delete(s.states, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := s.now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneInbound(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(olderThan) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneState(st models.ConversationState) *models.ConversationState {
	out := st
	if st.EventIDs != nil {
		out.EventIDs = append([]string(nil), st.EventIDs...)
	}
	if st.Draft != nil {
		d := *st.Draft
		out.Draft = &d
	}
	return &out
}

func clonePreorder(p models.Preorder) models.Preorder {
	if p.Delivery != nil {
		d := *p.Delivery
		p.Delivery = &d
	}
	return p
}

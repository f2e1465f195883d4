package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// prepareEvent fills server-side defaults of a new event.
func prepareEvent(e *models.Event, now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.EventStatusActive
	}
	e.CreatedAt, e.UpdatedAt = now, now
}

// preparePreorder validates p and fills server-side defaults.
func preparePreorder(p *models.Preorder, now time.Time) error {
	if p.Status == "" {
		p.Status = models.PreorderStatusNew
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preorder: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.FinalPrice.IsZero() {
		p.FinalPrice = p.BouquetPrice
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// inClause renders "col IN (?, ?, ...)" for n values.
func inClause(col string, n int) string {
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// rebindDollar rewrites ? placeholders into PostgreSQL's $1, $2, ... form.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const eventColumns = `id, owner_id, event_type, custom_name, day, month, recipient_name, comment,
	notifications_enabled, status, created_at, updated_at`

// scanEvent scans an Event from a row.
func scanEvent(row rowScanner) (models.Event, error) {
	var e models.Event
	var eventType, status string
	var customName, comment sql.NullString
	err := row.Scan(&e.ID, &e.OwnerID, &eventType, &customName, &e.Day, &e.Month, &e.RecipientName,
		&comment, &e.NotificationsEnabled, &status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	t, err := models.ParseEventType(eventType)
	if err != nil {
		return e, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Type = t
	e.Status = models.EventStatus(status)
	e.CustomName = customName.String
	e.Comment = comment.String
	return e, nil
}

const preorderColumns = `id, event_id, buyer_id, tier, bouquet_ref, bouquet_name, bouquet_price, final_price,
	fulfillment, delivery_address, delivery_phone, delivery_time, recipient_name, delivery_date,
	status, archived, created_at, updated_at`

// scanPreorder scans a Preorder from a row.
func scanPreorder(row rowScanner) (models.Preorder, error) {
	var p models.Preorder
	var tier, fulfillment, status string
	var address, phone, deliveryTime sql.NullString
	var deliveryDate sql.NullTime
	err := row.Scan(&p.ID, &p.EventID, &p.BuyerID, &tier, &p.BouquetRef, &p.BouquetName, &p.BouquetPrice,
		&p.FinalPrice, &fulfillment, &address, &phone, &deliveryTime, &p.RecipientName, &deliveryDate,
		&status, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Tier = models.BouquetTier(tier)
	p.Fulfillment = models.Fulfillment(fulfillment)
	p.Status = models.PreorderStatus(status)
	if p.Fulfillment == models.FulfillmentDelivery {
		p.Delivery = &models.DeliveryDetails{Address: address.String, Phone: phone.String, Time: deliveryTime.String}
	}
	if deliveryDate.Valid {
		p.DeliveryDate = deliveryDate.Time
	}
	return p, nil
}

// deliveryColumns returns the nullable delivery column values of p.
func deliveryColumns(p *models.Preorder) (address, phone, at interface{}) {
	if p.Delivery == nil {
		return nil, nil, nil
	}
	return nilIfEmpty(p.Delivery.Address), nilIfEmpty(p.Delivery.Phone), nilIfEmpty(p.Delivery.Time)
}

// encodeStateData serializes the mutable part of a conversation state.
func encodeStateData(state models.ConversationState) (string, error) {
	data := stateData{EventIDs: state.EventIDs, Draft: state.Draft}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type stateData struct {
	EventIDs []string              `json:"event_ids,omitempty"`
	Draft    *models.PreorderDraft `json:"draft,omitempty"`
}

// scanState scans a ConversationState from a row.
func scanState(row rowScanner) (*models.ConversationState, error) {
	var st models.ConversationState
	var step string
	var dataJSON sql.NullString
	if err := row.Scan(&st.UserID, &step, &dataJSON, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Step = models.DialogStep(step)
	if dataJSON.Valid && dataJSON.String != "" {
		var data stateData
		if err := json.Unmarshal([]byte(dataJSON.String), &data); err != nil {
			return nil, fmt.Errorf("failed to decode conversation state of %s: %w", st.UserID, err)
		}
		st.EventIDs = data.EventIDs
		st.Draft = data.Draft
	}
	return &st, nil
}

package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ReferenceYear is the leap year used for day-of-year comparisons and date validation,
// so that yearly occasions compare independently of the real calendar year.
const ReferenceYear = 2024

// EventType is the kind of recurring occasion.
type EventType string

const (
	EventTypeBirthday           EventType = "birthday"
	EventTypeAnniversary        EventType = "anniversary"
	EventTypeWeddingAnniversary EventType = "wedding_anniversary"
	EventTypeValentine          EventType = "valentine"
	EventTypeMarch8             EventType = "march8"
	EventTypeMothersDay         EventType = "mothers_day"
	EventTypeOther              EventType = "other"
)

// eventTypeNames is the single display-name table for event types.
var eventTypeNames = map[EventType]string{
	EventTypeBirthday:           "день рождения",
	EventTypeAnniversary:        "юбилей",
	EventTypeWeddingAnniversary: "годовщина свадьбы",
	EventTypeValentine:          "День святого Валентина",
	EventTypeMarch8:             "8 марта",
	EventTypeMothersDay:         "День матери",
	EventTypeOther:              "событие",
}

// legacyEventTypes maps literals written by older clients onto canonical types.
var legacyEventTypes = map[string]EventType{
	"valentines": EventTypeValentine,
	"womens_day": EventTypeMarch8,
}

// ParseEventType converts a stored or submitted literal into a canonical EventType.
func ParseEventType(s string) (EventType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := legacyEventTypes[s]; ok {
		return t, nil
	}
	t := EventType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
	}
	return t, nil
}

// IsValid reports whether t is one of the canonical event types.
func (t EventType) IsValid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// DisplayName returns the human readable name of the event type.
func (t EventType) DisplayName() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return string(t)
}

// EventStatus is the reminder stage of an event within the current yearly cycle.
type EventStatus string

const (
	EventStatusActive     EventStatus = "active"
	EventStatusReminded7d EventStatus = "reminded_7d"
	EventStatusReminded3d EventStatus = "reminded_3d"
	EventStatusReminded1d EventStatus = "reminded_1d"
	EventStatusPreordered EventStatus = "preordered"
	EventStatusCompleted  EventStatus = "completed"
)

// IsValid reports whether s is a known event status.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusActive, EventStatusReminded7d, EventStatusReminded3d,
		EventStatusReminded1d, EventStatusPreordered, EventStatusCompleted:
		return true
	}
	return false
}

// OpenEventStatuses are the statuses of events a customer can still order for.
var OpenEventStatuses = []EventStatus{
	EventStatusActive, EventStatusReminded7d, EventStatusReminded3d, EventStatusReminded1d,
}

// DayMonth is a calendar day within an unspecified year.
type DayMonth struct {
	Day   int `json:"day"`
	Month int `json:"month"`
}

// String formats the date the way the bot prints it, e.g. "4.02".
func (d DayMonth) String() string {
	return fmt.Sprintf("%d.%02d", d.Day, d.Month)
}

// Valid reports whether the pair is a real date in the reference leap year.
func (d DayMonth) Valid() bool {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.Day <= daysIn(time.Month(d.Month))
}

// Before reports whether d falls strictly earlier than other within one year.
func (d DayMonth) Before(other DayMonth) bool {
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// InYear returns the date as midnight UTC in the given year. Feb 29 in a
// non-leap year normalizes to Mar 1.
func (d DayMonth) InYear(year int) time.Time {
	return time.Date(year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// DayMonthOf extracts the calendar day of t in t's location.
func DayMonthOf(t time.Time) DayMonth {
	return DayMonth{Day: t.Day(), Month: int(t.Month())}
}

func daysIn(m time.Month) int {
	return time.Date(ReferenceYear, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Event is a recurring annual occasion owned by a customer.
type Event struct {
	ID                   string      `json:"id"`
	OwnerID              string      `json:"owner_id"`
	Type                 EventType   `json:"event_type"`
	CustomName           string      `json:"custom_name,omitempty"`
	Day                  int         `json:"day"`
	Month                int         `json:"month"`
	RecipientName        string      `json:"recipient_name"`
	Comment              string      `json:"comment,omitempty"`
	NotificationsEnabled bool        `json:"notifications_enabled"`
	Status               EventStatus `json:"status"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Date returns the event's calendar day.
func (e Event) Date() DayMonth {
	return DayMonth{Day: e.Day, Month: e.Month}
}

// DisplayName returns the custom name for "other" events and the type name otherwise.
func (e Event) DisplayName() string {
	if e.Type == EventTypeOther {
		return e.CustomName
	}
	return e.Type.DisplayName()
}

// Title is DisplayName with the first letter upper-cased, used in lists.
func (e Event) Title() string {
	return capitalize(e.DisplayName())
}

// Validate checks the event fields supplied by a customer.
func (e Event) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.Type)
	}
	if e.Type == EventTypeOther && strings.TrimSpace(e.CustomName) == "" {
		return ErrMissingCustomName
	}
	if strings.TrimSpace(e.RecipientName) == "" {
		return ErrEmptyRecipientName
	}
	if !e.Date().Valid() {
		return fmt.Errorf("%w: day=%d month=%d", ErrInvalidDate, e.Day, e.Month)
	}
	if e.Status != "" && !e.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventStatus, e.Status)
	}
	return nil
}

// NextOccurrence returns the first date on or after today (a local calendar day)
// on which the event happens.
func (e Event) NextOccurrence(today time.Time) time.Time {
	y := today.Year()
	start := time.Date(y, today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		d := e.Date().InYear(y + i)
		if d.Month() == time.Month(e.Month) && !d.Before(start) {
			return d
		}
	}
	return e.Date().InYear(y + 1)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

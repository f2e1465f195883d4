package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// ErrNoPhone is returned when a known user has no phone bound for the
// WhatsApp gateways.
var ErrNoPhone = errors.New("user has no phone bound")

// ChoiceStore persists the numbered options offered on text-only channels.
type ChoiceStore interface {
	SaveChoices(ctx context.Context, address string, payloads []string) error
	GetChoices(ctx context.Context, address string) ([]string, error)
	ClearChoices(ctx context.Context, address string) error
}

// PhoneDirectory maps users to the phones they are reached on.
type PhoneDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
}

// TextChannelStore is everything the text-only gateways keep in the store.
type TextChannelStore interface {
	ChoiceStore
	PhoneDirectory
}

// RenderText appends the buttons of kb to text as a numbered list, for
// channels without native keyboards.
func RenderText(text string, kb *models.Keyboard) string {
	buttons := kb.Buttons()
	if len(buttons) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, btn := range buttons {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(btn.Label)
	}
	b.WriteString("\n\nОтветь номером варианта.")
	return b.String()
}

// KeyboardMemory remembers the last keyboard sent to each address of a
// text-only channel so that a numeric reply can be mapped back to a button.
// The options live in the store and survive restarts.
type KeyboardMemory struct {
	st ChoiceStore
}

// NewKeyboardMemory creates a KeyboardMemory over st.
func NewKeyboardMemory(st ChoiceStore) *KeyboardMemory {
	return &KeyboardMemory{st: st}
}

// Remember stores the payloads of kb for address. A message without buttons
// forgets the previous keyboard.
func (m *KeyboardMemory) Remember(ctx context.Context, address string, kb *models.Keyboard) error {
	buttons := kb.Buttons()
	payloads := make([]string, len(buttons))
	for i, btn := range buttons {
		if btn.Payload != nil {
			payloads[i] = models.EncodePayload(btn.Payload)
		}
	}
	if err := m.st.SaveChoices(ctx, address, payloads); err != nil {
		return fmt.Errorf("remember keyboard of %s: %w", address, err)
	}
	return nil
}

// Resolve maps a reply like "2" onto the payload of the second remembered
// button. The keyboard is consumed on success.
func (m *KeyboardMemory) Resolve(ctx context.Context, address, text string) (models.Payload, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, false
	}
	payloads, err := m.st.GetChoices(ctx, address)
	if err != nil {
		slog.Error("KeyboardMemory.Resolve: load failed", "error", err, "address", address)
		return nil, false
	}
	if n < 1 || n > len(payloads) || payloads[n-1] == "" {
		return nil, false
	}
	p, err := models.ParsePayload(payloads[n-1])
	if err != nil {
		slog.Warn("KeyboardMemory.Resolve: stored payload unreadable", "error", err, "address", address)
		return nil, false
	}
	if err := m.st.ClearChoices(ctx, address); err != nil {
		slog.Warn("KeyboardMemory.Resolve: clear failed", "error", err, "address", address)
	}
	return p, true
}

// PhoneBook translates between user ids and WhatsApp phones. Customers are
// identified by the id they registered with in the mini-app and reached on
// the phone bound to it; numbers with no user record are addressed directly.
type PhoneBook struct {
	dir PhoneDirectory
}

// NewPhoneBook creates a PhoneBook over dir.
func NewPhoneBook(dir PhoneDirectory) *PhoneBook {
	return &PhoneBook{dir: dir}
}

// AddressOf returns the canonical phone to send to for to.
func (b *PhoneBook) AddressOf(ctx context.Context, to string) (string, error) {
	u, err := b.dir.GetUser(ctx, to)
	if err != nil {
		return "", fmt.Errorf("look up recipient %s: %w", to, err)
	}
	if u != nil {
		if u.Phone == "" {
			return "", fmt.Errorf("%w: %s", ErrNoPhone, to)
		}
		return u.Phone, nil
	}
	return CanonicalPhone(to)
}

// UserOf returns the user id bound to phone, or phone itself when nobody
// claimed it.
func (b *PhoneBook) UserOf(ctx context.Context, phone string) string {
	u, err := b.dir.GetUserByPhone(ctx, phone)
	if err != nil {
		slog.Error("PhoneBook.UserOf: lookup failed", "error", err)
		return phone
	}
	if u == nil {
		return phone
	}
	return u.ID
}

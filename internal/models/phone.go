package models

import (
	"fmt"
	"strings"
)

// MinPhoneDigits is the shortest number accepted as a phone.
const MinPhoneDigits = 6

// NormalizePhone strips a "whatsapp:" prefix and every non-digit, returning
// the bare digits of an international number.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return "", fmt.Errorf("%w: no digits in %q", ErrInvalidPhone, raw)
	case len(digits) < MinPhoneDigits:
		return "", fmt.Errorf("%w: %q is too short", ErrInvalidPhone, digits)
	}
	return digits, nil
}

package util

import (
	"math/rand/v2"
)

const hexDigits = "0123456789abcdef"

// RandomHex returns n random lowercase hex digits. Not suitable for secrets.
func RandomHex(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[rand.IntN(len(hexDigits))]
	}
	return string(b)
}

// RandomMessageID returns a positive id in the int32 range. VK drops a second
// messages.send with the same random_id, so every send needs a fresh one.
func RandomMessageID() int64 {
	return int64(rand.Int32N(1<<31-1)) + 1
}

// GenerateRequestID returns an id like "req_3f9c0a1b2d4e5f60" for request logs.
func GenerateRequestID() string {
	return "req_" + RandomHex(16)
}

package vk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/SevereCloud/vksdk/v2/vkapps"
)

// Launch parameter verification errors.
var (
	ErrMissingSign   = errors.New("launch parameters have no sign")
	ErrInvalidSign   = errors.New("launch parameters sign mismatch")
	ErrMissingSecret = errors.New("mini-app secret key is not configured")
	ErrMissingUserID = errors.New("launch parameters have no vk_user_id")
)

const launchParamPrefix = "vk_"

// SignLaunchParams computes the sign VK puts on the vk_* parameters of query.
// The server only verifies; signing backs test fixtures and local tooling.
func SignLaunchParams(query url.Values, secret string) string {
	signed := url.Values{}
	for k, v := range query {
		if strings.HasPrefix(k, launchParamPrefix) {
			signed[k] = v
		}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed.Encode()))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyLaunchParams checks the sign of mini-app launch parameters and returns
// the vk_user_id they vouch for.
func VerifyLaunchParams(query url.Values, secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if query.Get("sign") == "" {
		return "", ErrMissingSign
	}
	ok, err := vkapps.NewParamsVerification(secret).Verify(&url.URL{RawQuery: query.Encode()})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSign, err)
	}
	if !ok {
		return "", ErrInvalidSign
	}
	userID := query.Get("vk_user_id")
	if userID == "" {
		return "", ErrMissingUserID
	}
	return userID, nil
}

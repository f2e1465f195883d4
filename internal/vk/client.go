// Package vk talks to the VK API: sending community messages, encoding inline
// keyboards, decoding Callback API events and verifying mini-app launch parameters.
package vk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/api/params"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/util"
)

// Constants for VK client configuration
const (
	// DefaultBaseURL is the VK API method endpoint.
	DefaultBaseURL = "https://api.vk.com/method/"
	// DefaultAPIVersion is the API version the bot was written against.
	DefaultAPIVersion = "5.131"
	// DefaultHTTPTimeout bounds a single API call.
	DefaultHTTPTimeout = 10 * time.Second
)

// IsMessagesDenied reports whether err means the user does not accept messages from the community.
func IsMessagesDenied(err error) bool {
	return errors.Is(err, api.ErrMessagesDenySend) || errors.Is(err, api.ErrMessagesUserBlocked)
}

// Opts holds configuration options for the VK client.
type Opts struct {
	Token      string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// Option defines a configuration option for the VK client.
type Option func(*Opts)

// WithToken sets the community access token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(u, "/") + "/" }
}

// WithAPIVersion overrides the API version.
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client sends messages on behalf of a VK community.
type Client struct {
	vk *api.VK
}

// NewClient creates a VK API client. A token is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, APIVersion: DefaultAPIVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vk api token must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	vk := api.NewVK(cfg.Token)
	vk.MethodURL = cfg.BaseURL
	vk.Version = cfg.APIVersion
	vk.Client = cfg.HTTPClient
	slog.Debug("VK client created", "base_url", cfg.BaseURL, "api_version", cfg.APIVersion)
	return &Client{vk: vk}, nil
}

// SendMessage calls messages.send for a single user. keyboardJSON may be empty.
// It returns the id of the sent message.
func (c *Client) SendMessage(ctx context.Context, userID, text, keyboardJSON string) (int64, error) {
	peerID, err := strconv.Atoi(userID)
	if err != nil {
		return 0, fmt.Errorf("invalid vk user id %q: %w", userID, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b := params.NewMessagesSendBuilder()
	b.PeerID(peerID)
	b.Message(text)
	b.RandomID(int(util.RandomMessageID()))
	if keyboardJSON != "" {
		b.Keyboard(keyboardJSON)
	}

	id, err := c.vk.MessagesSend(b.Params)
	if err != nil {
		slog.Error("VK SendMessage failed", "error", err, "user_id", userID)
		return 0, fmt.Errorf("messages.send: %w", err)
	}
	slog.Debug("VK message sent", "user_id", userID, "message_id", id)
	return int64(id), nil
}

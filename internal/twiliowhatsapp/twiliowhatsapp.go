// Package twiliowhatsapp delivers bot messages to WhatsApp through the Twilio
// Messages API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MaxBodyRunes is the longest body Twilio accepts for a single WhatsApp message.
const MaxBodyRunes = 1600

const addressPrefix = "whatsapp:"

// Sender sends plain text WhatsApp messages.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID     string
	AuthToken      string
	FromWhats      string
	StatusCallback string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the shop's sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithStatusCallback asks Twilio to report delivery status changes to url.
func WithStatusCallback(url string) Option {
	return func(o *Opts) { o.StatusCallback = url }
}

// Client sends shop messages from a single Twilio WhatsApp sender.
type Client struct {
	rest           *twilio.RestClient
	from           string
	statusCallback string
}

var _ Sender = (*Client)(nil)

// NewClient builds a client. Account SID, auth token and sender number are required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	var missing []string
	if cfg.AccountSID == "" {
		missing = append(missing, "account SID")
	}
	if cfg.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if cfg.FromWhats == "" {
		missing = append(missing, "sender number")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("twilio client: missing %s", strings.Join(missing, ", "))
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	slog.Debug("Twilio client created", "from", cfg.FromWhats, "status_callback", cfg.StatusCallback != "")
	return &Client{
		rest:           rest,
		from:           WhatsAppAddress(cfg.FromWhats),
		statusCallback: cfg.StatusCallback,
	}, nil
}

// WhatsAppAddress turns a phone number into a Twilio WhatsApp address. Bare
// digits get a leading "+".
func WhatsAppAddress(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), addressPrefix)
	if number != "" && !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return addressPrefix + number
}

// SplitBody cuts body into parts of at most limit runes, preferring line
// breaks so keyboard options are never split across messages.
func SplitBody(body string, limit int) []string {
	runes := []rune(body)
	if limit <= 0 || len(runes) <= limit {
		return []string{body}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if part := strings.TrimRight(string(runes[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if rest := string(runes); strings.TrimSpace(rest) != "" {
		parts = append(parts, rest)
	}
	return parts
}

// SendMessage delivers body to the given number, split into several messages
// when it exceeds MaxBodyRunes. The REST SDK takes no context, so ctx is only
// checked between parts.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	parts := SplitBody(body, MaxBodyRunes)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		sid, err := c.create(to, part)
		if err != nil {
			slog.Error("Client.SendMessage: twilio rejected message", "to", to, "part", i+1, "parts", len(parts), "error", err)
			return fmt.Errorf("failed to send message to %s: %w", to, err)
		}
		slog.Debug("Client.SendMessage: sent", "to", to, "sid", sid, "part", i+1, "parts", len(parts))
	}
	return nil
}

func (c *Client) create(to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.from)
	params.SetBody(body)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}
	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("twilio returned no message sid")
	}
	return *resp.Sid, nil
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, fails every send.
	Err error
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

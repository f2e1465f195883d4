// Package api provides the HTTP surface of the flower shop bot.
//
// It serves the VK Callback API and Twilio webhooks, the cron triggers for the
// reminder and cleanup jobs, the staff endpoints and the VK mini-app endpoints
// customers use to manage their events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/cleanup"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/util"
)

// Server timeouts and limits.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultJobTimeout bounds a cron-triggered run; a reminder run paces its
	// sends so it needs far more than a regular request.
	DefaultJobTimeout = 5 * time.Minute
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes = 1 << 20
	// MaxEventsPerUser caps the events one customer may keep.
	MaxEventsPerUser = 10
)

// Inbox accepts chat messages received by a webhook.
type Inbox interface {
	Emit(msg models.InboundMessage) bool
}

// ReminderRunner runs one reminder pass.
type ReminderRunner interface {
	Run(ctx context.Context, now time.Time) (reminder.Summary, error)
}

// CleanupRunner runs one maintenance pass.
type CleanupRunner interface {
	Run(ctx context.Context, now time.Time) (cleanup.Result, error)
}

// Opts holds configuration options for the Server.
type Opts struct {
	VKInbox            Inbox
	VKGroupID          int64
	VKConfirmationCode string
	VKCallbackSecret   string
	VKSecretKey        string
	TwilioWebhook      http.HandlerFunc
	Reminders          ReminderRunner
	Cleaner            CleanupRunner
	CronSecret         string
	AdminToken         string
	JobTimeout         time.Duration
	Clock              func() time.Time
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithVKCallback enables POST /vk/callback for the given community.
func WithVKCallback(inbox Inbox, groupID int64, confirmationCode, secret string) Option {
	return func(o *Opts) {
		o.VKInbox = inbox
		o.VKGroupID = groupID
		o.VKConfirmationCode = confirmationCode
		o.VKCallbackSecret = secret
	}
}

// WithVKSecretKey sets the mini-app secret used to verify launch parameters.
func WithVKSecretKey(key string) Option {
	return func(o *Opts) { o.VKSecretKey = key }
}

// WithTwilioWebhook enables POST /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithJobs enables the cron triggers, guarded by secret.
func WithJobs(reminders ReminderRunner, cleaner CleanupRunner, secret string) Option {
	return func(o *Opts) {
		o.Reminders = reminders
		o.Cleaner = cleaner
		o.CronSecret = secret
	}
}

// WithAdminToken enables the staff endpoints, guarded by token.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithJobTimeout overrides DefaultJobTimeout.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Opts) { o.JobTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	st   store.Store
	opts Opts
	mux  *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{JobTimeout: DefaultJobTimeout, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Server{st: st, opts: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.healthHandler)

	if s.opts.VKInbox != nil {
		s.mux.HandleFunc("POST /vk/callback", s.vkCallbackHandler)
	}
	if s.opts.TwilioWebhook != nil {
		s.mux.HandleFunc("POST /twilio/webhook", s.opts.TwilioWebhook)
	}

	s.mux.HandleFunc("POST /cron/send-reminders", s.requireBearer(s.opts.CronSecret, s.sendRemindersHandler))
	s.mux.HandleFunc("POST /cron/cleanup", s.requireBearer(s.opts.CronSecret, s.cleanupHandler))

	s.mux.HandleFunc("GET /admin/preorders", s.requireBearer(s.opts.AdminToken, s.listPreordersHandler))
	s.mux.HandleFunc("PATCH /admin/preorders/{id}", s.requireBearer(s.opts.AdminToken, s.updatePreorderHandler))
	s.mux.HandleFunc("GET /admin/settings", s.requireBearer(s.opts.AdminToken, s.getSettingsHandler))
	s.mux.HandleFunc("PUT /admin/settings", s.requireBearer(s.opts.AdminToken, s.updateSettingsHandler))

	s.mux.HandleFunc("GET /miniapp/events", s.withLaunchParams(s.listEventsHandler))
	s.mux.HandleFunc("POST /miniapp/events", s.withLaunchParams(s.createEventHandler))
	s.mux.HandleFunc("DELETE /miniapp/events/{id}", s.withLaunchParams(s.deleteEventHandler))
	s.mux.HandleFunc("GET /miniapp/user", s.withLaunchParams(s.getUserHandler))
	s.mux.HandleFunc("POST /miniapp/user", s.withLaunchParams(s.upsertUserHandler))
	s.mux.HandleFunc("OPTIONS /miniapp/", preflightHandler)
}

// Handler returns the root handler with request logging and body limits.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// RequestIDHeader is echoed back, or generated when the caller sent none.
const RequestIDHeader = "X-Request-ID"

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = util.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, reqID)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request served", "requestID", reqID, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: s.opts.JobTimeout + DefaultWriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("Server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"time": s.opts.Clock().UTC().Format(time.RFC3339),
	}))
}

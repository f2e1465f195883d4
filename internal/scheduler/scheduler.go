// Package scheduler runs the bot's periodic jobs.
//
// Jobs (such as the daily reminder run and the nightly cleanup) are scheduled
// with cron expressions evaluated in the shop's local time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a periodic task. It receives the scheduler's context and the tick time.
type Job func(ctx context.Context, now time.Time) error

// Opts holds configuration options for the Scheduler.
type Opts struct {
	Location *time.Location
}

// Option defines a configuration option for the Scheduler.
type Option func(*Opts)

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithUTCOffset evaluates cron expressions at a fixed offset from UTC.
func WithUTCOffset(offset time.Duration) Option {
	return func(o *Opts) { o.Location = FixedZone(offset) }
}

// FixedZone returns a zone named after its offset, e.g. UTC+05:00.
func FixedZone(offset time.Duration) *time.Location {
	sign := "+"
	abs := offset
	if offset < 0 {
		sign, abs = "-", -offset
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, int(abs.Hours()), int(abs.Minutes())%60)
	return time.FixedZone(name, int(offset.Seconds()))
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	ids    map[string]cron.EntryID
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.UTC}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, ids: make(map[string]cron.EntryID)}
}

// ValidateExpr reports whether expr is a schedule AddJob would accept.
func ValidateExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddJob schedules job under name using the provided cron expression,
// replacing any job of the same name. It returns an error if the expression
// is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	id, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	if old, ok := s.ids[name]; ok {
		s.cron.Remove(old)
	}
	s.ids[name] = id
	s.mu.Unlock()
	slog.Info("Scheduler.AddJob", "name", name, "expr", expr, "next", s.cron.Entry(id).Next)
	return nil
}

// RemoveJob unschedules the named job. It reports whether the job existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.ids, name)
	return true
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	slog.Debug("Scheduler job started", "name", name)
	if err := job(s.ctx, start); err != nil {
		slog.Error("Scheduler job failed", "name", name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Info("Scheduler job finished", "name", name, "elapsed", time.Since(start))
}

// Stop stops the cron scheduler, cancels running jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

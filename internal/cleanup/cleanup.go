// Package cleanup archives finished preorders and prunes abandoned dialogs
// and old inbound dedup records.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retention windows.
const (
	DefaultArchiveAfterMonths = 3
	DefaultStateTTL           = 24 * time.Hour
	DefaultDedupTTL           = 7 * 24 * time.Hour
)

// Repo is the maintenance subset of the store.
type Repo interface {
	ArchivePreorders(ctx context.Context, olderThan time.Time) (int, error)
	PruneConversationStates(ctx context.Context, olderThan time.Time) (int, error)
	PruneInbound(ctx context.Context, olderThan time.Time) (int, error)
}

// Result reports what one run changed.
type Result struct {
	Archived int `json:"archived"`
	Pruned   int `json:"pruned"`
	Forgot   int `json:"dedup_pruned"`
}

// Opts holds configuration options for the Cleaner.
type Opts struct {
	ArchiveAfterMonths int
	StateTTL           time.Duration
	DedupTTL           time.Duration
}

// Option defines a configuration option for the Cleaner.
type Option func(*Opts)

// WithArchiveAfterMonths sets how long finished preorders stay visible.
func WithArchiveAfterMonths(n int) Option {
	return func(o *Opts) { o.ArchiveAfterMonths = n }
}

// WithStateTTL sets how long an idle dialog is kept.
func WithStateTTL(d time.Duration) Option {
	return func(o *Opts) { o.StateTTL = d }
}

// WithDedupTTL sets how long inbound message ids are remembered.
func WithDedupTTL(d time.Duration) Option {
	return func(o *Opts) { o.DedupTTL = d }
}

// Cleaner runs the periodic maintenance job.
type Cleaner struct {
	repo Repo
	opts Opts
}

// NewCleaner creates a Cleaner.
func NewCleaner(repo Repo, opts ...Option) *Cleaner {
	cfg := Opts{ArchiveAfterMonths: DefaultArchiveAfterMonths, StateTTL: DefaultStateTTL, DedupTTL: DefaultDedupTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ArchiveAfterMonths <= 0 {
		cfg.ArchiveAfterMonths = DefaultArchiveAfterMonths
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	return &Cleaner{repo: repo, opts: cfg}
}

// Run archives completed or cancelled preorders untouched for the archive
// window, deletes conversation states idle longer than the state TTL and
// forgets inbound message ids past the dedup TTL. Every step runs even if an
// earlier one fails; the first error is returned.
func (c *Cleaner) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	archiveBefore := now.AddDate(0, -c.opts.ArchiveAfterMonths, 0)
	pruneBefore := now.Add(-c.opts.StateTTL)

	archived, archiveErr := c.repo.ArchivePreorders(ctx, archiveBefore)
	if archiveErr != nil {
		slog.Error("Cleaner.Run: archive failed", "error", archiveErr, "olderThan", archiveBefore)
	}
	res.Archived = archived

	pruned, pruneErr := c.repo.PruneConversationStates(ctx, pruneBefore)
	if pruneErr != nil {
		slog.Error("Cleaner.Run: prune failed", "error", pruneErr, "olderThan", pruneBefore)
	}
	res.Pruned = pruned

	forgetBefore := now.Add(-c.opts.DedupTTL)
	forgot, dedupErr := c.repo.PruneInbound(ctx, forgetBefore)
	if dedupErr != nil {
		slog.Error("Cleaner.Run: dedup prune failed", "error", dedupErr, "olderThan", forgetBefore)
	}
	res.Forgot = forgot

	slog.Info("Cleaner.Run completed", "archived", res.Archived, "pruned", res.Pruned, "dedupPruned", res.Forgot)
	switch {
	case archiveErr != nil:
		return res, fmt.Errorf("archive preorders: %w", archiveErr)
	case pruneErr != nil:
		return res, fmt.Errorf("prune conversation states: %w", pruneErr)
	case dedupErr != nil:
		return res, fmt.Errorf("prune inbound dedup: %w", dedupErr)
	}
	return res, nil
}

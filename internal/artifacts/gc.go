package artifacts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ReferencedHashes returns every artifact hash currently referenced by
// live session state. The sweep deletes anything in the repository but
// absent from this set.
type ReferencedHashes func(ctx context.Context) (map[string]bool, error)

// GC periodically deletes blobs, and their metadata rows, that no event
// in any session references anymore. It never runs inline with an
// append — deletion happens on a background cron schedule instead of
// synchronously when a session is deleted.
type GC struct {
	blobs      *LocalStore
	repo       Repository
	referenced ReferencedHashes
	logger     *slog.Logger
	cron       *cron.Cron
}

// NewGC constructs a GC sweep. logger may be nil, in which case
// slog.Default is used.
func NewGC(blobs *LocalStore, repo Repository, referenced ReferencedHashes, logger *slog.Logger) *GC {
	if logger == nil {
		logger = slog.Default()
	}
	return &GC{blobs: blobs, repo: repo, referenced: referenced, logger: logger}
}

// Start schedules Sweep on the given standard 5-field cron spec. The
// sweep runs in the background until Stop is called.
func (g *GC) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := g.Sweep(context.Background()); err != nil {
			g.logger.Error("artifact gc sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule artifact gc: %w", err)
	}
	g.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (g *GC) Stop() {
	if g.cron != nil {
		<-g.cron.Stop().Done()
	}
}

// Sweep deletes every known artifact hash not present in the live
// referenced set, removing both its blob and its metadata row.
func (g *GC) Sweep(ctx context.Context) error {
	live, err := g.referenced(ctx)
	if err != nil {
		return fmt.Errorf("resolve referenced hashes: %w", err)
	}

	all, err := g.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list artifact metadata: %w", err)
	}

	deleted := 0
	for _, meta := range all {
		if live[meta.Hash] {
			continue
		}
		if err := g.blobs.Delete(ctx, meta.Hash); err != nil {
			g.logger.Warn("artifact gc: failed to delete blob", "hash", meta.Hash, "error", err)
			continue
		}
		if err := g.repo.Delete(ctx, meta.Hash); err != nil {
			g.logger.Warn("artifact gc: failed to delete metadata", "hash", meta.Hash, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		g.logger.Info("artifact gc swept blobs", "deleted", deleted)
	}
	return nil
}

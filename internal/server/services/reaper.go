package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/dbx"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
)

const defaultReaperBatchSize = 500

// Reaper deletes ledger records that can no longer verify: expired ones and
// used ones past the retention window.
type Reaper struct {
	options
	repomanager  repomanager.RepositoryManager
	retention    time.Duration
	interval     time.Duration
	batchSize    int
	storeTimeout time.Duration
}

func NewReaper(m repomanager.RepositoryManager, cfg *config.Config, opts ...Option) (*Reaper, error) {
	if cfg.ReaperInterval <= 0 {
		return nil, fmt.Errorf("reaper interval must be positive, got %s", cfg.ReaperInterval)
	}
	if cfg.UsedRetention < cfg.GraceWindow {
		return nil, fmt.Errorf("used retention %s is shorter than the grace window %s", cfg.UsedRetention, cfg.GraceWindow)
	}
	batch := cfg.ReaperBatchSize
	if batch <= 0 {
		batch = defaultReaperBatchSize
	}
	r := &Reaper{
		options:      newOptions(opts),
		repomanager:  m,
		retention:    cfg.UsedRetention,
		interval:     cfg.ReaperInterval,
		batchSize:    batch,
		storeTimeout: cfg.StoreTimeout,
	}
	r.log = r.log.With("module", "reaper")
	return r, nil
}

// Sweep deletes stale records batch by batch and returns how many went.
// Each delete is conditional on the record still looking as it was listed;
// a record changed meanwhile is skipped and reconsidered by the next sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	usedBefore := now.Add(-r.retention)
	total := 0

	for {
		deleted, listed, err := r.sweepBatch(ctx, now, usedBefore)
		total += deleted
		if err != nil {
			r.metrics.Reaped(total)
			r.metrics.StorageError("reap")
			return total, dbx.StorageError("reap", err)
		}
		if listed < r.batchSize || deleted == 0 {
			break
		}
	}

	r.metrics.Reaped(total)
	if total > 0 {
		r.log.Info(ctx, "stale magic links reaped", "count", total)
	}
	return total, nil
}

func (r *Reaper) sweepBatch(ctx context.Context, now, usedBefore time.Time) (deleted, listed int, err error) {
	ctx, cancel := dbx.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	ledger := r.repomanager.MagicLinks()
	stale, err := ledger.ListStale(ctx, now, usedBefore, r.batchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, link := range stale {
		ok, err := ledger.DeleteIfUnchanged(ctx, link)
		if err != nil {
			return deleted, len(stale), err
		}
		if ok {
			deleted++
		} else {
			r.log.Debug(ctx, "reap skipped, record changed", "link_id", link.ID)
		}
	}
	return deleted, len(stale), nil
}

// Run sweeps on every tick until ctx is done. Sweep errors are logged and
// the schedule continues.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error(ctx, "reaper sweep failed", "error", err)
			}
		}
	}
}

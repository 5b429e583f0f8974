package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// PruneStore deletes confirmed journal entries.
type PruneStore interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JournalPruner runs a daily prune of old journal entries.
type JournalPruner struct {
	store     PruneStore
	retainFor time.Duration
	cron      *cron.Cron
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewJournalPruner creates a pruner keeping entries for retainFor.
func NewJournalPruner(store PruneStore, retainFor time.Duration, logger zerolog.Logger) *JournalPruner {
	return &JournalPruner{
		store:     store,
		retainFor: retainFor,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With().Str("component", "journal_pruner").Logger(),
	}
}

// Start schedules the prune daily at 03:00 UTC.
func (p *JournalPruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("journal pruner already running")
	}

	if _, err := p.cron.AddFunc("0 3 * * *", p.prune); err != nil {
		return err
	}

	p.cron.Start()
	p.running = true

	p.logger.Info().
		Dur("retain_for", p.retainFor).
		Msg("journal pruner started (daily at 03:00 UTC)")

	return nil
}

// Stop stops the pruner. The returned context is done once a running prune
// has finished.
func (p *JournalPruner) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	p.running = false
	p.logger.Info().Msg("stopping journal pruner")
	return p.cron.Stop()
}

func (p *JournalPruner) prune() {
	ctx := context.Background()

	deleted, err := p.store.Prune(ctx, p.retainFor)
	if err != nil {
		p.logger.Error().Err(err).Msg("journal prune failed")
		return
	}

	p.logger.Info().
		Int64("deleted_rows", deleted).
		Dur("retain_for", p.retainFor).
		Msg("journal prune completed")
}

// RunNow prunes immediately.
func (p *JournalPruner) RunNow() {
	p.prune()
}

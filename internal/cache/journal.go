package cache

import (
	"context"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/storage"
	"github.com/sirupsen/logrus"
)

// Journal records executions to whichever backends are configured. Both may
// be nil. Failures are logged and never returned to the trading path.
type Journal struct {
	cache  storage.ExecutionCache
	store  storage.ExecutionStore
	logger *logrus.Logger
}

func NewJournal(c storage.ExecutionCache, s storage.ExecutionStore, logger *logrus.Logger) *Journal {
	if logger == nil {
		logger = logrus.New()
	}
	return &Journal{cache: c, store: s, logger: logger}
}

func (j *Journal) Record(ctx context.Context, ev *models.ExecutionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	log := j.logger.WithFields(logrus.Fields{
		"signature": ev.Signature,
		"strategy":  ev.Strategy,
		"stage":     ev.Stage,
	})

	if j.cache != nil {
		if err := j.cache.AddRecentExecution(ctx, ev); err != nil {
			log.WithError(err).Warn("cache recent execution failed")
		}
		if err := j.cache.PublishExecution(ctx, ev); err != nil {
			log.WithError(err).Warn("publish execution failed")
		}
	}
	if j.store != nil {
		if err := j.store.InsertExecution(ctx, ev); err != nil {
			log.WithError(err).Warn("store execution failed")
		}
	}
}

// Recent reads the recent list; empty when no cache is configured
func (j *Journal) Recent(ctx context.Context, limit int64) ([]*models.ExecutionEvent, error) {
	if j.cache == nil {
		return []*models.ExecutionEvent{}, nil
	}
	return j.cache.GetRecentExecutions(ctx, limit)
}

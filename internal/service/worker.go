package service

import (
	"context"
	"time"

	"emergency-response/internal/engine"

	"github.com/sirupsen/logrus"
)

// PollWorker drives the feed and notification fetches on a fixed interval
// for the lifetime of the daemon.
type PollWorker struct {
	eng      *engine.Engine
	interval time.Duration
	logger   *logrus.Logger
}

func NewPollWorker(eng *engine.Engine, interval time.Duration, logger *logrus.Logger) *PollWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PollWorker{
		eng:      eng,
		interval: interval,
		logger:   logger,
	}
}

func (w *PollWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("poll worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PollWorker) tick(ctx context.Context) {
	if _, err := w.eng.Refresh(ctx); err != nil {
		w.logger.WithError(err).Error("feed poll failed")
	}
	if _, err := w.eng.Notifications(ctx); err != nil {
		w.logger.WithError(err).Error("notification poll failed")
	}
}

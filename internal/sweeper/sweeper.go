// Package sweeper runs scheduled background maintenance: reclaiming idle
// per-user worker slots and expiring in-process duplicate-window keys.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/logger"
)

// Task is one maintenance pass. It returns how many items were reclaimed.
type Task func() int

// Start launches the cron scheduler and returns a cancel func. A disabled
// sweeper returns a no-op cancel.
func Start(ctx context.Context, enabled bool, cronExpr string, tasks ...Task) (context.CancelFunc, error) {
	if !enabled {
		logger.Info("sweeper_disabled")
		return func() {}, nil
	}
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweeper_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, tasks)
	logger.Info("sweeper_started", "cron", cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
func runScheduler(ctx context.Context, cronExpr string, tasks []Task) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		}

		reclaimed := 0
		for _, t := range tasks {
			reclaimed += t()
		}
		logger.Debug("sweep_complete", "reclaimed", reclaimed)
	}
}

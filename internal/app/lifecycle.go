package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/internal/session"
)

const closeParallelism = 8

// closeSessions tears down every uncommitted flow. Their credential files are
// discarded: the matching steps cannot be resumed after a restart.
func closeSessions(ctx context.Context, cache *session.Cache) error {
	pending := cache.Drain()
	if len(pending) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(closeParallelism)
	for _, s := range pending {
		g.Go(func() error {
			return s.Close(ctx, true)
		})
	}
	err := g.Wait()
	if err != nil {
		logger.Warn(ctx, component, "sessions.close_failed", slog.Int("count", len(pending)), logger.Err(err))
	} else {
		logger.Info(ctx, component, "sessions.closed", slog.Int("count", len(pending)))
	}
	return err
}

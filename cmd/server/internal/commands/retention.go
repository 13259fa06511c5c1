package commands

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kookbook/kookbook/internal/models"
	"github.com/kookbook/kookbook/internal/store"
	"github.com/kookbook/kookbook/internal/telemetry"
)

// pruneActivity removes activity entries older than the retention period.
func pruneActivity(ctx context.Context, activity store.ActivityStore, now time.Time) (int, error) {
	removed, err := activity.Prune(ctx, now.Add(-models.ActivityRetention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		telemetry.GetMetrics().RecordActivityPruned(ctx, removed)
		log.Info().Int("removed", removed).Msg("Pruned expired activity entries")
	}
	return removed, nil
}

// startActivityRetention prunes once, then every interval until ctx is
// cancelled or the returned stop function is called.
func startActivityRetention(ctx context.Context, activity store.ActivityStore, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := pruneActivity(ctx, activity, time.Now()); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Failed to prune activity")
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("Activity retention stopped")
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

package harvester

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// blockedRetryUnit is the linear backoff step for rate-limit blocks on
// the direct-save path: attempt N waits N of these.
const blockedRetryUnit = 5 * time.Second

// SaveDirectly is the immediate (non-queued) save path. Only a Blocked
// outcome is retried, with a linear attempt-scaled wait; every other
// failure is returned on the spot since a bare retry is unlikely to help.
// Transport failures are caught here and reduced to a failure message.
func (o *Orchestrator) SaveDirectly(ctx context.Context, target harvest.Target, cookie string, maxRetries int) harvest.CrawlOutcome {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var last harvest.CrawlOutcome
	for attempt := 1; attempt <= maxRetries; attempt++ {
		outcome, err := o.Crawl(ctx, target, cookie)
		if err != nil {
			return harvest.CrawlOutcome{
				Success: false,
				Message: err.Error(),
			}
		}
		if outcome.Success {
			return outcome
		}
		last = outcome
		if outcome.Class != harvest.FailureBlocked {
			return outcome
		}
		if attempt < maxRetries {
			delay := time.Duration(attempt) * blockedRetryUnit
			o.logger.Info("blocked by upstream, backing off",
				zap.String("kind", string(target.Kind)),
				zap.String("source_id", target.SourceID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			o.pauser.Pause(ctx, delay)
			if ctx.Err() != nil {
				return last
			}
		}
	}
	return last
}

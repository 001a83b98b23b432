package llmgateway

import (
	"context"
	"math"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
)

// WithStageRetry implements retry layer 2: a stage wraps
// its own Gateway call plus schema validation in this helper, which
// retries only on errors reported via shouldRetry (typically "was this a
// parse/schema failure"), up to StageMaxAttempts times (at least once)
// with exponential backoff between StageMinDelay and StageMaxDelay. On exhaustion it
// returns the last error, which the caller treats as provider-permanent
// for that call.
func WithStageRetry(ctx context.Context, cfg config.RetryConfig, shouldRetry func(error) bool, fn func() error) error {
	maxAttempts := cfg.StageMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := stageBackoff(cfg, attempt)
		if sleepErr := ctxSleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

func stageBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.StageMinDelay) * math.Pow(2, float64(attempt)))
	if d > cfg.StageMaxDelay {
		d = cfg.StageMaxDelay
	}
	if d < cfg.StageMinDelay {
		d = cfg.StageMinDelay
	}
	return d
}

// IsParseError reports whether err (or a wrapped cause) is a KindParse
// Gateway error — the common shouldRetry predicate for stage-layer retry.
func IsParseError(err error) bool {
	return IsKind(err, KindParse)
}

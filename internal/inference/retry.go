package inference

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/metrics"
)

type retrying struct {
	next       Gateway
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// WithRetry retries transient failures up to maxRetries times, doubling the wait each attempt.
// The wait never outlives ctx.
func WithRetry(next Gateway, maxRetries int, backoff time.Duration, logger *zap.Logger) Gateway {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &retrying{next: next, maxRetries: maxRetries, backoff: backoff, logger: logger.Named("inference")}
}

func (r *retrying) Generate(ctx context.Context, prompt, modelID string) (Image, error) {
	wait := r.backoff
	for attempt := 0; ; attempt++ {
		img, err := r.next.Generate(ctx, prompt, modelID)
		if err == nil {
			return img, nil
		}
		failure := Normalize(err)
		if attempt >= r.maxRetries || !Retryable(failure.Reason) {
			return Image{}, failure
		}

		r.logger.Warn("Retrying inference",
			zap.String("model", modelID),
			zap.String("reason", failure.Reason),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))
		metrics.IncInferenceRetry(failure.Reason)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Image{}, &Error{Reason: ReasonTimeout, Err: ctx.Err()}
		case <-timer.C:
		}
		wait *= 2
	}
}

// Balance forwards to the wrapped gateway when it reports an account balance.
func (r *retrying) Balance(ctx context.Context) (float64, error) {
	if b, ok := r.next.(BalanceReporter); ok {
		return b.Balance(ctx)
	}
	return 0, ErrNoBalance
}

package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles an underlying notifier. Transports such as the
// Telegram Bot API reject bursts above a per-second quota.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewRateLimited(next Notifier, perSecond float64) *RateLimited {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Notify(ctx context.Context, n Notification) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	return r.next.Notify(ctx, n)
}

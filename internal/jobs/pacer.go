package jobs

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces out catalog calls. The first Wait returns immediately.
type pacer struct {
	lim *rate.Limiter
}

func newPacer(every time.Duration) *pacer {
	if every <= 0 {
		return &pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &pacer{lim: rate.NewLimiter(rate.Every(every), 1)}
}

func (p *pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

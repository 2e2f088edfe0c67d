package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	logx "stayconnect/pkg/logx"
)

// dedupCache maps alert keys to suppress-until times. It holds at most max
// live entries, evicting the one expiring first.
type dedupCache struct {
	mu    sync.Mutex
	max   int
	until map[string]time.Time
}

func newDedupCache() *dedupCache { return &dedupCache{until: map[string]time.Time{}} }

func (c *dedupCache) setMax(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.max = n
}

func (c *dedupCache) suppressed(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.until[key]
	return ok && now.Before(u)
}

func (c *dedupCache) mark(key string, until, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[key] = until
	for k, u := range c.until {
		if !now.Before(u) {
			delete(c.until, k)
		}
	}
	for c.max > 0 && len(c.until) > c.max {
		var (
			oldest string
			at     time.Time
		)
		for k, u := range c.until {
			if oldest == "" || u.Before(at) {
				oldest, at = k, u
			}
		}
		delete(c.until, oldest)
	}
}

// dedupKey hashes the alert key, or the text for keyless alerts.
func dedupKey(a Alert) string {
	src := a.Key
	if src == "" {
		src = a.Text
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(src))
	return fmt.Sprintf("%x", h.Sum64())
}

// persistMarks writes dedup marks to storage until the channel closes.
func (s *Service) persistMarks(ctx context.Context, marks <-chan dedupWrite) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-marks:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(writeCtx, w.key, w.until); err != nil {
				s.log.Debug("dedup mark not persisted", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

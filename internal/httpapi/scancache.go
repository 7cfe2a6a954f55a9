package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
)

// scanCache rate-limits GET /api/networks to one real scan per window,
// serving the previous result to requests that land inside it (spec §4.G).
type scanCache struct {
	window time.Duration

	mu       sync.Mutex
	fetching bool
	done     chan struct{}
	last     []netmgr.WiFiNetwork
	lastErr  error
	lastAt   time.Time
}

func newScanCache(window time.Duration) *scanCache {
	return &scanCache{window: window}
}

func (c *scanCache) get(ctx context.Context, net netmgr.Adapter) ([]netmgr.WiFiNetwork, error) {
	c.mu.Lock()
	if time.Since(c.lastAt) < c.window && !c.lastAt.IsZero() {
		last, err := c.last, c.lastErr
		c.mu.Unlock()
		return last, err
	}
	if c.fetching {
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
		last, err := c.last, c.lastErr
		c.mu.Unlock()
		return last, err
	}
	c.fetching = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	networks, err := net.Scan(ctx)

	c.mu.Lock()
	c.last, c.lastErr, c.lastAt = networks, err, time.Now()
	c.fetching = false
	close(c.done)
	c.mu.Unlock()

	return networks, err
}

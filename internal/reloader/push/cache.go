package push

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Cache is the push reloader state for one watch session. The zero value
// is a fresh session.
//
// Started flips to true once the session has signed in, sent its first
// update and started the update interval. UserID is set by the first
// successful sign-in and never cleared. The interval is started at most
// once and runs until Stop is called.
type Cache struct {
	mu      sync.Mutex
	Started bool
	UserID  string

	interval *interval
	stopped  bool
}

// NewCache returns a cache for a fresh session.
func NewCache() *Cache {
	return &Cache{}
}

// FirstRun reports whether the session still has to sign in or send its
// first update.
func (c *Cache) FirstRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Started
}

func (c *Cache) user() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.UserID, c.UserID != ""
}

func (c *Cache) setUser(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserID = uid
}

func (c *Cache) markStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Started = true
}

// startInterval runs tick every period until Stop. It is a no-op when an
// interval was already started or the cache has been stopped.
func (c *Cache) startInterval(clk clock.WithTicker, period time.Duration, tick func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interval != nil || c.stopped {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	iv := &interval{
		ticker: clk.NewTicker(period),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.interval = iv

	go iv.run(ctx, tick)
	return true
}

// Active reports whether the update interval is running.
func (c *Cache) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval != nil && !c.stopped
}

// Stop cancels the update interval and waits for an in-flight tick to
// finish. The cache keeps Started and UserID, so a later build does not
// sign in again and does not restart the interval.
func (c *Cache) Stop() {
	c.mu.Lock()
	iv := c.interval
	c.stopped = true
	c.mu.Unlock()

	if iv == nil {
		return
	}
	iv.stop()
}

type interval struct {
	ticker clock.Ticker
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (iv *interval) run(ctx context.Context, tick func(ctx context.Context)) {
	defer close(iv.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-iv.ticker.C():
			tick(ctx)
		}
	}
}

func (iv *interval) stop() {
	iv.once.Do(func() {
		iv.ticker.Stop()
		iv.cancel()
	})
	<-iv.done
}

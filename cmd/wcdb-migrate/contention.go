package main

import (
	"context"
	"sync"
	"time"

	"github.com/Meiliangjun/wcdb"
)

// contentionWindow is how long after foreign lock activity migration ticks
// keep backing off.
const contentionWindow = 100 * time.Millisecond

// contentionMonitor subscribes to the hub's lock events and tracks when a
// connection other than ours last touched a database's locks, so the
// migration loop can yield the writer to application traffic.
type contentionMonitor struct {
	mu          sync.Mutex
	own         map[string]struct{}
	lastForeign time.Time
}

func newContentionMonitor() *contentionMonitor {
	return &contentionMonitor{own: make(map[string]struct{})}
}

// install registers the monitor on the hub. Shm-lock change events carry a
// connection identifier, which is what lets us tell our own handles apart
// from application connections.
func (c *contentionMonitor) install() {
	wcdb.Shared().SetNotificationForLockEvent("wcdb-migrate",
		nil,
		nil,
		nil,
		func(path, identifier string, sharedMask, exclusiveMask int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ours := c.own[identifier]; !ours {
				c.lastForeign = time.Now()
			}
		},
	)
}

// adopt marks a handle identifier as one of our own migration connections.
func (c *contentionMonitor) adopt(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.own[identifier] = struct{}{}
}

// backOff sleeps at least interval between migration ticks, and keeps
// sleeping while foreign lock activity is recent.
func (c *contentionMonitor) backOff(ctx context.Context, interval time.Duration) {
	for {
		if interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
		c.mu.Lock()
		contended := !c.lastForeign.IsZero() && time.Since(c.lastForeign) < contentionWindow
		c.mu.Unlock()
		if !contended {
			return
		}
		if interval == 0 {
			interval = contentionWindow
		}
	}
}

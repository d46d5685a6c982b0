package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is a ports.Clock. A zero Clock follows wall time; once Set it stays
// frozen until Advance or Set moves it.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now.UTC()
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	if c.now.IsZero() {
		c.now = time.Now().UTC()
	}
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// IDGenerator issues random UUIDs for pending operations.
type IDGenerator struct{}

func (IDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

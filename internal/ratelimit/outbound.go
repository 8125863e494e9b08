// Package ratelimit provides the outbound per-room message throttle and the
// per-command cooldown tracker.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the outbound throttle.
type Config struct {
	// Limit is the number of messages allowed per window.
	Limit int `yaml:"limit"`
	// Window is the length of the throttle window.
	Window time.Duration `yaml:"window"`
}

// DefaultConfig allows a smoothed 3 messages per second per room.
func DefaultConfig() Config {
	return Config{Limit: 3, Window: time.Second}
}

// Outbound is a smoothed token-window throttle keyed by room. Each room
// carries a floating "next allowed" instant that advances by window/limit
// per send; a send whose advanced instant would land more than one full
// window in the future is blocked. Idle rooms are never penalized: a
// counter that has fallen behind the clock is reset forward.
//
// Entries are created lazily and retained for the process lifetime, which
// is bounded by the number of rooms the bot ever occupies.
type Outbound struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	next map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewOutbound creates a throttle from config, applying defaults for
// non-positive values.
func NewOutbound(cfg Config) *Outbound {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Outbound{
		limit:  cfg.Limit,
		window: cfg.Window,
		next:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Throttled records a send attempt for the room and reports whether it
// must be dropped. The counter is only committed for allowed sends, so a
// burst of blocked calls does not push the window further out.
func (o *Outbound) Throttled(roomID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	step := o.window / time.Duration(o.limit)

	sn, ok := o.next[roomID]
	if !ok {
		o.next[roomID] = now.Add(step)
		return false
	}

	advanced := sn.Add(step)
	if advanced.Before(now) {
		// Idle capacity: reset forward instead of granting a backlog.
		o.next[roomID] = now.Add(step)
		return false
	}
	if advanced.After(now.Add(o.window)) {
		return true
	}
	o.next[roomID] = advanced
	return false
}

// Reset forgets all per-room counters. Used when a supervisor rebuilds
// its connection from scratch.
func (o *Outbound) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = make(map[string]time.Time)
}

package ratelimit

import (
	"sync"
	"time"
)

type cooldownKey struct {
	RoomID  string
	UserID  string
	Command string
}

type cooldownEntry struct {
	expires  time.Time
	notified bool
}

// Cooldowns tracks per (room, user, command) invocation cooldowns. Entries
// are created lazily on first use and kept for the process lifetime; the
// population is bounded by the set of users that ever invoke a command.
type Cooldowns struct {
	mu      sync.Mutex
	entries map[cooldownKey]*cooldownEntry

	now func() time.Time
}

// NewCooldowns creates an empty cooldown tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		entries: make(map[cooldownKey]*cooldownEntry),
		now:     time.Now,
	}
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	// Blocked reports whether the invocation must be refused.
	Blocked bool
	// Remaining is how long until the cooldown expires, zero when allowed.
	Remaining time.Duration
	// Notify is true for exactly one blocked check per cooldown window;
	// the dispatcher replies only when it is set, so repeat invocations
	// during the same window stay silent.
	Notify bool
}

// Check records an invocation attempt. An allowed attempt starts a new
// cooldown window of the given duration; a blocked attempt leaves the
// window untouched apart from flipping the notified flag.
func (c *Cooldowns) Check(roomID, userID, command string, cooldown time.Duration) Decision {
	if cooldown <= 0 {
		return Decision{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey{RoomID: roomID, UserID: userID, Command: command}
	now := c.now()

	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		c.entries[key] = &cooldownEntry{expires: now.Add(cooldown)}
		return Decision{}
	}

	d := Decision{
		Blocked:   true,
		Remaining: e.expires.Sub(now),
		Notify:    !e.notified,
	}
	e.notified = true
	return d
}

// Reset clears every tracked cooldown.
func (c *Cooldowns) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cooldownKey]*cooldownEntry)
}

package decision

import (
	"math/rand"
	"sync"
	"time"
)

// Cooldown parameters. In-memory only: a restart forgets response times,
// which at worst allows one early reply per chat.
const (
	MinCooldown = 30 * time.Second
	MaxDelay    = 2 * time.Hour

	delayShortMin = 30 * time.Second
	delayShortMax = 300 * time.Second
	delayLongMin  = 1800 * time.Second
	delayLongMax  = 7200 * time.Second

	longDelayChance = 0.1
	recentWindow    = 600 * time.Second
	recentFactor    = 1.5
)

// CooldownGate rate-limits responses per chat.
type CooldownGate struct {
	mu           sync.Mutex
	lastResponse map[string]time.Time
	now          func() time.Time
	rnd          *rand.Rand
}

func NewCooldownGate() *CooldownGate {
	return &CooldownGate{
		lastResponse: make(map[string]time.Time),
		now:          time.Now,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CanRespond is true when the chat has no recorded response or the minimum
// cooldown has elapsed since the last one.
func (c *CooldownGate) CanRespond(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastResponse[chatID]
	if !ok {
		return true
	}
	return c.now().Sub(last) >= MinCooldown
}

// ResponseDelay draws a human-looking pre-send delay: usually 30s-5m, with a
// 10% chance of a 30m-2h "away" period, stretched when the chat was answered
// recently, capped at two hours.
func (c *CooldownGate) ResponseDelay(chatID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.uniform(delayShortMin, delayShortMax)
	if c.rnd.Float64() < longDelayChance {
		delay = c.uniform(delayLongMin, delayLongMax)
	}

	if last, ok := c.lastResponse[chatID]; ok {
		if c.now().Sub(last) < recentWindow {
			delay = time.Duration(float64(delay) * recentFactor)
		}
	}

	if delay > MaxDelay {
		delay = MaxDelay
	}
	return delay
}

// RecordResponse stores now as the chat's last response time. Must be called
// at decision time, before the delay elapses, so overlapping decisions for
// the same chat see the cooldown.
func (c *CooldownGate) RecordResponse(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResponse[chatID] = c.now()
}

// Reset drops the chat's record entirely (administrative escape hatch).
func (c *CooldownGate) Reset(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastResponse, chatID)
}

func (c *CooldownGate) uniform(min, max time.Duration) time.Duration {
	return min + time.Duration(c.rnd.Float64()*float64(max-min))
}

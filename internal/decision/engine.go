package decision

import (
	"fmt"
	"sync"
	"time"

	"chatmind/internal/message"
	st "chatmind/internal/storagetypes"
)

// Action is the outcome kind of one decision.
type Action string

const (
	ActionRespond Action = "respond"
	ActionReact   Action = "react" // logged only; reactions are not sent yet
	ActionIgnore  Action = "ignore"
	ActionDefer   Action = "defer"
)

// Decision thresholds.
const (
	RespondThreshold = 0.5
	ReactThreshold   = 0.3

	minAutonomyLevel = 0.1
)

// Decision is produced per message and consumed immediately by the caller.
type Decision struct {
	Action Action
	Score  float64
	Reason string
	Delay  time.Duration // pre-response delay, set on respond only
}

// Input bundles everything a decision needs; the profile is a snapshot taken
// at decision start.
type Input struct {
	Profile          *st.PersonalityProfile
	Context          message.Context
	ChatHistoryCount int
	UserProfile      *st.UserProfile
	RecentResponses  int
}

// Engine evaluates the ordered guard chain. Decisions for the same chat are
// serialized so the cooldown check and record happen atomically.
type Engine struct {
	cooldown *CooldownGate
	now      func() time.Time

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

func NewEngine() *Engine {
	return &Engine{
		cooldown:  NewCooldownGate(),
		now:       time.Now,
		chatLocks: make(map[string]*sync.Mutex),
	}
}

// Cooldown exposes the gate for administrative reset.
func (e *Engine) Cooldown() *CooldownGate {
	return e.cooldown
}

func (e *Engine) chatLock(chatID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		e.chatLocks[chatID] = l
	}
	return l
}

// Decide walks the guard chain; the first guard that fires terminates.
func (e *Engine) Decide(in Input) Decision {
	lock := e.chatLock(in.Context.ChatID)
	lock.Lock()
	defer lock.Unlock()

	profile := in.Profile

	if allowed := profile.Constraints.AllowedChats; len(allowed) > 0 {
		if !contains(allowed, in.Context.ChatID) {
			return Decision{
				Action: ActionIgnore,
				Score:  BannedScore,
				Reason: fmt.Sprintf("chat %s not in allowed chats list", in.Context.ChatID),
			}
		}
	}

	if profile.Constraints.AutonomyLevel < minAutonomyLevel {
		return Decision{
			Action: ActionIgnore,
			Score:  0,
			Reason: "low autonomy level - manual control required",
		}
	}

	analysis := Analyze(profile, in.Context, in.ChatHistoryCount)
	if analysis.IsBanned() {
		return Decision{
			Action: ActionIgnore,
			Score:  BannedScore,
			Reason: fmt.Sprintf("banned: topic=%v, user=%v", analysis.TopicBanned, analysis.UserBanned),
		}
	}

	if !InActiveHours(profile.Base, e.now()) {
		return Decision{
			Action: ActionDefer,
			Score:  0,
			Reason: "outside active hours",
		}
	}

	if !e.cooldown.CanRespond(in.Context.ChatID) {
		return Decision{
			Action: ActionIgnore,
			Score:  0,
			Reason: "cooldown period - too soon after last response",
		}
	}

	score := Score(profile, analysis, in.UserProfile, in.RecentResponses)

	switch {
	case score >= RespondThreshold:
		// Record before the delay elapses so concurrent decisions for this
		// chat see the cooldown immediately.
		delay := e.cooldown.ResponseDelay(in.Context.ChatID)
		e.cooldown.RecordResponse(in.Context.ChatID)
		return Decision{
			Action: ActionRespond,
			Score:  score,
			Reason: fmt.Sprintf("high importance: %.2f", score),
			Delay:  delay,
		}
	case score >= ReactThreshold:
		return Decision{
			Action: ActionReact,
			Score:  score,
			Reason: fmt.Sprintf("medium importance: %.2f", score),
		}
	default:
		return Decision{
			Action: ActionIgnore,
			Score:  score,
			Reason: fmt.Sprintf("low importance: %.2f", score),
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

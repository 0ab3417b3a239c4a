package persona

import (
	"errors"
	"fmt"
	"sync"
	"time"

	st "chatmind/internal/storagetypes"
)

// ErrPersonalityLocked is returned by mutations that the lock flag forbids.
var ErrPersonalityLocked = errors.New("personality is locked and cannot be modified")

// errNoChange signals that a mutation produced no changes; nothing is persisted.
var errNoChange = errors.New("no change")

// Store is the slice of persistence the engine needs.
type Store interface {
	GetPersonalityProfile(accountID string) (*st.PersonalityProfile, error)
	SavePersonalityProfile(p *st.PersonalityProfile) error
	AppendEvolutionChanges(accountID string, changes []st.EvolutionChange) error
}

// Engine owns one account's personality profile. Every mutation writes the
// full profile back to the store before returning.
type Engine struct {
	accountID string
	store     Store
	now       func() time.Time

	mu      sync.RWMutex
	profile *st.PersonalityProfile
}

func NewEngine(accountID string, store Store) *Engine {
	return &Engine{
		accountID: accountID,
		store:     store,
		now:       time.Now,
	}
}

// LoadProfile reads the persisted profile, creating defaults on first load.
func (e *Engine) LoadProfile() (*st.PersonalityProfile, error) {
	profile, err := e.store.GetPersonalityProfile(e.accountID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		profile = DefaultProfile(e.accountID)
		if err := e.store.SavePersonalityProfile(profile); err != nil {
			return nil, fmt.Errorf("save default profile: %w", err)
		}
	}

	e.mu.Lock()
	e.profile = profile
	e.mu.Unlock()
	return profile.Clone(), nil
}

// Profile returns a snapshot of the current profile, loading it if needed.
func (e *Engine) Profile() (*st.PersonalityProfile, error) {
	e.mu.RLock()
	p := e.profile
	e.mu.RUnlock()
	if p != nil {
		return p.Clone(), nil
	}
	return e.LoadProfile()
}

// UpdateBaseConfig replaces the stable part of the personality. Rejected when
// locked. Probability fields are clamped to [0,1].
func (e *Engine) UpdateBaseConfig(base st.BaseConfig) (*st.PersonalityProfile, error) {
	return e.mutate(func(p *st.PersonalityProfile) error {
		if p.Constraints.PersonalityLocked {
			return ErrPersonalityLocked
		}
		base.ActivityProbability = clamp01(base.ActivityProbability)
		p.Base = base
		return nil
	})
}

// UpdateConstraints replaces the constraints. Not subject to the lock: the
// lock flag itself lives here and must stay reachable.
func (e *Engine) UpdateConstraints(c st.Constraints) (*st.PersonalityProfile, error) {
	return e.mutate(func(p *st.PersonalityProfile) error {
		c.AutonomyLevel = clamp01(c.AutonomyLevel)
		p.Constraints = c
		return nil
	})
}

// UpdateAllowedChats replaces the chat allowlist. Rejected when locked.
func (e *Engine) UpdateAllowedChats(chats []string) (*st.PersonalityProfile, error) {
	return e.mutate(func(p *st.PersonalityProfile) error {
		if p.Constraints.PersonalityLocked {
			return ErrPersonalityLocked
		}
		p.Constraints.AllowedChats = append([]string(nil), chats...)
		return nil
	})
}

// Lock forbids further base/dynamic mutations. Idempotent.
func (e *Engine) Lock() (*st.PersonalityProfile, error) {
	return e.mutate(func(p *st.PersonalityProfile) error {
		p.Constraints.PersonalityLocked = true
		return nil
	})
}

// Unlock re-enables mutations. Idempotent.
func (e *Engine) Unlock() (*st.PersonalityProfile, error) {
	return e.mutate(func(p *st.PersonalityProfile) error {
		p.Constraints.PersonalityLocked = false
		return nil
	})
}

// EvolveFromInteraction applies one interaction outcome to the dynamic traits
// and persists the result. No-op when evolution is disabled or locked.
// History records only deltas that made it into the saved profile, so the
// append happens after the profile write succeeds.
func (e *Engine) EvolveFromInteraction(outcome Outcome, ictx InteractionContext) (*st.PersonalityProfile, error) {
	var applied []st.EvolutionChange
	p, err := e.mutate(func(p *st.PersonalityProfile) error {
		if !p.Constraints.EvolutionEnabled || p.Constraints.PersonalityLocked {
			return errNoChange
		}
		dynamic, changes := Evolve(p, outcome, ictx, e.now())
		if len(changes) == 0 {
			return errNoChange
		}
		p.Dynamic = dynamic
		applied = changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		if err := e.store.AppendEvolutionChanges(e.accountID, applied); err != nil {
			return p, fmt.Errorf("append evolution history: %w", err)
		}
	}
	return p, nil
}

// mutate runs fn on a copy of the profile and persists it. The in-memory
// profile only advances after the store write succeeds.
func (e *Engine) mutate(fn func(*st.PersonalityProfile) error) (*st.PersonalityProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile == nil {
		profile, err := e.store.GetPersonalityProfile(e.accountID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		if profile == nil {
			profile = DefaultProfile(e.accountID)
		}
		e.profile = profile
	}

	next := e.profile.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return e.profile.Clone(), nil
		}
		return nil, err
	}
	next.LastUpdated = e.now()

	if err := e.store.SavePersonalityProfile(next); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	e.profile = next
	return next.Clone(), nil
}

// DefaultProfile is the personality an account starts with.
func DefaultProfile(accountID string) *st.PersonalityProfile {
	return &st.PersonalityProfile{
		AccountID: accountID,
		Base: st.BaseConfig{
			SpeechStyle:   "дружелюбный",
			MessageLength: "средний",
			EmojiUsage:    "редко",
			Interests:     []string{"IT", "технологии"},
			ActiveHours: st.ActiveHours{
				Preferred: []string{"evening", "night"},
				Timezone:  "UTC+3",
			},
			ActivityProbability: 0.35,
		},
		Dynamic: st.DynamicConfig{
			DiscussionTendency: 0.5,
			ActivityLevel:      0.5,
			TopicPriorities:    map[string]float64{},
			UserRelationships:  map[string]float64{},
		},
		Constraints: st.Constraints{
			PersonalityLocked: false,
			EvolutionEnabled:  true,
			AutonomyLevel:     0.8,
			BannedTopics:      []string{},
			BannedUsers:       []string{},
			AllowedChats:      []string{},
		},
		LastUpdated: time.Now(),
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

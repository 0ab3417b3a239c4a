package persona

import (
	"time"

	st "chatmind/internal/storagetypes"
)

// Outcome classifies what happened after a decision.
type Outcome string

const (
	OutcomeResponded        Outcome = "responded"
	OutcomeDiscussion       Outcome = "discussion"
	OutcomePositiveReaction Outcome = "positive_reaction"
	OutcomeIgnored          Outcome = "ignored"
)

// Nudge sizes. Evolution is slow on purpose: a trait needs dozens of
// interactions to move visibly.
const (
	evolutionRate = 0.02
	changeEpsilon = 0.001
)

// InteractionContext carries the parts of a message that evolution reads.
type InteractionContext struct {
	UserID        string
	TopicKeywords []string
	Tone          string
}

// Evolve computes a new dynamic-traits snapshot from the current profile and
// one interaction outcome. The input profile is not mutated; the caller
// replaces the stored snapshot atomically, so a retried persist can never
// double-apply a delta.
func Evolve(profile *st.PersonalityProfile, outcome Outcome, ictx InteractionContext, now time.Time) (st.DynamicConfig, []st.EvolutionChange) {
	dynamic := cloneDynamic(profile.Dynamic)
	var changes []st.EvolutionChange

	record := func(param string, old, val float64) {
		if abs(val-old) > changeEpsilon {
			changes = append(changes, st.EvolutionChange{
				AccountID: profile.AccountID,
				Parameter: param,
				OldValue:  old,
				NewValue:  val,
				Reason:    string(outcome),
				Timestamp: now,
			})
		}
	}

	switch outcome {
	case OutcomeResponded:
		old := dynamic.ActivityLevel
		dynamic.ActivityLevel = clamp01(old + evolutionRate)
		record("activity_level", old, dynamic.ActivityLevel)
	case OutcomeDiscussion:
		old := dynamic.DiscussionTendency
		dynamic.DiscussionTendency = clamp01(old + evolutionRate*2)
		record("discussion_tendency", old, dynamic.DiscussionTendency)
	case OutcomePositiveReaction:
		old := dynamic.ActivityLevel
		dynamic.ActivityLevel = clamp01(old + evolutionRate*1.5)
		record("activity_level", old, dynamic.ActivityLevel)
	case OutcomeIgnored:
		old := dynamic.ActivityLevel
		dynamic.ActivityLevel = clamp01(old - evolutionRate*0.5)
		record("activity_level", old, dynamic.ActivityLevel)
	}

	for _, keyword := range ictx.TopicKeywords {
		old, ok := dynamic.TopicPriorities[keyword]
		if !ok {
			old = 0.5
		}
		dynamic.TopicPriorities[keyword] = clamp01(old + evolutionRate)
		record("topic_priority_"+keyword, old, dynamic.TopicPriorities[keyword])
	}

	if ictx.UserID != "" && (outcome == OutcomeResponded || outcome == OutcomePositiveReaction) {
		old, ok := dynamic.UserRelationships[ictx.UserID]
		if !ok {
			old = 0.5
		}
		dynamic.UserRelationships[ictx.UserID] = clamp01(old + evolutionRate)
		record("user_relationship_"+ictx.UserID, old, dynamic.UserRelationships[ictx.UserID])
	}

	return dynamic, changes
}

func cloneDynamic(d st.DynamicConfig) st.DynamicConfig {
	out := d
	out.TopicPriorities = make(map[string]float64, len(d.TopicPriorities))
	for k, v := range d.TopicPriorities {
		out.TopicPriorities[k] = v
	}
	out.UserRelationships = make(map[string]float64, len(d.UserRelationships))
	for k, v := range d.UserRelationships {
		out.UserRelationships[k] = v
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

package decision

import (
	"time"

	st "chatmind/internal/storagetypes"
)

// Scoring weights. Versioned configuration: changing any of these changes
// response behavior across every account.
const (
	WeightDirectMention  = 0.30
	WeightQuestion       = 0.15
	WeightTopicRelevance = 0.20
	WeightRelationship   = 0.10
	WeightToneFriendly   = 0.10
	WeightToneArgument   = -0.30

	recentResponsePenalty    = 0.10
	recentResponsePenaltyCap = 0.50

	// BannedScore marks a hard block; it bypasses the final clamp.
	BannedScore = -1.0
)

// Score converts an analysis plus relationship state into a single value in
// [0,1], or exactly BannedScore when the banned check fired.
func Score(profile *st.PersonalityProfile, a Analysis, user *st.UserProfile, recentResponses int) float64 {
	if a.IsBanned() {
		return BannedScore
	}

	score := profile.Base.ActivityProbability

	if a.IsDirectMention {
		score += WeightDirectMention
	}
	if a.IsQuestion {
		score += WeightQuestion
	}

	score += (a.TopicRelevance - 0.5) * WeightTopicRelevance

	if user != nil {
		score += (user.RelationshipScore - 0.5) * WeightRelationship
	}

	switch a.Tone {
	case "friendly":
		score += WeightToneFriendly
	case "argumentative":
		score += WeightToneArgument
	}

	if recentResponses > 0 {
		penalty := float64(recentResponses) * recentResponsePenalty
		if penalty > recentResponsePenaltyCap {
			penalty = recentResponsePenaltyCap
		}
		score -= penalty
	}

	return clamp01(score)
}

// InActiveHours reports whether now falls into one of the profile's preferred
// windows. An empty preference list means always active.
func InActiveHours(base st.BaseConfig, now time.Time) bool {
	preferred := base.ActiveHours.Preferred
	if len(preferred) == 0 {
		return true
	}

	hour := now.Hour()
	for _, window := range preferred {
		switch window {
		case "morning":
			if hour >= 6 && hour < 12 {
				return true
			}
		case "afternoon":
			if hour >= 12 && hour < 18 {
				return true
			}
		case "evening":
			if hour >= 18 && hour < 22 {
				return true
			}
		case "night":
			if hour >= 22 || hour < 6 {
				return true
			}
		}
	}
	return false
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

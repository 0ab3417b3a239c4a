package decision

import (
	"strings"

	"chatmind/internal/message"
	st "chatmind/internal/storagetypes"
)

// Chat activity buckets derived from history size.
const (
	ActivityQuiet    = "quiet"
	ActivityLow      = "low"
	ActivityModerate = "moderate"
	ActivityHigh     = "high"
)

// Analysis is the structured read of one message against the current profile.
type Analysis struct {
	IsDirectMention bool
	IsQuestion      bool
	Tone            string
	IsReply         bool
	ChatActivity    string
	TopicRelevance  float64
	TopicBanned     bool
	UserBanned      bool
}

func (a Analysis) IsBanned() bool {
	return a.TopicBanned || a.UserBanned
}

// Analyze is a pure function of the profile and the message; no side effects.
func Analyze(profile *st.PersonalityProfile, ctx message.Context, chatHistoryCount int) Analysis {
	return Analysis{
		IsDirectMention: ctx.IsDirectMention,
		IsQuestion:      ctx.IsQuestion,
		Tone:            ctx.Tone,
		IsReply:         ctx.IsReply,
		ChatActivity:    chatActivityBucket(chatHistoryCount),
		TopicRelevance:  topicRelevance(profile, ctx),
		TopicBanned:     topicBanned(profile, ctx.Text),
		UserBanned:      userBanned(profile, ctx),
	}
}

func chatActivityBucket(historyCount int) string {
	switch {
	case historyCount == 0:
		return ActivityQuiet
	case historyCount < 5:
		return ActivityLow
	case historyCount < 20:
		return ActivityModerate
	default:
		return ActivityHigh
	}
}

// topicRelevance: declared interests beat learned priorities; no keywords
// means neutral 0.5.
func topicRelevance(profile *st.PersonalityProfile, ctx message.Context) float64 {
	if len(ctx.TopicKeywords) == 0 {
		return 0.5
	}

	textLower := strings.ToLower(ctx.Text)
	for _, interest := range profile.Base.Interests {
		if strings.Contains(textLower, strings.ToLower(interest)) {
			return 0.8
		}
	}

	for _, kw := range ctx.TopicKeywords {
		if priority, ok := profile.Dynamic.TopicPriorities[kw]; ok {
			return priority
		}
	}

	return 0.5
}

func topicBanned(profile *st.PersonalityProfile, text string) bool {
	textLower := strings.ToLower(text)
	for _, banned := range profile.Constraints.BannedTopics {
		if banned != "" && strings.Contains(textLower, strings.ToLower(banned)) {
			return true
		}
	}
	return false
}

func userBanned(profile *st.PersonalityProfile, ctx message.Context) bool {
	for _, banned := range profile.Constraints.BannedUsers {
		if banned == "" {
			continue
		}
		if banned == ctx.UserID || (ctx.Username != "" && banned == ctx.Username) {
			return true
		}
	}
	return false
}

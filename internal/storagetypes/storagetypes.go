package storagetypes

import (
	"time"
)

// Account is one automated persona bound to one messaging identity.
type Account struct {
	ID            string     `json:"id"`
	PhoneNumber   string     `json:"phone_number"`
	SessionString string     `json:"session_string"`
	APIID         int        `json:"api_id"`
	APIHash       string     `json:"api_hash"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// BaseConfig holds the manually configured, stable part of a personality.
type BaseConfig struct {
	SpeechStyle         string         `json:"speech_style"`   // "ироничный" | "формальный" | "дружелюбный"
	MessageLength       string         `json:"message_length"` // "короткий" | "средний" | "развернутый"
	EmojiUsage          string         `json:"emoji_usage"`    // "никогда" | "редко" | "часто"
	Interests           []string       `json:"interests"`
	ActiveHours         ActiveHours    `json:"active_hours"`
	ActivityProbability float64        `json:"activity_probability"` // 0..1
	CustomPrompt        string         `json:"custom_prompt,omitempty"`
}

// ActiveHours limits when the account acts. Empty Preferred means always active.
type ActiveHours struct {
	Preferred []string `json:"preferred"` // "morning", "afternoon", "evening", "night"
	Timezone  string   `json:"timezone"`
}

// DynamicConfig is the evolving part of a personality. All values stay in [0,1].
type DynamicConfig struct {
	DiscussionTendency float64            `json:"discussion_tendency"`
	ActivityLevel      float64            `json:"activity_level"`
	TopicPriorities    map[string]float64 `json:"topic_priorities"`
	UserRelationships  map[string]float64 `json:"user_relationships"`
}

// Constraints gate what the account and its evolution are allowed to do.
type Constraints struct {
	PersonalityLocked bool     `json:"personality_locked"`
	EvolutionEnabled  bool     `json:"evolution_enabled"`
	AutonomyLevel     float64  `json:"autonomy_level"` // 0 = manual control, 1 = full autonomy
	BannedTopics      []string `json:"banned_topics"`
	BannedUsers       []string `json:"banned_users"`
	AllowedChats      []string `json:"allowed_chats"` // empty = all chats allowed
}

// PersonalityProfile is the full persisted personality of one account.
type PersonalityProfile struct {
	AccountID   string        `json:"account_id"`
	Base        BaseConfig    `json:"base"`
	Dynamic     DynamicConfig `json:"dynamic"`
	Constraints Constraints   `json:"constraints"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Clone returns a deep copy so callers can mutate without racing the cached profile.
func (p *PersonalityProfile) Clone() *PersonalityProfile {
	out := *p
	out.Base.Interests = append([]string(nil), p.Base.Interests...)
	out.Base.ActiveHours.Preferred = append([]string(nil), p.Base.ActiveHours.Preferred...)
	out.Dynamic.TopicPriorities = make(map[string]float64, len(p.Dynamic.TopicPriorities))
	for k, v := range p.Dynamic.TopicPriorities {
		out.Dynamic.TopicPriorities[k] = v
	}
	out.Dynamic.UserRelationships = make(map[string]float64, len(p.Dynamic.UserRelationships))
	for k, v := range p.Dynamic.UserRelationships {
		out.Dynamic.UserRelationships[k] = v
	}
	out.Constraints.BannedTopics = append([]string(nil), p.Constraints.BannedTopics...)
	out.Constraints.BannedUsers = append([]string(nil), p.Constraints.BannedUsers...)
	out.Constraints.AllowedChats = append([]string(nil), p.Constraints.AllowedChats...)
	return &out
}

// ChatMessage is one stored message, append-only per chat.
type ChatMessage struct {
	AccountID   string         `json:"account_id"`
	ChatID      string         `json:"chat_id"`
	MessageID   int64          `json:"message_id"`
	UserID      string         `json:"user_id,omitempty"`
	Username    string         `json:"username,omitempty"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	ReplyToID   int64          `json:"reply_to_id,omitempty"`
	ContextData map[string]any `json:"context_data,omitempty"` // tone, is_question, topics, mentions
}

// UserProfile is per-account relationship memory about one user.
type UserProfile struct {
	AccountID          string         `json:"account_id"`
	UserID             string         `json:"user_id"`
	Username           string         `json:"username,omitempty"`
	InteractionCount   int            `json:"interaction_count"`
	LastInteraction    *time.Time     `json:"last_interaction,omitempty"`
	CommunicationStyle map[string]int `json:"communication_style"` // tone -> count
	RelationshipScore  float64        `json:"relationship_score"`  // 0..1, default 0.5
	Notes              string         `json:"notes,omitempty"`
}

// TopicMemory is per-account stance and priority for one extracted keyword.
type TopicMemory struct {
	AccountID       string     `json:"account_id"`
	TopicKeyword    string     `json:"topic_keyword"`
	Position        string     `json:"position,omitempty"`
	Priority        float64    `json:"priority"` // 0..1, default 0.5
	LastDiscussed   *time.Time `json:"last_discussed,omitempty"`
	DiscussionCount int        `json:"discussion_count"`
}

// InteractionLog is a write-only audit record; never read back by the core.
type InteractionLog struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	ChatID          string    `json:"chat_id"`
	ActionType      string    `json:"action_type"` // "message", "react", "ignore", "defer"
	MessageID       int64     `json:"message_id,omitempty"`
	ResponseText    string    `json:"response_text,omitempty"`
	ImportanceScore float64   `json:"importance_score"`
	DecisionReason  string    `json:"decision_reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// EvolutionChange records one dynamic-trait delta for observability.
type EvolutionChange struct {
	AccountID string    `json:"account_id"`
	Parameter string    `json:"parameter"`
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

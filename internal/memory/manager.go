package memory

import (
	"fmt"
	"sync"
	"time"

	"chatmind/internal/message"
	st "chatmind/internal/storagetypes"

	"github.com/google/uuid"
)

// Chat cache keeps this many most recent messages per chat.
const chatCacheLimit = 100

// Store is the slice of persistence the manager needs.
type Store interface {
	AppendChatMessage(msg st.ChatMessage) error
	GetChatHistory(accountID, chatID string, limit int) ([]st.ChatMessage, error)
	GetOrCreateUserProfile(accountID, userID, username string) (*st.UserProfile, error)
	UpdateUserProfile(p *st.UserProfile) error
	GetOrCreateTopicMemory(accountID, keyword string) (*st.TopicMemory, error)
	UpdateTopicMemory(t *st.TopicMemory) error
	AppendInteraction(entry st.InteractionLog) error
}

// Manager owns one account's memory: chat history, user relationship state
// and topic state. All mutations write through to the store before returning;
// the caches only save redundant reads within a decision cycle.
type Manager struct {
	accountID string
	store     Store
	now       func() time.Time

	mu         sync.Mutex
	chatCache  map[string][]st.ChatMessage
	userCache  map[string]*st.UserProfile
	topicCache map[string]*st.TopicMemory
}

func NewManager(accountID string, store Store) *Manager {
	return &Manager{
		accountID:  accountID,
		store:      store,
		now:        time.Now,
		chatCache:  make(map[string][]st.ChatMessage),
		userCache:  make(map[string]*st.UserProfile),
		topicCache: make(map[string]*st.TopicMemory),
	}
}

// === Chat memory ===

// SaveMessage persists one inbound message and appends it to the chat cache.
func (m *Manager) SaveMessage(ctx message.Context) error {
	msg := st.ChatMessage{
		AccountID: m.accountID,
		ChatID:    ctx.ChatID,
		MessageID: ctx.MessageID,
		UserID:    ctx.UserID,
		Username:  ctx.Username,
		Text:      ctx.Text,
		Timestamp: m.now(),
		ReplyToID: ctx.ReplyToID,
		ContextData: map[string]any{
			"tone":           ctx.Tone,
			"is_question":    ctx.IsQuestion,
			"topic_keywords": ctx.TopicKeywords,
			"mentions":       ctx.Mentions,
		},
	}

	if err := m.store.AppendChatMessage(msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cached := append(m.chatCache[ctx.ChatID], msg)
	if len(cached) > chatCacheLimit {
		cached = cached[len(cached)-chatCacheLimit:]
	}
	m.chatCache[ctx.ChatID] = cached
	return nil
}

// GetChatHistory returns up to limit messages in chronological order, served
// from cache when it already holds enough.
func (m *Manager) GetChatHistory(chatID string, limit int) ([]st.ChatMessage, error) {
	m.mu.Lock()
	cached := m.chatCache[chatID]
	if len(cached) >= limit {
		out := append([]st.ChatMessage(nil), cached[len(cached)-limit:]...)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	history, err := m.store.GetChatHistory(m.accountID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	m.mu.Lock()
	m.chatCache[chatID] = append([]st.ChatMessage(nil), history...)
	m.mu.Unlock()
	return history, nil
}

// RecentMessagesCount counts messages seen in the chat within the window.
func (m *Manager) RecentMessagesCount(chatID string, window time.Duration) (int, error) {
	history, err := m.GetChatHistory(chatID, chatCacheLimit)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-window)
	count := 0
	for _, msg := range history {
		if !msg.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// === User memory ===

// GetUserProfile returns the cached profile or loads-or-creates it.
func (m *Manager) GetUserProfile(userID, username string) (*st.UserProfile, error) {
	m.mu.Lock()
	if p, ok := m.userCache[userID]; ok {
		out := *p
		m.mu.Unlock()
		return &out, nil
	}
	m.mu.Unlock()

	p, err := m.store.GetOrCreateUserProfile(m.accountID, userID, username)
	if err != nil {
		return nil, fmt.Errorf("load user profile: %w", err)
	}

	m.mu.Lock()
	m.userCache[userID] = p
	m.mu.Unlock()
	out := *p
	return &out, nil
}

// RecordInteraction updates the user's relationship state after a decision:
// +0.05 when a response was sent, -0.02 otherwise, both clamped to [0,1].
func (m *Manager) RecordInteraction(userID string, ctx message.Context, responseSent bool) error {
	p, err := m.GetUserProfile(userID, ctx.Username)
	if err != nil {
		return err
	}

	p.InteractionCount++
	now := m.now()
	p.LastInteraction = &now
	if p.CommunicationStyle == nil {
		p.CommunicationStyle = map[string]int{}
	}
	p.CommunicationStyle[ctx.Tone]++

	if responseSent {
		p.RelationshipScore = clamp01(p.RelationshipScore + 0.05)
	} else {
		p.RelationshipScore = clamp01(p.RelationshipScore - 0.02)
	}

	if err := m.store.UpdateUserProfile(p); err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}

	m.mu.Lock()
	m.userCache[userID] = p
	m.mu.Unlock()
	return nil
}

// === Topic memory ===

func (m *Manager) GetTopicMemory(keyword string) (*st.TopicMemory, error) {
	m.mu.Lock()
	if t, ok := m.topicCache[keyword]; ok {
		out := *t
		m.mu.Unlock()
		return &out, nil
	}
	m.mu.Unlock()

	t, err := m.store.GetOrCreateTopicMemory(m.accountID, keyword)
	if err != nil {
		return nil, fmt.Errorf("load topic memory: %w", err)
	}

	m.mu.Lock()
	m.topicCache[keyword] = t
	m.mu.Unlock()
	out := *t
	return &out, nil
}

// RecordDiscussion bumps a topic after a response touched it: discussion
// count, recency, optional stance, and priority +0.10 clamped to 1.0.
func (m *Manager) RecordDiscussion(keyword, position string) error {
	t, err := m.GetTopicMemory(keyword)
	if err != nil {
		return err
	}

	t.DiscussionCount++
	now := m.now()
	t.LastDiscussed = &now
	if position != "" {
		t.Position = position
	}
	t.Priority = clamp01(t.Priority + 0.10)

	if err := m.store.UpdateTopicMemory(t); err != nil {
		return fmt.Errorf("update topic memory: %w", err)
	}

	m.mu.Lock()
	m.topicCache[keyword] = t
	m.mu.Unlock()
	return nil
}

// === Interaction logging ===

// LogInteraction appends to the audit trail. Write-only: the core never
// reads it back.
func (m *Manager) LogInteraction(chatID, actionType string, messageID int64, responseText string, score float64, reason string) error {
	return m.store.AppendInteraction(st.InteractionLog{
		ID:              uuid.NewString(),
		AccountID:       m.accountID,
		ChatID:          chatID,
		ActionType:      actionType,
		MessageID:       messageID,
		ResponseText:    responseText,
		ImportanceScore: score,
		DecisionReason:  reason,
		Timestamp:       m.now(),
	})
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

package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	st "chatmind/internal/storagetypes"

	"github.com/keshon/datastore"
)

// Store keeps the most recent messages per chat; older ones are dropped on append.
const chatHistoryLimit = 200

// Store is the system of record for accounts, profiles and memory, backed by
// a JSON file datastore. All read-modify-write sequences are serialized.
type Store struct {
	ds *datastore.DataStore
	mu sync.Mutex
}

type chatRecord struct {
	Messages []st.ChatMessage `json:"messages"`
}

func New(filePath string) (*Store, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Store{ds: ds}, nil
}

func (s *Store) Close() error {
	return s.ds.Close()
}

// decode reads key and unmarshals it into v. The datastore hands back
// map[string]any after a reload, so values go through a JSON round-trip.
func (s *Store) decode(key string, v any) (bool, error) {
	data, exists := s.ds.Get(key)
	if !exists {
		return false, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// === Accounts ===

func accountKey(id string) string { return "account:" + id }

func (s *Store) SaveAccount(acc st.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var index []string
	if _, err := s.decode("accounts:index", &index); err != nil {
		return err
	}
	found := false
	for _, id := range index {
		if id == acc.ID {
			found = true
			break
		}
	}
	if !found {
		index = append(index, acc.ID)
		s.ds.Add("accounts:index", index)
	}
	s.ds.Add(accountKey(acc.ID), acc)
	return nil
}

func (s *Store) GetAccount(id string) (*st.Account, error) {
	var acc st.Account
	ok, err := s.decode(accountKey(id), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *Store) GetAllAccounts() ([]st.Account, error) {
	var index []string
	if _, err := s.decode("accounts:index", &index); err != nil {
		return nil, err
	}
	out := make([]st.Account, 0, len(index))
	for _, id := range index {
		var acc st.Account
		ok, err := s.decode(accountKey(id), &acc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, acc)
		}
	}
	return out, nil
}

// === Personality profiles ===

func profileKey(accountID string) string { return "profile:" + accountID }

// SavePersonalityProfile upserts the full profile. Overwrite semantics: a
// retried save after a crash lands on the same final state.
func (s *Store) SavePersonalityProfile(p *st.PersonalityProfile) error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds.Add(profileKey(p.AccountID), p)
	return nil
}

func (s *Store) GetPersonalityProfile(accountID string) (*st.PersonalityProfile, error) {
	var p st.PersonalityProfile
	ok, err := s.decode(profileKey(accountID), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if p.Dynamic.TopicPriorities == nil {
		p.Dynamic.TopicPriorities = map[string]float64{}
	}
	if p.Dynamic.UserRelationships == nil {
		p.Dynamic.UserRelationships = map[string]float64{}
	}
	return &p, nil
}

// === Chat messages ===

func chatKey(accountID, chatID string) string { return "chat:" + accountID + ":" + chatID }

func (s *Store) AppendChatMessage(msg st.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(msg.AccountID, msg.ChatID)
	var rec chatRecord
	if _, err := s.decode(key, &rec); err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, msg)
	if len(rec.Messages) > chatHistoryLimit {
		rec.Messages = rec.Messages[len(rec.Messages)-chatHistoryLimit:]
	}
	s.ds.Add(key, rec)
	return nil
}

// GetChatHistory returns up to limit most recent messages in chronological order.
func (s *Store) GetChatHistory(accountID, chatID string, limit int) ([]st.ChatMessage, error) {
	var rec chatRecord
	if _, err := s.decode(chatKey(accountID, chatID), &rec); err != nil {
		return nil, err
	}
	msgs := rec.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// === User profiles ===

func userKey(accountID, userID string) string { return "user:" + accountID + ":" + userID }

func (s *Store) GetOrCreateUserProfile(accountID, userID, username string) (*st.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(accountID, userID)
	var p st.UserProfile
	ok, err := s.decode(key, &p)
	if err != nil {
		return nil, err
	}
	if ok {
		if p.CommunicationStyle == nil {
			p.CommunicationStyle = map[string]int{}
		}
		return &p, nil
	}
	p = st.UserProfile{
		AccountID:          accountID,
		UserID:             userID,
		Username:           username,
		CommunicationStyle: map[string]int{},
		RelationshipScore:  0.5,
	}
	s.ds.Add(key, p)
	return &p, nil
}

func (s *Store) UpdateUserProfile(p *st.UserProfile) error {
	if p == nil {
		return fmt.Errorf("nil user profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds.Add(userKey(p.AccountID, p.UserID), p)
	return nil
}

// === Topic memory ===

func topicKey(accountID, keyword string) string { return "topic:" + accountID + ":" + keyword }

func (s *Store) GetOrCreateTopicMemory(accountID, keyword string) (*st.TopicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topicKey(accountID, keyword)
	var t st.TopicMemory
	ok, err := s.decode(key, &t)
	if err != nil {
		return nil, err
	}
	if ok {
		return &t, nil
	}
	t = st.TopicMemory{
		AccountID:    accountID,
		TopicKeyword: keyword,
		Priority:     0.5,
	}
	s.ds.Add(key, t)
	return &t, nil
}

func (s *Store) UpdateTopicMemory(t *st.TopicMemory) error {
	if t == nil {
		return fmt.Errorf("nil topic memory")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds.Add(topicKey(t.AccountID, t.TopicKeyword), t)
	return nil
}

// === Append-only logs ===

func (s *Store) AppendInteraction(entry st.InteractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := "log:" + entry.AccountID
	var logs []st.InteractionLog
	if _, err := s.decode(key, &logs); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	logs = append(logs, entry)
	s.ds.Add(key, logs)
	return nil
}

func (s *Store) AppendEvolutionChanges(accountID string, changes []st.EvolutionChange) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := "evolution:" + accountID
	var history []st.EvolutionChange
	if _, err := s.decode(key, &history); err != nil {
		return err
	}
	history = append(history, changes...)
	s.ds.Add(key, history)
	return nil
}

package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatmind/internal/ai"
	"chatmind/internal/decision"
	"chatmind/internal/memory"
	"chatmind/internal/message"
	"chatmind/internal/persona"
	st "chatmind/internal/storagetypes"
	"chatmind/internal/transport"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	events chan transport.Event
	failAt error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Start(ctx context.Context) error { return f.failAt }
func (f *fakeTransport) Events() <-chan transport.Event  { return f.events }
func (f *fakeTransport) Me() string                      { return "mybot" }
func (f *fakeTransport) Stop() error                     { return nil }

func (f *fakeTransport) Send(ctx context.Context, chatID string, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return int64(len(f.sent)), nil
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeProvider struct {
	reply string
	err   error
}

func (p *fakeProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return p.reply, p.err
}

// fakeBackend implements both the persona and memory store contracts.
type fakeBackend struct {
	mu           sync.Mutex
	profile      *st.PersonalityProfile
	messages     []st.ChatMessage
	users        map[string]*st.UserProfile
	topics       map[string]*st.TopicMemory
	interactions []st.InteractionLog
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:  map[string]*st.UserProfile{},
		topics: map[string]*st.TopicMemory{},
	}
}

func (f *fakeBackend) GetPersonalityProfile(accountID string) (*st.PersonalityProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile == nil {
		return nil, nil
	}
	return f.profile.Clone(), nil
}

func (f *fakeBackend) SavePersonalityProfile(p *st.PersonalityProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = p.Clone()
	return nil
}

func (f *fakeBackend) AppendEvolutionChanges(accountID string, changes []st.EvolutionChange) error {
	return nil
}

func (f *fakeBackend) AppendChatMessage(msg st.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeBackend) GetChatHistory(accountID, chatID string, limit int) ([]st.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []st.ChatMessage
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeBackend) GetOrCreateUserProfile(accountID, userID, username string) (*st.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.users[userID]; ok {
		cp := *p
		return &cp, nil
	}
	p := &st.UserProfile{
		AccountID:          accountID,
		UserID:             userID,
		Username:           username,
		CommunicationStyle: map[string]int{},
		RelationshipScore:  0.5,
	}
	f.users[userID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) UpdateUserProfile(p *st.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.users[p.UserID] = &cp
	return nil
}

func (f *fakeBackend) GetOrCreateTopicMemory(accountID, keyword string) (*st.TopicMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[keyword]; ok {
		cp := *t
		return &cp, nil
	}
	t := &st.TopicMemory{AccountID: accountID, TopicKeyword: keyword, Priority: 0.5}
	f.topics[keyword] = t
	cp := *t
	return &cp, nil
}

func (f *fakeBackend) UpdateTopicMemory(t *st.TopicMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.topics[t.TopicKeyword] = &cp
	return nil
}

func (f *fakeBackend) AppendInteraction(entry st.InteractionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, entry)
	return nil
}

func testWorker(provider ai.Provider) (*Worker, *fakeTransport, *fakeBackend) {
	tr := newFakeTransport()
	backend := newFakeBackend()
	acc := &st.Account{ID: "acc-1"}
	w := New(
		acc,
		tr,
		transport.NewRateLimitedSender(tr, 600),
		persona.NewEngine(acc.ID, backend),
		memory.NewManager(acc.ID, backend),
		provider,
		zerolog.Nop(),
	)
	return w, tr, backend
}

func testContext() message.Context {
	return message.Context{
		ChatID:        "c1",
		MessageID:     1,
		UserID:        "u1",
		Username:      "alice",
		Text:          "расскажи про технологии?",
		IsQuestion:    true,
		Tone:          message.ToneFriendly,
		TopicKeywords: []string{"расскажи", "технологии"},
	}
}

func TestRespondSendsGeneratedReply(t *testing.T) {
	w, tr, backend := testWorker(&fakeProvider{reply: "Обязательно расскажу."})

	dec := decision.Decision{Action: decision.ActionRespond, Score: 0.9, Reason: "test"}
	profile := persona.DefaultProfile("acc-1")
	w.respond(context.Background(), dec, testContext(), profile)

	sent := tr.sentMessages()
	if len(sent) != 1 || sent[0] != "Обязательно расскажу." {
		t.Fatalf("sent = %v", sent)
	}
	if w.Stats().Responded != 1 {
		t.Errorf("responded = %d, want 1", w.Stats().Responded)
	}
	if len(backend.interactions) != 1 || backend.interactions[0].ActionType != "respond" {
		t.Errorf("interactions = %+v", backend.interactions)
	}
	if backend.users["u1"] == nil || backend.users["u1"].InteractionCount != 1 {
		t.Error("user relationship not recorded")
	}
	if backend.topics["технологии"] == nil || backend.topics["технологии"].DiscussionCount != 1 {
		t.Error("topic discussion not recorded")
	}
}

func TestRespondFallsBackOnGenerationFailure(t *testing.T) {
	w, tr, _ := testWorker(&fakeProvider{err: errors.New("model down")})

	dec := decision.Decision{Action: decision.ActionRespond, Score: 0.9}
	w.respond(context.Background(), dec, testContext(), persona.DefaultProfile("acc-1"))

	sent := tr.sentMessages()
	if len(sent) != 1 || sent[0] != ai.FallbackReply {
		t.Fatalf("sent = %v, want fallback", sent)
	}
}

func TestRespondAbandonedOnShutdownDuringDelay(t *testing.T) {
	w, tr, _ := testWorker(&fakeProvider{reply: "поздно"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := decision.Decision{Action: decision.ActionRespond, Score: 0.9, Delay: time.Hour}
	w.respond(ctx, dec, testContext(), persona.DefaultProfile("acc-1"))

	if sent := tr.sentMessages(); len(sent) != 0 {
		t.Fatalf("sent = %v, want nothing after cancellation", sent)
	}
	if w.Stats().Responded != 0 {
		t.Error("abandoned response must not count as responded")
	}
}

func TestHandleEventSkipsOwnMessages(t *testing.T) {
	w, _, _ := testWorker(&fakeProvider{})
	w.parser = message.NewParser("mybot")

	w.handleEvent(context.Background(), transport.Event{
		ChatID:   "c1",
		Username: "mybot",
		Text:     "мое собственное сообщение",
	})

	if w.Stats().MessagesReceived != 0 {
		t.Error("own messages must be skipped before counting")
	}
}

func TestRunIgnoresUnimportantMessage(t *testing.T) {
	w, tr, backend := testWorker(&fakeProvider{})

	// always-active profile with zero base activity: everything scores low
	profile := persona.DefaultProfile("acc-1")
	profile.Base.ActiveHours.Preferred = nil
	profile.Base.ActivityProbability = 0
	backend.profile = profile

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tr.events <- transport.Event{
		ChatID:   "c1",
		UserID:   "u1",
		Username: "alice",
		Text:     "скучное нейтральное сообщение",
	}

	deadline := time.After(2 * time.Second)
	for w.Stats().Ignored == 0 {
		select {
		case <-deadline:
			t.Fatal("message was not processed in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}

	if got := w.Stats(); got.MessagesReceived != 1 || got.Ignored != 1 {
		t.Errorf("stats = %+v", got)
	}
	if len(backend.messages) != 1 {
		t.Error("inbound message not saved to memory")
	}
}

func TestRunDelayInOneChatDoesNotStallOthers(t *testing.T) {
	w, tr, backend := testWorker(&fakeProvider{reply: "ответ"})

	// always active and maximally talkative: every message is a RESPOND,
	// which parks its handler in the 30s+ pre-send delay
	profile := persona.DefaultProfile("acc-1")
	profile.Base.ActiveHours.Preferred = nil
	profile.Base.ActivityProbability = 1.0
	backend.profile = profile

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tr.events <- transport.Event{ChatID: "c1", UserID: "u1", Username: "alice", Text: "первое сообщение"}
	tr.events <- transport.Event{ChatID: "c2", UserID: "u2", Username: "bob", Text: "второе сообщение"}

	deadline := time.After(2 * time.Second)
	for w.Stats().MessagesReceived < 2 {
		select {
		case <-deadline:
			t.Fatalf("received = %d of 2: one chat's response delay is blocking the other",
				w.Stats().MessagesReceived)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if sent := tr.sentMessages(); len(sent) != 0 {
		t.Errorf("sent = %v, want delayed responses abandoned on shutdown", sent)
	}
}

func TestRunFailsOnInvalidSession(t *testing.T) {
	w, tr, _ := testWorker(&fakeProvider{})
	tr.failAt = errors.New("unauthorized")

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected session error")
	}
}

func TestApplyStyleShortensMessages(t *testing.T) {
	base := st.BaseConfig{MessageLength: "короткий"}
	got := applyStyle("Первое. Второе! Третье? Четвертое.", base)
	if got != "Первое. Второе!" {
		t.Errorf("got %q", got)
	}
}

func TestApplyStyleStripsEmoji(t *testing.T) {
	base := st.BaseConfig{EmojiUsage: "никогда"}
	got := applyStyle("Привет 😀✨ как дела?", base)
	if strings.ContainsRune(got, '😀') || strings.ContainsRune(got, '✨') {
		t.Errorf("emoji survived: %q", got)
	}
	if !strings.Contains(got, "как дела?") {
		t.Errorf("text damaged: %q", got)
	}
}

func TestMaxTokensFor(t *testing.T) {
	if maxTokensFor("короткий") >= maxTokensFor("средний") {
		t.Error("short must allow fewer tokens than medium")
	}
	if maxTokensFor("средний") >= maxTokensFor("развернутый") {
		t.Error("medium must allow fewer tokens than long")
	}
}

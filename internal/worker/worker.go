package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
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

// Window used both for chat activity estimation and the repetition penalty.
const recentWindow = time.Hour

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Stats is a snapshot of one worker's counters.
type Stats struct {
	MessagesReceived int64
	Responded        int64
	Reacted          int64
	Ignored          int64
	Deferred         int64
	LastActivity     time.Time
}

// Worker runs one account: consumes transport events, decides, and acts.
// Each event is handled on its own goroutine so a chat waiting out its
// response delay never stalls the rest of the account; events for the same
// chat are serialized through a per-chat lock.
type Worker struct {
	account *st.Account
	tr      transport.Transport
	sender  *transport.RateLimitedSender
	parser  *message.Parser
	engine  *decision.Engine
	persona *persona.Engine
	memory  *memory.Manager
	ai      ai.Provider
	log     zerolog.Logger
	now     func() time.Time
	wg      sync.WaitGroup

	mu            sync.Mutex
	stats         Stats
	responseTimes map[string][]time.Time
	chatLocks     map[string]*sync.Mutex
}

func New(account *st.Account, tr transport.Transport, sender *transport.RateLimitedSender, pe *persona.Engine, mem *memory.Manager, provider ai.Provider, log zerolog.Logger) *Worker {
	return &Worker{
		account:       account,
		tr:            tr,
		sender:        sender,
		engine:        decision.NewEngine(),
		persona:       pe,
		memory:        mem,
		ai:            provider,
		log:           log.With().Str("account_id", account.ID).Logger(),
		now:           time.Now,
		responseTimes: make(map[string][]time.Time),
		chatLocks:     make(map[string]*sync.Mutex),
	}
}

// Run connects the transport and processes events until ctx is cancelled.
// A Start failure means the session is invalid and is returned as-is so the
// orchestrator can deactivate the account.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.tr.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer w.tr.Stop()

	w.parser = message.NewParser(w.tr.Me())

	if _, err := w.persona.LoadProfile(); err != nil {
		return fmt.Errorf("load personality: %w", err)
	}

	w.log.Info().Str("username", w.tr.Me()).Msg("worker started")

	// In-flight handlers are cancelled and drained before Run returns.
	hctx, cancel := context.WithCancel(ctx)
	defer w.wg.Wait()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return nil
		case ev, ok := <-w.tr.Events():
			if !ok {
				w.log.Warn().Msg("event channel closed")
				return nil
			}
			w.wg.Add(1)
			go func(ev transport.Event) {
				defer w.wg.Done()
				w.handleEvent(hctx, ev)
			}(ev)
		}
	}
}

// Stats returns a copy of the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) handleEvent(ctx context.Context, ev transport.Event) {
	if ev.Text == "" {
		return
	}
	if me := w.tr.Me(); me != "" && strings.EqualFold(ev.Username, me) {
		return
	}

	// At most one decision in flight per chat: the cooldown check-then-record
	// and the memory write-through are not safe under concurrent evaluation.
	lock := w.chatLock(ev.ChatID)
	lock.Lock()
	defer lock.Unlock()

	parsed := w.parser.Parse(ev)

	w.mu.Lock()
	w.stats.MessagesReceived++
	w.stats.LastActivity = w.now()
	w.mu.Unlock()

	if err := w.memory.SaveMessage(parsed); err != nil {
		w.log.Error().Err(err).Str("chat_id", parsed.ChatID).Msg("save message failed")
	}

	profile, err := w.persona.Profile()
	if err != nil {
		w.log.Error().Err(err).Msg("personality unavailable, skipping message")
		return
	}

	userProfile, err := w.memory.GetUserProfile(parsed.UserID, parsed.Username)
	if err != nil {
		w.log.Error().Err(err).Str("user_id", parsed.UserID).Msg("user profile unavailable")
	}

	historyCount, err := w.memory.RecentMessagesCount(parsed.ChatID, recentWindow)
	if err != nil {
		w.log.Error().Err(err).Str("chat_id", parsed.ChatID).Msg("history count unavailable")
	}

	dec := w.engine.Decide(decision.Input{
		Profile:          profile,
		Context:          parsed,
		ChatHistoryCount: historyCount,
		UserProfile:      userProfile,
		RecentResponses:  w.recentResponses(parsed.ChatID),
	})

	w.log.Debug().
		Str("chat_id", parsed.ChatID).
		Str("action", string(dec.Action)).
		Float64("score", dec.Score).
		Str("reason", dec.Reason).
		Msg("decision")

	switch dec.Action {
	case decision.ActionRespond:
		w.respond(ctx, dec, parsed, profile)
	case decision.ActionReact:
		// Reactions are logged but not sent: the transport API for them is
		// platform-specific and not wired yet.
		w.mu.Lock()
		w.stats.Reacted++
		w.mu.Unlock()
		w.logDecision(parsed, "react", 0, "", dec)
	case decision.ActionIgnore:
		w.ignore(parsed, dec)
	case decision.ActionDefer:
		// Deferred messages are dropped, not queued; the chat usually moves on.
		w.mu.Lock()
		w.stats.Deferred++
		w.mu.Unlock()
		w.logDecision(parsed, "defer", 0, "", dec)
	}
}

// respond waits out the humanizing delay, generates a reply and sends it.
// Cancellation during the delay abandons the response entirely.
func (w *Worker) respond(ctx context.Context, dec decision.Decision, parsed message.Context, profile *st.PersonalityProfile) {
	if dec.Delay > 0 {
		timer := time.NewTimer(dec.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			w.log.Info().Str("chat_id", parsed.ChatID).Msg("response abandoned: shutdown during delay")
			return
		case <-timer.C:
		}
	}

	history, err := w.memory.GetChatHistory(parsed.ChatID, 20)
	if err != nil {
		w.log.Error().Err(err).Str("chat_id", parsed.ChatID).Msg("chat history unavailable")
	}

	userProfile, _ := w.memory.GetUserProfile(parsed.UserID, parsed.Username)

	var topics []st.TopicMemory
	for _, kw := range parsed.TopicKeywords {
		if t, err := w.memory.GetTopicMemory(kw); err == nil {
			topics = append(topics, *t)
		}
	}

	prompt := ai.BuildPrompt(profile, parsed, history, userProfile, topics)

	reply, err := w.ai.Generate(ctx, prompt, maxTokensFor(profile.Base.MessageLength))
	if err != nil {
		w.log.Warn().Err(err).Str("chat_id", parsed.ChatID).Msg("generation failed, using fallback")
		reply = ai.FallbackReply
	}
	reply = applyStyle(reply, profile.Base)

	msgID, err := w.sender.Send(ctx, parsed.ChatID, reply)
	if err != nil {
		w.log.Error().Err(err).Str("chat_id", parsed.ChatID).Msg("send failed")
		return
	}

	w.mu.Lock()
	w.stats.Responded++
	w.recordResponseTime(parsed.ChatID)
	w.mu.Unlock()

	w.log.Info().
		Str("chat_id", parsed.ChatID).
		Int64("message_id", msgID).
		Float64("score", dec.Score).
		Msg("responded")

	if err := w.memory.RecordInteraction(parsed.UserID, parsed, true); err != nil {
		w.log.Error().Err(err).Msg("record interaction failed")
	}
	for _, kw := range parsed.TopicKeywords {
		if err := w.memory.RecordDiscussion(kw, ""); err != nil {
			w.log.Error().Err(err).Str("topic", kw).Msg("record discussion failed")
		}
	}
	w.logDecision(parsed, "respond", msgID, reply, dec)

	outcome := persona.OutcomeResponded
	if parsed.IsQuestion {
		outcome = persona.OutcomeDiscussion
	}
	if _, err := w.persona.EvolveFromInteraction(outcome, persona.InteractionContext{
		UserID:        parsed.UserID,
		TopicKeywords: parsed.TopicKeywords,
		Tone:          parsed.Tone,
	}); err != nil {
		w.log.Error().Err(err).Msg("evolution failed")
	}
}

func (w *Worker) ignore(parsed message.Context, dec decision.Decision) {
	w.mu.Lock()
	w.stats.Ignored++
	w.mu.Unlock()

	if err := w.memory.RecordInteraction(parsed.UserID, parsed, false); err != nil {
		w.log.Error().Err(err).Msg("record interaction failed")
	}
	w.logDecision(parsed, "ignore", 0, "", dec)

	if _, err := w.persona.EvolveFromInteraction(persona.OutcomeIgnored, persona.InteractionContext{
		UserID:        parsed.UserID,
		TopicKeywords: parsed.TopicKeywords,
		Tone:          parsed.Tone,
	}); err != nil {
		w.log.Error().Err(err).Msg("evolution failed")
	}
}

func (w *Worker) logDecision(parsed message.Context, action string, msgID int64, text string, dec decision.Decision) {
	if err := w.memory.LogInteraction(parsed.ChatID, action, msgID, text, dec.Score, dec.Reason); err != nil {
		w.log.Error().Err(err).Msg("interaction log failed")
	}
}

func (w *Worker) chatLock(chatID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		w.chatLocks[chatID] = l
	}
	return l
}

// recentResponses counts this worker's own responses in the chat within the
// window. Caller must not hold w.mu.
func (w *Worker) recentResponses(chatID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-recentWindow)
	times := w.responseTimes[chatID]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.responseTimes[chatID] = kept
	return len(kept)
}

// caller holds w.mu
func (w *Worker) recordResponseTime(chatID string) {
	w.responseTimes[chatID] = append(w.responseTimes[chatID], w.now())
}

func maxTokensFor(messageLength string) int {
	switch messageLength {
	case "короткий":
		return 100
	case "развернутый":
		return 400
	default:
		return 200
	}
}

// applyStyle post-processes generated text to match the base config: short
// style keeps at most two sentences, "никогда" strips emoji.
func applyStyle(text string, base st.BaseConfig) string {
	if base.MessageLength == "короткий" {
		if sentences := sentenceRe.FindAllString(text, 3); len(sentences) > 2 {
			text = strings.TrimSpace(sentences[0] + sentences[1])
		}
	}
	if base.EmojiUsage == "никогда" {
		text = stripEmoji(text)
	}
	return strings.TrimSpace(text)
}

func stripEmoji(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
		return true
	}
	return false
}

package decision

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"chatmind/internal/message"
	st "chatmind/internal/storagetypes"
	"chatmind/internal/transport"
)

func testEngine() *Engine {
	e := NewEngine()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	e.cooldown.now = e.now
	e.cooldown.rnd = rand.New(rand.NewSource(1))
	return e
}

func respondInput() Input {
	return Input{
		Profile: testProfile(),
		Context: message.Context{
			ChatID:          "c1",
			UserID:          "u1",
			Username:        "alice",
			Text:            "вопрос про технологии?",
			IsDirectMention: true,
			IsQuestion:      true,
			Tone:            "friendly",
		},
		UserProfile: &st.UserProfile{RelationshipScore: 0.5},
	}
}

func TestDecideRespondsToImportantMessage(t *testing.T) {
	e := testEngine()
	dec := e.Decide(respondInput())
	if dec.Action != ActionRespond {
		t.Fatalf("action = %s (%s), want respond", dec.Action, dec.Reason)
	}
	if dec.Score < RespondThreshold {
		t.Errorf("score = %f, want >= %f", dec.Score, RespondThreshold)
	}
	if dec.Delay < delayShortMin {
		t.Errorf("respond decision must carry a delay, got %v", dec.Delay)
	}
}

func TestDecideReactOnMediumImportance(t *testing.T) {
	e := testEngine()
	in := respondInput()
	in.Context.IsDirectMention = false
	in.Context.IsQuestion = false
	in.Context.Tone = "neutral"

	// bare activity probability 0.35 sits between the thresholds
	dec := e.Decide(in)
	if dec.Action != ActionReact {
		t.Fatalf("action = %s (score %f), want react", dec.Action, dec.Score)
	}
}

func TestDecideIgnoresLowImportance(t *testing.T) {
	e := testEngine()
	in := respondInput()
	in.Context.IsDirectMention = false
	in.Context.IsQuestion = false
	in.Context.Tone = "argumentative"

	dec := e.Decide(in)
	if dec.Action != ActionIgnore {
		t.Fatalf("action = %s (score %f), want ignore", dec.Action, dec.Score)
	}
}

func TestDecideAllowedChatsGate(t *testing.T) {
	e := testEngine()
	in := respondInput()
	in.Profile.Constraints.AllowedChats = []string{"c2"}

	dec := e.Decide(in)
	if dec.Action != ActionIgnore {
		t.Fatalf("action = %s, want ignore", dec.Action)
	}
	if dec.Score != BannedScore {
		t.Errorf("score = %f, want %f", dec.Score, BannedScore)
	}
}

func TestDecideLowAutonomy(t *testing.T) {
	e := testEngine()
	in := respondInput()
	in.Profile.Constraints.AutonomyLevel = 0.05

	if dec := e.Decide(in); dec.Action != ActionIgnore {
		t.Fatalf("action = %s, want ignore", dec.Action)
	}
}

func TestDecideBannedUser(t *testing.T) {
	e := testEngine()
	in := respondInput()
	in.Profile.Constraints.BannedUsers = []string{"alice"}

	dec := e.Decide(in)
	if dec.Action != ActionIgnore {
		t.Fatalf("action = %s, want ignore", dec.Action)
	}
	if dec.Score != BannedScore {
		t.Errorf("score = %f, want %f", dec.Score, BannedScore)
	}
}

func TestDecideOutsideActiveHoursDefers(t *testing.T) {
	e := testEngine() // engine clock pinned to noon
	in := respondInput()
	in.Profile.Base.ActiveHours.Preferred = []string{"evening"}

	if dec := e.Decide(in); dec.Action != ActionDefer {
		t.Fatalf("action = %s, want defer", dec.Action)
	}
}

func TestDecideCooldownAfterResponse(t *testing.T) {
	e := testEngine()

	if dec := e.Decide(respondInput()); dec.Action != ActionRespond {
		t.Fatalf("first decision = %s, want respond", dec.Action)
	}
	if dec := e.Decide(respondInput()); dec.Action != ActionIgnore {
		t.Fatalf("second decision = %s, want ignore on cooldown", dec.Action)
	}
}

func TestDecideGreetingScenario(t *testing.T) {
	e := testEngine()

	p := message.NewParser("mybot")
	ctx := p.Parse(transport.Event{
		ChatID:   "c1",
		UserID:   "u1",
		Username: "alice",
		Text:     "Привет, как дела?",
	})

	dec := e.Decide(Input{
		Profile: testProfile(),
		Context: ctx,
	})
	// 0.35 base + 0.15 question + 0.10 friendly tone = 0.60
	if dec.Action != ActionRespond {
		t.Fatalf("action = %s (%s), want respond", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Score-0.60) > 1e-9 {
		t.Errorf("score = %f, want 0.60", dec.Score)
	}
}

func TestDecideSameChatSerialized(t *testing.T) {
	e := testEngine()

	const n = 20
	var wg sync.WaitGroup
	results := make([]Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Decide(respondInput())
		}(i)
	}
	wg.Wait()

	responds := 0
	for _, dec := range results {
		if dec.Action == ActionRespond {
			responds++
		}
	}
	if responds != 1 {
		t.Errorf("%d concurrent decisions responded, want exactly 1", responds)
	}
}

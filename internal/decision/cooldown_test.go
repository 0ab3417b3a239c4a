package decision

import (
	"math/rand"
	"testing"
	"time"
)

func testGate(start time.Time) (*CooldownGate, *time.Time) {
	now := start
	g := NewCooldownGate()
	g.now = func() time.Time { return now }
	g.rnd = rand.New(rand.NewSource(1))
	return g, &now
}

func TestCooldownBlocksWithinMinimum(t *testing.T) {
	g, now := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	if !g.CanRespond("c1") {
		t.Fatal("fresh chat must allow response")
	}
	g.RecordResponse("c1")

	*now = now.Add(10 * time.Second)
	if g.CanRespond("c1") {
		t.Error("10s after response must still be blocked")
	}

	*now = now.Add(MinCooldown)
	if !g.CanRespond("c1") {
		t.Error("past the minimum cooldown must allow response")
	}
}

func TestCooldownIsPerChat(t *testing.T) {
	g, _ := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	g.RecordResponse("c1")
	if !g.CanRespond("c2") {
		t.Error("cooldown in one chat must not block another")
	}
}

func TestResponseDelayBounds(t *testing.T) {
	g, _ := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 1000; i++ {
		d := g.ResponseDelay("c1")
		if d < delayShortMin || d > MaxDelay {
			t.Fatalf("delay %v out of [%v, %v]", d, delayShortMin, MaxDelay)
		}
	}
}

func TestResponseDelayStretchedAfterRecentResponse(t *testing.T) {
	g, now := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	g.RecordResponse("c1")
	*now = now.Add(time.Minute)

	// With the last response a minute ago every draw gets the 1.5 factor, so
	// nothing can land under the stretched short minimum.
	floor := time.Duration(float64(delayShortMin) * recentFactor)
	for i := 0; i < 1000; i++ {
		if d := g.ResponseDelay("c1"); d < floor {
			t.Fatalf("delay %v below stretched floor %v", d, floor)
		}
	}
}

func TestResponseDelaySometimesLong(t *testing.T) {
	g, _ := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	long := 0
	for i := 0; i < 1000; i++ {
		if g.ResponseDelay("c1") >= delayLongMin {
			long++
		}
	}
	// ~10% chance; with 1000 draws the count is far from both 0 and 1000.
	if long == 0 || long > 300 {
		t.Errorf("long delays = %d of 1000, expected around 100", long)
	}
}

func TestReset(t *testing.T) {
	g, _ := testGate(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	g.RecordResponse("c1")
	if g.CanRespond("c1") {
		t.Fatal("expected cooldown after record")
	}
	g.Reset("c1")
	if !g.CanRespond("c1") {
		t.Error("reset must clear the cooldown")
	}
}

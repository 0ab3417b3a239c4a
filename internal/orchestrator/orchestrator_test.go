package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatmind/internal/config"
	"chatmind/internal/store"
	st "chatmind/internal/storagetypes"
	"chatmind/internal/transport"
)

type stubTransport struct {
	startErr error
	events   chan transport.Event
}

func newStubTransport(startErr error) *stubTransport {
	return &stubTransport{startErr: startErr, events: make(chan transport.Event)}
}

func (s *stubTransport) Start(ctx context.Context) error { return s.startErr }
func (s *stubTransport) Events() <-chan transport.Event  { return s.events }
func (s *stubTransport) Me() string                      { return "stub" }
func (s *stubTransport) Stop() error                     { return nil }

func (s *stubTransport) Send(ctx context.Context, chatID, text string) (int64, error) {
	return 1, nil
}

func testOrchestrator(t *testing.T, factory TransportFactory) *Orchestrator {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "orch.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{SendRatePerMinute: 20}
	return New(cfg, s, nil, factory, zerolog.Nop())
}

func TestRegisterAccountCreatesProfile(t *testing.T) {
	o := testOrchestrator(t, nil)

	acc, err := o.RegisterAccount("+79990000000", "sess", 1, "hash")
	if err != nil {
		t.Fatal(err)
	}
	if acc.ID == "" || !acc.IsActive {
		t.Fatalf("account = %+v", acc)
	}

	engine, err := o.PersonaEngine(acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	p, err := engine.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if p.Base.SpeechStyle == "" {
		t.Error("default profile not initialized")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	factory := func(acc *st.Account) (transport.Transport, error) {
		return newStubTransport(nil), nil
	}
	o := testOrchestrator(t, factory)
	acc, err := o.RegisterAccount("+79990000000", "sess", 1, "hash")
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := o.StartAccount(ctx, acc.ID); err != nil {
		t.Fatal(err)
	}
	if err := o.StartAccount(ctx, acc.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: %v, want ErrAlreadyRunning", err)
	}

	status, err := o.Account(acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running {
		t.Error("status must report running")
	}
	if status.Account.SessionString != "" {
		t.Error("session string exposed in status")
	}

	if err := o.StopAccount(acc.ID); err != nil {
		t.Fatal(err)
	}
	if err := o.StopAccount(acc.ID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second stop: %v, want ErrNotRunning", err)
	}
}

func TestInvalidSessionDeactivatesAccount(t *testing.T) {
	factory := func(acc *st.Account) (transport.Transport, error) {
		return newStubTransport(errors.New("unauthorized")), nil
	}
	o := testOrchestrator(t, factory)
	acc, err := o.RegisterAccount("+79990000000", "bad-sess", 1, "hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := o.StartAccount(context.Background(), acc.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := o.store.GetAccount(acc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsActive {
			break
		}
		select {
		case <-deadline:
			t.Fatal("account still active after session failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartAllSkipsInactive(t *testing.T) {
	started := 0
	factory := func(acc *st.Account) (transport.Transport, error) {
		started++
		return newStubTransport(nil), nil
	}
	o := testOrchestrator(t, factory)

	active, err := o.RegisterAccount("+79990000001", "s1", 1, "h")
	if err != nil {
		t.Fatal(err)
	}
	inactive, err := o.RegisterAccount("+79990000002", "s2", 1, "h")
	if err != nil {
		t.Fatal(err)
	}
	inactive.IsActive = false
	if err := o.store.SaveAccount(*inactive); err != nil {
		t.Fatal(err)
	}

	if err := o.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.StopAll()

	if started != 1 {
		t.Errorf("transports built = %d, want 1", started)
	}
	status, _ := o.Account(active.ID)
	if !status.Running {
		t.Error("active account not running")
	}
}

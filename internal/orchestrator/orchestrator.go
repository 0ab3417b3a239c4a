package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatmind/internal/ai"
	"chatmind/internal/config"
	"chatmind/internal/memory"
	"chatmind/internal/persona"
	"chatmind/internal/store"
	st "chatmind/internal/storagetypes"
	"chatmind/internal/transport"
	"chatmind/internal/worker"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAlreadyRunning     = errors.New("account already running")
	ErrNotRunning         = errors.New("account not running")
	ErrNoTransportFactory = errors.New("transport factory not configured")
)

// TransportFactory builds a platform connection for one account.
type TransportFactory func(acc *st.Account) (transport.Transport, error)

// AccountStatus is the admin-facing view of one account.
type AccountStatus struct {
	Account st.Account   `json:"account"`
	Running bool         `json:"running"`
	Stats   worker.Stats `json:"stats,omitempty"`
}

type runningWorker struct {
	worker *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the account registry and the lifecycle of one worker per
// active account.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	provider  ai.Provider
	newTransp TransportFactory
	log       zerolog.Logger

	mu      sync.Mutex
	running map[string]*runningWorker
	engines map[string]*persona.Engine
}

func New(cfg *config.Config, s *store.Store, provider ai.Provider, factory TransportFactory, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     s,
		provider:  provider,
		newTransp: factory,
		log:       log,
		running:   make(map[string]*runningWorker),
		engines:   make(map[string]*persona.Engine),
	}
}

// RegisterAccount creates an account with a fresh id and a default
// personality profile.
func (o *Orchestrator) RegisterAccount(phoneNumber, sessionString string, apiID int, apiHash string) (*st.Account, error) {
	acc := st.Account{
		ID:            uuid.NewString(),
		PhoneNumber:   phoneNumber,
		SessionString: sessionString,
		APIID:         apiID,
		APIHash:       apiHash,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	if err := o.store.SaveAccount(acc); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	if _, err := o.personaEngine(acc.ID).LoadProfile(); err != nil {
		return nil, fmt.Errorf("init profile: %w", err)
	}
	o.log.Info().Str("account_id", acc.ID).Msg("account registered")
	return &acc, nil
}

// PersonaEngine returns the shared personality engine for an account. The
// same instance serves both the running worker and the admin API, so profile
// updates are visible to in-flight decisions.
func (o *Orchestrator) PersonaEngine(accountID string) (*persona.Engine, error) {
	acc, err := o.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return o.personaEngine(accountID), nil
}

func (o *Orchestrator) personaEngine(accountID string) *persona.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.engines[accountID]
	if !ok {
		e = persona.NewEngine(accountID, o.store)
		o.engines[accountID] = e
	}
	return e
}

// StartAccount launches a worker for the account. The worker connects
// asynchronously; a session failure is reported through the logs and marks
// the account inactive.
func (o *Orchestrator) StartAccount(ctx context.Context, accountID string) error {
	acc, err := o.store.GetAccount(accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return ErrAccountNotFound
	}

	o.mu.Lock()
	if _, ok := o.running[accountID]; ok {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.mu.Unlock()

	if o.newTransp == nil {
		return ErrNoTransportFactory
	}
	tr, err := o.newTransp(acc)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	sender := transport.NewRateLimitedSender(tr, o.cfg.SendRatePerMinute)
	mem := memory.NewManager(acc.ID, o.store)
	w := worker.New(acc, tr, sender, o.personaEngine(acc.ID), mem, o.provider, o.log)

	wctx, cancel := context.WithCancel(ctx)
	rw := &runningWorker{worker: w, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.running[accountID] = rw
	o.mu.Unlock()

	acc.IsActive = true
	now := time.Now()
	acc.LastSeen = &now
	if err := o.store.SaveAccount(*acc); err != nil {
		o.log.Error().Err(err).Str("account_id", accountID).Msg("save account failed")
	}

	go func() {
		defer close(rw.done)
		err := w.Run(wctx)

		o.mu.Lock()
		delete(o.running, accountID)
		o.mu.Unlock()

		if err != nil {
			o.log.Error().Err(err).Str("account_id", accountID).Msg("worker exited")
			o.deactivate(accountID)
			return
		}
		o.touch(accountID)
	}()

	return nil
}

// StopAccount cancels the worker and waits for it to drain.
func (o *Orchestrator) StopAccount(accountID string) error {
	o.mu.Lock()
	rw, ok := o.running[accountID]
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	rw.cancel()
	<-rw.done
	o.log.Info().Str("account_id", accountID).Msg("account stopped")
	return nil
}

// StartAll launches workers for every active account. Invalid sessions are
// logged and skipped, they do not abort the rest.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	accounts, err := o.store.GetAllAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		if err := o.StartAccount(ctx, acc.ID); err != nil {
			o.log.Warn().Err(err).Str("account_id", acc.ID).Msg("start skipped")
		}
	}
	return nil
}

// StopAll stops every running worker.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	workers := make([]*runningWorker, 0, len(o.running))
	for _, rw := range o.running {
		workers = append(workers, rw)
	}
	o.mu.Unlock()

	for _, rw := range workers {
		rw.cancel()
	}
	for _, rw := range workers {
		<-rw.done
	}
}

// Accounts returns the status of every registered account.
func (o *Orchestrator) Accounts() ([]AccountStatus, error) {
	accounts, err := o.store.GetAllAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]AccountStatus, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, o.status(acc))
	}
	return out, nil
}

// Account returns the status of one account.
func (o *Orchestrator) Account(accountID string) (*AccountStatus, error) {
	acc, err := o.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	s := o.status(*acc)
	return &s, nil
}

func (o *Orchestrator) status(acc st.Account) AccountStatus {
	acc.SessionString = "" // never expose session material
	s := AccountStatus{Account: acc}
	o.mu.Lock()
	rw, ok := o.running[acc.ID]
	o.mu.Unlock()
	if ok {
		s.Running = true
		s.Stats = rw.worker.Stats()
	}
	return s
}

func (o *Orchestrator) deactivate(accountID string) {
	acc, err := o.store.GetAccount(accountID)
	if err != nil || acc == nil {
		return
	}
	acc.IsActive = false
	if err := o.store.SaveAccount(*acc); err != nil {
		o.log.Error().Err(err).Str("account_id", accountID).Msg("deactivate failed")
	}
}

func (o *Orchestrator) touch(accountID string) {
	acc, err := o.store.GetAccount(accountID)
	if err != nil || acc == nil {
		return
	}
	now := time.Now()
	acc.LastSeen = &now
	if err := o.store.SaveAccount(*acc); err != nil {
		o.log.Error().Err(err).Str("account_id", accountID).Msg("save account failed")
	}
}

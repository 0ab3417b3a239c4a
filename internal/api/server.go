package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"chatmind/internal/orchestrator"
	"chatmind/internal/persona"
	st "chatmind/internal/storagetypes"
)

// Server is the admin control surface: account lifecycle and personality
// management. It is the only way to mutate a personality at runtime.
type Server struct {
	orch *orchestrator.Orchestrator
	log  zerolog.Logger
	http *http.Server
}

func NewServer(addr, token string, orch *orchestrator.Orchestrator, log zerolog.Logger) *Server {
	s := &Server{orch: orch, log: log}

	r := mux.NewRouter()
	r.Use(requestLogger(log))
	if token != "" {
		r.Use(bearerAuth(token))
	}

	r.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts", s.registerAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", s.getAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/start", s.startAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/stop", s.stopAccount).Methods(http.MethodPost)

	r.HandleFunc("/accounts/{id}/profile", s.getProfile).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/profile", s.updateBaseConfig).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/constraints", s.updateConstraints).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/chats", s.updateAllowedChats).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/lock", s.lockProfile).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/unlock", s.unlockProfile).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("admin api listening")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// === Accounts ===

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.orch.Accounts()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, accounts)
}

type registerRequest struct {
	PhoneNumber   string `json:"phone_number"`
	SessionString string `json:"session_string"`
	APIID         int    `json:"api_id"`
	APIHash       string `json:"api_hash"`
}

func (s *Server) registerAccount(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.PhoneNumber == "" {
		s.fail(w, http.StatusBadRequest, errors.New("phone_number is required"))
		return
	}

	acc, err := s.orch.RegisterAccount(req.PhoneNumber, req.SessionString, req.APIID, req.APIHash)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	acc.SessionString = ""
	s.respond(w, http.StatusCreated, acc)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Account(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, status)
}

func (s *Server) startAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.StartAccount(context.Background(), id); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "starting"})
}

func (s *Server) stopAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.StopAccount(id); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// === Personality ===

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	engine, err := s.orch.PersonaEngine(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	profile, err := engine.Profile()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, profile)
}

func (s *Server) updateBaseConfig(w http.ResponseWriter, r *http.Request) {
	s.mutateProfile(w, r, func(engine *persona.Engine) (*st.PersonalityProfile, error) {
		var base st.BaseConfig
		if err := json.NewDecoder(r.Body).Decode(&base); err != nil {
			return nil, badRequest(err)
		}
		return engine.UpdateBaseConfig(base)
	})
}

func (s *Server) updateConstraints(w http.ResponseWriter, r *http.Request) {
	s.mutateProfile(w, r, func(engine *persona.Engine) (*st.PersonalityProfile, error) {
		var c st.Constraints
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			return nil, badRequest(err)
		}
		return engine.UpdateConstraints(c)
	})
}

func (s *Server) updateAllowedChats(w http.ResponseWriter, r *http.Request) {
	s.mutateProfile(w, r, func(engine *persona.Engine) (*st.PersonalityProfile, error) {
		var req struct {
			AllowedChats []string `json:"allowed_chats"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, badRequest(err)
		}
		return engine.UpdateAllowedChats(req.AllowedChats)
	})
}

func (s *Server) lockProfile(w http.ResponseWriter, r *http.Request) {
	s.mutateProfile(w, r, func(engine *persona.Engine) (*st.PersonalityProfile, error) {
		return engine.Lock()
	})
}

func (s *Server) unlockProfile(w http.ResponseWriter, r *http.Request) {
	s.mutateProfile(w, r, func(engine *persona.Engine) (*st.PersonalityProfile, error) {
		return engine.Unlock()
	})
}

func (s *Server) mutateProfile(w http.ResponseWriter, r *http.Request, fn func(*persona.Engine) (*st.PersonalityProfile, error)) {
	engine, err := s.orch.PersonaEngine(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	profile, err := fn(engine)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, profile)
}

// === Helpers ===

type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return e.err.Error() }

func badRequest(err error) error { return errBadRequest{err: err} }

func statusFor(err error) int {
	var br errBadRequest
	switch {
	case errors.Is(err, orchestrator.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, persona.ErrPersonalityLocked):
		return http.StatusLocked
	case errors.As(err, &br):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respond(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.respond(w, code, map[string]string{"error": err.Error()})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatmind/internal/ai"
	"chatmind/internal/api"
	"chatmind/internal/config"
	"chatmind/internal/logging"
	"chatmind/internal/orchestrator"
	"chatmind/internal/store"
	st "chatmind/internal/storagetypes"
	"chatmind/internal/transport"
	v "chatmind/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("version", v.AppVersion).Msgf("starting %s", v.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer s.Close()

	provider, err := ai.NewProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init ai provider")
	}

	factory := func(acc *st.Account) (transport.Transport, error) {
		return transport.NewTelegramTransport(acc.SessionString), nil
	}

	orch := orchestrator.New(cfg, s, provider, factory, log)
	if err := orch.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("start accounts")
	}

	server := api.NewServer(cfg.APIAddr, cfg.APIToken, orch, log)
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sg := <-sig:
		log.Info().Str("signal", sg.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("api server error")
		}
	}

	cancel()
	orch.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}

	log.Info().Msg("exited cleanly")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webalive/workerspawn/internal/config"
	"github.com/webalive/workerspawn/internal/controller"
	"github.com/webalive/workerspawn/internal/logger"
	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/ratelimit"
	"github.com/webalive/workerspawn/internal/reaper"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
)

func main() {
	cfg, err := config.LoadController()
	if err != nil {
		fmt.Fprintln(os.Stderr, "controller: load config:", err)
		os.Exit(1)
	}

	l := logger.Init("controller", cfg.LogLevel)
	sentryx.Init("workerspawn-controller", cfg.Environment)
	defer sentryx.Flush(2 * time.Second)

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		l.Fatal().Err(err).Msg("controller: open store")
	}
	defer st.Close()

	sgn, err := signer.LoadOrCreate(cfg.SigningKeyPath, cfg.SigningKeyID)
	if err != nil {
		l.Fatal().Err(err).Msg("controller: load signing key")
	}

	driver, err := orchestrator.NewDockerDriver(cfg.OrchestratorNamespace, cfg.WorkerNetworkName)
	if err != nil {
		l.Fatal().Err(err).Msg("controller: connect to orchestrator")
	}
	defer driver.Close()

	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Stop()

	srv := controller.NewServer(controller.Config{
		APIKey:               mustSecret("CONTROLLER_API_KEY"),
		WorkerImage:          cfg.WorkerImage,
		GatewayPublicOrigin:  cfg.GatewayPublicOrigin,
		SessionTTL:           cfg.SessionTTL,
		TokenTTL:             cfg.TokenTTL,
		EndpointPollDeadline: 30 * time.Second,
		EndpointPollInterval: 500 * time.Millisecond,
	}, st, sgn, driver, limiter, l)

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	rp := reaper.New(st, driver, cfg.PruneInterval, l)
	go rp.Run(reaperCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(cfg.AllowedOrigins),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		l.Info().Str("addr", httpServer.Addr).Msg("controller: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		l.Error().Err(runErr).Msg("controller: server error")
		sentryx.CaptureError(runErr, "controller listen error")
	case sig := <-quit:
		l.Info().Str("signal", sig.String()).Msg("controller: shutting down")
	}

	cancelReaper()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("controller: shutdown error")
		sentryx.CaptureError(err, "controller shutdown error")
		runErr = err
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func mustSecret(envVar string) string {
	v := os.Getenv(envVar)
	if v == "" {
		fmt.Fprintf(os.Stderr, "controller: required secret %s is not set\n", envVar)
		os.Exit(1)
	}
	return v
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webalive/workerspawn/internal/config"
	"github.com/webalive/workerspawn/internal/gateway"
	"github.com/webalive/workerspawn/internal/logger"
	"github.com/webalive/workerspawn/internal/sentryx"
	"github.com/webalive/workerspawn/internal/signer"
	"github.com/webalive/workerspawn/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	readTimeout     = 10 * time.Second
	writeTimeout    = 0 // long-lived WS connections manage their own deadlines
	idleTimeout     = 120 * time.Second
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		os.Stderr.WriteString("gateway: load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	l := logger.Init("gateway", cfg.LogLevel)
	sentryx.Init("workerspawn-gateway", cfg.Environment)
	defer sentryx.Flush(2 * time.Second)

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		l.Fatal().Err(err).Msg("gateway: open store")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	verifier, err := signer.NewVerifier(ctx, cfg.JWKSURL, cfg.ExpectedAud, cfg.JWKSRefresh)
	cancel()
	if err != nil {
		l.Fatal().Err(err).Msg("gateway: create jwks verifier")
	}

	srv := gateway.NewServer(st, verifier, cfg.AllowedOrigins, l)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		l.Info().Str("addr", httpServer.Addr).Msg("gateway: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		l.Error().Err(runErr).Msg("gateway: server error")
		sentryx.CaptureError(runErr, "gateway listen error")
	case sig := <-quit:
		l.Info().Str("signal", sig.String()).Msg("gateway: shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	srv.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("gateway: http shutdown error")
		sentryx.CaptureError(err, "gateway shutdown error")
		runErr = err
	}

	if runErr != nil {
		os.Exit(1)
	}
}

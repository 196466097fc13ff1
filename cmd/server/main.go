package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/logging"
	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/server"
)

func main() {
	logging.Init()
	log := logging.Component("main")

	cfg, err := config.LoadServer()
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	engine, err := media.NewMemoryEngine()
	if err != nil {
		log.Error("create media engine", "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, engine, slog.Default())

	httpSrv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("signaling server listening", "addr", cfg.BindAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			exitCode = 1
		}
	case err := <-srv.Died():
		// The engine cannot route media anymore; shut down rather than keep
		// accepting sessions that will never see traffic.
		log.Error("media engine died, shutting down", "err", err)
		exitCode = 1
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
	engine.Close()
	os.Exit(exitCode)
}

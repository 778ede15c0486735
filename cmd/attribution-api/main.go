package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"example.com/attribution/internal/app"
	"example.com/attribution/internal/config"
	"example.com/attribution/internal/logging"
	transport "example.com/attribution/internal/transport/http"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	storeKind := flag.String("store", app.StorePostgres, "Backend: postgres or memory.")
	seed := flag.String("seed", "", "JSON seed file for -store=memory.")
	flag.Parse()

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.WithError(err).Fatal("Logging setup failed.")
	}
	defer closer.Close()
	log.WithFields(log.Fields{"port": cfg.Port, "store": *storeKind}).Info("Starting attribution API.")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, *storeKind, *seed)
	if err != nil {
		log.WithError(err).Fatal("Init failed.")
	}
	defer a.Close()

	deps := &transport.ServerDeps{
		Cfg:    cfg,
		Store:  a.Store,
		Runner: a.Runner,
		Now:    func() time.Time { return time.Now().UTC() },
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// POST /runs answers when the run finishes.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("Listening.")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed.")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
}

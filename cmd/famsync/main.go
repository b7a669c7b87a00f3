package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthkeep/famsync/internal/config"
	"github.com/hearthkeep/famsync/internal/db"
	"github.com/hearthkeep/famsync/internal/google"
	"github.com/hearthkeep/famsync/internal/ingest"
	syncengine "github.com/hearthkeep/famsync/internal/sync"
	"github.com/hearthkeep/famsync/internal/tasks"
	"github.com/hearthkeep/famsync/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("invalid timezone %q: %v", cfg.Timezone, err)
	}

	store, err := db.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer store.Close()

	tokens := google.NewTokenRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenURL)
	calendar := google.NewCalendarClient(cfg.CalendarAPIBaseURL, cfg.CalendarAPIRPS, cfg.CalendarAPIBurst)

	queue := tasks.NewQueue(store)
	engine := syncengine.NewEngine(store, calendar, tokens, queue, loc)
	reconciler := ingest.NewReconciler(store, loc)

	worker := syncengine.NewWorker(engine, queue, time.Duration(cfg.WorkerPollSeconds)*time.Second)
	if err := worker.Start(); err != nil {
		log.Fatalf("failed to start worker: %v", err)
	}
	defer worker.Stop()

	sweeper := syncengine.NewSweeper(store, queue,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.LogRetentionDays)*24*time.Hour)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	handlers := web.NewHandlers(store, engine, queue, reconciler, loc)
	router := web.NewRouter(cfg, handlers)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s (%s)", cfg.Port, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}

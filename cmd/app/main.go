package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/config"
	"github.com/ndemidenko/boardflow/internal/events"
	"github.com/ndemidenko/boardflow/internal/handler"
	"github.com/ndemidenko/boardflow/internal/repo"
	"github.com/ndemidenko/boardflow/internal/service"
	"github.com/ndemidenko/boardflow/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to Database.")
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal("Failed to ping the Database.")
	}
	logger.Info("Successfully connected to the Database!")

	// Единственное процесс-глобальное изменяемое состояние: реестр каналов
	broadcaster := events.NewBroadcaster(logger, cfg.EventBuffer)
	defer broadcaster.Close()

	taskRepo := repo.NewTaskRepo(pool)
	stageRepo := repo.NewStageRepo(pool)
	historyRepo := repo.NewHistoryRepo(pool)
	resolver := repo.NewResolver(pool)
	lookup := repo.NewLookup(pool)

	recorder := service.NewHistoryRecorder(historyRepo, lookup, lookup)
	taskService := service.NewTaskService(taskRepo, resolver, recorder, broadcaster, lookup, lookup, lookup, logger)
	stageService := service.NewStageService(stageRepo, broadcaster, logger)

	taskHandler := handler.NewTaskHandler(taskService, logger)
	stageHandler := handler.NewStageHandler(stageService, logger)
	streamHandler := handler.NewStreamHandler(broadcaster, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok"}`)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.Create)
		r.Get("/", taskHandler.List)
		r.Post("/reorder", taskHandler.Reorder)
		r.Get("/{id}", taskHandler.Get)
		r.Patch("/{id}", taskHandler.Update)
		r.Delete("/{id}", taskHandler.Delete)
		r.Post("/{id}/move", taskHandler.Move)
		r.Put("/{id}/assignee", taskHandler.SetAssignee)
		r.Get("/{id}/history", taskHandler.History)
	})

	r.Route("/api/stages", func(r chi.Router) {
		r.Post("/", stageHandler.Create)
		r.Post("/reorder", stageHandler.Reorder)
		r.Patch("/{id}", stageHandler.Rename)
		r.Delete("/{id}", stageHandler.Delete)
	})

	r.Get("/api/stream", streamHandler.Stream)

	notifier := worker.NewNotifier(pool, broadcaster, logger, cfg.NotifierCount, cfg.NotifierInterval)
	notifier.Start(context.Background())
	defer notifier.Stop()

	srv := http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		// Без WriteTimeout: /api/stream держит соединение открытым
	}

	go func() {
		logger.Info("Server started at ", zap.String("port", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: ", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	broadcaster.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Shutdown error: ", zap.Error(err))
	}
	logger.Info("Server stopped succsessfully!")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskhive/api/internal/accounts"
	"taskhive/api/internal/app"
	"taskhive/api/internal/config"
	"taskhive/api/internal/live"
	"taskhive/api/internal/search"
	"taskhive/api/internal/session"
	"taskhive/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgLike(dataStore))

	// Refresh tokens rotate through Redis when configured; without it they
	// stay stateless and replay-detection is off.
	var accountService *accounts.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token rotation")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		accountService = accounts.NewService(dataStore, redisStore, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	} else {
		log.Printf("Using stateless refresh tokens")
		accountService = accounts.NewService(dataStore, nil, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	}

	service := app.NewService(dataStore, accountService, searchService)
	registry := live.NewRegistry()
	liveHandler := live.NewHandler(registry, []byte(cfg.JWTSecret), service)

	httpServer := app.NewHTTPServer(service, liveHandler, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TaskHive API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

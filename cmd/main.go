package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyforge/server/internal/config"
	"storyforge/server/internal/engine"
	"storyforge/server/internal/memory"
	"storyforge/server/internal/prompts"
	"storyforge/server/internal/quota"
	"storyforge/server/internal/storage"
	"storyforge/server/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize storage connections
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("Database connected (%s)", cfg.Database.Driver)

	if cfg.Database.Driver == "mysql" {
		if err := store.ConfigurePool(
			cfg.Database.MySQL.MaxOpenConns,
			cfg.Database.MySQL.MaxIdleConns,
			cfg.Database.MySQL.ConnMaxLifetime,
		); err != nil {
			log.Printf("Warning: Failed to configure connection pool: %v", err)
		}
	}

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		redisStore = nil
	} else {
		defer redisStore.Close()
		log.Println("Redis connected successfully")
	}

	// Initialize the generation backend. Without an API key the engine
	// runs in degraded mode: actions are recorded but no narration is
	// generated.
	provider := engine.NewOpenAIProvider(engine.OpenAIConfig{
		APIKey:      cfg.AI.OpenAI.APIKey,
		BaseURL:     cfg.AI.OpenAI.BaseURL,
		Model:       cfg.AI.OpenAI.Model,
		Temperature: cfg.AI.OpenAI.Temperature,
		MaxTokens:   cfg.AI.OpenAI.MaxTokens,
		Timeout:     cfg.AI.OpenAI.Timeout,
	})
	if provider == nil {
		log.Println("Warning: No OpenAI API key provided. Running in degraded mode.")
	}

	// Long-term memory needs both Qdrant and an embedding-capable
	// provider; skip it when either is missing.
	var memories engine.Recaller
	if cfg.Memory.Enabled && provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		memStore, err := memory.NewStore(ctx, cfg.Database.Qdrant, provider)
		cancel()
		if err != nil {
			log.Printf("Warning: Failed to connect to Qdrant: %v", err)
		} else {
			defer memStore.Close()
			memories = memStore
			log.Println("Qdrant connected successfully")
		}
	}

	var ledger quota.Ledger
	var locks engine.TurnLocker
	if redisStore != nil {
		if cfg.Quota.Enabled {
			ledger = quota.NewRedisLedger(redisStore.Client())
			log.Println("Credit ledger enabled")
		}
		locks = redisStore
	}

	eng := engine.NewEngine(engine.Config{
		Store:    store,
		Provider: providerOrNil(provider),
		Ledger:   ledger,
		Memories: memories,
		Prompts:  prompts.NewLibrary(),
		Locks:    locks,
	})

	hub := web.NewTurnHub()
	go hub.Run()

	r := web.NewRouter(eng, hub)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in background
	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// providerOrNil keeps a typed-nil *OpenAIProvider from masquerading as
// a live Provider interface value.
func providerOrNil(p *engine.OpenAIProvider) engine.Provider {
	if p == nil {
		return nil
	}
	return p
}

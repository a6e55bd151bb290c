package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"khmerscribe/internal/api"
	"khmerscribe/internal/config"
	"khmerscribe/internal/db"
	"khmerscribe/internal/lifecycle"
	"khmerscribe/internal/metrics"
	"khmerscribe/internal/repository"
	"khmerscribe/internal/storage"
	"khmerscribe/internal/stt"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode (default to release mode)
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	store := newStore(cfg)

	var uploads *storage.LocalStore
	var objects storage.ObjectStore
	switch cfg.ObjectStore {
	case "azblob":
		blobs, err := storage.NewBlobStore(cfg.AzureAccountURL, cfg.AzureContainer)
		if err != nil {
			log.Fatalf("Failed to create object store: %v", err)
		}
		objects = blobs
	default:
		uploads, err = storage.NewLocalStore(cfg.UploadsDir)
		if err != nil {
			log.Fatalf("Failed to create object store: %v", err)
		}
		objects = uploads
		log.Printf("Storing uploads in %s", cfg.UploadsDir)
	}

	recognizer, err := stt.CreateRecognizer(context.Background(), cfg, objects)
	if err != nil {
		log.Fatalf("Failed to create STT recognizer: %v", err)
	}
	log.Printf("STT recognizer initialized: %s", recognizer.Name())

	whitelist, err := lifecycle.NewWhitelist(cfg.WhitelistedUsers, cfg.WhitelistPattern)
	if err != nil {
		log.Fatalf("Failed to create whitelist: %v", err)
	}
	if whitelist.Enabled() {
		log.Printf("Whitelist enabled with %d email(s)", len(cfg.WhitelistedUsers))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	manager := lifecycle.NewManager(lifecycle.Deps{
		Store:      store,
		Recognizer: recognizer,
		Objects:    objects,
		Metrics:    m,
	}, lifecycle.Settings{
		LanguageCode:      cfg.LanguageCode,
		AudioURIPrefix:    cfg.AudioURIPrefix,
		Phrases:           cfg.SpeechContextPhrases,
		PhraseBoost:       cfg.SpeechContextBoost,
		DefaultQuotaMB:    cfg.DefaultQuotaMB,
		CleanupRetryDelay: cfg.CleanupRetryDelay,
	}, whitelist)

	r := gin.Default()

	// Add CORS middleware for the web client
	r.Use(api.CORSMiddleware())

	// Register routes
	api.RegisterRoutes(r, api.NewHandlers(manager, uploads, m, reg))

	log.Printf("khmerscribe backend running on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newStore connects to Postgres when DATABASE_URL is set and falls back to memory otherwise
func newStore(cfg *config.Config) repository.Store {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, running without database (in-memory storage only)")
		return repository.NewMemoryStore()
	}

	log.Printf("Initializing database connection with DATABASE_URL...")
	if err := db.Init(cfg.DatabaseURL); err != nil {
		log.Printf("Warning: Failed to initialize database: %v. Continuing without database.", err)
		return repository.NewMemoryStore()
	}

	log.Println("Database and repository initialized successfully")
	return repository.NewPostgresStore()
}

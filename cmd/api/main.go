package main

import (
	"database/sql"
	httpNet "net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/luisreales/techprep-sub000/internal/config"
	"github.com/luisreales/techprep-sub000/internal/delivery/http"
	"github.com/luisreales/techprep-sub000/internal/logger"
	"github.com/luisreales/techprep-sub000/internal/repository/memory"
	"github.com/luisreales/techprep-sub000/internal/repository/postgres"
	"github.com/luisreales/techprep-sub000/internal/security"
	"github.com/luisreales/techprep-sub000/internal/service"
)

func main() {
	// 1. Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.InitLogger(cfg.LogLevel)

	stopWords, err := service.LoadStopWords(cfg.StopWordsFile)
	if err != nil {
		logger.Fatalf("Cannot load stop words: %v", err)
	}

	// 2. Armazenamento
	var backend service.Backend
	switch cfg.StorageDriver {
	case "memory":
		logger.Warn("Using in-memory storage: data is lost on restart")
		backend = memory.NewStore(time.Now)
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			logger.Fatalf("Cannot connect to DB: %v", err)
		}
		logger.Info("Connected to PostgreSQL")

		if cfg.RunMigrations {
			runMigration(db, cfg.SchemaFile)
		}
		backend = postgres.NewPostgresRepo(db)
	}

	// 3. Inicialização das camadas
	audit := security.NewAuditLogger()
	svc := service.NewService(backend, cfg, stopWords, audit)
	h := http.NewHandler(svc.Templates, svc.Sessions, svc.Ledger, svc.Certificates)

	limiter := security.NewRateLimiter(security.DefaultLimits(), audit)
	maintenance := service.NewMaintenanceService(5 * time.Minute)
	maintenance.Register("rate-limit-sweep", limiter.Sweep)
	maintenance.Start()
	defer maintenance.Stop()

	// 4. Router
	mux := h.Routes(cfg.JWTSecret, limiter)

	server := http.CORSMiddleware(mux)
	logger.Info("Server running on port %s | storage: %s", cfg.Port, cfg.StorageDriver)
	if err := httpNet.ListenAndServe(":"+cfg.Port, server); err != nil {
		logger.Fatalf("%v", err)
	}
}

func runMigration(db *sql.DB, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Schema file %s not readable, skipping migration: %v", path, err)
		return
	}
	if _, err := db.Exec(string(content)); err != nil {
		logger.Warn("Migration warning: %v", err)
		return
	}
	logger.Info("Schema applied from %s", path)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	limitermem "github.com/ulule/limiter/v3/drivers/store/memory"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	pgsqlstore "github.com/LaazAlae/expenseTracker-sub000/internal/adapters/database/pgsql"
	sqlitestore "github.com/LaazAlae/expenseTracker-sub000/internal/adapters/database/sqlite"
	portsrepo "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/repositories"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/handlers"
	"github.com/LaazAlae/expenseTracker-sub000/internal/middleware"
	"github.com/LaazAlae/expenseTracker-sub000/internal/syncserver"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/config"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/database"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := openLedgerStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("Error closing ledger store", slog.String("error", cerr.Error()))
		}
	}()

	container, err := services.NewContainer(ctx, cfg, store)
	if err != nil {
		logger.Error("Failed to initialize services", slog.String("error", err.Error()))
		os.Exit(1)
	}

	syncSrv := syncserver.NewServer(cfg, container, logger)

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.StructuredLoggingMiddleware(logger), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Error("Failed to set trusted proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}

	loginLimiter, err := newLoginLimiter(cfg)
	if err != nil {
		logger.Error("Failed to configure login rate limiter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers.RegisterRoutes(r, container, syncSrv, loginLimiter)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to run", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop accepting requests, close sync connections,
	// then let the deferred store close run.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	syncSrv.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", slog.String("error", err.Error()))
	}
	logger.Info("Server stopped")
}

// openLedgerStore selects the configured persistence backend. The sqlite
// store migrates itself; pgsql goes through golang-migrate first.
func openLedgerStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (portsrepo.LedgerStore, error) {
	switch cfg.StoreDriver {
	case "pgsql":
		if err := runPgsqlMigrations(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := database.NewPgxPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection pool established")
		return pgsqlstore.NewLedgerStore(pool), nil
	default:
		logger.Info("Using sqlite ledger store", slog.String("path", cfg.SQLitePath))
		return sqlitestore.NewLedgerStore(cfg.SQLitePath)
	}
}

func runPgsqlMigrations(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Running database migrations")

	// A plain sql.DB via the pgx stdlib driver, used only for migrations.
	migrationDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := migrationDB.Close(); cerr != nil {
			logger.Error("Error closing migration DB connection", slog.String("error", cerr.Error()))
		}
	}()
	if err := migrationDB.Ping(); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	if dbErr != nil {
		return dbErr
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply")
	} else {
		logger.Info("Database migrations applied")
	}
	return nil
}

func newLoginLimiter(cfg *config.Config) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.LoginRateLimit)
	if err != nil {
		return nil, err
	}
	return limiter.New(limitermem.NewStore(), rate), nil
}

// Package main is the entry point for the api-monitor server binary.
// It dispatches its subcommands (serve, migrate, createuser, token and version) with a
// plain switch on os.Args so the whole CLI surface is readable in one place. The
// serve command runs auto-migration on startup.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/api-monitor/api-monitor/internal/api"
	"github.com/api-monitor/api-monitor/internal/config"
	"github.com/api-monitor/api-monitor/internal/db"
	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/api-monitor/api-monitor/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: %s <command>

commands:
  serve                          run the API server (default)
  migrate <up|down>              apply or roll back schema migrations
  createuser <username> [admin]  create an account; the password is read from stdin
  token <username>               issue an access token outside the HTTP login flow
  version                        print the build version`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("api-monitor %s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf(usage, os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "createuser":
		if len(os.Args) < 3 {
			return fmt.Errorf(usage, os.Args[0])
		}
		return createUser(cfg, os.Args[2], len(os.Args) > 3 && os.Args[3] == "admin")
	case "token":
		if len(os.Args) < 3 {
			return fmt.Errorf(usage, os.Args[0])
		}
		return issueToken(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\n"+usage, command, os.Args[0])
	}
}

func connect(cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return sqlx.NewDb(database, "postgres"), nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.StartDBStatsCollector(ctx, database.DB, 15*time.Second)

	svc, err := buildServices(cfg, database)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.Port)
	}

	router, bg := api.NewRouter(cfg, svc.Dependencies(database))

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled,
			"log_request_body", cfg.Monitoring.LogRequestBody)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		bg.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bg.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves /metrics on its own port, off the public API listener
func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		slog.Info("starting Prometheus metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// createUser reads the password from the first line of stdin
func createUser(cfg *config.Config, username string, admin bool) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		return err
	}

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	user := &models.User{Username: username, PasswordHash: hash, IsAdmin: admin}
	if err := repositories.NewUserRepository(database).CreateUser(context.Background(), user); err != nil {
		return err
	}
	fmt.Printf("created user %s (id %s, admin %v)\n", user.Username, user.ID, user.IsAdmin)
	return nil
}

// issueToken mints a token for an existing user and reports the login to the
// session observers, so it appears in the activity log like an HTTP login
func issueToken(cfg *config.Config, username string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	svc, err := buildServices(cfg, database)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()
	user, err := repositories.NewUserRepository(database).GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", username)
	}

	token, expiresAt, err := svc.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	svc.Events.Emit(ctx, identity.SessionEvent{
		Kind:      identity.SessionLogin,
		UserID:    user.ID,
		Method:    "CLI",
		Path:      "cli:token",
		UserAgent: "api-monitor-cli/" + api.Version,
	})

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

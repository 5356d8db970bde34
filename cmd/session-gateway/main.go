// ABOUTME: Entry point for the session-gateway server
// ABOUTME: Manages conversation session identity for channel adapters

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/singularitybridge/session-gateway/internal/auth"
	"github.com/singularitybridge/session-gateway/internal/config"
	"github.com/singularitybridge/session-gateway/internal/gateway"
	"github.com/singularitybridge/session-gateway/internal/identity"
	"github.com/singularitybridge/session-gateway/internal/session"
	"github.com/singularitybridge/session-gateway/internal/store"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// getConfigPath returns the path to the gateway config file.
// Priority: SESSION_GATEWAY_CONFIG env var > XDG_CONFIG_HOME > ~/.config.
func getConfigPath() string {
	if envPath := os.Getenv("SESSION_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "session-gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "session-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: session-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the gateway server")
		fmt.Println("  init                         Create a starter config file")
		fmt.Println("  token --user U --company C   Issue a bearer token for a caller")
		fmt.Println("  health                       Check gateway health")
		os.Exit(1)
	}

	// Local .env values feed ${VAR} expansion in the config file.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)
	logger := slog.Default()

	color.Cyan("session-gateway %s", version)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	// Best effort: a failed migration degrades race protection but must not
	// keep the gateway from serving.
	if err := st.EnsureSessionIndex(ctx); err != nil {
		logger.Warn("session index migration failed, continuing with existing index state", "error", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("initializing token manager: %w", err)
	}

	resolver := identity.NewResolver(st)
	sessions := session.New(st, st, logger)
	gw := gateway.New(sessions, resolver, st, tokens, logger)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupLogging configures the default slog handler from config.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

const starterConfig = `server:
  http_addr: "127.0.0.1:8080"

database:
  path: "${HOME}/.local/share/session-gateway/gateway.db"

auth:
  jwt_secret: "${SESSION_GATEWAY_JWT_SECRET}"

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.Green("Wrote starter config to %s", path)
	fmt.Println("Set SESSION_GATEWAY_JWT_SECRET before starting the server.")
	return nil
}

// runToken issues a bearer token for local development and channel adapters.
func runToken(args []string) error {
	var userID, companyID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user":
			i++
			if i < len(args) {
				userID = args[i]
			}
		case "--company":
			i++
			if i < len(args) {
				companyID = args[i]
			}
		}
	}
	if userID == "" || companyID == "" {
		return fmt.Errorf("both --user and --company are required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	token, err := tokens.Issue(auth.Identity{UserID: userID, CompanyID: companyID}, 30*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		color.Red("unhealthy: %s", strings.TrimSpace(string(body)))
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	color.Green("healthy: %s", strings.TrimSpace(string(body)))
	return nil
}

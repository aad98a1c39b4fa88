// ABOUTME: Entry point for the loan-gateway server
// ABOUTME: Subcommands: serve, seed, token, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/finwell/loan-gateway/internal/auth"
	"github.com/finwell/loan-gateway/internal/config"
	"github.com/finwell/loan-gateway/internal/dispatch"
	"github.com/finwell/loan-gateway/internal/gateway"
	"github.com/finwell/loan-gateway/internal/letter"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                        _
| | ___   __ _ _ __         __ _  __ _| |_ _____      ____ _ _   _
| |/ _ \ / _' | '_ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | (_) | (_| | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|\___/ \__,_|_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                           |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LOAN_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/loan-gateway/gateway.yaml > ~/.config/loan-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOAN_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loan-gateway", "gateway.yaml")
}

// loadConfig loads the config file, falling back to built-in defaults when
// no file exists at the resolved path.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loan-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the gateway server")
		fmt.Println("  seed    Insert the demo customer dataset")
		fmt.Println("  token   Mint a demo bearer token")
		fmt.Println("  health  Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "seed":
		err = runSeed(ctx)
	case "token":
		err = runToken()
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

// resolveSecret returns the configured auth secret, generating an ephemeral
// one when none is set. Tokens from an ephemeral secret die with the process.
func resolveSecret(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Auth.Secret != "" {
		return cfg.Auth.Secret, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating ephemeral secret: %w", err)
	}
	if logger != nil {
		logger.Warn("no auth secret configured, using an ephemeral one")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Storage:  %s\n", cfg.Storage.Dir)
	fmt.Println()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// First run gets the demo dataset
	customers, err := st.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("checking customers: %w", err)
	}
	if len(customers) == 0 {
		if err := store.SeedDemoCustomers(ctx, st, logger); err != nil {
			return fmt.Errorf("seeding customers: %w", err)
		}
	}

	files, err := store.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("opening file store: %w", err)
	}

	policy, err := config.LoadPolicy(cfg.Underwriting.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	secret, err := resolveSecret(cfg, logger)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(secret, cfg.Auth.TokenTTL.Std())
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	registry := tools.Default()
	env := &tools.Env{
		Store:    st,
		Files:    files,
		Policy:   policy,
		Renderer: letter.NewRenderer(),
		Logger:   logger,
	}
	dispatcher := dispatch.New(registry, env, cfg.Dispatch.Timeout.Std(), logger)

	logger.Info("starting loan-gateway",
		"addr", cfg.Server.Addr,
		"database", cfg.Database.Path,
		"tools", len(registry.List()),
	)

	srv := gateway.New(cfg.Server.Addr, issuer, dispatcher, registry, st, files, logger)
	return srv.ListenAndServe(ctx)
}

func runSeed(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging.Level, "text")
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	return store.SeedDemoCustomers(ctx, st, logger)
}

func runToken() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret not configured; a locally minted token would not verify")
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL.Std())
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	token, callerID, err := issuer.Issue()
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Printf("caller: %s\n", callerID)
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: lvl,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/billed/internal/scanning"
	"github.com/zombor/billed/internal/session"
	"github.com/zombor/billed/internal/store"
	"github.com/zombor/billed/internal/web"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	fs := ff.NewFlagSet("billed")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		sessionDB    = fs.StringLong("session-db", "billed-sessions.db", "Session database file path")
		sessionTTL   = fs.DurationLong("session-ttl", 24*time.Hour, "How long an idle browser session is kept")
		apiURL       = fs.StringLong("api-url", "http://localhost:5678", "Bills API base URL")
		apiToken     = fs.StringLong("api-token", "", "Bearer token for the bills API (a session token takes precedence)")
		apiTimeout   = fs.DurationLong("api-timeout", 30*time.Second, "Bills API request timeout")
		email        = fs.StringLong("email", "", "Employee email used when basic auth does not carry one")
		scannerType  = fs.StringLong("scanner", "none", "Receipt scanner: 'none', 'gemini' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		secureCookie = fs.BoolLong("secure-cookie", "Mark the session cookie as HTTPS only")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILLED"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *email == "" && !strings.Contains(*authUser, "@") {
		slog.Warn("No employee email configured; set --email or use an email as --auth-user")
	}

	// Initialize session database
	slog.Info("Initializing session database...", "path", *sessionDB)
	sessions, err := session.NewBoltStore(*sessionDB)
	if err != nil {
		slog.Error("Failed to initialize session database", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	// Initialize bills API client
	client, err := store.NewClient(*apiURL, *apiTimeout)
	if err != nil {
		slog.Error("Failed to initialize bills API client", "error", err)
		os.Exit(1)
	}
	if *apiToken != "" {
		client = client.WithToken(*apiToken)
	}
	stores := func(storage session.Storage) store.BillStore {
		if token, ok := storage.GetItem(session.TokenKey); ok && token != "" {
			return client.WithToken(token)
		}
		return client
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "none", "":
		slog.Info("Receipt scanning disabled")
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "none, gemini or ollama")
		os.Exit(1)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	// Initialize server
	server := web.NewServer(sessions, stores, scanner, web.Config{
		BasicAuth: web.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		DefaultEmail: *email,
		SecureCookie: *secureCookie,
		SessionTTL:   *sessionTTL,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "api", *apiURL, "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Error shutting down server", "error", err)
	}
}

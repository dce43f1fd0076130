package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ai-business-buddy/bizbuddy/internal/api"
	"github.com/ai-business-buddy/bizbuddy/internal/flow"
	"github.com/ai-business-buddy/bizbuddy/internal/genai"
	"github.com/ai-business-buddy/bizbuddy/internal/lockfile"
	"github.com/ai-business-buddy/bizbuddy/internal/messaging"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
	"github.com/ai-business-buddy/bizbuddy/internal/twiliowhatsapp"
	"github.com/ai-business-buddy/bizbuddy/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for state data
	DefaultStateDir = "/var/lib/bizbuddy"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "bizbuddy.db"
	// BackendTwilio selects the Twilio WhatsApp messaging backend
	BackendTwilio = "twilio"
	// BackendWhatsmeow selects the direct Whatsmeow messaging backend
	BackendWhatsmeow = "whatsmeow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("BizBuddy failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BizBuddy exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN   string
	WhatsAppDSN   string
	StateDir      string
	OpenAIKey     string
	OpenAIModel   string
	APIAddr       string
	WebhookSecret string
	Backend       string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	waDSN         *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	webhookSecret *string
	backend       *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseDSN:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:      os.Getenv("BIZBUDDY_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		Backend:       os.Getenv("MESSAGING_BACKEND"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No BIZBUDDY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// The whatsmeow session store defaults to the application database DSN.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseDSN
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	if config.Backend == "" {
		config.Backend = BackendTwilio
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"BIZBUDDY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"MESSAGING_BACKEND", config.Backend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for BizBuddy data (overrides $BIZBUDDY_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseDSN, "database DSN for the onboarding store (overrides $DATABASE_URL)"),
		waDSN:         flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		webhookSecret: flag.String("webhook-secret", config.WebhookSecret, "shared secret required on webhook requests (overrides $WEBHOOK_SECRET)"),
		backend:       flag.String("messaging-backend", config.Backend, "messaging backend: twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
		slog.Debug("Creating state directory for file-based database", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// run wires the modules together and blocks until a shutdown signal arrives.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Guard the state directory against concurrent instances
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	// Store
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, using in-memory store")
	}
	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return err
	}
	defer st.Close()

	// Oracle client
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	// Staged onboarding orchestration
	orchestrator := flow.NewOrchestrator(st, gaClient)

	// Messaging backend
	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	handler := messaging.NewOnboardingHandler(msgService, st, orchestrator)
	if err := handler.Start(ctx); err != nil {
		return err
	}

	// HTTP API
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.webhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhookSecret(*flags.webhookSecret))
	}
	server := api.NewServer(msgService, st, apiOpts...)
	if err := server.Start(ctx); err != nil {
		return err
	}

	slog.Info("BizBuddy running", "backend", *flags.backend)
	<-ctx.Done()
	slog.Info("Shutdown signal received")
	return server.Stop()
}

// buildMessagingService creates the configured messaging backend.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.backend {
	case BackendWhatsmeow:
		var waOpts []whatsapp.Option
		if *flags.waDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(waClient), nil
	default:
		// Credentials come from TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and
		// TWILIO_FROM_NUMBER.
		twilioClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(twilioClient), nil
	}
}

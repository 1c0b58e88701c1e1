package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default configuration constants
const (
	// DefaultStateDir holds the lock file, the SQLite store and the whatsmeow session
	DefaultStateDir = "/var/lib/whatsbot"
	// DefaultDBFileName is the default SQLite conversation store filename
	DefaultDBFileName = "whatsbot.db"
	// DefaultSessionDBFileName is the default whatsmeow session filename
	DefaultSessionDBFileName = "whatsmeow.db"
)

// Gateway names accepted by GATEWAY.
const (
	gatewayWhapi     = "whapi"
	gatewayTwilio    = "twilio"
	gatewayWhatsmeow = "whatsmeow"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL         string `env:"DATABASE_URL"`
	StateDir            string `env:"STATE_DIR" envDefault:"/var/lib/whatsbot"`
	OpenAIKey           string `env:"OPENAI_API_KEY"`
	OpenAIModel         string `env:"OPENAI_MODEL"`
	APIAddr             string `env:"API_ADDR" envDefault:":8080"`
	Gateway             string `env:"GATEWAY" envDefault:"whapi"`
	WhapiToken          string `env:"WHAPI_TOKEN"`
	WhapiBaseURL        string `env:"WHAPI_BASE_URL"`
	TwilioAccountSID    string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber    string `env:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL    string `env:"TWILIO_WEBHOOK_URL"`
	WhatsAppDSN         string `env:"WHATSAPP_DB_DSN"`
	AdminNumber         string `env:"ADMIN_NUMBER"`
	AuthorizedGroupID   string `env:"AUTHORIZED_GROUP_ID"`
	PatientsDatabaseURL string `env:"PATIENTS_DATABASE_URL"`
	RedisURL            string `env:"REDIS_URL"`
	CertificateURL      string `env:"CERTIFICATE_URL_TEMPLATE"`
	ClinicTimezone      string `env:"CLINIC_TIMEZONE" envDefault:"America/Bogota"`
	HistoryLimit        int    `env:"HISTORY_LIMIT" envDefault:"10"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile             string `env:"LOG_FILE"`
}

// loadEnvironmentConfig loads the .env file, if any, and parses the environment.
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// parseCommandLineFlags lets flags override the environment.
func parseCommandLineFlags(cfg *Config, fs *flag.FlagSet, args []string) (qrOutput string, numeric bool, err error) {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "conversation store DSN (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP listen address (overrides $API_ADDR)")
	fs.StringVar(&cfg.Gateway, "gateway", cfg.Gateway, "whapi, twilio or whatsmeow (overrides $GATEWAY)")
	fs.StringVar(&cfg.AdminNumber, "admin-number", cfg.AdminNumber, "admin phone number (overrides $ADMIN_NUMBER)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&qrOutput, "qr-output", "", "path to write the whatsmeow login QR code")
	fs.BoolVar(&numeric, "numeric-code", false, "use numeric login code instead of QR code")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}

	cfg.Gateway = strings.ToLower(strings.TrimSpace(cfg.Gateway))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = filepath.Join(cfg.StateDir, DefaultSessionDBFileName) + "?_foreign_keys=on"
	}
	slog.Debug("flags parsed",
		"state_dir", cfg.StateDir,
		"gateway", cfg.Gateway,
		"api_addr", cfg.APIAddr,
		"openai_key_set", cfg.OpenAIKey != "",
		"patients_db_set", cfg.PatientsDatabaseURL != "",
		"redis_set", cfg.RedisURL != "",
		"admin_set", cfg.AdminNumber != "")
	return qrOutput, numeric, nil
}

// validate checks the settings the chosen gateway needs.
func (c Config) validate() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch c.Gateway {
	case gatewayWhapi:
		if c.WhapiToken == "" {
			return fmt.Errorf("WHAPI_TOKEN is required for the whapi gateway")
		}
	case gatewayTwilio, gatewayWhatsmeow:
	default:
		return fmt.Errorf("unknown gateway %q", c.Gateway)
	}
	return nil
}

// parseLevel maps LOG_LEVEL to a slog level, defaulting to info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// initializeLogger installs a text handler on stdout, tee'd to a rotating
// file when LOG_FILE is set. The returned closer flushes the file sink.
func initializeLogger(level slog.Level, logFile string) io.Closer {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

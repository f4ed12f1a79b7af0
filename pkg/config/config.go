package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// MailboxAccount is one tracked mailbox.
type MailboxAccount struct {
	Key          string `yaml:"key"`
	Address      string `yaml:"address"`
	RefreshToken string `yaml:"refresh_token"`
	OwnerID      string `yaml:"owner_id"`
}

type accountsFile struct {
	Accounts []MailboxAccount `yaml:"accounts"`
}

type Config struct {
	Port      string
	JWTSecret string
	LogLevel  string
	LogPretty bool

	DBDriver    string
	DatabaseURL string

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleProjectID     string
	GooglePubSubTopic   string
	GooglePubSubSub     string
	GoogleCredentials   string
	FirebaseCredentials string
	WebhookSecret       string

	BlobBackend       string
	GCSBucket         string
	S3Bucket          string
	S3Region          string
	BlobPublicBaseURL string

	ChromaAPIKey   string
	ChromaTenant   string
	ChromaDatabase string
	GeminiApiKey   string

	PosthogAPIKey   string
	PosthogEndpoint string

	Accounts []MailboxAccount
	Sync     SyncConfig
}

// SyncConfig holds the tuning knobs of the mailbox pipeline.
type SyncConfig struct {
	PollInterval        time.Duration
	PollWindowDays      int
	PollMaxMessages     int
	PollCallDelay       time.Duration
	PollMaxAttempts     int
	PollRetryBase       time.Duration
	RenewCheckInterval  time.Duration
	RenewThreshold      time.Duration
	HistoryPageSize     int
	HistoryMaxPages     int
	LedgerRetention     time.Duration
	LedgerMaxEntries    int
	LedgerEvictInterval time.Duration
	CorrelationWindow   int
}

// DefaultSyncConfig returns the production defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollInterval:        5 * time.Minute,
		PollWindowDays:      3,
		PollMaxMessages:     200,
		PollCallDelay:       200 * time.Millisecond,
		PollMaxAttempts:     3,
		PollRetryBase:       time.Second,
		RenewCheckInterval:  time.Hour,
		RenewThreshold:      24 * time.Hour,
		HistoryPageSize:     100,
		HistoryMaxPages:     20,
		LedgerRetention:     30 * 24 * time.Hour,
		LedgerMaxEntries:    5000,
		LedgerEvictInterval: time.Hour,
		CorrelationWindow:   20,
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	def := DefaultSyncConfig()
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GooglePubSubSub:     getEnv("GOOGLE_PUBSUB_SUBSCRIPTION", ""),
		GoogleCredentials:   getEnv("GOOGLE_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
		WebhookSecret:       getEnv("GMAIL_WEBHOOK_SECRET", ""),

		BlobBackend:       strings.ToLower(getEnv("BLOB_BACKEND", "gcs")),
		GCSBucket:         getEnv("GCS_BUCKET", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		BlobPublicBaseURL: getEnv("BLOB_PUBLIC_BASE_URL", ""),

		ChromaAPIKey:   getEnv("CHROMA_API_KEY", ""),
		ChromaTenant:   getEnv("CHROMA_TENANT", ""),
		ChromaDatabase: getEnv("CHROMA_DATABASE", ""),
		GeminiApiKey:   getEnv("GEMINI_API_KEY", ""),

		PosthogAPIKey:   getEnv("POSTHOG_API_KEY", ""),
		PosthogEndpoint: getEnv("POSTHOG_ENDPOINT", "https://us.i.posthog.com"),

		Sync: SyncConfig{
			PollInterval:        getDuration("POLL_INTERVAL", def.PollInterval),
			PollWindowDays:      getInt("POLL_WINDOW_DAYS", def.PollWindowDays),
			PollMaxMessages:     getInt("POLL_MAX_MESSAGES", def.PollMaxMessages),
			PollCallDelay:       getDuration("POLL_CALL_DELAY", def.PollCallDelay),
			PollMaxAttempts:     getInt("POLL_MAX_ATTEMPTS", def.PollMaxAttempts),
			PollRetryBase:       getDuration("POLL_RETRY_BASE", def.PollRetryBase),
			RenewCheckInterval:  getDuration("RENEW_CHECK_INTERVAL", def.RenewCheckInterval),
			RenewThreshold:      getDuration("RENEW_THRESHOLD", def.RenewThreshold),
			HistoryPageSize:     getInt("HISTORY_PAGE_SIZE", def.HistoryPageSize),
			HistoryMaxPages:     getInt("HISTORY_MAX_PAGES", def.HistoryMaxPages),
			LedgerRetention:     getDuration("LEDGER_RETENTION", def.LedgerRetention),
			LedgerMaxEntries:    getInt("LEDGER_MAX_ENTRIES", def.LedgerMaxEntries),
			LedgerEvictInterval: getDuration("LEDGER_EVICT_INTERVAL", def.LedgerEvictInterval),
			CorrelationWindow:   getInt("CORRELATION_WINDOW", def.CorrelationWindow),
		},
	}

	accounts, err := loadAccounts(getEnv("MAIL_ACCOUNTS_FILE", "accounts.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	return cfg, nil
}

// loadAccounts reads the YAML account file, falling back to the
// PRIMARY_/SECONDARY_MAILBOX_* variables when the file does not exist.
func loadAccounts(path string) ([]MailboxAccount, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseAccounts(data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("unable to read accounts file %s: %w", path, err)
	}

	var accounts []MailboxAccount
	for _, prefix := range []string{"PRIMARY", "SECONDARY"} {
		addr := getEnv(prefix+"_MAILBOX_ADDRESS", "")
		if addr == "" {
			continue
		}
		accounts = append(accounts, MailboxAccount{
			Key:          strings.ToLower(prefix),
			Address:      addr,
			RefreshToken: getEnv(prefix+"_MAILBOX_REFRESH_TOKEN", ""),
			OwnerID:      getEnv(prefix+"_MAILBOX_OWNER_ID", ""),
		})
	}
	return accounts, nil
}

// ParseAccounts decodes the accounts YAML document.
func ParseAccounts(data []byte) ([]MailboxAccount, error) {
	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unable to parse accounts file: %w", err)
	}
	for i := range f.Accounts {
		f.Accounts[i].Key = strings.TrimSpace(f.Accounts[i].Key)
		f.Accounts[i].Address = strings.ToLower(strings.TrimSpace(f.Accounts[i].Address))
	}
	return f.Accounts, nil
}

// Validate checks the settings the sync pipeline cannot run without.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("no mailbox accounts configured")
	}
	keys := make(map[string]bool)
	addrs := make(map[string]bool)
	for _, a := range c.Accounts {
		if a.Key == "" || a.Address == "" {
			return fmt.Errorf("mailbox account requires key and address: %+v", a.Key)
		}
		if keys[a.Key] {
			return fmt.Errorf("duplicate mailbox account key %q", a.Key)
		}
		if addrs[strings.ToLower(a.Address)] {
			return fmt.Errorf("duplicate mailbox address %q", a.Address)
		}
		keys[a.Key] = true
		addrs[strings.ToLower(a.Address)] = true
	}
	if c.WebhookSecret == "" {
		return errors.New("GMAIL_WEBHOOK_SECRET is required")
	}
	switch c.BlobBackend {
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required for the gcs blob backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

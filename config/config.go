package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"notesync/store"
)

// Server is the configuration of the notesd server.
type Server struct {
	// DatabaseURL is the Postgres DSN. Empty keeps notes in memory.
	DatabaseURL  string
	Port         string
	LogLevel     string
	LogFile      string
	SeenInterval time.Duration
}

// LoadServer reads .env (if present) and the process environment.
func LoadServer() Server {
	// A missing .env is normal in production; values then come from the OS.
	_ = godotenv.Load()

	cfg := Server{
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Port:         envOr("PORT", "8080"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFile:      strings.TrimSpace(os.Getenv("LOG_FILE")),
		SeenInterval: 10 * time.Second,
	}
	if d, err := time.ParseDuration(os.Getenv("SEEN_INTERVAL")); err == nil && d > 0 {
		cfg.SeenInterval = d
	}

	if cfg.DatabaseURL == "" {
		dbUser := strings.TrimSpace(os.Getenv("user"))
		dbPass := strings.TrimSpace(os.Getenv("password"))
		dbHost := strings.TrimSpace(os.Getenv("host"))
		dbPort := envOr("port", "5432")
		dbName := strings.TrimSpace(os.Getenv("dbname"))
		sslMode := envOr("SSL_MODE", "require")
		if dbHost != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, sslMode)
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Client is the configuration of the notes CLI and its sync daemon.
type Client struct {
	DBPath       string
	ServerURL    string
	DeviceID     string
	Timeout      time.Duration
	Debounce     time.Duration
	Interval     time.Duration
	DeletePolicy store.UnsyncedDeletePolicy
	Partitions   int
	LogLevel     string
	LogFile      string
}

// Client configuration keys. Each can also be set as NOTES_<KEY> with dashes
// replaced by underscores, or in notes.yaml.
const (
	KeyDB             = "db"
	KeyServer         = "server"
	KeyDevice         = "device"
	KeyTimeout        = "timeout"
	KeyDebounce       = "debounce"
	KeyInterval       = "interval"
	KeyUnsyncedDelete = "unsynced-delete"
	KeyPartitions     = "partitions"
	KeyLogLevel       = "log-level"
	KeyLogFile        = "log-file"
)

// SetClientDefaults registers defaults and the environment/file lookup on v.
func SetClientDefaults(v *viper.Viper) {
	dataDir := "."
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "notes")
	}
	host, _ := os.Hostname()

	v.SetDefault(KeyDB, filepath.Join(dataDir, "notes.db"))
	v.SetDefault(KeyServer, "http://localhost:8080")
	v.SetDefault(KeyDevice, host)
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyDebounce, 2*time.Second)
	v.SetDefault(KeyInterval, 30*time.Second)
	v.SetDefault(KeyUnsyncedDelete, string(store.DeleteCancelPending))
	v.SetDefault(KeyPartitions, 0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")

	v.SetEnvPrefix("NOTES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("notes")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(dataDir)
}

// LoadClient reads the optional config file and resolves every key.
func LoadClient(v *viper.Viper) (Client, error) {
	_ = godotenv.Load()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Client{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	policy, err := store.ParseUnsyncedDeletePolicy(v.GetString(KeyUnsyncedDelete))
	if err != nil {
		return Client{}, err
	}

	cfg := Client{
		DBPath:       v.GetString(KeyDB),
		ServerURL:    strings.TrimRight(v.GetString(KeyServer), "/"),
		DeviceID:     v.GetString(KeyDevice),
		Timeout:      v.GetDuration(KeyTimeout),
		Debounce:     v.GetDuration(KeyDebounce),
		Interval:     v.GetDuration(KeyInterval),
		DeletePolicy: policy,
		Partitions:   v.GetInt(KeyPartitions),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFile:      v.GetString(KeyLogFile),
	}
	if cfg.DBPath == "" {
		return Client{}, fmt.Errorf("no database path configured")
	}
	if cfg.ServerURL == "" {
		return Client{}, fmt.Errorf("no server url configured")
	}
	return cfg, nil
}

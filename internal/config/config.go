// Package config loads application configuration from environment
// variables (optionally seeded from a .env file for local development),
// mirroring the original service's AppConfig.from_env().
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pivox/tradingV3/internal/bitmart"
)

const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 9000
)

// DatabaseConfig holds the MySQL connection parameters for the position store.
type DatabaseConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Name     string
	Charset  string
}

// DSN builds a go-sql-driver/mysql data source name.
func (d DatabaseConfig) DSN() string {
	charset := d.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	var b strings.Builder
	b.WriteString(d.Username)
	b.WriteByte(':')
	b.WriteString(d.Password)
	b.WriteString("@tcp(")
	b.WriteString(d.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(d.Port))
	b.WriteString(")/")
	b.WriteString(d.Name)
	b.WriteString("?charset=")
	b.WriteString(charset)
	b.WriteString("&parseTime=True&loc=Local")
	return b.String()
}

// AppConfig is the root configuration for both the dispatcher and the
// position sync daemons.
type AppConfig struct {
	Database  DatabaseConfig
	Bitmart   bitmart.Config
	LogLevel  string
	APIHost   string
	APIPort   int
	AutoStart bool

	CheckpointDir string
	RedisAddr     string

	Dispatcher DispatcherConfig
}

// DispatcherConfig holds the PRD daemon's own knobs, kept separate from
// AppConfig's position-sync fields since dispatcherd and positionsyncd are
// independent binaries that each read only the half they need.
type DispatcherConfig struct {
	Name              string
	CheckpointBackend string // "file" or "redis"
	CheckpointPath    string
	RedisAddr         string
	MetricsPort       int
	ConfigPath        string // optional YAML override, see LoadDispatcherYAML
}

// DispatcherYAML is the optional on-disk override loaded from
// DISPATCHER_CONFIG_PATH, following the same read-file-then-yaml.Unmarshal
// shape as blackholedex's configs.LoadConfig.
type DispatcherYAML struct {
	Name  string   `yaml:"name"`
	Order []string `yaml:"order"`
}

// LoadDispatcherYAML reads and parses a dispatcher YAML override file. A
// missing path is not called here — callers should check ConfigPath != ""
// first.
func LoadDispatcherYAML(path string) (*DispatcherYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read dispatcher config file: %w", err)
	}
	var y DispatcherYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("config: failed to parse dispatcher config YAML: %w", err)
	}
	return &y, nil
}

// Load reads process environment variables, first loading envFile (if it
// exists — a missing file is not an error, matching how local dev overlays
// a .env on top of whatever the shell already has).
func Load(envFile string) AppConfig {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	db := DatabaseConfig{
		Host:     getenv("DB_HOST", "db"),
		Port:     getint("DB_PORT", 3306),
		Username: getenv("DB_USER", "symfony"),
		Password: getenv("DB_PASSWORD", "symfony"),
		Name:     getenv("DB_NAME", "symfony_db"),
		Charset:  "utf8mb4",
	}

	bm := bitmart.Config{
		APIKey:        getenv("BITMART_API_KEY", ""),
		APISecret:     getenv("BITMART_SECRET_KEY", ""),
		APIMemo:       getenv("BITMART_API_MEMO", ""),
		WSURL:         getenv("BITMART_WS_URL", bitmart.DefaultWSURL),
		RESTURL:       getenv("BITMART_REST_URL", bitmart.DefaultRESTURL),
		WSLogin:       getenv("BITMART_WS_LOGIN_PAYLOAD", bitmart.DefaultWSLoginPayload),
		WSPingSeconds: getint("BITMART_WS_PING_SECONDS", bitmart.DefaultWSPingSeconds),
		PollSeconds:   getint("BITMART_POLL_SECONDS", bitmart.DefaultPollSeconds),
		WSChannels:    getchannels("BITMART_WS_CHANNELS"),
	}

	dispatcher := DispatcherConfig{
		Name:              getenv("DISPATCHER_NAME", "default"),
		CheckpointBackend: strings.ToLower(getenv("DISPATCHER_CHECKPOINT_BACKEND", "file")),
		CheckpointPath:    getenv("DISPATCHER_CHECKPOINT_PATH", "./checkpoints"),
		RedisAddr:         getenv("DISPATCHER_REDIS_ADDR", getenv("REDIS_ADDR", "")),
		MetricsPort:       getint("METRICS_PORT", 9100),
		ConfigPath:        getenv("DISPATCHER_CONFIG_PATH", ""),
	}

	return AppConfig{
		Database:      db,
		Bitmart:       bm,
		LogLevel:      getenv("LOG_LEVEL", "INFO"),
		APIHost:       getenv("BITMART_SYNC_HOST", DefaultAPIHost),
		APIPort:       getint("BITMART_SYNC_PORT", DefaultAPIPort),
		AutoStart:     getbool("BITMART_AUTO_START", true),
		CheckpointDir: getenv("DISPATCHER_CHECKPOINT_DIR", "./checkpoints"),
		RedisAddr:     getenv("REDIS_ADDR", ""),
		Dispatcher:    dispatcher,
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getchannels(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), bitmart.DefaultWSChannels...)
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), bitmart.DefaultWSChannels...)
	}
	return out
}

package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed matching.yaml
var matchingYAML []byte

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Image store backends.
const (
	ImagesLocal  = "local"
	ImagesS3     = "s3"
	ImagesMemory = "memory"
)

type Config struct {
	Database  DatabaseConfig
	Store     StoreConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Images    ImagesConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Server    ServerConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type StoreConfig struct {
	Backend   string // memory, postgres or badger (defaults to postgres when DATABASE_URL is set)
	BadgerDir string // data directory of the badger backend
}

type EmbeddingConfig struct {
	URL          string        // defaults to http://localhost:8000
	Dim          int           // defaults to 512
	MaxImageSize int           // longest side in pixels before upload
	Timeout      time.Duration // per request
}

// MatchingConfig holds the face distance thresholds.
type MatchingConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold"`
	MaxDistance     float64 `yaml:"max_distance"`
}

// Validate requires 0 < AcceptThreshold <= MaxDistance.
func (m MatchingConfig) Validate() error {
	if m.MaxDistance <= 0 {
		return fmt.Errorf("MATCH_MAX_DISTANCE must be positive, got %g", m.MaxDistance)
	}
	if m.AcceptThreshold <= 0 || m.AcceptThreshold > m.MaxDistance {
		return fmt.Errorf("MATCH_ACCEPT_THRESHOLD must be in (0, %g], got %g", m.MaxDistance, m.AcceptThreshold)
	}
	return nil
}

type ImagesConfig struct {
	Backend string // local, s3 or memory
	Dir     string // root directory of the local backend

	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string // custom endpoint for MinIO and friends
	S3AccessKey string
	S3SecretKey string
}

type RedisConfig struct {
	URL     string        // enables the distributed pair lock when set
	LockTTL time.Duration // lifetime of a pair lock
}

type LoggingConfig struct {
	Level  string // logrus level name
	Format string // text or json
}

type ServerConfig struct {
	Host string
	Port int
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envString returns the env var or a default when it is unset or blank.
func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping blank entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadMatchingDefaults() MatchingConfig {
	var m MatchingConfig
	if err := yaml.Unmarshal(matchingYAML, &m); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded matching.yaml: " + err.Error())
	}
	return m
}

func Load() *Config {
	matching := loadMatchingDefaults()

	databaseURL := os.Getenv("DATABASE_URL")
	defaultBackend := BackendMemory
	if databaseURL != "" {
		defaultBackend = BackendPostgres
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          databaseURL,
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(envString("STORE_BACKEND", defaultBackend)),
			BadgerDir: envString("BADGER_DIR", "data/badger"),
		},
		Embedding: EmbeddingConfig{
			URL:          os.Getenv("EMBEDDING_URL"),
			Dim:          envInt("EMBEDDING_DIM", 512),
			MaxImageSize: envInt("EMBEDDING_MAX_IMAGE_SIZE", 1600),
			Timeout:      time.Duration(envInt("EMBEDDING_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Matching: MatchingConfig{
			AcceptThreshold: envFloat("MATCH_ACCEPT_THRESHOLD", matching.AcceptThreshold),
			MaxDistance:     envFloat("MATCH_MAX_DISTANCE", matching.MaxDistance),
		},
		Images: ImagesConfig{
			Backend:     strings.ToLower(envString("IMAGE_BACKEND", ImagesLocal)),
			Dir:         envString("IMAGE_DIR", "data/images"),
			S3Bucket:    os.Getenv("S3_BUCKET"),
			S3Prefix:    os.Getenv("S3_PREFIX"),
			S3Region:    envString("S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			LockTTL: time.Duration(envInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
		Server: ServerConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the combinations Load cannot default away.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for the %s store", BackendPostgres)
		}
	case BackendBadger:
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR environment variable is required for the %s store", BackendBadger)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Images.Backend {
	case ImagesLocal, ImagesMemory:
	case ImagesS3:
		if c.Images.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET environment variable is required for the %s image store", ImagesS3)
		}
	default:
		return fmt.Errorf("unknown IMAGE_BACKEND %q", c.Images.Backend)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Logging.Format)
	}
	return c.Matching.Validate()
}

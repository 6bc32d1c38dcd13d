package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultChunkBackend      = "redis"
	defaultRedisAddr         = "localhost:6379"
	defaultMinZoom           = 1.0
	defaultMaxZoom           = 18.0
	defaultFitPadding        = 0.1
	defaultDrillPadding      = 0.2
	defaultDrillMaxZoom      = 12.0
	defaultAnimationDuration = 200 * time.Millisecond
	defaultSessionTTL        = 30 * time.Minute
	defaultLoadTimeout       = 30 * time.Second
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Chunks    ChunkConfig
	Redis     RedisConfig
	Storage   StorageConfig
	PubSub    PubSubConfig
	Map       MapConfig
	Sessions  SessionConfig
}

// ServerConfig configures HTTP server parameters. MaintenanceKey guards the
// internal route group; the group stays unmounted when the key is empty.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaintenanceKey  string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// ChunkConfig selects the blob backend boundary payloads are read from.
type ChunkConfig struct {
	Backend     string
	LoadTimeout time.Duration
}

// RedisConfig holds connection parameters for the Redis chunk backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StorageConfig lists Cloud Storage locations for the GCS chunk backend.
type StorageConfig struct {
	BoundariesBucket string
	BoundariesPrefix string
}

// PubSubConfig configures boundary invalidation messaging.
type PubSubConfig struct {
	ProjectID                string
	InvalidationTopic        string
	InvalidationSubscription string
}

// MapConfig bounds view states and drill-down framing.
type MapConfig struct {
	MinZoom           float64
	MaxZoom           float64
	FitPadding        float64
	DrillPadding      float64
	DrillMaxZoom      float64
	AnimationDuration time.Duration
	DefaultCountry    string
}

// SessionConfig controls map session lifecycle.
type SessionConfig struct {
	TTL time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "ATLAS_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "ATLAS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "ATLAS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "ATLAS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "ATLAS_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			MaintenanceKey:  stringWithDefault(lookup, "ATLAS_SERVER_MAINTENANCE_KEY", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ATLAS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ATLAS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Chunks: ChunkConfig{
			Backend:     strings.ToLower(stringWithDefault(lookup, "ATLAS_CHUNKS_BACKEND", defaultChunkBackend)),
			LoadTimeout: durationWithDefault(lookup, "ATLAS_CHUNKS_LOAD_TIMEOUT", defaultLoadTimeout),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "ATLAS_REDIS_ADDR", defaultRedisAddr),
			Password:  stringWithDefault(lookup, "ATLAS_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "ATLAS_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "ATLAS_REDIS_KEY_PREFIX", ""),
		},
		Storage: StorageConfig{
			BoundariesBucket: stringWithDefault(lookup, "ATLAS_STORAGE_BOUNDARIES_BUCKET", ""),
			BoundariesPrefix: stringWithDefault(lookup, "ATLAS_STORAGE_BOUNDARIES_PREFIX", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:                stringWithDefault(lookup, "ATLAS_PUBSUB_PROJECT_ID", ""),
			InvalidationTopic:        stringWithDefault(lookup, "ATLAS_PUBSUB_INVALIDATION_TOPIC", ""),
			InvalidationSubscription: stringWithDefault(lookup, "ATLAS_PUBSUB_INVALIDATION_SUBSCRIPTION", ""),
		},
		Map: MapConfig{
			MinZoom:           floatWithDefault(lookup, "ATLAS_MAP_MIN_ZOOM", defaultMinZoom),
			MaxZoom:           floatWithDefault(lookup, "ATLAS_MAP_MAX_ZOOM", defaultMaxZoom),
			FitPadding:        floatWithDefault(lookup, "ATLAS_MAP_FIT_PADDING", defaultFitPadding),
			DrillPadding:      floatWithDefault(lookup, "ATLAS_MAP_DRILL_PADDING", defaultDrillPadding),
			DrillMaxZoom:      floatWithDefault(lookup, "ATLAS_MAP_DRILL_MAX_ZOOM", defaultDrillMaxZoom),
			AnimationDuration: durationWithDefault(lookup, "ATLAS_MAP_ANIMATION_DURATION", defaultAnimationDuration),
			DefaultCountry:    strings.ToLower(stringWithDefault(lookup, "ATLAS_MAP_DEFAULT_COUNTRY", "")),
		},
		Sessions: SessionConfig{
			TTL: durationWithDefault(lookup, "ATLAS_SESSION_TTL", defaultSessionTTL),
		},
	}

	// The Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Chunks.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = append(missing, "Redis.Addr")
		}
	case "gcs":
		if strings.TrimSpace(cfg.Storage.BoundariesBucket) == "" {
			missing = append(missing, "Storage.BoundariesBucket")
		}
	default:
		missing = append(missing, "Chunks.Backend")
	}
	if cfg.Chunks.LoadTimeout <= 0 {
		missing = append(missing, "Chunks.LoadTimeout")
	}
	if cfg.Map.MinZoom < 0 || cfg.Map.MaxZoom <= cfg.Map.MinZoom {
		missing = append(missing, "Map.MaxZoom")
	}
	if cfg.Map.DrillMaxZoom > cfg.Map.MaxZoom {
		missing = append(missing, "Map.DrillMaxZoom")
	}
	if cfg.Map.AnimationDuration <= 0 {
		missing = append(missing, "Map.AnimationDuration")
	}
	if cfg.Sessions.TTL <= 0 {
		missing = append(missing, "Sessions.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

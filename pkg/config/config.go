package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// SDKConfig is the root configuration for an embedding host: player
// tunables plus the ambient services (caching, object storage origin,
// logging, analytics delivery) the library wires up around them.
type SDKConfig struct {
	Player SDKPlayerConfig `json:"player" yaml:"player"`

	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	S3        S3Config        `json:"s3" yaml:"s3"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
}

// SDKPlayerConfig mirrors types.PlayerConfig with yaml-friendly field
// names; Load converts it into the wire type consumed by pkg/session.
type SDKPlayerConfig struct {
	MinBufferTime     float64 `yaml:"min_buffer_time"`
	MaxBufferTime     float64 `yaml:"max_buffer_time"`
	RebufferThreshold float64 `yaml:"rebuffer_threshold"`
	AbrAlgorithm      string  `yaml:"abr_algorithm"`
	MaxBitrate        uint64  `yaml:"max_bitrate"`
	StartAtLowest     bool    `yaml:"start_at_lowest"`
	PrefetchEnabled   bool    `yaml:"prefetch_enabled"`
	PrefetchCount     int     `yaml:"prefetch_count"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryDelayMs      int     `yaml:"retry_delay_ms"`
	RequestTimeoutMs  int     `yaml:"request_timeout_ms"`
	AnalyticsEnabled  bool    `yaml:"analytics_enabled"`
	MaxMemoryBytes    uint64  `yaml:"max_memory_bytes"`
}

// ToPlayerConfig converts the YAML-shaped config into the type the
// session/buffer/ABR packages consume.
func (p SDKPlayerConfig) ToPlayerConfig() types.PlayerConfig {
	return types.PlayerConfig{
		MinBufferTime:     p.MinBufferTime,
		MaxBufferTime:     p.MaxBufferTime,
		RebufferThreshold: p.RebufferThreshold,
		AbrAlgorithm:      types.AbrAlgorithm(p.AbrAlgorithm),
		MaxBitrate:        p.MaxBitrate,
		StartAtLowest:     p.StartAtLowest,
		PrefetchEnabled:   p.PrefetchEnabled,
		PrefetchCount:     p.PrefetchCount,
		RetryAttempts:     p.RetryAttempts,
		RetryDelayMs:      p.RetryDelayMs,
		RequestTimeoutMs:  p.RequestTimeoutMs,
		AnalyticsEnabled:  p.AnalyticsEnabled,
		MaxMemoryBytes:    p.MaxMemoryBytes,
	}
}

func fromPlayerConfig(p types.PlayerConfig) SDKPlayerConfig {
	return SDKPlayerConfig{
		MinBufferTime:     p.MinBufferTime,
		MaxBufferTime:     p.MaxBufferTime,
		RebufferThreshold: p.RebufferThreshold,
		AbrAlgorithm:      string(p.AbrAlgorithm),
		MaxBitrate:        p.MaxBitrate,
		StartAtLowest:     p.StartAtLowest,
		PrefetchEnabled:   p.PrefetchEnabled,
		PrefetchCount:     p.PrefetchCount,
		RetryAttempts:     p.RetryAttempts,
		RetryDelayMs:      p.RetryDelayMs,
		RequestTimeoutMs:  p.RequestTimeoutMs,
		AnalyticsEnabled:  p.AnalyticsEnabled,
		MaxMemoryBytes:    p.MaxMemoryBytes,
	}
}

// CacheConfig controls the manifest/segment-template cache.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Backend        string        `yaml:"backend"` // "memory" or "redis"
	MaxEntries     int           `yaml:"max_entries"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	EvictionPolicy string        `yaml:"eviction_policy"`
}

// RedisConfig configures the distributed cache backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3Config configures fetching manifests/segments from object storage.
type S3Config struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	UsePathStyle bool `yaml:"use_path_style"`
}

// AnalyticsConfig controls the event sink.
type AnalyticsConfig struct {
	BufferSize int    `yaml:"buffer_size"`
	BeaconURL  string `yaml:"beacon_url"`
}

// LoggingConfig controls the hand-rolled structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TransportConfig controls the WebSocket bridge used to forward session
// events to an out-of-process host.
type TransportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// DefaultSDKConfig returns the defaults listed in the external
// interfaces section of the specification, plus sensible ambient
// defaults for caching, logging, and analytics delivery.
func DefaultSDKConfig() *SDKConfig {
	return &SDKConfig{
		Player: fromPlayerConfig(types.DefaultPlayerConfig()),
		Cache: CacheConfig{
			Enabled:        true,
			Backend:        "memory",
			MaxEntries:     256,
			DefaultTTL:     30 * time.Second,
			EvictionPolicy: "lru",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			DB:        0,
			KeyPrefix: "kino:",
		},
		S3: S3Config{
			Enabled: false,
			Region:  "us-east-1",
		},
		Analytics: AnalyticsConfig{
			BufferSize: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Transport: TransportConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8787",
			Path:    "/session",
		},
	}
}

// Load reads a YAML configuration file layered over the defaults, then
// applies environment overrides.
func Load(filename string) (*SDKConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultSDKConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *SDKConfig) loadFromEnv() {
	if addr := os.Getenv("KINO_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if pass := os.Getenv("KINO_REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if bucket := os.Getenv("KINO_S3_BUCKET"); bucket != "" {
		c.S3.Bucket = bucket
	}
	if beacon := os.Getenv("KINO_ANALYTICS_BEACON_URL"); beacon != "" {
		c.Analytics.BeaconURL = beacon
	}
}

// Validate rejects out-of-range player configuration before any load,
// per the InvalidConfig failure semantics in the error handling design.
func (c *SDKConfig) Validate() error {
	p := c.Player

	if p.MinBufferTime < 0 {
		return errors.NewInvalidConfigError("min_buffer_time must be >= 0")
	}
	if p.MaxBufferTime <= 0 || p.MaxBufferTime < p.MinBufferTime {
		return errors.NewInvalidConfigError("max_buffer_time must be positive and >= min_buffer_time")
	}
	if p.RebufferThreshold < 0 {
		return errors.NewInvalidConfigError("rebuffer_threshold must be >= 0")
	}
	if p.PrefetchCount < 0 {
		return errors.NewInvalidConfigError("prefetch_count must be >= 0")
	}
	if p.RetryAttempts < 0 {
		return errors.NewInvalidConfigError("retry_attempts must be >= 0")
	}
	if p.RetryDelayMs < 0 {
		return errors.NewInvalidConfigError("retry_delay_ms must be >= 0")
	}
	if p.RequestTimeoutMs <= 0 {
		return errors.NewInvalidConfigError("request_timeout_ms must be positive")
	}

	switch types.AbrAlgorithm(p.AbrAlgorithm) {
	case types.AbrThroughput, types.AbrBola, types.AbrHybrid, types.AbrMl, "":
	default:
		return errors.NewInvalidConfigError(fmt.Sprintf("unknown abr_algorithm: %s", p.AbrAlgorithm))
	}

	return nil
}

package types

// AbrAlgorithm selects which ABR rule the engine should run.
type AbrAlgorithm string

const (
	AbrThroughput AbrAlgorithm = "throughput"
	AbrBola       AbrAlgorithm = "bola"
	AbrHybrid     AbrAlgorithm = "hybrid"
	// AbrMl is accepted for forward compatibility with hosts that carry a
	// model-based rule; this library has none, so it falls back to Throughput.
	AbrMl AbrAlgorithm = "ml"
)

// PlayerConfig holds the tunables enumerated in the external interface
// section of the specification. Zero values are not valid configuration;
// use DefaultPlayerConfig and override individual fields.
type PlayerConfig struct {
	MinBufferTime    float64      `json:"min_buffer_time" yaml:"min_buffer_time"`
	MaxBufferTime    float64      `json:"max_buffer_time" yaml:"max_buffer_time"`
	RebufferThreshold float64     `json:"rebuffer_threshold" yaml:"rebuffer_threshold"`
	AbrAlgorithm     AbrAlgorithm `json:"abr_algorithm" yaml:"abr_algorithm"`
	MaxBitrate       uint64       `json:"max_bitrate" yaml:"max_bitrate"`
	StartAtLowest    bool         `json:"start_at_lowest" yaml:"start_at_lowest"`
	PrefetchEnabled  bool         `json:"prefetch_enabled" yaml:"prefetch_enabled"`
	PrefetchCount    int          `json:"prefetch_count" yaml:"prefetch_count"`
	RetryAttempts    int          `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs     int          `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	RequestTimeoutMs int          `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	AnalyticsEnabled bool         `json:"analytics_enabled" yaml:"analytics_enabled"`

	// MaxMemoryBytes bounds the segment buffer's resident byte count.
	MaxMemoryBytes uint64 `json:"max_memory_bytes" yaml:"max_memory_bytes"`
}

// DefaultPlayerConfig returns the defaults listed in the external
// interfaces section of the specification.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		MinBufferTime:     10.0,
		MaxBufferTime:     30.0,
		RebufferThreshold: 2.0,
		AbrAlgorithm:      AbrBola,
		MaxBitrate:        0,
		StartAtLowest:     false,
		PrefetchEnabled:   true,
		PrefetchCount:     3,
		RetryAttempts:     3,
		RetryDelayMs:      1000,
		RequestTimeoutMs:  10000,
		AnalyticsEnabled:  true,
		MaxMemoryBytes:    256 * 1024 * 1024,
	}
}

// ConnectionType is a coarse network-interface hint supplied by the host.
type ConnectionType string

const (
	ConnectionUnknown  ConnectionType = "unknown"
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
)

// NetworkInfo carries host-supplied network hints into an ABR decision.
type NetworkInfo struct {
	// BandwidthEstimate, in bits/s, overrides the engine's own EWMA when set.
	BandwidthEstimate *uint64
	ConnectionType     ConnectionType
	// ScreenWidth, in pixels, excludes renditions wider than the viewport.
	ScreenWidth *uint32
}

// QualityMetrics is a snapshot of host-observed decode/render health,
// read through Session.Metrics; no code in this library emits it as a
// Heartbeat analytics event.
type QualityMetrics struct {
	DroppedFrames uint64
	DecodedFrames uint64
	Bitrate       uint64
}

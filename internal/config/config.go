// Package config provides configuration loading and validation for strata.
// Supports YAML files with environment variable overrides.
package config

// Config holds all configuration for a strata engine process.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Trim          TrimConfig          `yaml:"trim"`
	IO            IOConfig            `yaml:"io"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type EngineConfig struct {
	Dir                 string `yaml:"dir" env:"STRATA_DIR"`
	InMemory            bool   `yaml:"inMemory" env:"STRATA_IN_MEMORY"`
	LogEnabled          bool   `yaml:"logEnabled" env:"STRATA_LOG_ENABLED"`
	CacheSizeGB         int    `yaml:"cacheSizeGB" env:"STRATA_CACHE_SIZE_GB"`
	JournalCompressor   string `yaml:"journalCompressor" env:"STRATA_JOURNAL_COMPRESSOR"`
	BlockCompressor     string `yaml:"blockCompressor" env:"STRATA_BLOCK_COMPRESSOR"`
	DirectoryForIndexes bool   `yaml:"directoryForIndexes" env:"STRATA_DIRECTORY_FOR_INDEXES"`
}

// CheckpointConfig drives the checkpoint scheduler. Both triggers zero means
// no background checkpoints.
type CheckpointConfig struct {
	WaitSecs     int64  `yaml:"waitSecs" env:"STRATA_CHECKPOINT_WAIT_SECS"`
	LogSizeBytes int64  `yaml:"logSizeBytes" env:"STRATA_CHECKPOINT_LOG_SIZE"`
	Name         string `yaml:"name" env:"STRATA_CHECKPOINT_NAME"`
	// DebounceMs follows log-triggered checkpoints. Zero selects the 1ms
	// default; negative disables it.
	DebounceMs int64 `yaml:"debounceMs" env:"STRATA_CHECKPOINT_DEBOUNCE_MS"`
}

type TrimConfig struct {
	Enabled           bool   `yaml:"enabled" env:"STRATA_TRIM_ENABLED"`
	Freq              int    `yaml:"freq" env:"STRATA_TRIM_FREQ"`
	TriggerBytes      int64  `yaml:"triggerBytes" env:"STRATA_TRIM_TRIGGER_BYTES"`
	Capacity          int    `yaml:"capacity" env:"STRATA_TRIM_CAPACITY"`
	Backpressure      string `yaml:"backpressure" env:"STRATA_TRIM_BACKPRESSURE"`
	MinLengthBytes    int64  `yaml:"minLengthBytes" env:"STRATA_TRIM_MIN_LENGTH"`
	IntervalMs        int64  `yaml:"intervalMs" env:"STRATA_TRIM_INTERVAL_MS"`
	CooldownThreshold int    `yaml:"cooldownThreshold" env:"STRATA_TRIM_COOLDOWN_THRESHOLD"`
	CooldownMs        int64  `yaml:"cooldownMs" env:"STRATA_TRIM_COOLDOWN_MS"`
	Mode              string `yaml:"mode" env:"STRATA_TRIM_MODE"`
}

type IOConfig struct {
	DirectIO      bool            `yaml:"directIO" env:"STRATA_DIRECT_IO"`
	Alignment     int             `yaml:"alignment" env:"STRATA_IO_ALIGNMENT"`
	MaxChunkBytes int64           `yaml:"maxChunkBytes" env:"STRATA_IO_MAX_CHUNK"`
	Placement     PlacementConfig `yaml:"placement"`
}

type PlacementConfig struct {
	Strategy          string `yaml:"strategy" env:"STRATA_PLACEMENT_STRATEGY"`
	Boundary          int64  `yaml:"boundary" env:"STRATA_PLACEMENT_BOUNDARY"`
	CollectionPattern string `yaml:"collectionPattern" env:"STRATA_PLACEMENT_COLLECTION_PATTERN"`
	IndexPattern      string `yaml:"indexPattern" env:"STRATA_PLACEMENT_INDEX_PATTERN"`
	JournalPattern    string `yaml:"journalPattern" env:"STRATA_PLACEMENT_JOURNAL_PATTERN"`
	LeftStream        int    `yaml:"leftStream" env:"STRATA_PLACEMENT_LEFT_STREAM"`
	RightStream       int    `yaml:"rightStream" env:"STRATA_PLACEMENT_RIGHT_STREAM"`
}

// ArchiveConfig configures optional upload of checkpoint manifests to an
// S3-compatible object store.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled" env:"STRATA_ARCHIVE_ENABLED"`
	Endpoint     string `yaml:"endpoint" env:"STRATA_S3_ENDPOINT"`
	Bucket       string `yaml:"bucket" env:"STRATA_S3_BUCKET"`
	Region       string `yaml:"region" env:"STRATA_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"STRATA_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"STRATA_S3_SECRET_KEY"`
	Prefix       string `yaml:"prefix" env:"STRATA_S3_PREFIX"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"STRATA_S3_USE_PATH_STYLE"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"STRATA_METRICS_ADDR"`
	HealthAddr  string `yaml:"healthAddr" env:"STRATA_HEALTH_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"STRATA_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"STRATA_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Dir:               "./strata-data",
			LogEnabled:        true,
			JournalCompressor: "snappy",
			BlockCompressor:   "snappy",
		},
		Checkpoint: CheckpointConfig{
			WaitSecs:   60,
			DebounceMs: 1,
		},
		Trim: TrimConfig{
			Enabled:           true,
			Freq:              1000,
			TriggerBytes:      64 * 1024 * 1024, // 64MB
			Capacity:          4096,
			Backpressure:      "drop-newest",
			MinLengthBytes:    4096,
			IntervalMs:        1000,
			CooldownThreshold: 10000,
			CooldownMs:        50,
			Mode:              "punch-hole",
		},
		IO: IOConfig{
			DirectIO:      false,
			Alignment:     0,
			MaxChunkBytes: 1 << 30, // 1GB
			Placement: PlacementConfig{
				Strategy:          "none",
				Boundary:          131072,
				CollectionPattern: "collection",
				IndexPattern:      "index",
				JournalPattern:    "journal",
				LeftStream:        1,
				RightStream:       2,
			},
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "checkpoints/",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DataDir      string
	RawDir       string
	ProcessedDir string
	FinalDir     string
	DatasetName  string

	ChunkSize     int
	KeepColumns   []string
	ParseStrategy string
	FailFast      bool

	LogLevel  string
	LogFormat string

	// Cross-run dedup index configuration.
	DedupIndex     bool
	DedupIndexPath string

	// Pushgateway metrics delivery.
	PushgatewayURL string
	MetricsJob     string

	// UDL bulk download configuration.
	BulkURLsFile      string
	UDLToken          string
	APIUsername       string
	APIPassword       string
	FetchTimeout      time.Duration
	FetchMaxRetries   int
	FetchRetryInitial time.Duration
	FetchRetryMax     time.Duration
	FetchPacing       time.Duration
	KeepZips          bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	dataDir := envOrDefault("DATA_DIR", "data")
	rawDir := envOrDefault("RAW_DIR", filepath.Join(dataDir, "00_raw"))
	processedDir := envOrDefault("PROCESSED_DIR", filepath.Join(dataDir, "01_processed"))
	finalDir := envOrDefault("FINAL_DIR", filepath.Join(dataDir, "02_final"))
	datasetName := envOrDefault("DATASET_NAME", "elset_history_aodr")

	chunkSize, err := parsePositiveInt("CHUNK_SIZE", 50000)
	if err != nil {
		return nil, err
	}

	parseStrategy := envOrDefault("PARSE_STRATEGY", "streaming")
	if parseStrategy != "streaming" && parseStrategy != "document" {
		return nil, errors.New(`PARSE_STRATEGY must be "streaming" or "document"`)
	}

	logFormat := envOrDefault("LOG_FORMAT", "json")
	if logFormat != "json" && logFormat != "text" {
		return nil, errors.New(`LOG_FORMAT must be "json" or "text"`)
	}

	failFast, err := parseBool("FAIL_FAST", true)
	if err != nil {
		return nil, err
	}
	dedupIndex, err := parseBool("DEDUP_INDEX", false)
	if err != nil {
		return nil, err
	}
	keepZips, err := parseBool("KEEP_ZIPS", true)
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parseDurationEnv("FETCH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	fetchRetryInitial, err := parseDurationEnv("FETCH_RETRY_INITIAL", 1400*time.Millisecond)
	if err != nil {
		return nil, err
	}
	fetchRetryMax, err := parseDurationEnv("FETCH_RETRY_MAX", time.Minute)
	if err != nil {
		return nil, err
	}
	fetchPacing, err := parseDurationEnv("FETCH_PACING", 2*time.Second)
	if err != nil {
		return nil, err
	}
	fetchMaxRetries, err := parsePositiveInt("FETCH_MAX_RETRIES", 6)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:      dataDir,
		RawDir:       rawDir,
		ProcessedDir: processedDir,
		FinalDir:     finalDir,
		DatasetName:  datasetName,

		ChunkSize:     chunkSize,
		KeepColumns:   splitCSV(os.Getenv("KEEP_COLUMNS")),
		ParseStrategy: parseStrategy,
		FailFast:      failFast,

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: logFormat,

		DedupIndex:     dedupIndex,
		DedupIndexPath: envOrDefault("DEDUP_INDEX_PATH", filepath.Join(processedDir, datasetName+".keys.db")),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		MetricsJob:     envOrDefault("METRICS_JOB", "udl_ingest"),

		BulkURLsFile:      envOrDefault("BULK_URLS_FILE", "urls.txt"),
		UDLToken:          os.Getenv("UDL_TOKEN"),
		APIUsername:       os.Getenv("API_USERNAME"),
		APIPassword:       os.Getenv("API_PASSWORD"),
		FetchTimeout:      fetchTimeout,
		FetchMaxRetries:   fetchMaxRetries,
		FetchRetryInitial: fetchRetryInitial,
		FetchRetryMax:     fetchRetryMax,
		FetchPacing:       fetchPacing,
		KeepZips:          keepZips,
	}

	if cfg.DatasetName == "" {
		return nil, errors.New("DATASET_NAME is required")
	}

	return cfg, nil
}

// DatasetDir returns the directory the partitioned dataset is written under.
func (c *Config) DatasetDir() string {
	return filepath.Join(c.ProcessedDir, c.DatasetName)
}

// EnsureDirs creates the data directory tree. Idempotent.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.RawDir, c.ProcessedDir, c.FinalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, s)
	}
	return b, nil
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return d, nil
}

// splitCSV parses a comma-separated list, trimming whitespace and dropping
// empty entries. Returns nil for an empty value.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

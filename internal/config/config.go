// Package config provides configuration management for the esp-randomness tool.
// Configuration starts from defaults, is optionally overlaid by a YAML file
// and is finally overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
)

// Environment constants define the application runtime environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentProduction  = "prod"

	// FileEnvVar names the optional YAML configuration file.
	FileEnvVar = "ESP_RANDOMNESS_CONFIG_FILE"

	ReportFormatCSV  = "csv"
	ReportFormatXLSX = "xlsx"

	ClientAuthNone    = "none"
	ClientAuthRequest = "request"
	ClientAuthRequire = "require"

	defaultConfidenceLevel   = 0.005
	defaultBlockSize         = 128
	defaultMatrixSize        = 32
	defaultDataPreviewBytes  = 256
	defaultMQTTTopic         = "randomness/esp/summary"
	defaultPublishTimeout    = 5 * time.Second
	defaultRCTCutoff         = 40
	defaultAPTCutoff         = 605
	defaultAPTWindow         = 4096
	maxDataPreviewBytes      = 65536
	defaultMetricsBind       = "127.0.0.1:8080"
	defaultMQTTBrokerURL     = "tcp://127.0.0.1:1883"
	defaultReportFormat      = ReportFormatCSV
	defaultEnvironment       = EnvironmentDevelopment
	validClientQoSUpperBound = 1
)

// Battery configures the randomness test battery.
type Battery struct {
	ConfidenceLevel           float64 `yaml:"confidence_level"`
	BlockSize                 int     `yaml:"block_size"`
	MatrixSize                int     `yaml:"matrix_size"`
	LinearComplexityBlockSize int     `yaml:"linear_complexity_block_size"` // 0 follows block_size
	Workers                   int     `yaml:"workers"`                      // 0 selects GOMAXPROCS
}

// Capture configures packet selection.
type Capture struct {
	SourceFilter []string `yaml:"source_filter"` // accepted source address prefixes; empty accepts all
	DestFilter   []string `yaml:"dest_filter"`   // accepted destination address prefixes; empty accepts all
}

// Report configures the per-packet report sink.
type Report struct {
	Format           string `yaml:"format"`             // "csv" or "xlsx"
	Path             string `yaml:"path"`               // output file; derived from the capture name when empty
	DataPreviewBytes int    `yaml:"data_preview_bytes"` // payload bytes copied into the Data column
}

// Metrics contains Prometheus metrics server configuration.
type Metrics struct {
	Enabled       bool   `yaml:"enabled"`
	Bind          string `yaml:"bind"`            // Bind address for metrics server (e.g., "127.0.0.1:8080")
	TLSEnabled    bool   `yaml:"tls_enabled"`     // Serve metrics over HTTPS
	TLSCertFile   string `yaml:"tls_cert_file"`   // Path to server certificate for TLS
	TLSKeyFile    string `yaml:"tls_key_file"`    // Path to server private key for TLS
	TLSCAFile     string `yaml:"tls_ca_file"`     // Path to CA certificate for mTLS client verification (optional)
	TLSClientAuth string `yaml:"tls_client_auth"` // mTLS client auth mode: "none", "request", "require" (default: "none")
}

// MQTT contains configuration for publishing run summaries.
type MQTT struct {
	Enabled        bool          `yaml:"enabled"`
	BrokerURL      string        `yaml:"broker_url"` // e.g. "tcp://localhost:1883" or "ssl://mqtt.example.com:8883"
	ClientID       string        `yaml:"client_id"`  // auto-generated if empty
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"` // 0 or 1
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TLSCAFile      string        `yaml:"tls_ca_file"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Health configures the per-flow SP 800-90B health tests on payload bytes.
type Health struct {
	RCTCutoff int `yaml:"rct_cutoff"`
	APTCutoff int `yaml:"apt_cutoff"`
	APTWindow int `yaml:"apt_window"`
}

// Config holds the complete application configuration.
type Config struct {
	Battery     Battery `yaml:"battery"`
	Capture     Capture `yaml:"capture"`
	Report      Report  `yaml:"report"`
	Metrics     Metrics `yaml:"metrics"`
	MQTT        MQTT    `yaml:"mqtt"`
	Health      Health  `yaml:"health"`
	Environment string  `yaml:"environment"` // "dev" or "prod"
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Battery: Battery{
			ConfidenceLevel: defaultConfidenceLevel,
			BlockSize:       defaultBlockSize,
			MatrixSize:      defaultMatrixSize,
		},
		Report: Report{
			Format:           defaultReportFormat,
			DataPreviewBytes: defaultDataPreviewBytes,
		},
		Metrics: Metrics{
			Bind:          defaultMetricsBind, // Default to localhost only
			TLSClientAuth: ClientAuthNone,
		},
		MQTT: MQTT{
			BrokerURL:      defaultMQTTBrokerURL,
			Topic:          defaultMQTTTopic,
			PublishTimeout: defaultPublishTimeout,
		},
		Health: Health{
			RCTCutoff: defaultRCTCutoff,
			APTCutoff: defaultAPTCutoff,
			APTWindow: defaultAPTWindow,
		},
		Environment: defaultEnvironment,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// ESP_RANDOMNESS_CONFIG_FILE and environment variables, then validates it.
func Load() (Config, error) {
	configuration := Default()

	if path := GetEnvDefault(FileEnvVar, ""); path != "" {
		if err := applyFile(&configuration, path); err != nil {
			return configuration, err
		}
	}

	appliers := []func(*Config) error{
		applyBatteryEnvVars,
		applyCaptureEnvVars,
		applyReportEnvVars,
		applyMetricsEnvVars,
		applyMQTTEnvVars,
		applyHealthEnvVars,
		applyEnvironmentEnvVars,
	}
	for _, apply := range appliers {
		if err := apply(&configuration); err != nil {
			return configuration, err
		}
	}

	if err := validate(&configuration); err != nil {
		return configuration, err
	}
	return configuration, nil
}

// applyFile overlays the YAML document at path onto configuration. Keys absent
// from the document keep their current values.
func applyFile(configuration *Config, path string) error {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return err
	}
	buf, err := readFileWithinRoot(absPath)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", FileEnvVar, err)
	}
	if err := yaml.Unmarshal(buf, configuration); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyBatteryEnvVars reads the battery parameters.
func applyBatteryEnvVars(configuration *Config) error {
	configuration.Battery.ConfidenceLevel = ParseFloatEnv("CONFIDENCE_LEVEL", configuration.Battery.ConfidenceLevel)
	configuration.Battery.BlockSize = ParsePositiveEnvInt("BLOCK_SIZE", configuration.Battery.BlockSize)
	configuration.Battery.MatrixSize = ParsePositiveEnvInt("MATRIX_SIZE", configuration.Battery.MatrixSize)
	configuration.Battery.LinearComplexityBlockSize = ParsePositiveEnvInt("LINEAR_COMPLEXITY_BLOCK_SIZE", configuration.Battery.LinearComplexityBlockSize)
	configuration.Battery.Workers = ParsePositiveEnvInt("BATTERY_WORKERS", configuration.Battery.Workers)
	return nil
}

// applyCaptureEnvVars reads CAPTURE_SOURCE_FILTER and CAPTURE_DEST_FILTER as
// comma separated prefix lists.
func applyCaptureEnvVars(configuration *Config) error {
	if v := GetEnvDefault("CAPTURE_SOURCE_FILTER", ""); v != "" {
		configuration.Capture.SourceFilter = SplitList(v)
	}
	if v := GetEnvDefault("CAPTURE_DEST_FILTER", ""); v != "" {
		configuration.Capture.DestFilter = SplitList(v)
	}
	return nil
}

// applyReportEnvVars reads REPORT_FORMAT, REPORT_PATH and REPORT_DATA_PREVIEW_BYTES.
func applyReportEnvVars(configuration *Config) error {
	configuration.Report.Format = strings.ToLower(GetEnvDefault("REPORT_FORMAT", configuration.Report.Format))
	configuration.Report.Path = GetEnvDefault("REPORT_PATH", configuration.Report.Path)

	preview := ParsePositiveEnvInt("REPORT_DATA_PREVIEW_BYTES", configuration.Report.DataPreviewBytes)
	if preview > maxDataPreviewBytes {
		log.Printf("config: REPORT_DATA_PREVIEW_BYTES (%d) above maximum (%d), clamping to max", preview, maxDataPreviewBytes)
		preview = maxDataPreviewBytes
	}
	configuration.Report.DataPreviewBytes = preview
	return nil
}

// applyMetricsEnvVars reads Prometheus metrics server environment variables.
func applyMetricsEnvVars(configuration *Config) error {
	configuration.Metrics.Bind = GetEnvDefault("METRICS_BIND", configuration.Metrics.Bind)
	configuration.Metrics.Enabled = ParseBoolEnv("METRICS_ENABLED", configuration.Metrics.Enabled)

	configuration.Metrics.TLSEnabled = ParseBoolEnv("METRICS_TLS_ENABLED", configuration.Metrics.TLSEnabled)
	configuration.Metrics.TLSCertFile = GetEnvDefault("METRICS_TLS_CERT_FILE", configuration.Metrics.TLSCertFile)
	configuration.Metrics.TLSKeyFile = GetEnvDefault("METRICS_TLS_KEY_FILE", configuration.Metrics.TLSKeyFile)
	configuration.Metrics.TLSCAFile = GetEnvDefault("METRICS_TLS_CA_FILE", configuration.Metrics.TLSCAFile)
	if v := GetEnvDefault("METRICS_TLS_CLIENT_AUTH", ""); v != "" {
		configuration.Metrics.TLSClientAuth = strings.ToLower(v)
	}
	return nil
}

// applyMQTTEnvVars reads MQTT environment variables. MQTT_QOS is clamped to 0 or 1
// and MQTT_PASSWORD_FILE takes precedence over MQTT_PASSWORD.
func applyMQTTEnvVars(configuration *Config) error {
	configuration.MQTT.Enabled = ParseBoolEnv("MQTT_ENABLED", configuration.MQTT.Enabled)
	configuration.MQTT.BrokerURL = GetEnvDefault("MQTT_BROKER_URL", configuration.MQTT.BrokerURL)
	configuration.MQTT.ClientID = GetEnvDefault("MQTT_CLIENT_ID", configuration.MQTT.ClientID)
	configuration.MQTT.Topic = GetEnvDefault("MQTT_TOPIC", configuration.MQTT.Topic)

	if v := os.Getenv("MQTT_QOS"); v != "" {
		qos, err := strconv.Atoi(cleanEnvValue(v))
		if err != nil {
			return errors.New("config: MQTT_QOS must be a number (0 or 1)")
		}
		configuration.MQTT.QoS = byte(min(max(qos, 0), validClientQoSUpperBound))
	}

	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		configuration.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		configuration.MQTT.Password = v
	}
	if passwordFile := os.Getenv("MQTT_PASSWORD_FILE"); passwordFile != "" {
		passwordBytes, err := readSecretFile(passwordFile)
		if err != nil {
			return fmt.Errorf("config: failed to read MQTT_PASSWORD_FILE: %w", err)
		}
		configuration.MQTT.Password = strings.TrimSpace(string(passwordBytes))
	}
	configuration.MQTT.TLSCAFile = GetEnvDefault("MQTT_TLS_CA_FILE", configuration.MQTT.TLSCAFile)
	configuration.MQTT.PublishTimeout = ParseDurationEnv("MQTT_PUBLISH_TIMEOUT", configuration.MQTT.PublishTimeout)
	return nil
}

// applyHealthEnvVars reads the repetition count and adaptive proportion cutoffs.
func applyHealthEnvVars(configuration *Config) error {
	configuration.Health.RCTCutoff = ParsePositiveEnvInt("HEALTH_RCT_CUTOFF", configuration.Health.RCTCutoff)
	configuration.Health.APTCutoff = ParsePositiveEnvInt("HEALTH_APT_CUTOFF", configuration.Health.APTCutoff)
	configuration.Health.APTWindow = ParsePositiveEnvInt("HEALTH_APT_WINDOW", configuration.Health.APTWindow)
	return nil
}

// applyEnvironmentEnvVars normalizes ENVIRONMENT into "dev" or "prod".
// Valid inputs are "dev"/"development" and "prod"/"production"; other values error out.
func applyEnvironmentEnvVars(configuration *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "dev", "development":
			configuration.Environment = EnvironmentDevelopment
		case "prod", "production":
			configuration.Environment = EnvironmentProduction
		default:
			return errors.New("config: ENVIRONMENT must be 'dev' or 'prod'")
		}
	}
	return nil
}

// validate checks that required configuration fields are present and valid.
func validate(configuration *Config) error {
	b := configuration.Battery
	if math.IsNaN(b.ConfidenceLevel) || b.ConfidenceLevel <= 0 || b.ConfidenceLevel >= 1 {
		return fmt.Errorf("config: CONFIDENCE_LEVEL must be in (0, 1), got %v", b.ConfidenceLevel)
	}
	if b.BlockSize <= 0 || b.MatrixSize <= 0 {
		return errors.New("config: BLOCK_SIZE and MATRIX_SIZE must be positive")
	}
	if b.LinearComplexityBlockSize < 0 {
		return errors.New("config: LINEAR_COMPLEXITY_BLOCK_SIZE must not be negative")
	}
	if b.Workers < 0 {
		return errors.New("config: BATTERY_WORKERS must not be negative")
	}

	switch configuration.Report.Format {
	case ReportFormatCSV, ReportFormatXLSX:
	default:
		return fmt.Errorf("config: REPORT_FORMAT must be 'csv' or 'xlsx', got %q", configuration.Report.Format)
	}
	if configuration.Report.DataPreviewBytes <= 0 {
		return errors.New("config: REPORT_DATA_PREVIEW_BYTES must be positive")
	}

	if configuration.Metrics.Enabled && configuration.Metrics.Bind == "" {
		return errors.New("config: METRICS_BIND is required when METRICS_ENABLED=true")
	}
	if err := validateMetricsTLS(configuration.Metrics); err != nil {
		return err
	}

	if configuration.MQTT.Enabled {
		if configuration.MQTT.BrokerURL == "" {
			return errors.New("config: MQTT_BROKER_URL is required when MQTT_ENABLED=true")
		}
		if configuration.MQTT.Topic == "" {
			return errors.New("config: MQTT_TOPIC is required when MQTT_ENABLED=true")
		}
		if configuration.MQTT.QoS > validClientQoSUpperBound {
			return errors.New("config: MQTT QoS must be 0 or 1")
		}
		if configuration.MQTT.PublishTimeout <= 0 {
			return errors.New("config: MQTT_PUBLISH_TIMEOUT must be positive")
		}
	}

	h := configuration.Health
	if h.RCTCutoff <= 1 || h.APTCutoff <= 1 || h.APTWindow <= 1 {
		return errors.New("config: health test cutoffs and window must be greater than 1")
	}
	if h.APTCutoff > h.APTWindow {
		return fmt.Errorf("config: HEALTH_APT_CUTOFF (%d) exceeds HEALTH_APT_WINDOW (%d)", h.APTCutoff, h.APTWindow)
	}

	if configuration.Environment != EnvironmentDevelopment && configuration.Environment != EnvironmentProduction {
		return errors.New("config: environment must be 'dev' or 'prod'")
	}
	return nil
}

func validateMetricsTLS(m Metrics) error {
	if !m.TLSEnabled {
		return nil
	}
	if m.TLSCertFile == "" {
		return errors.New("config: METRICS_TLS_CERT_FILE is required when METRICS_TLS_ENABLED=true")
	}
	if m.TLSKeyFile == "" {
		return errors.New("config: METRICS_TLS_KEY_FILE is required when METRICS_TLS_ENABLED=true")
	}
	switch m.TLSClientAuth {
	case ClientAuthNone, ClientAuthRequest, ClientAuthRequire:
	default:
		return fmt.Errorf("config: METRICS_TLS_CLIENT_AUTH must be 'none', 'request', or 'require', got %q", m.TLSClientAuth)
	}
	if m.TLSClientAuth == ClientAuthRequire && m.TLSCAFile == "" {
		return errors.New("config: METRICS_TLS_CA_FILE is required when METRICS_TLS_CLIENT_AUTH=require")
	}
	return nil
}

// BatteryParams converts the battery section into battery.Params, keeping the
// battery defaults for the pattern lengths and template.
func (cfg *Config) BatteryParams() battery.Params {
	params := battery.DefaultParams()
	params.ConfidenceLevel = cfg.Battery.ConfidenceLevel
	params.BlockSize = cfg.Battery.BlockSize
	params.MatrixSize = cfg.Battery.MatrixSize
	params.LinearComplexityBlockSize = cfg.Battery.LinearComplexityBlockSize
	params.Workers = cfg.Battery.Workers
	return params
}

// IsProduction returns true if the application is running in production mode.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// IsDevelopment returns true if the application is running in development mode.
func (cfg *Config) IsDevelopment() bool {
	return cfg.Environment == EnvironmentDevelopment
}

// String returns a human-readable representation of the configuration.
// Secrets are omitted.
func (cfg *Config) String() string {
	return fmt.Sprintf("Config{Environment=%s, ConfidenceLevel=%g, BlockSize=%d, MatrixSize=%d, Report=%s, Metrics=%t, MQTT=%t}",
		cfg.Environment, cfg.Battery.ConfidenceLevel, cfg.Battery.BlockSize, cfg.Battery.MatrixSize,
		cfg.Report.Format, cfg.Metrics.Enabled, cfg.MQTT.Enabled)
}

func readSecretFile(path string) ([]byte, error) {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return nil, err
	}
	return readFileWithinRoot(absPath)
}

func sanitizeAbsolutePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("config: empty file path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	return abs, nil
}

func readFileWithinRoot(absPath string) ([]byte, error) {
	f, err := os.OpenInRoot(filepath.Dir(absPath), filepath.Base(absPath))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("error closing file: %v", err)
		}
	}()
	return io.ReadAll(f)
}

// SplitList splits a comma separated value, trimming entries and dropping
// empty ones.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// cleanEnvValue removes inline comments and trims whitespace from environment variable values.
// This handles systemd EnvironmentFile format where inline comments are included in the value.
// Example: "127.0.0.1:8080 # bind address" becomes "127.0.0.1:8080"
func cleanEnvValue(value string) string {
	cleaned := strings.TrimSpace(value)
	if idx := strings.Index(cleaned, "#"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}
	return cleaned
}

// GetEnvDefault retrieves an environment variable or returns a fallback value.
// Empty or whitespace-only values are treated as unset.
// Inline comments (e.g., "value # comment") are stripped.
func GetEnvDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if cleaned := cleanEnvValue(value); cleaned != "" {
			return cleaned
		}
	}
	return fallback
}

// ParsePositiveEnvInt reads an integer environment variable with validation.
// Returns the fallback if the variable is unset, invalid, or non-positive.
// Invalid or non-positive values are logged before falling back.
func ParsePositiveEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(cleaned)
	if err != nil {
		log.Printf("config: %s invalid (%q), using fallback %d", key, value, fallback)
		return fallback
	}
	if parsed <= 0 {
		log.Printf("config: %s non-positive (%d), using fallback %d", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseFloatEnv reads a finite floating point environment variable.
// Returns the fallback if the variable is unset or invalid.
func ParseFloatEnv(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		log.Printf("config: %s invalid (%q), using fallback %g", key, value, fallback)
		return fallback
	}
	return parsed
}

// ParseDurationEnv reads a duration environment variable with validation.
// Values must include a unit suffix (e.g., "500ms", "30s", "5m").
// Returns the fallback if the variable is unset, invalid, or negative.
func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	if !strings.ContainsFunc(cleaned, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}) {
		log.Printf("config: %s missing duration unit (%q), using fallback %s", key, value, fallback)
		return fallback
	}
	parsed, err := time.ParseDuration(cleaned)
	if err != nil {
		log.Printf("config: %s invalid (%q), using fallback %s", key, value, fallback)
		return fallback
	}
	if parsed < 0 {
		log.Printf("config: %s negative (%s), using fallback %s", key, parsed, fallback)
		return fallback
	}
	return parsed
}

// ParseBoolEnv interprets typical boolean environment values (true/false, 1/0, yes/no).
// Inline comments (e.g., "true # enable feature") are stripped.
func ParseBoolEnv(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	switch strings.ToLower(cleaned) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		log.Printf("config: %s has unrecognised boolean value %q, using fallback %v", key, value, fallback)
		return fallback
	}
}

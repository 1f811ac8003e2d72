package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var managedKeys = []string{
	FileEnvVar,
	"CONFIDENCE_LEVEL",
	"BLOCK_SIZE",
	"MATRIX_SIZE",
	"LINEAR_COMPLEXITY_BLOCK_SIZE",
	"BATTERY_WORKERS",
	"CAPTURE_SOURCE_FILTER",
	"CAPTURE_DEST_FILTER",
	"REPORT_FORMAT",
	"REPORT_PATH",
	"REPORT_DATA_PREVIEW_BYTES",
	"METRICS_ENABLED",
	"METRICS_BIND",
	"METRICS_TLS_ENABLED",
	"METRICS_TLS_CERT_FILE",
	"METRICS_TLS_KEY_FILE",
	"METRICS_TLS_CA_FILE",
	"METRICS_TLS_CLIENT_AUTH",
	"MQTT_ENABLED",
	"MQTT_BROKER_URL",
	"MQTT_CLIENT_ID",
	"MQTT_TOPIC",
	"MQTT_QOS",
	"MQTT_USERNAME",
	"MQTT_PASSWORD",
	"MQTT_PASSWORD_FILE",
	"MQTT_TLS_CA_FILE",
	"MQTT_PUBLISH_TIMEOUT",
	"HEALTH_RCT_CUTOFF",
	"HEALTH_APT_CUTOFF",
	"HEALTH_APT_WINDOW",
	"ENVIRONMENT",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedKeys {
		t.Setenv(key, "")
	}
}

func TestConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Battery.ConfidenceLevel != defaultConfidenceLevel {
		t.Errorf("ConfidenceLevel = %v, want %v", cfg.Battery.ConfidenceLevel, defaultConfidenceLevel)
	}
	if cfg.Battery.BlockSize != 128 || cfg.Battery.MatrixSize != 32 || cfg.Battery.LinearComplexityBlockSize != 0 {
		t.Errorf("unexpected battery defaults: %+v", cfg.Battery)
	}
	if cfg.Report.Format != ReportFormatCSV || cfg.Report.DataPreviewBytes != 256 {
		t.Errorf("unexpected report defaults: %+v", cfg.Report)
	}
	if cfg.Metrics.Enabled || cfg.Metrics.Bind != "127.0.0.1:8080" {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.MQTT.Enabled || cfg.MQTT.Topic != "randomness/esp/summary" || cfg.MQTT.PublishTimeout != 5*time.Second {
		t.Errorf("unexpected MQTT defaults: %+v", cfg.MQTT)
	}
	if cfg.Health.RCTCutoff != 40 || cfg.Health.APTCutoff != 605 || cfg.Health.APTWindow != 4096 {
		t.Errorf("unexpected health defaults: %+v", cfg.Health)
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Errorf("expected development environment, got %q", cfg.Environment)
	}
}

func TestConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIDENCE_LEVEL", "0.01")
	t.Setenv("BLOCK_SIZE", "64 # smaller blocks")
	t.Setenv("MATRIX_SIZE", "16")
	t.Setenv("LINEAR_COMPLEXITY_BLOCK_SIZE", "1000")
	t.Setenv("BATTERY_WORKERS", "4")
	t.Setenv("CAPTURE_SOURCE_FILTER", "10.0.0., 192.168.")
	t.Setenv("CAPTURE_DEST_FILTER", "172.16.")
	t.Setenv("REPORT_FORMAT", "XLSX")
	t.Setenv("REPORT_PATH", "/tmp/out.xlsx")
	t.Setenv("REPORT_DATA_PREVIEW_BYTES", "32")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_BIND", "0.0.0.0:9100")
	t.Setenv("MQTT_ENABLED", "yes")
	t.Setenv("MQTT_BROKER_URL", "ssl://broker:8883")
	t.Setenv("MQTT_CLIENT_ID", "auditor")
	t.Setenv("MQTT_TOPIC", "lab/esp")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_PUBLISH_TIMEOUT", "2s")
	t.Setenv("HEALTH_RCT_CUTOFF", "20")
	t.Setenv("HEALTH_APT_CUTOFF", "300")
	t.Setenv("HEALTH_APT_WINDOW", "512")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Battery != (Battery{ConfidenceLevel: 0.01, BlockSize: 64, MatrixSize: 16, LinearComplexityBlockSize: 1000, Workers: 4}) {
		t.Errorf("unexpected battery config: %+v", cfg.Battery)
	}
	if strings.Join(cfg.Capture.SourceFilter, "|") != "10.0.0.|192.168." {
		t.Errorf("SourceFilter = %v", cfg.Capture.SourceFilter)
	}
	if strings.Join(cfg.Capture.DestFilter, "|") != "172.16." {
		t.Errorf("DestFilter = %v", cfg.Capture.DestFilter)
	}
	if cfg.Report.Format != ReportFormatXLSX || cfg.Report.Path != "/tmp/out.xlsx" || cfg.Report.DataPreviewBytes != 32 {
		t.Errorf("unexpected report config: %+v", cfg.Report)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Bind != "0.0.0.0:9100" {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
	m := cfg.MQTT
	if !m.Enabled || m.BrokerURL != "ssl://broker:8883" || m.ClientID != "auditor" || m.Topic != "lab/esp" ||
		m.QoS != 1 || m.Username != "user" || m.Password != "secret" || m.PublishTimeout != 2*time.Second {
		t.Errorf("unexpected MQTT config: %+v", m)
	}
	if cfg.Health != (Health{RCTCutoff: 20, APTCutoff: 300, APTWindow: 512}) {
		t.Errorf("unexpected health config: %+v", cfg.Health)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production environment, got %q", cfg.Environment)
	}
}

// TestConfig_FileOverlay checks that a YAML file sets values and that the
// environment still wins over the file.
func TestConfig_FileOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "esp.yaml")
	doc := `
battery:
  confidence_level: 0.02
  block_size: 256
report:
  format: xlsx
mqtt:
  enabled: true
  topic: from/file
  publish_timeout: 3s
capture:
  source_filter: ["10.1."]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(FileEnvVar, path)
	t.Setenv("BLOCK_SIZE", "512")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Battery.ConfidenceLevel != 0.02 {
		t.Errorf("ConfidenceLevel = %v, want 0.02 from file", cfg.Battery.ConfidenceLevel)
	}
	if cfg.Battery.BlockSize != 512 {
		t.Errorf("BlockSize = %d, want env override 512", cfg.Battery.BlockSize)
	}
	if cfg.Battery.MatrixSize != defaultMatrixSize {
		t.Errorf("MatrixSize = %d, want default kept", cfg.Battery.MatrixSize)
	}
	if cfg.Report.Format != ReportFormatXLSX {
		t.Errorf("Report.Format = %q, want xlsx", cfg.Report.Format)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Topic != "from/file" || cfg.MQTT.PublishTimeout != 3*time.Second {
		t.Errorf("unexpected MQTT config: %+v", cfg.MQTT)
	}
	if cfg.MQTT.BrokerURL != defaultMQTTBrokerURL {
		t.Errorf("BrokerURL = %q, want default kept", cfg.MQTT.BrokerURL)
	}
	if len(cfg.Capture.SourceFilter) != 1 || cfg.Capture.SourceFilter[0] != "10.1." {
		t.Errorf("SourceFilter = %v", cfg.Capture.SourceFilter)
	}
}

func TestConfig_FileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Setenv(FileEnvVar, filepath.Join(dir, "missing.yaml"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), FileEnvVar) {
		t.Fatalf("expected read error naming %s, got %v", FileEnvVar, err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("battery: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(FileEnvVar, bad)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults valid", func(*Config) {}, ""},
		{"confidence zero", func(c *Config) { c.Battery.ConfidenceLevel = 0 }, "CONFIDENCE_LEVEL"},
		{"confidence one", func(c *Config) { c.Battery.ConfidenceLevel = 1 }, "CONFIDENCE_LEVEL"},
		{"block size zero", func(c *Config) { c.Battery.BlockSize = 0 }, "BLOCK_SIZE"},
		{"negative linear complexity block", func(c *Config) { c.Battery.LinearComplexityBlockSize = -1 }, "LINEAR_COMPLEXITY_BLOCK_SIZE"},
		{"negative workers", func(c *Config) { c.Battery.Workers = -1 }, "BATTERY_WORKERS"},
		{"unknown format", func(c *Config) { c.Report.Format = "pdf" }, "REPORT_FORMAT"},
		{"zero preview", func(c *Config) { c.Report.DataPreviewBytes = 0 }, "REPORT_DATA_PREVIEW_BYTES"},
		{"metrics without bind", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Bind = "" }, "METRICS_BIND"},
		{"metrics tls without cert", func(c *Config) { c.Metrics.TLSEnabled = true; c.Metrics.TLSKeyFile = "k.pem" }, "METRICS_TLS_CERT_FILE"},
		{"metrics tls without key", func(c *Config) { c.Metrics.TLSEnabled = true; c.Metrics.TLSCertFile = "c.pem" }, "METRICS_TLS_KEY_FILE"},
		{"metrics tls bad client auth", func(c *Config) {
			c.Metrics.TLSEnabled = true
			c.Metrics.TLSCertFile, c.Metrics.TLSKeyFile = "c.pem", "k.pem"
			c.Metrics.TLSClientAuth = "sometimes"
		}, "METRICS_TLS_CLIENT_AUTH"},
		{"metrics mtls without ca", func(c *Config) {
			c.Metrics.TLSEnabled = true
			c.Metrics.TLSCertFile, c.Metrics.TLSKeyFile = "c.pem", "k.pem"
			c.Metrics.TLSClientAuth = ClientAuthRequire
		}, "METRICS_TLS_CA_FILE"},
		{"metrics tls disabled ignores files", func(c *Config) { c.Metrics.TLSClientAuth = "sometimes" }, ""},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }, "MQTT_BROKER_URL"},
		{"mqtt without topic", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Topic = "" }, "MQTT_TOPIC"},
		{"mqtt qos two", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 2 }, "QoS"},
		{"mqtt zero timeout", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.PublishTimeout = 0 }, "MQTT_PUBLISH_TIMEOUT"},
		{"rct cutoff one", func(c *Config) { c.Health.RCTCutoff = 1 }, "cutoffs"},
		{"apt cutoff above window", func(c *Config) { c.Health.APTCutoff = 5000 }, "HEALTH_APT_CUTOFF"},
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_MetricsTLSFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_BIND", "0.0.0.0:9443")
	t.Setenv("METRICS_TLS_ENABLED", "yes")
	t.Setenv("METRICS_TLS_CERT_FILE", "/etc/esp/server.crt")
	t.Setenv("METRICS_TLS_KEY_FILE", "/etc/esp/server.key # private")
	t.Setenv("METRICS_TLS_CA_FILE", "/etc/esp/ca.crt")
	t.Setenv("METRICS_TLS_CLIENT_AUTH", "REQUIRE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := Metrics{
		Enabled:       true,
		Bind:          "0.0.0.0:9443",
		TLSEnabled:    true,
		TLSCertFile:   "/etc/esp/server.crt",
		TLSKeyFile:    "/etc/esp/server.key",
		TLSCAFile:     "/etc/esp/ca.crt",
		TLSClientAuth: ClientAuthRequire,
	}
	if cfg.Metrics != want {
		t.Errorf("Metrics = %+v, want %+v", cfg.Metrics, want)
	}
}

func TestConfig_MetricsTLSRequiresCA(t *testing.T) {
	clearEnv(t)
	t.Setenv("METRICS_TLS_ENABLED", "true")
	t.Setenv("METRICS_TLS_CERT_FILE", "server.crt")
	t.Setenv("METRICS_TLS_KEY_FILE", "server.key")
	t.Setenv("METRICS_TLS_CLIENT_AUTH", "require")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "METRICS_TLS_CA_FILE") {
		t.Fatalf("expected METRICS_TLS_CA_FILE error, got %v", err)
	}
}

func TestConfig_InvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid ENVIRONMENT")
	}
}

func TestConfig_MQTTQoS(t *testing.T) {
	clearEnv(t)

	t.Setenv("MQTT_QOS", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric MQTT_QOS")
	}

	t.Setenv("MQTT_QOS", "5")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("QoS = %d, want clamped 1", cfg.MQTT.QoS)
	}

	t.Setenv("MQTT_QOS", "-2")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("QoS = %d, want clamped 0", cfg.MQTT.QoS)
	}
}

func TestConfig_PasswordFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "mqtt.pass")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}
	t.Setenv("MQTT_PASSWORD", "from-env")
	t.Setenv("MQTT_PASSWORD_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.Password != "from-file" {
		t.Errorf("Password = %q, want file contents", cfg.MQTT.Password)
	}

	t.Setenv("MQTT_PASSWORD_FILE", filepath.Join(dir, "absent"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MQTT_PASSWORD_FILE") {
		t.Fatalf("expected password file error, got %v", err)
	}
}

func TestConfig_DataPreviewClamp(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPORT_DATA_PREVIEW_BYTES", "1000000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Report.DataPreviewBytes != maxDataPreviewBytes {
		t.Errorf("DataPreviewBytes = %d, want %d", cfg.Report.DataPreviewBytes, maxDataPreviewBytes)
	}
}

func TestConfig_BatteryParams(t *testing.T) {
	cfg := Default()
	cfg.Battery.ConfidenceLevel = 0.01
	cfg.Battery.BlockSize = 64
	cfg.Battery.Workers = 3

	p := cfg.BatteryParams()
	if p.ConfidenceLevel != 0.01 || p.BlockSize != 64 || p.Workers != 3 {
		t.Errorf("unexpected params: %+v", p)
	}
	if p.MatrixSize != 32 || p.LinearComplexityBlockSize != 0 {
		t.Errorf("unexpected params: %+v", p)
	}
	if p.NonOverlappingTemplate == "" || p.SerialPatternLength == 0 {
		t.Errorf("expected battery defaults for pattern fields: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("params from default config invalid: %v", err)
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Password = "hunter2"
	s := cfg.String()
	if strings.Contains(s, "hunter2") {
		t.Errorf("String leaked password: %s", s)
	}
	if !strings.Contains(s, "Environment=dev") || !strings.Contains(s, "Report=csv") {
		t.Errorf("unexpected String output: %s", s)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, ,b ,, c")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("SplitList = %v", got)
	}
	if SplitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestGetEnvDefault(t *testing.T) {
	const key = "CONFIG_GET_ENV_DEFAULT"

	t.Setenv(key, "  ")
	if got := GetEnvDefault(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for whitespace env value, got %q", got)
	}

	t.Setenv(key, "value # comment")
	if got := GetEnvDefault(key, "fallback"); got != "value" {
		t.Fatalf("expected concrete env value, got %q", got)
	}
}

func TestParsePositiveEnvInt(t *testing.T) {
	const key = "CONFIG_PARSE_POSITIVE_INT"

	t.Setenv(key, "")
	if got := ParsePositiveEnvInt(key, 7); got != 7 {
		t.Fatalf("expected fallback for empty env, got %d", got)
	}

	t.Setenv(key, "invalid")
	if got := ParsePositiveEnvInt(key, 9); got != 9 {
		t.Fatalf("expected fallback for invalid env, got %d", got)
	}

	t.Setenv(key, "0")
	if got := ParsePositiveEnvInt(key, 11); got != 11 {
		t.Fatalf("expected fallback for zero, got %d", got)
	}

	t.Setenv(key, "42")
	if got := ParsePositiveEnvInt(key, 15); got != 42 {
		t.Fatalf("expected parsed positive value 42, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	const key = "CONFIG_PARSE_FLOAT"

	t.Setenv(key, "")
	if got := ParseFloatEnv(key, 0.5); got != 0.5 {
		t.Fatalf("expected fallback for empty env, got %v", got)
	}

	for _, bad := range []string{"abc", "NaN", "+Inf"} {
		t.Setenv(key, bad)
		if got := ParseFloatEnv(key, 0.25); got != 0.25 {
			t.Fatalf("expected fallback for %q, got %v", bad, got)
		}
	}

	t.Setenv(key, "0.001 # strict")
	if got := ParseFloatEnv(key, 0.5); got != 0.001 {
		t.Fatalf("expected 0.001, got %v", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	const key = "CONFIG_PARSE_DURATION"

	t.Setenv(key, "")
	if got := ParseDurationEnv(key, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback for empty env, got %s", got)
	}

	t.Setenv(key, "15")
	if got := ParseDurationEnv(key, 7*time.Second); got != 7*time.Second {
		t.Fatalf("expected fallback for missing unit, got %s", got)
	}

	t.Setenv(key, "-3s")
	if got := ParseDurationEnv(key, 11*time.Second); got != 11*time.Second {
		t.Fatalf("expected fallback for negative duration, got %s", got)
	}

	t.Setenv(key, "500ms")
	if got := ParseDurationEnv(key, time.Second); got != 500*time.Millisecond {
		t.Fatalf("expected parsed duration 500ms, got %s", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	const key = "CONFIG_PARSE_BOOL"

	if got := ParseBoolEnv(key, true); !got {
		t.Fatal("expected fallback true when unset")
	}

	t.Setenv(key, "off")
	if got := ParseBoolEnv(key, true); got {
		t.Fatal("expected false from off")
	}

	t.Setenv(key, "YES")
	if got := ParseBoolEnv(key, false); !got {
		t.Fatal("expected true from YES")
	}

	t.Setenv(key, "maybe")
	if got := ParseBoolEnv(key, true); !got {
		t.Fatal("expected fallback true for unknown value")
	}
}

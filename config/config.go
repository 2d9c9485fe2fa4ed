package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ForensicGraph ForensicGraphConfig `yaml:"forensicgraph"`
}

// ForensicGraphConfig is the project configuration.
type ForensicGraphConfig struct {
	Input        InputConfig        `yaml:"input"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Triage       TriageConfig       `yaml:"triage"`
	Markers      MarkersConfig      `yaml:"markers"`
	Kernel       KernelConfig       `yaml:"kernel"`
	Traversal    TraversalConfig    `yaml:"traversal"`
	Verification VerificationConfig `yaml:"verification"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Output       OutputConfig       `yaml:"output"`
	Decisions    DecisionsConfig    `yaml:"decisions"`
	Capture      CaptureConfig      `yaml:"capture"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls batching behavior.
type PipelineConfig struct {
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batch_size"`
	PollDelay time.Duration `yaml:"poll_delay"`
}

// TriageConfig carries the Stage-1 entropy thresholds.
type TriageConfig struct {
	EntropyCeiling float64 `yaml:"entropy_ceiling"`
	EntropyFloor   float64 `yaml:"entropy_floor"`
}

// MarkersConfig controls marker-based escalation. An explicit vocabulary
// replaces the built-in list; a Sigma rules path adds rule matching on top.
type MarkersConfig struct {
	Vocabulary     []string `yaml:"vocabulary"`
	SigmaRulesPath string   `yaml:"sigma_rules_path"`
}

// KernelConfig carries the gate conformance parameters. The final-gate
// throttle tolerance is a pointer so an omitted key and an explicit false
// stay distinguishable; the default is true.
type KernelConfig struct {
	PhiLimit              int     `yaml:"phi_limit"`
	Beta                  float64 `yaml:"beta"`
	Tau                   float64 `yaml:"tau"`
	RateNorm              string  `yaml:"rate_norm"`
	ThrottleOKAtFinalGate *bool   `yaml:"throttle_ok_at_final_gate"`
}

// TraversalConfig carries campaign traversal parameters.
type TraversalConfig struct {
	TauBlastSeconds    int `yaml:"tau_blast_seconds"`
	MaxCounterfactuals int `yaml:"max_counterfactuals"`
}

// VerificationConfig carries the channel-independence test parameters.
type VerificationConfig struct {
	Permutations int     `yaml:"permutations"`
	Bootstraps   int     `yaml:"bootstraps"`
	Significance float64 `yaml:"alpha_significance"`
	Smoothing    float64 `yaml:"smoothing_alpha"`
	Workers      int     `yaml:"workers"`
}

// LedgerConfig controls the evidence ledger file.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig controls artifact output.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// DecisionsConfig controls the per-event decision sink.
type DecisionsConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// CaptureConfig controls raw message capture for replay runs.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

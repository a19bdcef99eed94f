package types

import (
	"fmt"
	"time"
)

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path is the SQLite file (default "irb.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// AIConfig holds shared settings for the external analysis backend.
type AIConfig struct {
	// Model is the AI model identifier recorded on every agent result.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey authenticates against the backend. When empty the placeholder
	// backend is used.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts on rate limiting (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RequestsPerMinute paces backend calls across all agents; 0 disables pacing.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnalysisConfig holds settings for the analysis orchestrator.
type AnalysisConfig struct {
	AIConfig `yaml:",inline" mapstructure:",squash"`

	// AgentTimeout bounds a single agent call. A timed-out agent becomes a
	// captured analysis_error finding.
	AgentTimeout time.Duration `json:"agent_timeout" yaml:"agent_timeout" mapstructure:"agent_timeout"`

	// OnSubmit starts an analysis run whenever a protocol is submitted.
	OnSubmit bool `json:"on_submit" yaml:"on_submit" mapstructure:"on_submit"`

	// CriteriaFile optionally overrides per-agent review criteria (YAML).
	CriteriaFile string `json:"criteria_file,omitempty" yaml:"criteria_file,omitempty" mapstructure:"criteria_file"`
}

// MonitorConfig holds settings for the evidence monitor.
type MonitorConfig struct {
	// DefaultStrategy is used when a study names no strategy.
	DefaultStrategy string `json:"default_strategy" yaml:"default_strategy" mapstructure:"default_strategy"`
}

// WorkerConfig sizes the background task pool.
type WorkerConfig struct {
	Count       int `json:"count" yaml:"count" mapstructure:"count"`
	QueueSize   int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DocumentsConfig locates uploaded study documents. Each study's files live
// under Dir/<study-id>/.
type DocumentsConfig struct {
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// ContainerRuntime forces "docker" or "podman" for PDF/DOCX extraction;
	// empty autodetects, "none" disables extraction.
	ContainerRuntime string `json:"container_runtime,omitempty" yaml:"container_runtime,omitempty" mapstructure:"container_runtime"`
}

// HTTPConfig holds shared HTTP settings used by clients that make network requests.
type HTTPConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// OSFConfig configures the repository listing client.
type OSFConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty" mapstructure:"token"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	// Dispatcher is "log" or "disabled".
	Dispatcher string `json:"dispatcher" yaml:"dispatcher" mapstructure:"dispatcher"`

	// From is the sender address placed on every message.
	From string `json:"from" yaml:"from" mapstructure:"from"`

	// SiteURL prefixes links in message bodies.
	SiteURL string `json:"site_url" yaml:"site_url" mapstructure:"site_url"`
}

// Config groups every setting irb-engine reads.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database" mapstructure:"database"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis" mapstructure:"analysis"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor" mapstructure:"monitor"`
	Workers   WorkerConfig    `json:"workers" yaml:"workers" mapstructure:"workers"`
	Documents DocumentsConfig `json:"documents" yaml:"documents" mapstructure:"documents"`
	OSF       OSFConfig       `json:"osf" yaml:"osf" mapstructure:"osf"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify" mapstructure:"notify"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "irb.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Analysis: AnalysisConfig{
			AIConfig: AIConfig{
				Model:      "claude-sonnet-4-5-20250929",
				MaxRetries: 3,
			},
			AgentTimeout: 2 * time.Minute,
		},
		Monitor:   MonitorConfig{DefaultStrategy: "placeholder"},
		Workers:   WorkerConfig{Count: 4, QueueSize: 64, MaxAttempts: 3},
		Documents: DocumentsConfig{Dir: "documents"},
		OSF: OSFConfig{
			HTTPConfig: HTTPConfig{Timeout: 30 * time.Second, UserAgent: "irb-engine/0.1"},
			BaseURL:    "https://api.osf.io/v2",
		},
		Notify: NotifyConfig{Dispatcher: "log", From: "irb@localhost", SiteURL: "http://localhost:8000"},
	}
}

// Validate reports the first setting that is out of range.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Analysis.AgentTimeout <= 0 {
		return fmt.Errorf("analysis.agent_timeout must be positive, got %s", c.Analysis.AgentTimeout)
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.MaxAttempts < 1 {
		return fmt.Errorf("workers.max_attempts must be at least 1, got %d", c.Workers.MaxAttempts)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch c.Notify.Dispatcher {
	case "log", "disabled":
	default:
		return fmt.Errorf("notify.dispatcher must be log or disabled, got %q", c.Notify.Dispatcher)
	}
	return nil
}

package config

import "context"

// Package config provides configuration management for the investigation core.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and defaults
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support hot-reload of a subset of settings via filesystem watch
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KUBILITICS_* prefix; the LLM API key is read
//      only from LLM_API_KEY)
//   2. YAML config file (the path given to NewManager; none when empty)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Monitor — snapshot cadence and issue debouncing
//      - check_interval_seconds, cooldown_seconds, debounce_k
//
//   2. Scheduler — concurrency and timeouts
//      - max_concurrent_investigations, investigation_timeout_seconds, adapter_timeout_seconds
//
//   3. Agentic — the LLM-augmented investigator
//      - llm_timeout_seconds, max_iterations, safe_mode, llm_base_url, llm_model
//
//   4. Store — report persistence
//      - report_archive_size, reports_dir, knowledge_dir, sqlite_path
//
//   5. Server — HTTP/WebSocket listener
//      - port, allowed_origins, rate_limit_per_minute
//
//   6. Logging — ambient observability
//      - level, audit_path, app_log_path
type Config struct {
	Monitor struct {
		CheckIntervalSeconds int
		CooldownSeconds      int
		DebounceK            int
	}

	Scheduler struct {
		MaxConcurrentInvestigations int
		InvestigationTimeoutSeconds int
		AdapterTimeoutSeconds       int
		GraceSeconds                int
	}

	Agentic struct {
		LLMTimeoutSeconds int
		MaxIterations     int
		SafeMode          bool
		LLMBaseURL        string
		LLMAPIKey         string
		LLMModel          string
	}

	Store struct {
		ReportArchiveSize int
		ReportsDir        string
		KnowledgeDir      string
		SQLitePath        string
	}

	Server struct {
		Port               int
		AllowedOrigins     []string
		RateLimitPerMinute int
	}

	Logging struct {
		Level       string
		AuditPath   string
		AppLogPath  string
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a new configuration manager rooted at configPath.
// An empty configPath is valid: defaults and environment variables still apply.
func NewManager(configPath string) (Manager, error) {
	return &viperManager{
		configPath: configPath,
		config:     Default(),
		watchChan:  make(chan Config, 1),
	}, nil
}

package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for internal consistency and returns every
// violation found (not just the first), matching spec's named boundary values.
func (c *Config) Validate() []error {
	var errs []error

	if c.Monitor.CheckIntervalSeconds < 5 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.check_interval_seconds",
			Message: fmt.Sprintf("check_interval must be >= 5s, got %ds", c.Monitor.CheckIntervalSeconds),
		})
	}
	if c.Monitor.DebounceK < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.debounce_k",
			Message: fmt.Sprintf("debounce_k must be >= 1, got %d", c.Monitor.DebounceK),
		})
	}
	if c.Monitor.CooldownSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.cooldown_seconds",
			Message: "cooldown_seconds cannot be negative",
		})
	}

	if c.Scheduler.MaxConcurrentInvestigations < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.max_concurrent_investigations",
			Message: fmt.Sprintf("must be >= 1, got %d", c.Scheduler.MaxConcurrentInvestigations),
		})
	}
	if c.Scheduler.InvestigationTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.investigation_timeout_seconds",
			Message: "investigation_timeout must be positive",
		})
	}
	if c.Scheduler.AdapterTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.adapter_timeout_seconds",
			Message: "adapter_timeout must be positive",
		})
	}

	if c.Agentic.MaxIterations < 1 {
		errs = append(errs, &ValidationError{
			Field:   "agentic.max_iterations",
			Message: "max_iterations must be >= 1",
		})
	}
	if c.Agentic.LLMTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "agentic.llm_timeout_seconds",
			Message: "llm_timeout must be positive",
		})
	}
	if !c.Agentic.SafeMode && c.Agentic.LLMBaseURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "agentic.llm_base_url",
			Message: "llm_base_url is required when safe_mode is false",
		})
	}

	if c.Store.ReportArchiveSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "store.report_archive_size",
			Message: "report_archive_size must be >= 1",
		})
	}
	if c.Store.ReportsDir == "" {
		errs = append(errs, &ValidationError{Field: "store.reports_dir", Message: "reports_dir is required"})
	}
	if c.Store.KnowledgeDir == "" {
		errs = append(errs, &ValidationError{Field: "store.knowledge_dir", Message: "knowledge_dir is required"})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{Field: "server.rate_limit_per_minute", Message: "cannot be negative"})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	return errs
}

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper, the same pattern the rest of
// the codebase's configuration layer has always used: defaults registered
// programmatically, an optional YAML file, then KUBILITICS_*-prefixed
// environment variables layered on top.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("KUBILITICS")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				// No file on disk: defaults + env vars carry the configuration.
			} else if os.IsNotExist(err) {
				// Same as above, surfaced via a different error type on some platforms.
			} else {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshal(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	if m.configPath == "" {
		return m.watchChan
	}
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshal(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Reader hasn't drained the previous update yet; drop this one.
		}
	})
	return m.watchChan
}

func (m *viperManager) Reload(ctx context.Context) error {
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	if err := m.unmarshal(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

func (m *viperManager) setDefaults() {
	d := Default()

	m.viper.SetDefault("monitor.check_interval_seconds", d.Monitor.CheckIntervalSeconds)
	m.viper.SetDefault("monitor.cooldown_seconds", d.Monitor.CooldownSeconds)
	m.viper.SetDefault("monitor.debounce_k", d.Monitor.DebounceK)

	m.viper.SetDefault("scheduler.max_concurrent_investigations", d.Scheduler.MaxConcurrentInvestigations)
	m.viper.SetDefault("scheduler.investigation_timeout_seconds", d.Scheduler.InvestigationTimeoutSeconds)
	m.viper.SetDefault("scheduler.adapter_timeout_seconds", d.Scheduler.AdapterTimeoutSeconds)
	m.viper.SetDefault("scheduler.grace_seconds", d.Scheduler.GraceSeconds)

	m.viper.SetDefault("agentic.llm_timeout_seconds", d.Agentic.LLMTimeoutSeconds)
	m.viper.SetDefault("agentic.max_iterations", d.Agentic.MaxIterations)
	m.viper.SetDefault("agentic.safe_mode", d.Agentic.SafeMode)
	m.viper.SetDefault("agentic.llm_base_url", d.Agentic.LLMBaseURL)
	m.viper.SetDefault("agentic.llm_model", d.Agentic.LLMModel)

	m.viper.SetDefault("store.report_archive_size", d.Store.ReportArchiveSize)
	m.viper.SetDefault("store.reports_dir", d.Store.ReportsDir)
	m.viper.SetDefault("store.knowledge_dir", d.Store.KnowledgeDir)
	m.viper.SetDefault("store.sqlite_path", d.Store.SQLitePath)

	m.viper.SetDefault("server.port", d.Server.Port)
	m.viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)

	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.audit_path", d.Logging.AuditPath)
	m.viper.SetDefault("logging.app_log_path", d.Logging.AppLogPath)
}

func (m *viperManager) unmarshal() error {
	cfg := &Config{}

	cfg.Monitor.CheckIntervalSeconds = m.viper.GetInt("monitor.check_interval_seconds")
	cfg.Monitor.CooldownSeconds = m.viper.GetInt("monitor.cooldown_seconds")
	cfg.Monitor.DebounceK = m.viper.GetInt("monitor.debounce_k")

	cfg.Scheduler.MaxConcurrentInvestigations = m.viper.GetInt("scheduler.max_concurrent_investigations")
	cfg.Scheduler.InvestigationTimeoutSeconds = m.viper.GetInt("scheduler.investigation_timeout_seconds")
	cfg.Scheduler.AdapterTimeoutSeconds = m.viper.GetInt("scheduler.adapter_timeout_seconds")
	cfg.Scheduler.GraceSeconds = m.viper.GetInt("scheduler.grace_seconds")

	cfg.Agentic.LLMTimeoutSeconds = m.viper.GetInt("agentic.llm_timeout_seconds")
	cfg.Agentic.MaxIterations = m.viper.GetInt("agentic.max_iterations")
	cfg.Agentic.SafeMode = m.viper.GetBool("agentic.safe_mode")
	cfg.Agentic.LLMBaseURL = m.viper.GetString("agentic.llm_base_url")
	cfg.Agentic.LLMModel = m.viper.GetString("agentic.llm_model")

	cfg.Store.ReportArchiveSize = m.viper.GetInt("store.report_archive_size")
	cfg.Store.ReportsDir = m.viper.GetString("store.reports_dir")
	cfg.Store.KnowledgeDir = m.viper.GetString("store.knowledge_dir")
	cfg.Store.SQLitePath = m.viper.GetString("store.sqlite_path")

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.AuditPath = m.viper.GetString("logging.audit_path")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")

	m.config = cfg
	return nil
}

// applyEnvOverrides pulls sensitive values directly from unprefixed
// environment variables, the same security-conscious override layer the
// rest of the config stack has always used for API keys.
func (m *viperManager) applyEnvOverrides() {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		m.config.Agentic.LLMAPIKey = key
	}
	if raw := os.Getenv("KUBILITICS_SAFE_MODE"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			m.config.Agentic.SafeMode = v
		}
	}
}

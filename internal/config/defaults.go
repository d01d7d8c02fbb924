package config

// Default returns a configuration with all default values, matching spec §6.4.
func Default() *Config {
	cfg := &Config{}

	cfg.Monitor.CheckIntervalSeconds = 30
	cfg.Monitor.CooldownSeconds = 300
	cfg.Monitor.DebounceK = 2

	cfg.Scheduler.MaxConcurrentInvestigations = 2
	cfg.Scheduler.InvestigationTimeoutSeconds = 120
	cfg.Scheduler.AdapterTimeoutSeconds = 10
	cfg.Scheduler.GraceSeconds = 2

	cfg.Agentic.LLMTimeoutSeconds = 20
	cfg.Agentic.MaxIterations = 6
	cfg.Agentic.SafeMode = true
	cfg.Agentic.LLMModel = "gpt-4o-mini"

	cfg.Store.ReportArchiveSize = 500
	cfg.Store.ReportsDir = "./reports"
	cfg.Store.KnowledgeDir = "./knowledge"
	cfg.Store.SQLitePath = "./reports/index.db"

	cfg.Server.Port = 8081
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 120

	cfg.Logging.Level = "info"
	cfg.Logging.AuditPath = "logs/audit.log"
	cfg.Logging.AppLogPath = "logs/app.log"

	return cfg
}

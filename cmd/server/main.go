// Command server is the entry point for the investigation core.
//
// Startup sequence: load and validate configuration, wire the audit
// logger into the event bus, acquire the reports-directory advisory lock,
// construct the Kubernetes/LLM/analyzer adapters, build the knowledge
// index, report store, deterministic and (if an LLM endpoint is
// configured) agentic investigators, the scheduler, the HTTP/WebSocket
// server and the cluster snapshotter, start the server and then the
// snapshotter — then run until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/config"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/db"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/kubilitics/invcore/internal/eventbus"
	"github.com/kubilitics/invcore/internal/investigator"
	"github.com/kubilitics/invcore/internal/issue"
	"github.com/kubilitics/invcore/internal/knowledge"
	"github.com/kubilitics/invcore/internal/report"
	"github.com/kubilitics/invcore/internal/scheduler"
	"github.com/kubilitics/invcore/internal/server"
	"github.com/kubilitics/invcore/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v: %v\n", errs.ErrFatalConfig, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("INVCORE_CONFIG")
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("build config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	cfg := mgr.Get(ctx)

	logger, err := audit.NewLogger(audit.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.AuditPath,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	})
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}
	defer logger.Sync()

	bus := eventbus.New(0, logger)
	logger.OnEvent(func(e audit.Event) { bus.Publish(eventbus.TopicLogs, e) })

	fs := adapters.LocalFilesystem{}
	release, err := fs.AcquireLock(cfg.Store.ReportsDir)
	if err != nil {
		return fmt.Errorf("acquire reports directory lock: %w", err)
	}
	defer release()

	clock := adapters.SystemClock{}
	clusterAdapter := adapters.NewKubectlClusterAdapter()
	analyzerAdapter := adapters.NewK8sgptAnalyzerAdapter()

	var llmAdapter adapters.LLMAdapter
	if cfg.Agentic.LLMBaseURL != "" {
		llmAdapter = adapters.NewHTTPLLMAdapter(cfg.Agentic.LLMBaseURL, cfg.Agentic.LLMAPIKey, cfg.Agentic.LLMModel, time.Duration(cfg.Agentic.LLMTimeoutSeconds)*time.Second)
	}

	knowledgeIdx, err := knowledge.Load(fs, cfg.Store.KnowledgeDir)
	if err != nil {
		logger.Log(audit.NewEvent("main", audit.LevelWarn, "failed to load knowledge corpus").WithDetail("error", err.Error()))
	}

	reportsStore := report.New(cfg.Store.ReportArchiveSize, fs, cfg.Store.ReportsDir, logger)
	var dbIndex *db.Index
	if cfg.Store.SQLitePath != "" {
		dbIndex, err = db.Open(cfg.Store.SQLitePath)
		if err != nil {
			logger.Log(audit.NewEvent("main", audit.LevelWarn, "failed to open report side-index; filtered list falls back to in-memory scan").WithDetail("error", err.Error()))
			dbIndex = nil
		} else {
			reportsStore.SetIndexer(dbIndex)
		}
	}

	deterministicInv := investigator.NewDeterministic(clusterAdapter, analyzerAdapter, knowledgeIdx)

	var agenticInv *investigator.Agentic
	if llmAdapter != nil {
		agenticInv = investigator.NewAgentic(clusterAdapter, analyzerAdapter, llmAdapter, knowledgeIdx, cfg.Agentic.MaxIterations, time.Duration(cfg.Agentic.LLMTimeoutSeconds)*time.Second)
	}
	// Wrapped in an interface-typed var explicitly: scheduler.New's nil
	// check on its agentic param compares interface values, and a
	// (*Agentic)(nil) boxed directly into that interface would compare
	// as non-nil and panic the first time a method is called on it.
	var agenticForScheduler scheduler.Investigator
	if agenticInv != nil {
		agenticForScheduler = agenticInv
	}

	window := issue.NewWindow(cfg.Monitor.DebounceK, time.Duration(cfg.Monitor.CooldownSeconds)*time.Second)
	restartTracker := issue.NewRestartTracker()

	if agenticInv != nil {
		agenticInv.SetLogger(logger)
		agenticInv.SetOnRateLimited(func(fingerprint string) {
			window.DoubleCooldown(fingerprint, time.Now().UTC())
		})
	}

	chooseMode := func(iss *coremodel.Issue) coremodel.Mode {
		if cfg.Agentic.SafeMode || agenticInv == nil || iss == nil {
			return coremodel.ModeDeterministic
		}
		if knowledgeIdx != nil && len(knowledgeIdx.Query(string(iss.Kind))) > 0 {
			return coremodel.ModeAgentic
		}
		return coremodel.ModeDeterministic
	}

	onReport := func(r coremodel.InvestigationReport) {
		for _, fp := range r.TriggeringIssueFingerprints {
			window.ClearRunning(fp)
		}
		bus.Publish(eventbus.TopicReports, map[string]any{"event": "sealed", "report": r})
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentInvestigations: cfg.Scheduler.MaxConcurrentInvestigations,
		InvestigationTimeoutSeconds: cfg.Scheduler.InvestigationTimeoutSeconds,
		GraceSeconds:                cfg.Scheduler.GraceSeconds,
		SafeMode:                    cfg.Agentic.SafeMode,
	}, reportsStore, logger, clock, deterministicInv, agenticForScheduler, chooseMode, onReport)
	sched.SetBus(bus)

	srv := server.New(server.Config{
		Port:               cfg.Server.Port,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		ReportsDir:         cfg.Store.ReportsDir,
		SafeMode:           cfg.Agentic.SafeMode,
	}, logger, bus, reportsStore, dbIndex, sched, nil, knowledgeIdx, fs)

	issuesCount := 0
	snapshotter := snapshot.New(clusterAdapter, clock, logger, snapshot.Config{
		CheckIntervalSeconds:  cfg.Monitor.CheckIntervalSeconds,
		AdapterTimeoutSeconds: cfg.Scheduler.AdapterTimeoutSeconds,
	}, func(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot) {
		now := time.Now().UTC()
		detected := issue.Classify(prev, cur, now, restartTracker)
		emitted := window.Observe(now, detected)
		issuesCount += len(emitted)
		if len(emitted) > 0 {
			sched.Submit(emitted)
		}

		nodesReady, nodesTotal := cur.NodesReady()
		podsRunning, _, podsPending, podsTotal := cur.PodCounts()
		status := coremodel.MonitorStatus{
			Timestamp:   cur.Timestamp,
			NodesReady:  nodesReady,
			NodesTotal:  nodesTotal,
			PodsRunning: podsRunning,
			PodsTotal:   podsTotal,
			PodsPending: podsPending,
			IssuesCount: issuesCount,
			Status:      healthStatusFor(emitted, nodesReady, nodesTotal),
		}
		srv.SetStatus(status)
	})
	srv.SetSnapshotter(snapshotter)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	snapCtx, cancelSnap := context.WithCancel(ctx)
	go func() {
		if err := snapshotter.Run(snapCtx); err != nil && err != context.Canceled {
			logger.Log(audit.NewEvent("main", audit.LevelError, "snapshotter stopped").WithDetail("error", err.Error()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Log(audit.NewEvent("main", audit.LevelInfo, "shutdown signal received"))
	cancelSnap()
	sched.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log(audit.NewEvent("main", audit.LevelError, "error shutting down http server").WithDetail("error", err.Error()))
	}
	if dbIndex != nil {
		_ = dbIndex.Close()
	}
	return nil
}

// healthStatusFor derives the coarse MonitorHealthStatus from this tick's
// freshly emitted issues (spec §3's MonitorStatus.status). A cluster with
// one or more nodes not ready is never reported healthy even on a tick
// with no freshly emitted issue, since NodeNotReady issues only emit once
// per debounce window but the condition can persist across many ticks.
func healthStatusFor(emitted []coremodel.Issue, nodesReady, nodesTotal int) coremodel.MonitorHealthStatus {
	worst := coremodel.Severity("")
	for _, iss := range emitted {
		if worst == "" || iss.Severity.Less(worst) {
			worst = iss.Severity
		}
	}
	switch worst {
	case coremodel.SeverityCritical:
		return coremodel.HealthCriticalIssues
	case coremodel.SeverityHigh:
		return coremodel.HealthHighIssues
	case "":
		if nodesTotal > 0 && nodesReady < nodesTotal {
			return coremodel.HealthIssuesDetected
		}
		return coremodel.HealthOK
	default:
		return coremodel.HealthIssuesDetected
	}
}

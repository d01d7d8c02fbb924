// Package snapshot runs the periodic cluster-observation loop: on every
// tick it asks a ClusterAdapter for the current state and hands the result
// (or failure) to a callback, tracking the two-consecutive-failure rule
// that flips MonitorStatus to adapter_unavailable.
//
// Grounded on the original prototype's AutonomousMonitor main loop
// (original_source/backend/app/services/autonomous_monitor.py), which
// polls KubectlWrapper on a fixed interval and tracks a running health
// status across polls; rebuilt around the injectable adapters.Clock so
// tests can drive it deterministically.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
)

// Handler receives each successful snapshot along with the previous one
// (nil on the first call), so callers (the issue detector) can diff them.
type Handler func(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot)

// Snapshotter polls a ClusterAdapter on a fixed interval.
type Snapshotter struct {
	adapter adapters.ClusterAdapter
	clock   adapters.Clock
	logger  audit.Logger
	handler Handler

	interval        int64 // seconds; the period of the ticker Run polls on
	adapterTimeout  int64
	consecutiveFail int
	lastGood        *coremodel.ClusterSnapshot
	unavailable     bool
}

// Config bundles the Snapshotter's tunables, mirroring the Monitor section
// of the configuration table.
type Config struct {
	CheckIntervalSeconds int
	AdapterTimeoutSeconds int
}

// New builds a Snapshotter. handler is invoked synchronously from Run's
// goroutine on every successful poll.
func New(adapter adapters.ClusterAdapter, clock adapters.Clock, logger audit.Logger, cfg Config, handler Handler) *Snapshotter {
	return &Snapshotter{
		adapter:        adapter,
		clock:          clock,
		logger:         logger,
		handler:        handler,
		interval:       int64(cfg.CheckIntervalSeconds),
		adapterTimeout: int64(cfg.AdapterTimeoutSeconds),
	}
}

// IsAdapterUnavailable reports whether the last two consecutive polls failed.
func (s *Snapshotter) IsAdapterUnavailable() bool {
	return s.unavailable
}

// LastGood returns the most recently succeeded snapshot, if any.
func (s *Snapshotter) LastGood() *coremodel.ClusterSnapshot {
	return s.lastGood
}

// Run blocks, polling on every tick of a ticker built from cfg's interval,
// until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("snapshot: check interval must be positive")
	}
	ticker := s.clock.NewTicker(time.Duration(s.interval) * time.Second)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.poll(ctx)
		}
	}
}

func (s *Snapshotter) poll(ctx context.Context) {
	pollCtx := ctx
	var cancel context.CancelFunc
	if s.adapterTimeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, time.Duration(s.adapterTimeout)*time.Second)
		defer cancel()
	}

	cur, err := s.adapter.Snapshot(pollCtx)
	if err != nil {
		s.consecutiveFail++
		if s.consecutiveFail >= 2 {
			s.unavailable = true
		}
		if s.logger != nil {
			s.logger.Log(audit.NewEvent("snapshotter", audit.LevelWarn, "cluster snapshot failed").
				WithDetail("error", err.Error()).
				WithDetail("consecutive_failures", s.consecutiveFail))
		}
		return
	}

	s.consecutiveFail = 0
	s.unavailable = false
	prev := s.lastGood
	curCopy := cur
	s.lastGood = &curCopy
	if s.handler != nil {
		s.handler(prev, cur)
	}
}

// Package report implements the bounded, in-memory, newest-first archive of
// sealed InvestigationReports, with filesystem persistence of each sealed
// report as both JSON and a human-readable text projection.
//
// Grounded on the teacher's (deleted) reasoning/investigation/session.go,
// which kept an in-memory map of sessions plus a bounded recent-history
// slice; the filesystem write-then-seal pattern is grounded on
// adapters.LocalFilesystem's atomic-write helper.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
)

// Indexer receives sealed-report metadata for fast filtered listing
// (internal/db.Index implements this). Optional: a nil Indexer just
// means List always falls back to a scan of the in-memory archive.
type Indexer interface {
	Upsert(ctx context.Context, r coremodel.InvestigationReport) error
}

// Filter narrows List results.
type Filter struct {
	Mode   coremodel.Mode
	Status coremodel.ReportStatus
}

// Store is the in-memory, bounded InvestigationReport archive with
// filesystem persistence of sealed reports.
type Store struct {
	mu         sync.RWMutex
	reports    map[string]*coremodel.InvestigationReport
	order      []string // insertion order, oldest first
	maxArchive int
	fs         adapters.FilesystemAdapter
	reportsDir string
	logger     audit.Logger
	index      Indexer
}

// New builds a Store bounded to maxArchive sealed reports (in_progress
// reports are never evicted regardless of count).
func New(maxArchive int, fs adapters.FilesystemAdapter, reportsDir string, logger audit.Logger) *Store {
	if maxArchive < 1 {
		maxArchive = 500
	}
	return &Store{
		reports:    map[string]*coremodel.InvestigationReport{},
		maxArchive: maxArchive,
		fs:         fs,
		reportsDir: reportsDir,
		logger:     logger,
	}
}

// SetIndexer attaches an optional side-index that receives every sealed
// report's metadata, so List-with-filters callers elsewhere (the HTTP
// layer) can query it instead of scanning the in-memory archive.
func (s *Store) SetIndexer(index Indexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
}

// Create registers a new in_progress report. Called by the scheduler on dispatch.
func (s *Store) Create(report coremodel.InvestigationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.ID]; exists {
		return fmt.Errorf("report %s: already exists", report.ID)
	}
	cp := report.Clone()
	s.reports[report.ID] = &cp
	s.order = append(s.order, report.ID)
	return nil
}

// Seal transitions a report to a terminal status atomically; subsequent
// calls for the same id are rejected.
func (s *Store) Seal(id string, status coremodel.ReportStatus, findings []coremodel.Finding, summary string, recommendations []string, steps []coremodel.Step) error {
	if !status.IsTerminal() {
		return fmt.Errorf("report %s: %s is not a terminal status", id, status)
	}

	s.mu.Lock()
	r, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return errs.ErrNotFound
	}
	if r.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: report %s already sealed", errs.ErrSealed, id)
	}
	r.Status = status
	r.Findings = findings
	r.ExecutiveSummary = summary
	r.Recommendations = recommendations
	r.Steps = steps
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
		r.DurationMs = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	}
	sealed := r.Clone()
	index := s.index
	s.evictIfNeededLocked()
	s.mu.Unlock()

	if s.fs != nil && s.reportsDir != "" {
		if err := s.persist(sealed); err != nil && s.logger != nil {
			s.logger.Log(audit.NewEvent("reportstore", audit.LevelError, "failed to persist sealed report").
				WithDetail("report_id", id).WithDetail("error", err.Error()))
		}
	}
	if index != nil {
		if err := index.Upsert(context.Background(), sealed); err != nil && s.logger != nil {
			s.logger.Log(audit.NewEvent("reportstore", audit.LevelError, "failed to update report side-index").
				WithDetail("report_id", id).WithDetail("error", err.Error()))
		}
	}
	return nil
}

// Get returns a copy of the report with the given id.
func (s *Store) Get(id string) (coremodel.InvestigationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return coremodel.InvestigationReport{}, errs.ErrNotFound
	}
	return r.Clone(), nil
}

// List returns up to limit reports, newest first, matching filter.
func (s *Store) List(limit int, filter Filter) []coremodel.InvestigationReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]coremodel.InvestigationReport, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		r, ok := s.reports[s.order[i]]
		if !ok {
			continue
		}
		if filter.Mode != "" && r.Mode != filter.Mode {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// evictIfNeededLocked drops the oldest sealed reports until the sealed
// count is within maxArchive. Must be called with s.mu held for writing.
func (s *Store) evictIfNeededLocked() {
	sealedCount := 0
	for _, id := range s.order {
		if r, ok := s.reports[id]; ok && r.Status.IsTerminal() {
			sealedCount++
		}
	}
	if sealedCount <= s.maxArchive {
		return
	}

	excess := sealedCount - s.maxArchive
	newOrder := make([]string, 0, len(s.order))
	for _, id := range s.order {
		r, ok := s.reports[id]
		if ok && excess > 0 && r.Status.IsTerminal() {
			delete(s.reports, id)
			excess--
			if s.logger != nil {
				s.logger.Log(audit.NewEvent("reportstore", audit.LevelInfo, "evicted oldest sealed report").WithDetail("report_id", id))
			}
			continue
		}
		newOrder = append(newOrder, id)
	}
	s.order = newOrder
}

func (s *Store) persist(r coremodel.InvestigationReport) error {
	base := fmt.Sprintf("%s_%s_%s", r.Mode, r.StartedAt.UTC().Format("20060102_150405"), r.ID)
	jsonPath := strings.TrimRight(s.reportsDir, "/") + "/" + base + ".json"
	txtPath := strings.TrimRight(s.reportsDir, "/") + "/" + base + ".txt"

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", r.ID, err)
	}
	if err := s.fs.WriteAtomic(jsonPath, data); err != nil {
		return fmt.Errorf("write report json %s: %w", jsonPath, err)
	}
	if err := s.fs.WriteAtomic(txtPath, []byte(renderText(r))); err != nil {
		return fmt.Errorf("write report txt %s: %w", txtPath, err)
	}
	return nil
}

// renderText is a plain-text projection of the same report data persisted
// as JSON, for operators reading the reports directory directly.
func renderText(r coremodel.InvestigationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation %s (%s)\n", r.ID, r.Mode)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "Started: %s  Finished: %s  Duration: %dms\n\n", r.StartedAt.Format(time.RFC3339), r.FinishedAt.Format(time.RFC3339), r.DurationMs)
	fmt.Fprintf(&b, "%s\n\n", r.ExecutiveSummary)
	fmt.Fprintf(&b, "Cluster: %d/%d nodes ready, %d/%d pods running (%d failed, %d pending)\n\n",
		r.ClusterSummary.NodesReady, r.ClusterSummary.NodesTotal, r.ClusterSummary.PodsRunning, r.ClusterSummary.PodsTotal,
		r.ClusterSummary.PodsFailed, r.ClusterSummary.PodsPending)

	b.WriteString("Findings:\n")
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "  [%s/%s] %s — %s\n", f.Category, f.Severity, f.Title, f.Description)
	}

	b.WriteString("\nRecommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}

	b.WriteString("\nSteps:\n")
	for _, step := range r.Steps {
		fmt.Fprintf(&b, "  %d. %s — %s (%dms)", step.Index, step.Name, step.Status, step.DurationMs)
		if step.Error != "" {
			fmt.Fprintf(&b, " error=%s", step.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

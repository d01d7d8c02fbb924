// Package investigator implements the two investigation strategies: a
// fixed nine-step deterministic plan, and a bounded plan-act-observe
// agentic loop driven by an LLMAdapter.
//
// DeterministicInvestigator is grounded on the original prototype's
// DeterministicInvestigator (original_source/api/agents/deterministic_investigator.py),
// which runs a fixed numbered sequence of steps (cluster overview, node
// analysis, pod analysis, event analysis, k8sgpt analysis, ...), records
// each step's status/duration/error independently, and never aborts the
// plan on a single step's failure.
package investigator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/kubilitics/invcore/internal/knowledge"
)

// eventRecommendations mirrors the original's _get_event_recommendations
// lookup table verbatim (deterministic_investigator.py).
var eventRecommendations = map[string][]string{
	"Failed":           {"Check pod logs", "Verify image availability", "Check resource limits"},
	"FailedScheduling": {"Check node resources", "Verify node selectors", "Review pod constraints"},
	"ErrImagePull":     {"Verify image name and tag", "Check registry credentials", "Verify network connectivity"},
	"ImagePullBackOff": {"Check image repository access", "Verify authentication", "Review image pull secrets"},
	"Unhealthy":        {"Check readiness/liveness probes", "Verify application health", "Review resource usage"},
	"FailedMount":      {"Check volume configuration", "Verify PVC status", "Check storage class"},
}

func recommendationsForReason(reason string) []string {
	if recs, ok := eventRecommendations[reason]; ok {
		return recs
	}
	return []string{"Review event details", "Check related resources", "Verify configuration"}
}

// Deterministic runs the fixed nine-step investigation plan.
type Deterministic struct {
	cluster  adapters.ClusterAdapter
	analyzer adapters.AnalyzerAdapter
	index    *knowledge.Index
}

// NewDeterministic builds a Deterministic investigator. index may be nil
// (an empty corpus); analyzer may be nil (its step is then always skipped).
func NewDeterministic(cluster adapters.ClusterAdapter, analyzer adapters.AnalyzerAdapter, index *knowledge.Index) *Deterministic {
	return &Deterministic{cluster: cluster, analyzer: analyzer, index: index}
}

func (d *Deterministic) Mode() coremodel.Mode { return coremodel.ModeDeterministic }

// Investigate executes the fixed plan against the current cluster state,
// accumulating Findings and Steps into a copy of report. issue may be nil
// for a manually-triggered, untargeted investigation.
func (d *Deterministic) Investigate(ctx context.Context, report *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) coremodel.InvestigationReport {
	r := report.Clone()

	snap, snapErr := d.cluster.Snapshot(ctx)

	type step struct {
		name string
		fn   func(context.Context, coremodel.ClusterSnapshot) ([]coremodel.Finding, error)
	}
	steps := []step{
		{"cluster_overview", d.clusterOverview},
		{"node_analysis", d.nodeAnalysis},
		{"pod_analysis", d.podAnalysis},
		{"resource_utilization", d.resourceUtilization},
		{"event_analysis", d.eventAnalysis},
		{"analyzer_scan", func(ctx context.Context, s coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
			return d.analyzerScan(ctx, namespace)
		}},
		{"workload_analysis", d.workloadAnalysis},
		{"network_analysis", d.networkAnalysis},
	}

	if snapErr != nil {
		r.Steps = append(r.Steps, coremodel.Step{Index: 0, Name: "cluster_overview", Status: coremodel.StepFailed, Error: snapErr.Error()})
		r.Status = coremodel.StatusFailed
		return finalizeDeterministic(r, snap, issue)
	}

	for i, st := range steps {
		select {
		case <-ctx.Done():
			r.Status = coremodel.StatusCancelled
			return finalizeDeterministic(r, snap, issue)
		default:
		}

		start := time.Now()
		findings, err := st.fn(ctx, snap)
		duration := time.Since(start).Milliseconds()

		s := coremodel.Step{Index: i + 1, Name: st.name, DurationMs: duration}
		switch {
		case err == errs.ErrToolMissing:
			s.Status = coremodel.StepSkipped
			s.Error = err.Error()
		case err != nil:
			s.Status = coremodel.StepFailed
			s.Error = err.Error()
		default:
			s.Status = coremodel.StepCompleted
		}
		r.Steps = append(r.Steps, s)
		r.Findings = append(r.Findings, findings...)
	}

	r.Steps = append(r.Steps, coremodel.Step{Index: len(steps) + 1, Name: "report_assembly", Status: coremodel.StepCompleted})
	r.Status = coremodel.StatusCompleted
	return finalizeDeterministic(r, snap, issue)
}

func finalizeDeterministic(r coremodel.InvestigationReport, snap coremodel.ClusterSnapshot, issue *coremodel.Issue) coremodel.InvestigationReport {
	running, failed, pending, total := snap.PodCounts()
	ready, nodesTotal := snap.NodesReady()
	warnEvents := 0
	for _, ev := range snap.Events {
		if ev.Type == coremodel.EventWarning {
			warnEvents++
		}
	}
	r.ClusterSummary = coremodel.ClusterSummary{
		NodesTotal: nodesTotal, NodesReady: ready,
		PodsTotal: total, PodsRunning: running, PodsFailed: failed, PodsPending: pending,
		Deployments:   len(snap.Deployments),
		EventsWarning: warnEvents,
	}
	r.Recommendations = dedupeRecommendations(r.Findings)
	r.ExecutiveSummary = executiveSummary(r)
	return r
}

// dedupeRecommendations flattens every finding's recommendations, dedupes
// by (category,title), and orders by severity then count, per spec §4.4
// step 9.
func dedupeRecommendations(findings []coremodel.Finding) []string {
	type key struct {
		category coremodel.Category
		title    string
	}
	type agg struct {
		sev   coremodel.Severity
		count int
		recs  []string
	}
	order := make([]key, 0, len(findings))
	byKey := map[key]*agg{}
	for _, f := range findings {
		k := key{f.Category, f.Title}
		a, ok := byKey[k]
		if !ok {
			a = &agg{sev: f.Severity}
			byKey[k] = a
			order = append(order, k)
		}
		a.count++
		a.recs = append(a.recs, f.Recommendations...)
	}

	sort.SliceStable(order, func(i, j int) bool {
		ai, aj := byKey[order[i]], byKey[order[j]]
		if ai.sev != aj.sev {
			return ai.sev.Less(aj.sev)
		}
		return ai.count > aj.count
	})

	seen := map[string]bool{}
	var out []string
	for _, k := range order {
		for _, rec := range byKey[k].recs {
			if !seen[rec] {
				seen[rec] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

// executiveSummary renders spec's literal template:
// "CLUSTER STATUS: {OK|ISSUES DETECTED|CRITICAL} — {nR}/{nT} nodes ready,
// {pR}/{pT} pods running, {F} findings ({C} critical, {H} high)."
func executiveSummary(r coremodel.InvestigationReport) string {
	critical, high := 0, 0
	for _, f := range r.Findings {
		switch f.Severity {
		case coremodel.SeverityCritical:
			critical++
		case coremodel.SeverityHigh:
			high++
		}
	}

	status := "OK"
	switch {
	case critical > 0:
		status = "CRITICAL"
	case len(r.Findings) > 0:
		status = "ISSUES DETECTED"
	}

	return fmt.Sprintf("CLUSTER STATUS: %s — %d/%d nodes ready, %d/%d pods running, %d findings (%d critical, %d high).",
		status, r.ClusterSummary.NodesReady, r.ClusterSummary.NodesTotal,
		r.ClusterSummary.PodsRunning, r.ClusterSummary.PodsTotal,
		len(r.Findings), critical, high)
}

func (d *Deterministic) clusterOverview(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	return nil, nil
}

func (d *Deterministic) nodeAnalysis(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	var findings []coremodel.Finding
	for _, n := range snap.Nodes {
		if !n.Ready {
			findings = append(findings, coremodel.Finding{
				Category: coremodel.CategoryNodeHealth, Severity: coremodel.SeverityCritical,
				Title: "Node not Ready", Description: "node " + n.Name + " is not Ready",
				AffectedRefs: []coremodel.ObjectRef{{Kind: "Node", Name: n.Name}},
				Recommendations: []string{"Check node conditions", "Check kubelet health", "Check node resource pressure"},
				SourceTool: coremodel.SourceCluster,
			})
		}
	}
	return findings, nil
}

func (d *Deterministic) podAnalysis(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	byReason := map[string][]coremodel.ObjectRef{}
	imagesByReason := map[string][]string{}
	var order []string
	for _, pod := range snap.Pods {
		for _, c := range pod.Containers {
			if c.State.Waiting == nil {
				continue
			}
			reason := c.State.Waiting.Reason
			if reason == "" {
				continue
			}
			if _, ok := byReason[reason]; !ok {
				order = append(order, reason)
			}
			byReason[reason] = append(byReason[reason], coremodel.ObjectRef{Namespace: pod.Namespace, Kind: "Pod", Name: pod.Name, Container: c.Name})
			if c.Image != "" {
				imagesByReason[reason] = append(imagesByReason[reason], c.Image)
			}
		}
	}

	var findings []coremodel.Finding
	for _, reason := range order {
		refs := byReason[reason]
		category := coremodel.CategoryPodFailures
		description := fmt.Sprintf("%d container(s) waiting with reason %s", len(refs), reason)
		recommendations := recommendationsForReason(reason)

		if reason == "ImagePullBackOff" || reason == "ErrImagePull" {
			category = coremodel.CategoryImagePolicy
			images := dedupeStrings(imagesByReason[reason])
			if len(images) > 0 {
				description = fmt.Sprintf("%d container(s) waiting with reason %s (image: %s)", len(refs), reason, strings.Join(images, ", "))
			}
			if hits := d.queryKnowledge(reason); len(hits) > 0 {
				recommendations = append(append([]string{}, recommendations...), knowledgeRecommendations(hits)...)
			}
		}

		findings = append(findings, coremodel.Finding{
			Category: category, Severity: severityForWaitReason(reason),
			Title:           reason,
			Description:     description,
			AffectedRefs:    refs,
			Recommendations: recommendations,
			SourceTool:      coremodel.SourceCluster,
		})
	}
	return findings, nil
}

// queryKnowledge looks up topic in the investigator's knowledge corpus,
// returning nil if none was configured.
func (d *Deterministic) queryKnowledge(topic string) []coremodel.KnowledgeResult {
	if d.index == nil {
		return nil
	}
	return d.index.Query(topic)
}

// knowledgeRecommendations turns matched corpus sections into recommendation
// text, surfacing an approved-registry suggestion when the section names one.
func knowledgeRecommendations(hits []coremodel.KnowledgeResult) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, fmt.Sprintf("See knowledge base %q: %s", h.Title, truncate(h.Body, 200)))
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func severityForWaitReason(reason string) coremodel.Severity {
	switch reason {
	case "CrashLoopBackOff":
		return coremodel.SeverityHigh
	case "ImagePullBackOff", "ErrImagePull":
		return coremodel.SeverityHigh
	default:
		return coremodel.SeverityMedium
	}
}

func (d *Deterministic) resourceUtilization(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	var findings []coremodel.Finding
	for _, u := range snap.NodeUsage {
		if u.CPUPercent >= 80 || u.MemoryPercent >= 80 {
			findings = append(findings, coremodel.Finding{
				Category: coremodel.CategoryResourcePress, Severity: coremodel.SeverityMedium,
				Title:       "High resource utilization",
				Description: fmt.Sprintf("node %s at %.0f%% CPU, %.0f%% memory", u.Node, u.CPUPercent, u.MemoryPercent),
				AffectedRefs: []coremodel.ObjectRef{{Kind: "Node", Name: u.Node}},
				Recommendations: []string{"Check for resource-hungry pods", "Consider scaling the node pool"},
				SourceTool: coremodel.SourceCluster,
			})
		}
	}
	return findings, nil
}

func (d *Deterministic) eventAnalysis(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	cutoff := time.Now().Add(-30 * time.Minute)
	byReason := map[string][]coremodel.Event{}
	var order []string
	for _, ev := range snap.Events {
		if ev.Type != coremodel.EventWarning || ev.LastSeen.Before(cutoff) {
			continue
		}
		if _, ok := byReason[ev.Reason]; !ok {
			order = append(order, ev.Reason)
		}
		byReason[ev.Reason] = append(byReason[ev.Reason], ev)
	}

	var findings []coremodel.Finding
	for _, reason := range order {
		events := byReason[reason]
		var refs []coremodel.ObjectRef
		var evidence []string
		for i, ev := range events {
			refs = append(refs, ev.Object)
			if i < 3 {
				evidence = append(evidence, fmt.Sprintf("%s: %s", ev.Reason, ev.Message))
			}
		}
		findings = append(findings, coremodel.Finding{
			Category: coremodel.CategoryEvents, Severity: coremodel.SeverityLow,
			Title:           reason,
			Description:     fmt.Sprintf("%d warning event(s) with reason %s in the last 30 minutes", len(events), reason),
			AffectedRefs:    refs,
			Evidence:        evidence,
			Recommendations: recommendationsForReason(reason),
			SourceTool:      coremodel.SourceCluster,
		})
	}
	return findings, nil
}

func (d *Deterministic) analyzerScan(ctx context.Context, namespace string) ([]coremodel.Finding, error) {
	if d.analyzer == nil {
		return nil, errs.ErrToolMissing
	}
	diags, err := d.analyzer.Scan(ctx, namespace)
	if err != nil {
		return nil, err
	}
	findings := make([]coremodel.Finding, 0, len(diags))
	for _, diag := range diags {
		var refs []coremodel.ObjectRef
		if diag.Ref != nil {
			refs = append(refs, *diag.Ref)
		}
		findings = append(findings, coremodel.Finding{
			Category: classifyAnalyzerFinding(diag.Title), Severity: diag.Severity,
			Title: diag.Title, Description: diag.Description,
			AffectedRefs: refs, SourceTool: coremodel.SourceAnalyzer,
		})
	}
	return findings, nil
}

func classifyAnalyzerFinding(title string) coremodel.Category {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "service"):
		return coremodel.CategoryNetwork
	case strings.Contains(lower, "pvc") || strings.Contains(lower, "volume"):
		return coremodel.CategoryStorage
	case strings.Contains(lower, "node"):
		return coremodel.CategoryNodeHealth
	default:
		return coremodel.CategoryPodFailures
	}
}

func (d *Deterministic) workloadAnalysis(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	var findings []coremodel.Finding
	for _, dep := range snap.Deployments {
		if dep.Available < dep.Desired {
			findings = append(findings, coremodel.Finding{
				Category: coremodel.CategoryPodFailures, Severity: coremodel.SeverityMedium,
				Title:       "Deployment under-replicated",
				Description: fmt.Sprintf("%s/%s: %d/%d replicas available", dep.Namespace, dep.Name, dep.Available, dep.Desired),
				AffectedRefs: []coremodel.ObjectRef{{Namespace: dep.Namespace, Kind: "Deployment", Name: dep.Name}},
				Recommendations: []string{"Check pod events for the deployment", "Verify resource requests fit node capacity"},
				SourceTool: coremodel.SourceCluster,
			})
		}
	}
	return findings, nil
}

func (d *Deterministic) networkAnalysis(ctx context.Context, snap coremodel.ClusterSnapshot) ([]coremodel.Finding, error) {
	var findings []coremodel.Finding
	for _, svc := range snap.Services {
		if svc.EndpointCount == 0 {
			findings = append(findings, coremodel.Finding{
				Category: coremodel.CategoryNetwork, Severity: coremodel.SeverityMedium,
				Title:       "Service has no endpoints",
				Description: fmt.Sprintf("%s/%s resolves to zero endpoints", svc.Namespace, svc.Name),
				AffectedRefs: []coremodel.ObjectRef{{Namespace: svc.Namespace, Kind: "Service", Name: svc.Name}},
				Recommendations: []string{"Verify selector matches pod labels", "Check that backing pods are Ready"},
				SourceTool: coremodel.SourceCluster,
			})
		}
	}
	return findings, nil
}

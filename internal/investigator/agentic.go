package investigator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/kubilitics/invcore/internal/knowledge"
)

// DefaultMaxIterations is I_max, the agentic loop's iteration bound (spec §4.5).
const DefaultMaxIterations = 6

// DefaultLLMTimeout is T_llm, the per-call LLM timeout (spec §4.5).
const DefaultLLMTimeout = 20 * time.Second

// toolSchema is sent to the LLM verbatim as part of every prompt so it
// knows the five core tools (spec §4.5) plus the three tools ported from
// the original's broader agentic tool set (agentic_investigator_v2.py's
// analyze_pod_problems / analyze_node_health / analyze_cluster_events),
// each a thin composition over the same adapters already in play.
const toolSchema = `Available tools (call exactly one per turn, or return finalFindings):
- getPodStatus(namespace, name)
- getPodLogs(namespace, name, tailLines<=200)
- listEventsForObject(namespace, kind, name)
- analyzeNamespace(namespace)
- queryKnowledge(topic)
- analyzePodProblems(namespace)
- analyzeNodeHealth()
- analyzeClusterEvents(namespace)

Respond with exactly one JSON object, either:
{"tool": "<name>", "args": {...}}
or
{"finalFindings": [{"category":"...","severity":"critical|high|medium|low","title":"...","description":"...","recommendations":["..."],"knowledgeSectionId":"...","affectedRefs":[{"namespace":"...","kind":"...","name":"..."}]}]}`

// llmFinding is the LLM's raw shape for one finding in a finalFindings response.
type llmFinding struct {
	Category           string              `json:"category"`
	Severity           string              `json:"severity"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Recommendations    []string            `json:"recommendations"`
	KnowledgeSectionID string              `json:"knowledgeSectionId"`
	AffectedRefs       []coremodel.ObjectRef `json:"affectedRefs"`
}

// agenticResponse is the union the LLM replies with each iteration.
type agenticResponse struct {
	Tool          string       `json:"tool"`
	Args          map[string]interface{} `json:"args"`
	FinalFindings []llmFinding `json:"finalFindings"`
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseAgenticResponse extracts the JSON object from raw, tolerating
// surrounding prose the way the original's _extract_json_from_reasoning
// did for free-text model output: try a direct decode first, then fall
// back to the first {...} block in the text.
func parseAgenticResponse(raw string) (agenticResponse, error) {
	var resp agenticResponse
	if err := json.Unmarshal([]byte(raw), &resp); err == nil {
		return resp, nil
	}
	block := jsonObjectPattern.FindString(raw)
	if block == "" {
		return agenticResponse{}, fmt.Errorf("no JSON object found in LLM response")
	}
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return agenticResponse{}, fmt.Errorf("malformed JSON in LLM response: %w", err)
	}
	return resp, nil
}

// Agentic implements the bounded plan-act-observe loop (spec §4.5).
type Agentic struct {
	cluster        adapters.ClusterAdapter
	analyzer       adapters.AnalyzerAdapter
	llm            adapters.LLMAdapter
	index          *knowledge.Index
	maxIterations  int
	llmTimeout     time.Duration
	logger         audit.Logger
	onRateLimited  func(fingerprint string)
}

// NewAgentic builds an Agentic investigator. maxIterations<=0 uses
// DefaultMaxIterations; llmTimeout<=0 uses DefaultLLMTimeout.
func NewAgentic(cluster adapters.ClusterAdapter, analyzer adapters.AnalyzerAdapter, llm adapters.LLMAdapter, index *knowledge.Index, maxIterations int, llmTimeout time.Duration) *Agentic {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if llmTimeout <= 0 {
		llmTimeout = DefaultLLMTimeout
	}
	return &Agentic{cluster: cluster, analyzer: analyzer, llm: llm, index: index, maxIterations: maxIterations, llmTimeout: llmTimeout}
}

// SetLogger attaches the audit logger used to escalate llm_rate_limited
// failures. Safe to leave unset in tests that don't exercise that path.
func (a *Agentic) SetLogger(logger audit.Logger) { a.logger = logger }

// SetOnRateLimited registers a callback invoked with the triggering issue's
// fingerprint whenever the LLM reports rate limiting, so the caller can
// double that fingerprint's cooldown (spec §7).
func (a *Agentic) SetOnRateLimited(fn func(fingerprint string)) { a.onRateLimited = fn }

func (a *Agentic) Mode() coremodel.Mode { return coremodel.ModeAgentic }

// Investigate runs the loop: queryKnowledge(issue.kind) first, then up to
// maxIterations of {tool,args} | {finalFindings} turns, until the model
// returns final findings, the iteration budget or investigation deadline
// is exhausted, or ctx is cancelled.
func (a *Agentic) Investigate(ctx context.Context, report *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) coremodel.InvestigationReport {
	r := report.Clone()

	kind := "cluster health"
	if issue != nil {
		kind = string(issue.Kind)
	}

	var transcript strings.Builder
	knowledgeResults := a.index.Query(kind)
	transcript.WriteString(fmt.Sprintf("queryKnowledge(%q) -> %s\n", kind, formatKnowledgeResults(knowledgeResults)))
	r.Steps = append(r.Steps, coremodel.Step{Index: 1, Name: "queryKnowledge", Status: coremodel.StepCompleted})

	snap, snapErr := a.cluster.Snapshot(ctx)
	if snapErr == nil {
		running, failed, pending, total := snap.PodCounts()
		ready, nodesTotal := snap.NodesReady()
		r.ClusterSummary = coremodel.ClusterSummary{
			NodesTotal: nodesTotal, NodesReady: ready,
			PodsTotal: total, PodsRunning: running, PodsFailed: failed, PodsPending: pending,
			Deployments: len(snap.Deployments),
		}
	}

	for iter := 1; iter <= a.maxIterations; iter++ {
		select {
		case <-ctx.Done():
			r.Status = coremodel.StatusTimedOut
			return a.finalize(r, knowledgeResults)
		default:
		}

		prompt := a.buildPrompt(issue, namespace, transcript.String())

		callCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
		raw, err := a.llm.Complete(callCtx, prompt, toolSchema)
		cancel()

		stepName := fmt.Sprintf("iteration_%d", iter)
		if err != nil {
			if ctx.Err() != nil {
				r.Status = coremodel.StatusTimedOut
				r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepFailed, Error: err.Error()})
				return a.finalize(r, knowledgeResults)
			}
			if errors.Is(err, errs.ErrLLMRateLimited) {
				r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepFailed, Error: err.Error()})
				r.Status = coremodel.StatusFailed
				if a.logger != nil {
					a.logger.Log(audit.NewEvent("agentic", audit.LevelError, "llm rate limited, investigation failed").
						WithDetail("report_id", r.ID).WithDetail("error", err.Error()))
				}
				if a.onRateLimited != nil && issue != nil {
					a.onRateLimited(issue.Fingerprint)
				}
				return a.finalize(r, knowledgeResults)
			}
			r.Findings = append(r.Findings, knowledgeGapFinding(err.Error()))
			r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepFailed, Error: err.Error()})
			transcript.WriteString(fmt.Sprintf("iteration %d: LLM call failed: %v\n", iter, err))
			continue
		}

		resp, perr := parseAgenticResponse(raw)
		if perr != nil {
			r.Findings = append(r.Findings, knowledgeGapFinding(perr.Error()))
			r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepFailed, Error: perr.Error()})
			transcript.WriteString(fmt.Sprintf("iteration %d: malformed response: %v\n", iter, perr))
			continue
		}

		if len(resp.FinalFindings) > 0 {
			r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepCompleted})
			r.Findings = append(r.Findings, translateFindings(resp.FinalFindings, knowledgeResults)...)
			r.Status = coremodel.StatusCompleted
			return a.finalize(r, knowledgeResults)
		}

		observation := a.callTool(ctx, resp.Tool, resp.Args, namespace)
		r.Steps = append(r.Steps, coremodel.Step{Index: iter + 1, Name: stepName, Status: coremodel.StepCompleted})
		transcript.WriteString(fmt.Sprintf("iteration %d: %s(%v) -> %s\n", iter, resp.Tool, resp.Args, observation))
	}

	r.Status = coremodel.StatusTimedOut
	return a.finalize(r, knowledgeResults)
}

func (a *Agentic) finalize(r coremodel.InvestigationReport, knowledgeResults []coremodel.KnowledgeResult) coremodel.InvestigationReport {
	r.Recommendations = dedupeRecommendations(r.Findings)
	r.ExecutiveSummary = executiveSummary(r)
	return r
}

func knowledgeGapFinding(detail string) coremodel.Finding {
	return coremodel.Finding{
		Category: coremodel.CategoryKnowledgeGap, Severity: coremodel.SeverityLow,
		Title:       "Investigation step could not be completed",
		Description: detail,
		SourceTool:  coremodel.SourceLLM,
	}
}

// translateFindings converts the LLM's raw finding shape into
// coremodel.Finding, enforcing the citation rule: a finding lacking a
// KnowledgeSectionID that matches one of the sections retrieved this run
// is downgraded to sourceTool=llm, category=knowledge_gap (spec §4.5).
func translateFindings(raw []llmFinding, knowledgeResults []coremodel.KnowledgeResult) []coremodel.Finding {
	validSections := map[string]bool{}
	for _, kr := range knowledgeResults {
		validSections[kr.SectionID] = true
	}

	out := make([]coremodel.Finding, 0, len(raw))
	for _, f := range raw {
		finding := coremodel.Finding{
			Category:           coremodel.Category(f.Category),
			Severity:           severityFromString(f.Severity),
			Title:              f.Title,
			Description:        f.Description,
			Recommendations:    f.Recommendations,
			AffectedRefs:       f.AffectedRefs,
			KnowledgeSectionID: f.KnowledgeSectionID,
			SourceTool:         coremodel.SourceLLM,
		}
		if finding.KnowledgeSectionID == "" || !validSections[finding.KnowledgeSectionID] {
			finding.Category = coremodel.CategoryKnowledgeGap
			finding.KnowledgeSectionID = ""
		}
		out = append(out, finding)
	}
	return out
}

func severityFromString(s string) coremodel.Severity {
	switch strings.ToLower(s) {
	case "critical":
		return coremodel.SeverityCritical
	case "high":
		return coremodel.SeverityHigh
	case "low":
		return coremodel.SeverityLow
	default:
		return coremodel.SeverityMedium
	}
}

func formatKnowledgeResults(results []coremodel.KnowledgeResult) string {
	if len(results) == 0 {
		return "(no matching company knowledge found)"
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s: %s\n", r.SectionID, r.Title, truncate(r.Body, 300))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (a *Agentic) buildPrompt(issue *coremodel.Issue, namespace string, transcript string) string {
	var b strings.Builder
	b.WriteString("You are investigating a Kubernetes cluster anomaly.\n")
	if issue != nil {
		fmt.Fprintf(&b, "Issue: kind=%s severity=%s target=%s/%s/%s evidence=%v\n",
			issue.Kind, issue.Severity, issue.Target.Namespace, issue.Target.Kind, issue.Target.Name, issue.Evidence)
	} else {
		b.WriteString("Issue: none (manual investigation request)\n")
	}
	if namespace != "" {
		fmt.Fprintf(&b, "Namespace scope: %s\n", namespace)
	}
	b.WriteString("Prior observations:\n")
	b.WriteString(transcript)
	b.WriteString("\nDecide the next tool call, or return finalFindings if you have enough evidence.\n")
	return b.String()
}

// callTool dispatches one {tool,args} request to the underlying adapters
// and returns a short text observation for the next prompt's transcript.
func (a *Agentic) callTool(ctx context.Context, tool string, args map[string]interface{}, namespace string) string {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	switch tool {
	case "getPodStatus":
		snap, err := a.cluster.Snapshot(ctx)
		if err != nil {
			return "error: " + err.Error()
		}
		ns, name := str("namespace"), str("name")
		for _, p := range snap.Pods {
			if p.Namespace == ns && p.Name == name {
				return fmt.Sprintf("phase=%s containers=%d", p.Phase, len(p.Containers))
			}
		}
		return "pod not found"

	case "getPodLogs":
		tail := 200
		if v, ok := args["tailLines"].(float64); ok && int(v) < tail && int(v) > 0 {
			tail = int(v)
		}
		logs, err := a.cluster.GetPodLogs(ctx, str("namespace"), str("name"), tail)
		if err != nil {
			return "error: " + err.Error()
		}
		return truncate(logs, 500)

	case "listEventsForObject":
		ref := &coremodel.ObjectRef{Namespace: str("namespace"), Kind: str("kind"), Name: str("name")}
		events, err := a.cluster.ListEvents(ctx, ref)
		if err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("%d event(s)", len(events))

	case "analyzeNamespace", "analyzePodProblems", "analyzeClusterEvents":
		if a.analyzer == nil {
			return "error: analyzer unavailable"
		}
		diags, err := a.analyzer.Scan(ctx, str("namespace"))
		if err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("%d diagnostic(s)", len(diags))

	case "analyzeNodeHealth":
		snap, err := a.cluster.Snapshot(ctx)
		if err != nil {
			return "error: " + err.Error()
		}
		ready, total := snap.NodesReady()
		return fmt.Sprintf("%d/%d nodes ready", ready, total)

	case "queryKnowledge":
		results := a.index.Query(str("topic"))
		return formatKnowledgeResults(results)

	default:
		return "error: unknown tool " + tool
	}
}

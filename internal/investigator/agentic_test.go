package investigator

import (
	"context"
	"testing"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/kubilitics/invcore/internal/knowledge"
	"github.com/stretchr/testify/require"
)

func sampleIssue() *coremodel.Issue {
	return &coremodel.Issue{
		Kind: coremodel.ImagePullBackOff, Severity: coremodel.SeverityHigh,
		Target: coremodel.ObjectRef{Namespace: "default", Kind: "Pod", Name: "api-1", Container: "api"},
		Evidence: []string{"reason=ImagePullBackOff"},
	}
}

func buildIndexWithDoc(t *testing.T) *knowledge.Index {
	fs := adapters.NewFakeFilesystem()
	require.NoError(t, fs.WriteAtomic("knowledge/policy.md", []byte("# ImagePullBackOff\n\nOnly pull from registry.acme.internal.\n")))
	idx, err := knowledge.Load(fs, "knowledge")
	require.NoError(t, err)
	return idx
}

func TestAgenticReturnsFinalFindingsWithValidCitation(t *testing.T) {
	idx := buildIndexWithDoc(t)
	cluster := adapters.NewFakeClusterAdapter(coremodel.ClusterSnapshot{})

	llm := &adapters.FakeLLMAdapter{
		Fn: func(ctx context.Context, prompt, schema string) (string, error) {
			return `{"finalFindings":[{"category":"image_policy","severity":"high","title":"Non-approved registry","description":"image pulled from unapproved source","recommendations":["switch to registry.acme.internal"],"knowledgeSectionId":"imagepullbackoff"}]}`, nil
		},
	}

	inv := NewAgentic(cluster, nil, llm, idx, 0, 0)
	report := &coremodel.InvestigationReport{ID: "agt_1", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}
	result := inv.Investigate(context.Background(), report, sampleIssue(), "default")

	require.Equal(t, coremodel.StatusCompleted, result.Status)
	require.Len(t, result.Findings, 1)
	require.Equal(t, coremodel.CategoryImagePolicy, result.Findings[0].Category)
	require.NotEmpty(t, result.ExecutiveSummary)
}

func TestAgenticDowngradesFindingWithoutCitation(t *testing.T) {
	idx := buildIndexWithDoc(t)
	cluster := adapters.NewFakeClusterAdapter(coremodel.ClusterSnapshot{})

	llm := &adapters.FakeLLMAdapter{
		Fn: func(ctx context.Context, prompt, schema string) (string, error) {
			return `{"finalFindings":[{"category":"image_policy","severity":"high","title":"Uncited","description":"no section cited"}]}`, nil
		},
	}

	inv := NewAgentic(cluster, nil, llm, idx, 0, 0)
	report := &coremodel.InvestigationReport{ID: "agt_2", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}
	result := inv.Investigate(context.Background(), report, sampleIssue(), "default")

	require.Len(t, result.Findings, 1)
	require.Equal(t, coremodel.CategoryKnowledgeGap, result.Findings[0].Category)
}

func TestAgenticMalformedResponseCountsAsIterationAndAddsKnowledgeGap(t *testing.T) {
	idx := buildIndexWithDoc(t)
	cluster := adapters.NewFakeClusterAdapter(coremodel.ClusterSnapshot{})

	calls := 0
	llm := &adapters.FakeLLMAdapter{
		Fn: func(ctx context.Context, prompt, schema string) (string, error) {
			calls++
			if calls < 3 {
				return "not json at all", nil
			}
			return `{"finalFindings":[{"category":"events","severity":"low","title":"done","description":"d","knowledgeSectionId":"imagepullbackoff"}]}`, nil
		},
	}

	inv := NewAgentic(cluster, nil, llm, idx, 6, time.Second)
	report := &coremodel.InvestigationReport{ID: "agt_3", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}
	result := inv.Investigate(context.Background(), report, sampleIssue(), "default")

	require.Equal(t, coremodel.StatusCompleted, result.Status)
	knowledgeGaps := 0
	for _, f := range result.Findings {
		if f.Category == coremodel.CategoryKnowledgeGap {
			knowledgeGaps++
		}
	}
	require.Equal(t, 2, knowledgeGaps)
}

func TestAgenticExceedingMaxIterationsSealsTimedOut(t *testing.T) {
	idx := buildIndexWithDoc(t)
	cluster := adapters.NewFakeClusterAdapter(coremodel.ClusterSnapshot{})

	llm := &adapters.FakeLLMAdapter{
		Fn: func(ctx context.Context, prompt, schema string) (string, error) {
			return `{"tool":"getPodStatus","args":{"namespace":"default","name":"api-1"}}`, nil
		},
	}

	inv := NewAgentic(cluster, nil, llm, idx, 3, time.Second)
	report := &coremodel.InvestigationReport{ID: "agt_4", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}
	result := inv.Investigate(context.Background(), report, sampleIssue(), "default")

	require.Equal(t, coremodel.StatusTimedOut, result.Status)
	require.Len(t, result.Steps, 4) // queryKnowledge + 3 iterations
}

func TestAgenticLLMRateLimitedFailsImmediatelyAndDoublesCooldown(t *testing.T) {
	idx := buildIndexWithDoc(t)
	cluster := adapters.NewFakeClusterAdapter(coremodel.ClusterSnapshot{})

	calls := 0
	llm := &adapters.FakeLLMAdapter{
		Fn: func(ctx context.Context, prompt, schema string) (string, error) {
			calls++
			return "", errs.ErrLLMRateLimited
		},
	}

	inv := NewAgentic(cluster, nil, llm, idx, 6, time.Second)
	var doubledFingerprint string
	inv.SetOnRateLimited(func(fingerprint string) { doubledFingerprint = fingerprint })

	report := &coremodel.InvestigationReport{ID: "agt_5", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}
	issue := sampleIssue()
	issue.Fingerprint = "fp-rate-limited"
	result := inv.Investigate(context.Background(), report, issue, "default")

	require.Equal(t, coremodel.StatusFailed, result.Status)
	require.Equal(t, 1, calls, "the loop must stop on the first rate-limited response, not retry")
	require.Equal(t, issue.Fingerprint, doubledFingerprint)
}

func TestAgenticToolCallDispatchesToClusterAdapter(t *testing.T) {
	idx := buildIndexWithDoc(t)
	snap := coremodel.ClusterSnapshot{Pods: []coremodel.PodInfo{{Namespace: "default", Name: "api-1", Phase: coremodel.PodRunning}}}
	cluster := adapters.NewFakeClusterAdapter(snap)

	llm := &adapters.FakeLLMAdapter{}
	inv := NewAgentic(cluster, nil, llm, idx, 1, time.Second)

	obs := inv.callTool(context.Background(), "getPodStatus", map[string]interface{}{"namespace": "default", "name": "api-1"}, "default")
	require.Contains(t, obs, "phase=Running")
}

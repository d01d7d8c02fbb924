package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
)

// K8sgptAnalyzerAdapter implements AnalyzerAdapter by shelling out to the
// k8sgpt binary, mirroring the original prototype's K8sgptWrapper.analyze_cluster
// (subprocess + best-effort JSON decode, with tolerant fallback when the tool
// doesn't emit strict JSON).
type K8sgptAnalyzerAdapter struct {
	Binary string // defaults to "k8sgpt"
}

func NewK8sgptAnalyzerAdapter() *K8sgptAnalyzerAdapter {
	return &K8sgptAnalyzerAdapter{Binary: "k8sgpt"}
}

func (a *K8sgptAnalyzerAdapter) binary() string {
	if a.Binary == "" {
		return "k8sgpt"
	}
	return a.Binary
}

type k8sgptResult struct {
	Results []struct {
		Kind    string `json:"kind"`
		Name    string `json:"name"`
		Details string `json:"details"`
		Error   []struct {
			Text string `json:"Text"`
		} `json:"error"`
	} `json:"results"`
}

// Scan runs `k8sgpt analyze --namespace <ns> --output json --explain` and
// translates each result entry into a Diagnostic. It returns
// errs.ErrToolMissing when the binary isn't on PATH, so the deterministic
// investigator can mark the analyzer step skipped rather than failed.
func (a *K8sgptAnalyzerAdapter) Scan(ctx context.Context, namespace string) ([]Diagnostic, error) {
	if _, err := exec.LookPath(a.binary()); err != nil {
		return nil, fmt.Errorf("%w: %s not on PATH", errs.ErrToolMissing, a.binary())
	}

	args := []string{"analyze", "--output", "json", "--explain"}
	if namespace != "" {
		args = append(args, "--namespace", namespace)
	}

	cmd := exec.CommandContext(ctx, a.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: k8sgpt analyze", errs.ErrAdapterTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: k8sgpt analyze: %s", errs.ErrAdapterUnavailable, stderr.String())
	}

	var parsed k8sgptResult
	if jsonErr := json.Unmarshal(stdout.Bytes(), &parsed); jsonErr != nil {
		// k8sgpt does not always emit strict JSON; treat a decode failure
		// as "nothing actionable" rather than an adapter error.
		if errors.Is(jsonErr, err) {
			return nil, nil
		}
		return nil, nil
	}

	diags := make([]Diagnostic, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		desc := r.Details
		for _, e := range r.Error {
			if e.Text != "" {
				desc = e.Text
				break
			}
		}
		ref := &coremodel.ObjectRef{Namespace: namespace, Kind: r.Kind, Name: r.Name}
		diags = append(diags, Diagnostic{
			Title:       fmt.Sprintf("%s/%s", r.Kind, r.Name),
			Description: desc,
			Severity:    coremodel.SeverityMedium,
			Ref:         ref,
		})
	}
	return diags, nil
}

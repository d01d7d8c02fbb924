// Package adapters defines the boundary interfaces between the
// investigation core and its external collaborators: the cluster, an
// analyzer tool (e.g. k8sgpt), an LLM vendor, the filesystem, and the
// clock. Every suspension point in the core goes through one of these
// interfaces so tests can substitute in-memory fakes (spec §6.1, §9).
package adapters

import (
	"context"
	"time"

	"github.com/kubilitics/invcore/internal/coremodel"
)

// Diagnostic is one analyzer finding, prior to translation into a coremodel.Finding.
type Diagnostic struct {
	Title       string
	Description string
	Severity    coremodel.Severity
	Ref         *coremodel.ObjectRef
}

// ClusterAdapter is the investigation core's sole view of the Kubernetes
// control plane. Concrete implementations shell out to kubectl or a real
// client; tests use an in-memory fake.
type ClusterAdapter interface {
	// Snapshot produces the current ClusterSnapshot or returns an error
	// wrapping errs.ErrAdapterTimeout / errs.ErrAdapterUnavailable.
	Snapshot(ctx context.Context) (coremodel.ClusterSnapshot, error)
	GetPodLogs(ctx context.Context, namespace, name string, tailLines int) (string, error)
	ListEvents(ctx context.Context, ref *coremodel.ObjectRef) ([]coremodel.Event, error)
}

// AnalyzerAdapter wraps an external diagnostic tool (e.g. k8sgpt). Scan
// returns errs.ErrToolMissing when the underlying binary is unavailable,
// which the DeterministicInvestigator surfaces as a skipped step.
type AnalyzerAdapter interface {
	Scan(ctx context.Context, namespace string) ([]Diagnostic, error)
}

// LLMAdapter is a narrow vendor-agnostic function: prompt (plus a schema
// hint) in, structured text out. safeMode disables it entirely at the
// scheduler boundary (spec §6.1); implementations need not check safeMode
// themselves.
type LLMAdapter interface {
	// Complete returns the raw model response text. Errors wrap
	// errs.ErrAdapterTimeout, errs.ErrLLMRateLimited or
	// errs.ErrAdapterUnavailable, or errs.ErrLLMMalformed when the vendor's
	// own response envelope cannot be decoded or carries no content; a
	// response text that doesn't parse against schema is not this method's
	// concern — the caller (AgenticInvestigator) classifies that as
	// errs.ErrLLMMalformed.
	Complete(ctx context.Context, prompt string, schema string) (string, error)
}

// FilesystemAdapter is the sole I/O boundary for persisted reports.
type FilesystemAdapter interface {
	WriteAtomic(path string, data []byte) error
	Read(path string) ([]byte, error)
	List(dir string) ([]string, error)
	// AcquireLock takes the advisory reports-directory lock (spec §5);
	// the returned release func must be called on clean shutdown.
	AcquireLock(dir string) (release func() error, err error)
}

// Clock is injectable time, so tests can control ticks and "now" deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the core depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubilitics/invcore/internal/coremodel"
)

// FakeClusterAdapter is an in-memory ClusterAdapter for tests: Snapshots is
// consumed one call at a time (the last entry is repeated once exhausted),
// so a test can script a sequence of cluster states.
type FakeClusterAdapter struct {
	mu        sync.Mutex
	Snapshots []coremodel.ClusterSnapshot
	calls     int
	Err       error
	Logs      map[string]string
	Events    []coremodel.Event
}

func NewFakeClusterAdapter(snapshots ...coremodel.ClusterSnapshot) *FakeClusterAdapter {
	return &FakeClusterAdapter{Snapshots: snapshots, Logs: map[string]string{}}
}

func (f *FakeClusterAdapter) Snapshot(ctx context.Context) (coremodel.ClusterSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return coremodel.ClusterSnapshot{}, f.Err
	}
	if len(f.Snapshots) == 0 {
		return coremodel.ClusterSnapshot{}, nil
	}
	idx := f.calls
	if idx >= len(f.Snapshots) {
		idx = len(f.Snapshots) - 1
	}
	f.calls++
	return f.Snapshots[idx], nil
}

func (f *FakeClusterAdapter) GetPodLogs(ctx context.Context, namespace, name string, tailLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return f.Logs[namespace+"/"+name], nil
}

func (f *FakeClusterAdapter) ListEvents(ctx context.Context, ref *coremodel.ObjectRef) ([]coremodel.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Events, nil
}

// FakeAnalyzerAdapter is an in-memory AnalyzerAdapter for tests.
type FakeAnalyzerAdapter struct {
	Diagnostics []Diagnostic
	Err         error
}

func (f *FakeAnalyzerAdapter) Scan(ctx context.Context, namespace string) ([]Diagnostic, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Diagnostics, nil
}

// FakeLLMAdapter is an in-memory LLMAdapter for tests. Responses is consumed
// in order; Fn, if set, overrides Responses entirely.
type FakeLLMAdapter struct {
	mu        sync.Mutex
	Responses []string
	calls     int
	Err       error
	Fn        func(ctx context.Context, prompt, schema string) (string, error)
}

func (f *FakeLLMAdapter) Complete(ctx context.Context, prompt string, schema string) (string, error) {
	if f.Fn != nil {
		return f.Fn(ctx, prompt, schema)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if f.calls >= len(f.Responses) {
		return "", fmt.Errorf("fake llm adapter: no scripted response for call %d", f.calls)
	}
	resp := f.Responses[f.calls]
	f.calls++
	return resp, nil
}

// FakeFilesystem is an in-memory FilesystemAdapter for tests.
type FakeFilesystem struct {
	mu     sync.Mutex
	Files  map[string][]byte
	locked map[string]bool
}

func NewFakeFilesystem() *FakeFilesystem {
	return &FakeFilesystem{Files: map[string][]byte{}, locked: map[string]bool{}}
}

func (f *FakeFilesystem) WriteAtomic(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.Files[path] = cp
	return nil
}

func (f *FakeFilesystem) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("%s: not found", path)
	}
	return data, nil
}

func (f *FakeFilesystem) List(dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	prefix := dir
	if len(prefix) > 0 && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	for path := range f.Files {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			rest := path[len(prefix):]
			if !containsSlash(rest) {
				names = append(names, rest)
			}
		}
	}
	return names, nil
}

func containsSlash(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

func (f *FakeFilesystem) AcquireLock(dir string) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[dir] {
		return nil, fmt.Errorf("%s: another process holds the reports directory lock", dir)
	}
	f.locked[dir] = true
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.locked, dir)
		return nil
	}, nil
}

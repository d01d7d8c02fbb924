// Package coremodel defines the data model shared by every component of the
// investigation core: ClusterSnapshot, Issue, Finding, InvestigationReport,
// MonitorStatus, and KnowledgeDocument. Types here carry no behavior beyond
// small read-only helpers — the components in internal/snapshot,
// internal/issue, internal/scheduler, internal/investigator, and
// internal/report own the logic that produces and consumes them.
package coremodel

import "time"

// ContainerState is a tagged sum type over a container's runtime state.
// Exactly one of Running, Waiting, or Terminated is non-nil.
type ContainerState struct {
	Running    *RunningState    `json:"running,omitempty"`
	Waiting    *WaitingState    `json:"waiting,omitempty"`
	Terminated *TerminatedState `json:"terminated,omitempty"`
}

type RunningState struct {
	StartedAt time.Time `json:"started_at"`
}

type WaitingState struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type TerminatedState struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// ContainerStatus is one container's observed status within a pod.
type ContainerStatus struct {
	Name         string         `json:"name"`
	Image        string         `json:"image"`
	State        ContainerState `json:"state"`
	RestartCount int            `json:"restart_count"`
}

// PodPhase mirrors the closed set of Kubernetes pod phases relevant here.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodUnknown   PodPhase = "Unknown"
)

// ControllerRef identifies the workload that owns a pod, if any.
type ControllerRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// PodInfo is a value-copy, read-only view of one pod at snapshot time.
type PodInfo struct {
	Namespace  string           `json:"namespace"`
	Name       string           `json:"name"`
	Controller *ControllerRef   `json:"controller,omitempty"`
	Phase      PodPhase         `json:"phase"`
	Containers []ContainerStatus `json:"containers"`
	Age        time.Duration    `json:"age"`
}

// NodeInfo is a value-copy, read-only view of one node at snapshot time.
type NodeInfo struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// EventType mirrors Kubernetes' Normal/Warning event type.
type EventType string

const (
	EventNormal  EventType = "Normal"
	EventWarning EventType = "Warning"
)

// ObjectRef identifies the Kubernetes object an Event or Issue concerns.
type ObjectRef struct {
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Container string `json:"container,omitempty"`
}

// Event is one recent cluster event, value-copied into the snapshot.
type Event struct {
	Type      EventType `json:"type"`
	Reason    string    `json:"reason"`
	Object    ObjectRef `json:"object"`
	Message   string    `json:"message"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

// DeploymentInfo is a minimal workload view used by the workload_analysis step.
type DeploymentInfo struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Desired   int    `json:"desired"`
	Available int    `json:"available"`
}

// ServiceInfo reports whether a Service currently resolves to any endpoints.
type ServiceInfo struct {
	Namespace     string `json:"namespace"`
	Name          string `json:"name"`
	EndpointCount int    `json:"endpoint_count"`
}

// NodeResourceUsage is an optional per-node utilization reading; analyzer
// support for this is not guaranteed (spec §4.4 step resource_utilization).
type NodeResourceUsage struct {
	Node           string  `json:"node"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
}

// ClusterSnapshot is an immutable observation of cluster state at instant Timestamp.
// All slices are value copies; nothing here is a live handle into the cluster.
type ClusterSnapshot struct {
	ID          string              `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	Nodes       []NodeInfo          `json:"nodes"`
	Pods        []PodInfo           `json:"pods"`
	Events      []Event             `json:"events"`
	Deployments []DeploymentInfo    `json:"deployments,omitempty"`
	Services    []ServiceInfo       `json:"services,omitempty"`
	NodeUsage   []NodeResourceUsage `json:"node_usage,omitempty"`
	Namespaces  []string            `json:"namespaces,omitempty"`
}

// NodesReady returns the count of ready nodes out of the total.
func (s ClusterSnapshot) NodesReady() (ready, total int) {
	for _, n := range s.Nodes {
		total++
		if n.Ready {
			ready++
		}
	}
	return ready, total
}

// PodCounts returns counts of pods by phase.
func (s ClusterSnapshot) PodCounts() (running, failed, pending, total int) {
	for _, p := range s.Pods {
		total++
		switch p.Phase {
		case PodRunning:
			running++
		case PodFailed:
			failed++
		case PodPending:
			pending++
		}
	}
	return running, failed, pending, total
}

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
)

// KubectlClusterAdapter implements ClusterAdapter by shelling out to the
// kubectl binary and parsing its JSON output, mirroring the original
// prototype's KubectlWrapper (subprocess + json.loads). This keeps "the
// Kubernetes control plane itself and kubectl/k8sgpt binaries" strictly
// external, invoked only through this adapter (spec §1).
type KubectlClusterAdapter struct {
	Binary    string // defaults to "kubectl"
	Namespace string // empty means all namespaces
}

// NewKubectlClusterAdapter returns an adapter that invokes the kubectl binary on PATH.
func NewKubectlClusterAdapter() *KubectlClusterAdapter {
	return &KubectlClusterAdapter{Binary: "kubectl"}
}

func (a *KubectlClusterAdapter) binary() string {
	if a.Binary == "" {
		return "kubectl"
	}
	return a.Binary
}

func (a *KubectlClusterAdapter) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: kubectl %v", errs.ErrAdapterTimeout, args)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: kubectl %v: %s", errs.ErrAdapterUnavailable, args, stderr.String())
	}
	return stdout.Bytes(), nil
}

type kubeNodeList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Status struct {
			Conditions []struct {
				Type   string `json:"type"`
				Status string `json:"status"`
			} `json:"conditions"`
		} `json:"status"`
	} `json:"items"`
}

type kubePodList struct {
	Items []struct {
		Metadata struct {
			Namespace         string            `json:"namespace"`
			Name              string            `json:"name"`
			CreationTimestamp time.Time         `json:"creationTimestamp"`
			OwnerReferences   []struct {
				Kind string `json:"kind"`
				Name string `json:"name"`
			} `json:"ownerReferences"`
		} `json:"metadata"`
		Status struct {
			Phase             string `json:"phase"`
			ContainerStatuses []struct {
				Name         string `json:"name"`
				Image        string `json:"image"`
				RestartCount int    `json:"restartCount"`
				State        struct {
					Running *struct {
						StartedAt time.Time `json:"startedAt"`
					} `json:"running"`
					Waiting *struct {
						Reason  string `json:"reason"`
						Message string `json:"message"`
					} `json:"waiting"`
					Terminated *struct {
						Reason   string `json:"reason"`
						ExitCode int    `json:"exitCode"`
						Message  string `json:"message"`
					} `json:"terminated"`
				} `json:"state"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

type kubeEventList struct {
	Items []struct {
		Type           string    `json:"type"`
		Reason         string    `json:"reason"`
		Message        string    `json:"message"`
		Count          int       `json:"count"`
		FirstTimestamp time.Time `json:"firstTimestamp"`
		LastTimestamp  time.Time `json:"lastTimestamp"`
		InvolvedObject struct {
			Kind      string `json:"kind"`
			Name      string `json:"name"`
			Namespace string `json:"namespace"`
		} `json:"involvedObject"`
	} `json:"items"`
}

// Snapshot gathers nodes, pods, and recent events into one ClusterSnapshot.
func (a *KubectlClusterAdapter) Snapshot(ctx context.Context) (coremodel.ClusterSnapshot, error) {
	now := time.Now()
	snap := coremodel.ClusterSnapshot{ID: strconv.FormatInt(now.UnixNano(), 36), Timestamp: now}

	nodesRaw, err := a.run(ctx, "get", "nodes", "-o", "json")
	if err != nil {
		return snap, err
	}
	var nodes kubeNodeList
	if err := json.Unmarshal(nodesRaw, &nodes); err != nil {
		return snap, fmt.Errorf("%w: parsing node list: %v", errs.ErrAdapterUnavailable, err)
	}
	for _, n := range nodes.Items {
		ready := false
		for _, c := range n.Status.Conditions {
			if c.Type == "Ready" && c.Status == "True" {
				ready = true
			}
		}
		snap.Nodes = append(snap.Nodes, coremodel.NodeInfo{Name: n.Metadata.Name, Ready: ready})
	}

	podArgs := []string{"get", "pods", "-o", "json"}
	if a.Namespace != "" {
		podArgs = append(podArgs, "-n", a.Namespace)
	} else {
		podArgs = append(podArgs, "--all-namespaces")
	}
	podsRaw, err := a.run(ctx, podArgs...)
	if err != nil {
		return snap, err
	}
	var pods kubePodList
	if err := json.Unmarshal(podsRaw, &pods); err != nil {
		return snap, fmt.Errorf("%w: parsing pod list: %v", errs.ErrAdapterUnavailable, err)
	}
	for _, p := range pods.Items {
		pod := coremodel.PodInfo{
			Namespace: p.Metadata.Namespace,
			Name:      p.Metadata.Name,
			Phase:     coremodel.PodPhase(p.Status.Phase),
			Age:       now.Sub(p.Metadata.CreationTimestamp),
		}
		if len(p.Metadata.OwnerReferences) > 0 {
			pod.Controller = &coremodel.ControllerRef{
				Kind: p.Metadata.OwnerReferences[0].Kind,
				Name: p.Metadata.OwnerReferences[0].Name,
			}
		}
		for _, cs := range p.Status.ContainerStatuses {
			status := coremodel.ContainerStatus{Name: cs.Name, Image: cs.Image, RestartCount: cs.RestartCount}
			switch {
			case cs.State.Running != nil:
				status.State.Running = &coremodel.RunningState{StartedAt: cs.State.Running.StartedAt}
			case cs.State.Waiting != nil:
				status.State.Waiting = &coremodel.WaitingState{Reason: cs.State.Waiting.Reason, Message: cs.State.Waiting.Message}
			case cs.State.Terminated != nil:
				status.State.Terminated = &coremodel.TerminatedState{
					Reason: cs.State.Terminated.Reason, ExitCode: cs.State.Terminated.ExitCode, Message: cs.State.Terminated.Message,
				}
			}
			pod.Containers = append(pod.Containers, status)
		}
		snap.Pods = append(snap.Pods, pod)
	}

	eventsRaw, err := a.run(ctx, "get", "events", "--all-namespaces", "-o", "json")
	if err == nil {
		var events kubeEventList
		if jerr := json.Unmarshal(eventsRaw, &events); jerr == nil {
			for _, e := range events.Items {
				snap.Events = append(snap.Events, coremodel.Event{
					Type:   coremodel.EventType(e.Type),
					Reason: e.Reason,
					Object: coremodel.ObjectRef{
						Namespace: e.InvolvedObject.Namespace,
						Kind:      e.InvolvedObject.Kind,
						Name:      e.InvolvedObject.Name,
					},
					Message:   e.Message,
					FirstSeen: e.FirstTimestamp,
					LastSeen:  e.LastTimestamp,
					Count:     e.Count,
				})
			}
		}
	}

	return snap, nil
}

func (a *KubectlClusterAdapter) GetPodLogs(ctx context.Context, namespace, name string, tailLines int) (string, error) {
	out, err := a.run(ctx, "logs", name, "-n", namespace, "--tail", strconv.Itoa(tailLines))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (a *KubectlClusterAdapter) ListEvents(ctx context.Context, ref *coremodel.ObjectRef) ([]coremodel.Event, error) {
	args := []string{"get", "events", "-o", "json"}
	if ref != nil && ref.Namespace != "" {
		args = append(args, "-n", ref.Namespace)
	} else {
		args = append(args, "--all-namespaces")
	}
	raw, err := a.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var list kubeEventList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: parsing event list: %v", errs.ErrAdapterUnavailable, err)
	}
	var out []coremodel.Event
	for _, e := range list.Items {
		if ref != nil && ref.Name != "" && e.InvolvedObject.Name != ref.Name {
			continue
		}
		out = append(out, coremodel.Event{
			Type:      coremodel.EventType(e.Type),
			Reason:    e.Reason,
			Object:    coremodel.ObjectRef{Namespace: e.InvolvedObject.Namespace, Kind: e.InvolvedObject.Kind, Name: e.InvolvedObject.Name},
			Message:   e.Message,
			FirstSeen: e.FirstTimestamp,
			LastSeen:  e.LastTimestamp,
			Count:     e.Count,
		})
	}
	return out, nil
}

package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/stretchr/testify/require"
)

func TestSnapshotterPollsOnEveryTick(t *testing.T) {
	clock := adapters.NewFakeClock(time.Unix(0, 0))
	snap1 := coremodel.ClusterSnapshot{ID: "s1"}
	snap2 := coremodel.ClusterSnapshot{ID: "s2"}
	fake := adapters.NewFakeClusterAdapter(snap1, snap2)

	var seen []coremodel.ClusterSnapshot
	s := New(fake, clock, nil, Config{CheckIntervalSeconds: 30, AdapterTimeoutSeconds: 5}, func(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot) {
		seen = append(seen, cur)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(seen) == 1 }, time.Second, time.Millisecond)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return len(seen) == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
	require.Equal(t, "s1", seen[0].ID)
	require.Equal(t, "s2", seen[1].ID)
}

func TestSnapshotterMarksAdapterUnavailableAfterTwoFailures(t *testing.T) {
	clock := adapters.NewFakeClock(time.Unix(0, 0))
	fake := adapters.NewFakeClusterAdapter()
	fake.Err = errors.New("connection refused")

	s := New(fake, clock, nil, Config{CheckIntervalSeconds: 30, AdapterTimeoutSeconds: 5}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.poll(ctx)
	require.False(t, s.IsAdapterUnavailable())
	s.poll(ctx)
	require.True(t, s.IsAdapterUnavailable())
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats broadcast.Stats

func (s fixedStats) Stats() broadcast.Stats { return broadcast.Stats(s) }

func TestInstanceRegistry_HeartbeatAndStaleness(t *testing.T) {
	_, client := newMiniredis(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a := NewInstanceRegistry(client, "instance-a", "v1.2.0", 15*time.Second, fixedStats{TotalConnections: 7, UniqueIdentities: 3}, clock)
	b := NewInstanceRegistry(client, "instance-b", "v1.2.0", 15*time.Second, nil, clock)
	a.heartbeat(ctx)
	b.heartbeat(ctx)

	active, err := a.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "instance-a", active[0].InstanceID)
	assert.Equal(t, 7, active[0].Connections)
	assert.Equal(t, 3, active[0].Identities)
	assert.Equal(t, "instance-b", active[1].InstanceID)

	clock.Advance(45 * time.Second)
	a.heartbeat(ctx)
	clock.Advance(30 * time.Second)

	active, err = b.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "instance-b missed its heartbeats")
	assert.Equal(t, "instance-a", active[0].InstanceID)
}

func TestInstanceRegistry_RunUnregistersOnCancel(t *testing.T) {
	mr, client := newMiniredis(t)
	clock := clockwork.NewFakeClock()
	r := NewInstanceRegistry(client, "instance-a", "dev", 15*time.Second, nil, clock)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		keys, err := mr.HKeys(instancesKey)
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.False(t, mr.Exists(instancesKey))
}

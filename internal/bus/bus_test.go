package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/bus"
	"github.com/mockforge/core/pkg/models"
)

func TestPipelineBus_PublishSubscribe(t *testing.T) {
	b := bus.NewPipelineBus(4)
	ch, unsub := b.Subscribe()
	defer unsub()

	require.NoError(t, b.Publish(models.PipelineEvent{Type: models.EventWorkspaceCreated, WorkspaceID: "ws1"}))

	select {
	case ev := <-ch:
		require.Equal(t, models.EventWorkspaceCreated, ev.Type)
		require.Equal(t, "ws1", ev.WorkspaceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPipelineBus_DropsOnOverflowWithoutBlocking(t *testing.T) {
	b := bus.NewPipelineBus(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	// Fill the one slot, then publish again — must not block.
	require.NoError(t, b.Publish(models.PipelineEvent{Type: models.EventConfigChanged}))
	done := make(chan struct{})
	go func() {
		_ = b.Publish(models.PipelineEvent{Type: models.EventConfigChanged})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	<-ch // drain the one delivered event
}

func TestStateBus_FIFOPerSubscriber(t *testing.T) {
	b := bus.NewStateBus(8)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(models.StateChangeEvent{Kind: models.StateChangePersonaChanged, Version: 1})
	b.Publish(models.StateChangeEvent{Kind: models.StateChangeScenarioChanged, Version: 2})

	ctx := context.Background()
	ev1, lagged1, ok1 := sub.Next(ctx)
	require.True(t, ok1)
	require.Nil(t, lagged1)
	require.Equal(t, uint64(1), ev1.Version)

	ev2, _, ok2 := sub.Next(ctx)
	require.True(t, ok2)
	require.Equal(t, uint64(2), ev2.Version)
}

func TestStateBus_LaggedOnOverflow(t *testing.T) {
	b := bus.NewStateBus(1)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(models.StateChangeEvent{Kind: models.StateChangePersonaChanged, Version: 1})
	b.Publish(models.StateChangeEvent{Kind: models.StateChangeScenarioChanged, Version: 2}) // dropped, slot full
	// v3 is dropped too: the single slot still holds v1.
	b.Publish(models.StateChangeEvent{Kind: models.StateChangeRealityLevelChanged, Version: 3})

	ctx := context.Background()
	ev, _, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(1), ev.Version)

	b.Publish(models.StateChangeEvent{Kind: models.StateChangeRealityRatioChanged, Version: 4})
	ev2, lagged, ok2 := sub.Next(ctx)
	require.True(t, ok2)
	require.Equal(t, uint64(4), ev2.Version)
	require.NotNil(t, lagged)
	require.Equal(t, uint64(2), *lagged)
}

func TestSubscription_NextRespectsContextCancel(t *testing.T) {
	b := bus.NewStateBus(1)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, ok := sub.Next(ctx)
	require.False(t, ok)
}

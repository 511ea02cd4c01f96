package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(SyncProgress{OperationID: "op-1", Phase: PhaseInitializing})

	select {
	case ev := <-events:
		assert.Equal(t, "op-1", ev.OperationID)
		assert.Equal(t, PhaseInitializing, ev.Phase)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestLastEventPerOperationIsTerminal(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	op := bus.NewOperation("op-1", "acct-1", "INBOX", time.Unix(0, 0))
	op.Update(PhaseInitializing, 0, 0, nil, nil)
	op.Update(PhaseFetchingHeaders, 5, 100, nil, nil)
	op.Complete(10, 200)
	// further calls after a terminal event must be no-ops
	op.Update(PhaseFetchingBodies, 99, 9999, nil, nil)
	op.Error("should not appear", 0, 0)

	var last SyncProgress
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			last = ev
			if last.Phase.IsTerminal() {
				// give any stray publishes a moment to arrive, then stop
				select {
				case extra, ok := <-events:
					if ok {
						t.Fatalf("received event after terminal: %+v", extra)
					}
				case <-time.After(50 * time.Millisecond):
				}
				break drain
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}

	require.True(t, last.Phase.IsTerminal())
	assert.Equal(t, PhaseComplete, last.Phase)
}

func TestCoalescingDropsIntermediateUpdatesForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	// Publish several updates for the same operation before the
	// subscriber ever reads; only the latest should ever be delivered.
	for i := uint64(1); i <= 5; i++ {
		bus.Publish(SyncProgress{OperationID: "op-1", Phase: PhaseFetchingHeaders, MessagesProcessed: i})
	}

	select {
	case ev := <-events:
		assert.Equal(t, uint64(5), ev.MessagesProcessed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("expected no further queued events, got %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestMultipleSubscribersEachReceiveEvents(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Publish(SyncProgress{OperationID: "op-1", Phase: PhaseCheckingFolders})

	for _, ch := range []<-chan SyncProgress{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, PhaseCheckingFolders, ev.Phase)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

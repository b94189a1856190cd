package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/eventbus"
)

func TestPublish_DeliversToSubscriberOfSameJob(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventRowStart, JobID: "job-1", RowNumber: 1})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, domain.EventRowStart, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_DoesNotDeliverToOtherJobSubscriber(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe("job-2")
	defer sub.Close()

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventRowStart, JobID: "job-1"})

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event delivered: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_ProgressEventsDropOldestUnderBackpressure(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe("job-3")
	defer sub.Close()

	for i := 0; i < 200; i++ {
		bus.Publish(context.Background(), domain.Event{Kind: domain.EventBatchProgress, JobID: "job-3", RowNumber: i})
	}

	var lastSeen int
	drained := false
	for !drained {
		select {
		case evt := <-sub.Events():
			lastSeen = evt.RowNumber
		default:
			drained = true
		}
	}
	assert.Equal(t, 199, lastSeen, "most recent progress event must survive drop-oldest")
}

func TestPublish_TerminalEventNeverDropped(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe("job-4")
	defer sub.Close()

	// Fill the buffer completely with progress events so the channel has
	// no free slot left.
	for i := 0; i < 64; i++ {
		bus.Publish(context.Background(), domain.Event{Kind: domain.EventBatchProgress, JobID: "job-4"})
	}

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), domain.Event{Kind: domain.EventJobCompleted, JobID: "job-4"})
		close(done)
	}()

	// The terminal send blocks until a slot frees up; draining one slot
	// (unlike a progress event, which would have been dropped instead)
	// must let it through rather than silently losing it.
	<-sub.Events()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("terminal publish blocked past channel drain")
	}

	var sawTerminal bool
	for drained := false; !drained; {
		select {
		case evt := <-sub.Events():
			if evt.Kind == domain.EventJobCompleted {
				sawTerminal = true
			}
		default:
			drained = true
		}
	}
	assert.True(t, sawTerminal, "terminal event must be present in the subscriber's channel")
}

func TestClose_StopsDeliveryWithoutPanic(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe("job-5")
	sub.Close()

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), domain.Event{Kind: domain.EventRowStart, JobID: "job-5"})
	})
}

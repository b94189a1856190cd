// Package eventbus is the in-process publish/subscribe hub the Batch
// Engine and Job Coordinator use to push progress to the REST/SSE
// surface. Delivery is at-least-once per subscriber; terminal events are
// never dropped, progress events drop-oldest under backpressure.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/matt-hans/shipagent/internal/domain"
)

const progressBufferSize = 64

// Bus is an in-process Publisher+Subscriber. One Bus instance serves the
// whole process; subscriptions are scoped to a job id.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

type subscription struct {
	ch     chan domain.Event
	closed chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan domain.Event { return s.ch }

func (s *subscription) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Subscribe returns a Subscription scoped to jobID. The caller must call
// Close when done to release the subscriber slot.
func (b *Bus) Subscribe(jobID string) domain.Subscription {
	sub := &subscription{
		ch:     make(chan domain.Event, progressBufferSize),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers evt to every subscriber of evt.JobID. Terminal events
// block (briefly, under the subscriber's own unsubscribe race) until
// delivered; progress events drop the oldest buffered event rather than
// block a slow subscriber.
func (b *Bus) Publish(ctx domain.Context, evt domain.Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[evt.JobID]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.closed:
			continue
		default:
		}
		if evt.Kind.Terminal() {
			select {
			case sub.ch <- evt:
			case <-sub.closed:
			case <-ctx.Done():
			}
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			select {
			case dropped := <-sub.ch:
				slog.Warn("eventbus dropped progress event under backpressure",
					slog.String("job_id", evt.JobID), slog.String("dropped_kind", string(dropped.Kind)))
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Sweep removes closed subscriptions for jobID so a long-lived Bus doesn't
// accumulate stale subscriber slices across many jobs. Safe to call
// periodically or right after a job reaches a terminal state.
func (b *Bus) Sweep(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subs[jobID][:0]
	for _, sub := range b.subs[jobID] {
		select {
		case <-sub.closed:
			continue
		default:
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		delete(b.subs, jobID)
		return
	}
	b.subs[jobID] = live
}

var (
	_ domain.Publisher  = (*Bus)(nil)
	_ domain.Subscriber = (*Bus)(nil)
)

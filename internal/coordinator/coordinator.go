// Package coordinator implements the Job Coordinator (C7): the state
// machine driver that owns every Job transition in §4.7's DAG
// (created → previewing → previewed → approved → running → terminal,
// plus refine and cancel) and is the only caller of the Batch Engine's
// Preview/Execute/ResumeRunning/RematerializeIfEmpty entry points.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/matt-hans/shipagent/internal/batch"
	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/filter"
)

// Coordinator owns every Job status transition. It never mutates rows
// directly — that is the Batch Engine's job — and never performs a
// transition outside the Store's CAS primitives.
type Coordinator struct {
	store    domain.Store
	gateway  *datagateway.Gateway
	engine   *batch.Engine
	compiler *filter.Compiler
	pub      domain.Publisher

	mu      sync.Mutex
	running map[string]context.CancelFunc // jobID -> cancel for an in-flight Execute
}

// New constructs a Coordinator over its collaborators. store, gateway,
// engine, and compiler are all already-wired singletons; pub is the
// in-process Event Bus.
func New(store domain.Store, gateway *datagateway.Gateway, engine *batch.Engine, compiler *filter.Compiler, pub domain.Publisher) *Coordinator {
	return &Coordinator{
		store:    store,
		gateway:  gateway,
		engine:   engine,
		compiler: compiler,
		pub:      pub,
		running:  make(map[string]context.CancelFunc),
	}
}

func (c *Coordinator) publish(ctx context.Context, kind domain.EventKind, jobID string, payload map[string]any) {
	c.pub.Publish(ctx, domain.Event{Kind: kind, JobID: jobID, Payload: payload, At: nowUTC()})
}

func (c *Coordinator) audit(ctx context.Context, jobID, kind string, detail map[string]any) {
	_ = c.store.AppendAudit(ctx, domain.AuditEntry{JobID: jobID, Kind: kind, Detail: detail})
}

// trackRunning registers cancel as the signal for a job's in-flight
// Execute call, so a later Cancel can stop new dispatches. The entry is
// removed once Execute returns, regardless of outcome.
func (c *Coordinator) trackRunning(jobID string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.running[jobID] = cancel
	c.mu.Unlock()
}

func (c *Coordinator) untrackRunning(jobID string) {
	c.mu.Lock()
	delete(c.running, jobID)
	c.mu.Unlock()
}

func (c *Coordinator) cancelFunc(jobID string) (context.CancelFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn, ok := c.running[jobID]
	return fn, ok
}

// runExecute launches the Batch Engine's Execute over job in its own
// goroutine, detached from the request that triggered it (StartRunning
// already committed before this is called, so the batch must run to
// completion independent of the caller's HTTP request lifetime). The
// context it creates is registered via trackRunning and cancelled by
// Cancel to signal "stop dispatching",
// never to abort in-flight work — Execute itself strips that
// cancellation from the context it uses for stores and carrier calls.
func (c *Coordinator) runExecute(job domain.Job) {
	execCtx, cancel := context.WithCancel(context.Background())
	c.trackRunning(job.ID, cancel)
	go func() {
		defer cancel()
		defer c.untrackRunning(job.ID)
		tracer := otel.Tracer("coordinator")
		spanCtx, span := tracer.Start(execCtx, "Coordinator.Execute")
		defer span.End()
		if err := c.engine.Execute(spanCtx, job); err != nil {
			span.RecordError(err)
		}
	}()
}

func nowUTC() time.Time { return time.Now().UTC() }

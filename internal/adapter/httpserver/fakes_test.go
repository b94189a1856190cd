package httpserver_test

import (
	"errors"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/coordinator"
	"github.com/matt-hans/shipagent/internal/domain"
)

type fakeCoordinator struct {
	createJob func(coordinator.CreateJobParams) (domain.Job, error)
	refine    func(jobID, whereClause string, params map[string]any) (domain.Job, error)
	preview   func(jobID string) (domain.Job, error)
	approve   func(jobID string) (domain.Job, string, error)
	confirm   func(jobID, token string) (domain.Job, error)
	cancel    func(jobID string) (domain.Job, error)
}

func (f *fakeCoordinator) CreateJob(_ domain.Context, params coordinator.CreateJobParams) (domain.Job, error) {
	if f.createJob != nil {
		return f.createJob(params)
	}
	return domain.Job{ID: "job-1"}, nil
}

func (f *fakeCoordinator) Refine(_ domain.Context, jobID, whereClause string, params map[string]any) (domain.Job, error) {
	if f.refine != nil {
		return f.refine(jobID, whereClause, params)
	}
	return domain.Job{ID: jobID}, nil
}

func (f *fakeCoordinator) Preview(_ domain.Context, jobID string) (domain.Job, error) {
	if f.preview != nil {
		return f.preview(jobID)
	}
	return domain.Job{ID: jobID, Status: domain.JobPreviewed}, nil
}

func (f *fakeCoordinator) Approve(_ domain.Context, jobID string) (domain.Job, string, error) {
	if f.approve != nil {
		return f.approve(jobID)
	}
	return domain.Job{ID: jobID, Status: domain.JobApproved}, "tok-123", nil
}

func (f *fakeCoordinator) Confirm(_ domain.Context, jobID, token string) (domain.Job, error) {
	if f.confirm != nil {
		return f.confirm(jobID, token)
	}
	return domain.Job{ID: jobID, Status: domain.JobRunning}, nil
}

func (f *fakeCoordinator) Cancel(_ domain.Context, jobID string) (domain.Job, error) {
	if f.cancel != nil {
		return f.cancel(jobID)
	}
	return domain.Job{ID: jobID, Status: domain.JobCancelled}, nil
}

type fakeStore struct {
	jobs map[string]domain.Job
	rows map[string][]domain.JobRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]domain.Job{}, rows: map[string][]domain.JobRow{}}
}

func (s *fakeStore) GetJob(_ domain.Context, jobID string) (domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) ListJobs(_ domain.Context, _ domain.JobListFilter) ([]domain.Job, int, error) {
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, len(out), nil
}

func (s *fakeStore) GetRow(_ domain.Context, jobID string, rowNumber int) (domain.JobRow, error) {
	for _, row := range s.rows[jobID] {
		if row.RowNumber == rowNumber {
			return row, nil
		}
	}
	return domain.JobRow{}, domain.ErrNotFound
}

func (s *fakeStore) IterRows(_ domain.Context, jobID string, fn func(domain.JobRow) error) error {
	for _, row := range s.rows[jobID] {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) ListAudit(_ domain.Context, jobID string) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeStore) AverageProcessingTime(_ domain.Context) (float64, error) {
	return 0, nil
}

type fakeSubscription struct {
	ch chan domain.Event
}

func (s fakeSubscription) Events() <-chan domain.Event { return s.ch }
func (s fakeSubscription) Close()                       {}

type fakeBus struct {
	sub map[string]chan domain.Event
}

func newFakeBus() *fakeBus { return &fakeBus{sub: map[string]chan domain.Event{}} }

func (b *fakeBus) Subscribe(jobID string) domain.Subscription {
	if ch, ok := b.sub[jobID]; ok {
		return fakeSubscription{ch: ch}
	}
	ch := make(chan domain.Event, 4)
	b.sub[jobID] = ch
	return fakeSubscription{ch: ch}
}

// publish requires the channel to already exist (call Subscribe, or
// pre-seed via the same map key, before publishing) so tests don't race
// the handler's own Subscribe call.
func (b *fakeBus) publish(jobID string, evt domain.Event) {
	if ch, ok := b.sub[jobID]; ok {
		ch <- evt
	}
}

func (b *fakeBus) ensure(jobID string) {
	if _, ok := b.sub[jobID]; !ok {
		b.sub[jobID] = make(chan domain.Event, 4)
	}
}

type fakeInterpreter struct {
	interpret func(sessionID, text string) (httpserver.InterpretedCommand, error)
}

func (f *fakeInterpreter) Interpret(_ domain.Context, sessionID, text string) (httpserver.InterpretedCommand, error) {
	if f.interpret != nil {
		return f.interpret(sessionID, text)
	}
	return httpserver.InterpretedCommand{WhereClause: "country_iso = :country", Params: map[string]any{"country": "US"}}, nil
}

var errFake = errors.New("fake error")

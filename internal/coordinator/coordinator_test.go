package coordinator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/batch"
	"github.com/matt-hans/shipagent/internal/carrier"
	"github.com/matt-hans/shipagent/internal/coordinator"
	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/eventbus"
	"github.com/matt-hans/shipagent/internal/filter"
	"github.com/matt-hans/shipagent/internal/store/sqlite"
)

// fakeSourceTransport backs both the Data Gateway and the schema/source-info
// lookups a freshly-created job needs, mirroring internal/batch's own fake.
type fakeSourceTransport struct {
	signature string
	rows      []map[string]any
}

func (f *fakeSourceTransport) CallTool(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	switch tool {
	case "get_source_info":
		sig := f.signature
		if sig == "" {
			sig = "sig-v1"
		}
		return map[string]any{"type": "orders", "signature": sig, "rowCount": len(f.rows)}, nil
	case "get_schema":
		return map[string]any{"columns": []any{
			map[string]any{"name": "status", "type": "string"},
		}}, nil
	case "query_rows":
		raw := make([]any, 0, len(f.rows))
		for _, r := range f.rows {
			raw = append(raw, r)
		}
		return map[string]any{"rows": raw}, nil
	case "write_tracking":
		return map[string]any{}, nil
	default:
		return map[string]any{}, nil
	}
}

type fakeCarrierTransport struct{}

func (f *fakeCarrierTransport) CallTool(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	switch tool {
	case "get_rate":
		return map[string]any{"totalCharges": map[string]any{"amount": float64(1500), "currency": "USD"}, "serviceCode": "03"}, nil
	case "create_shipment":
		return map[string]any{"trackingNumbers": []any{"1Z999"}, "labelData": []any{[]byte("label-bytes")}}, nil
	default:
		return map[string]any{}, nil
	}
}

func orderRow(ref string) map[string]any {
	return map[string]any{
		"referenceNumber": ref,
		"from":            map[string]any{"countryISO": "US"},
		"to":              map[string]any{"countryISO": "US"},
		"weightGrams":     float64(4535.92),
		"lengthIn":        float64(12), "widthIn": float64(8), "heightIn": float64(6),
	}
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "shipagent.db")
	s, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newCoordinator(t *testing.T, src *fakeSourceTransport) (*coordinator.Coordinator, *sqlite.Store, *filter.Compiler) {
	t.Helper()
	s := openTestStore(t)
	gw := datagateway.New(src)
	cc := carrier.NewClient(&fakeCarrierTransport{})
	bus := eventbus.New()
	compiler, err := filter.NewCompiler([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	eng := batch.NewEngine(s, gw, cc, bus, compiler, batch.WithLabelsDir(t.TempDir()))
	return coordinator.New(s, gw, eng, compiler, bus), s, compiler
}

// signedFilter builds a real, verifiable FilterSpec for tests that seed a
// job's filter directly rather than going through Coordinator.CreateJob.
func signedFilter(t *testing.T, c *filter.Compiler, jobID string) domain.FilterSpec {
	t.Helper()
	spec, err := c.Compile(jobID, "ship", "1=1", filter.Schema{Table: "orders"}, 0, nil)
	require.NoError(t, err)
	return spec
}

func waitForStatus(t *testing.T, s *sqlite.Store, jobID string, want domain.JobStatus) domain.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(ctx, jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return domain.Job{}
}

func TestCoordinator_FullHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{rows: []map[string]any{orderRow("R1")}}
	co, s, _ := newCoordinator(t, src)

	job, err := co.CreateJob(ctx, coordinator.CreateJobParams{
		Command: "ship pending orders", WhereClause: "status = 'pending'", ServiceCode: "03",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
		FailFast: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCreated, job.Status)

	previewed, err := co.Preview(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPreviewed, previewed.Status)
	assert.Equal(t, 1, previewed.Counts.Total)

	approved, token, err := co.Approve(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, approved.Status)
	assert.NotEmpty(t, token)

	confirmed, err := co.Confirm(ctx, job.ID, token)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, confirmed.Status)

	final := waitForStatus(t, s, job.ID, domain.JobCompleted)
	assert.Equal(t, 1, final.Counts.Succeeded)

	// A replay of the same (now-stale) token against the completed job is
	// an idempotent hit, not an error.
	replay, err := co.Confirm(ctx, job.ID, token)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, replay.Status)
}

func TestCoordinator_ConfirmRejectsWrongToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{rows: []map[string]any{orderRow("R1")}}
	co, _, _ := newCoordinator(t, src)

	job, err := co.CreateJob(ctx, coordinator.CreateJobParams{
		Command: "ship pending orders", WhereClause: "status = 'pending'", ServiceCode: "03",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
	})
	require.NoError(t, err)
	_, err = co.Preview(ctx, job.ID)
	require.NoError(t, err)
	_, _, err = co.Approve(ctx, job.ID)
	require.NoError(t, err)

	_, err = co.Confirm(ctx, job.ID, "not-the-right-token")
	require.ErrorIs(t, err, domain.ErrApprovalMismatch)
}

func TestCoordinator_Refine_ResetsToCreatedAndBumpsGeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{rows: []map[string]any{orderRow("R1")}}
	co, _, _ := newCoordinator(t, src)

	job, err := co.CreateJob(ctx, coordinator.CreateJobParams{
		Command: "ship pending orders", WhereClause: "status = 'pending'", ServiceCode: "03",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
	})
	require.NoError(t, err)

	refined, err := co.Refine(ctx, job.ID, "status = 'on_hold'", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCreated, refined.Status)
	assert.Equal(t, 1, refined.Generation)
}

func TestCoordinator_Cancel_PreRunningIsSynchronous(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{rows: []map[string]any{orderRow("R1")}}
	co, _, _ := newCoordinator(t, src)

	job, err := co.CreateJob(ctx, coordinator.CreateJobParams{
		Command: "ship pending orders", WhereClause: "status = 'pending'", ServiceCode: "03",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
	})
	require.NoError(t, err)

	cancelled, err := co.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, cancelled.Status)

	// Idempotent: cancelling an already-cancelled job returns it unchanged.
	again, err := co.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, again.Status)
}

func TestCoordinator_Bootstrap_ResumesCleanRunningJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{signature: "sig-v1"}
	co, s, compiler := newCoordinator(t, src)

	require.NoError(t, s.CreateJob(ctx, domain.Job{
		ID: "job-r1", Command: "ship", ServiceCode: "03", SourceSignature: "sig-v1",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
		Status: domain.JobRunning,
	}))
	require.NoError(t, s.SaveFilter(ctx, signedFilter(t, compiler, "job-r1")))
	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-r1", RowNumber: 1, SourceChecksum: "c1", SourceData: orderRow("R1"), Status: domain.RowPending},
	}))

	require.NoError(t, co.Bootstrap(ctx))

	waitForStatus(t, s, "job-r1", domain.JobCompleted)
}

func TestCoordinator_Bootstrap_BlocksResumeOnSignatureDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{signature: "sig-v2"}
	co, s, compiler := newCoordinator(t, src)

	require.NoError(t, s.CreateJob(ctx, domain.Job{
		ID: "job-r2", Command: "ship", ServiceCode: "03", SourceSignature: "sig-v1-stale",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
		Status: domain.JobRunning,
	}))
	require.NoError(t, s.SaveFilter(ctx, signedFilter(t, compiler, "job-r2")))
	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-r2", RowNumber: 1, SourceChecksum: "c1", SourceData: orderRow("R1"), Status: domain.RowPending},
	}))

	require.NoError(t, co.Bootstrap(ctx))

	time.Sleep(20 * time.Millisecond)
	job, err := s.GetJob(ctx, "job-r2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status, "a drifted source must never be auto-resumed")
}

func TestCoordinator_Bootstrap_RematerializesEmptyApprovedJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &fakeSourceTransport{signature: "sig-v1", rows: []map[string]any{orderRow("R1")}}
	co, s, compiler := newCoordinator(t, src)

	require.NoError(t, s.CreateJob(ctx, domain.Job{
		ID: "job-r3", Command: "ship", ServiceCode: "03", SourceSignature: "sig-v1",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
		Status: domain.JobApproved,
	}))
	require.NoError(t, s.SaveFilter(ctx, signedFilter(t, compiler, "job-r3")))

	require.NoError(t, co.Bootstrap(ctx))

	rows := 0
	require.NoError(t, s.IterRows(ctx, "job-r3", func(domain.JobRow) error { rows++; return nil }))
	assert.Equal(t, 1, rows)
}

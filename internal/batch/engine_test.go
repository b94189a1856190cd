package batch_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/batch"
	"github.com/matt-hans/shipagent/internal/carrier"
	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/eventbus"
	"github.com/matt-hans/shipagent/internal/filter"
	"github.com/matt-hans/shipagent/internal/store/sqlite"
)

const testFilterSecret = "0123456789abcdef0123456789abcdef"

func testCompiler(t *testing.T) *filter.Compiler {
	t.Helper()
	c, err := filter.NewCompiler([]byte(testFilterSecret))
	require.NoError(t, err)
	return c
}

// fakeCarrierTransport scripts get_rate/create_shipment responses by call
// order, mirroring internal/carrier's own test fake.
type fakeCarrierTransport struct {
	rateResults []map[string]any
	rateErrs    []error
	shipResults []map[string]any
	shipErrs    []error
	rateCalls   int
	shipCalls   int
}

func (f *fakeCarrierTransport) CallTool(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	switch tool {
	case "get_rate":
		i := f.rateCalls
		f.rateCalls++
		var err error
		if i < len(f.rateErrs) {
			err = f.rateErrs[i]
		}
		var res map[string]any
		if i < len(f.rateResults) {
			res = f.rateResults[i]
		}
		return res, err
	case "create_shipment":
		i := f.shipCalls
		f.shipCalls++
		var err error
		if i < len(f.shipErrs) {
			err = f.shipErrs[i]
		}
		var res map[string]any
		if i < len(f.shipResults) {
			res = f.shipResults[i]
		}
		return res, err
	default:
		return map[string]any{}, nil
	}
}

// fakeSourceTransport backs the Data Gateway with a fixed row set keyed
// by tool name, mirroring internal/datagateway's own test fake.
type fakeSourceTransport struct {
	rows []map[string]any
}

func (f *fakeSourceTransport) CallTool(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	switch tool {
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

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "shipagent.db")
	s, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func orderRow(n int, ref string) map[string]any {
	return map[string]any{
		"referenceNumber": ref,
		"from":            map[string]any{"countryISO": "US"},
		"to":              map[string]any{"countryISO": "US"},
		"weightGrams":     float64(4535.92),
		"lengthIn":        float64(12), "widthIn": float64(8), "heightIn": float64(6),
	}
}

func seedPreviewingJob(t *testing.T, s *sqlite.Store, c *filter.Compiler, jobID string) domain.Job {
	t.Helper()
	ctx := context.Background()
	job := domain.Job{
		ID: jobID, Command: "ship pending orders", ServiceCode: "03",
		Shipper: domain.ShipperProfile{Name: "Acme", AccountNumber: "ACC1", Address: domain.Address{CountryISO: "US"}},
		Status:  domain.JobPreviewing, WarningPolicy: domain.WarningPolicyProcess, FailFast: true,
	}
	require.NoError(t, s.CreateJob(ctx, job))
	spec, err := c.Compile(jobID, job.Command, "1=1", filter.Schema{Table: "orders"}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveFilter(ctx, spec))
	return job
}

func TestEngine_Preview_RatesRowsAndAggregates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	compiler := testCompiler(t)
	job := seedPreviewingJob(t, s, compiler, "job-1")

	src := &fakeSourceTransport{rows: []map[string]any{orderRow(1, "R1"), orderRow(2, "R2")}}
	gw := datagateway.New(src)

	ct := &fakeCarrierTransport{
		rateResults: []map[string]any{
			{"totalCharges": map[string]any{"amount": float64(1500), "currency": "USD"}, "serviceCode": "03"},
			{"totalCharges": map[string]any{"amount": float64(2200), "currency": "USD"}, "serviceCode": "03"},
		},
	}
	cc := carrier.NewClient(ct)

	bus := eventbus.New()
	eng := batch.NewEngine(s, gw, cc, bus, compiler, batch.WithConcurrency(2), batch.WithPreviewMaxRows(10))

	require.NoError(t, eng.Preview(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPreviewed, got.Status)
	assert.Equal(t, 2, got.Counts.Total)
	assert.Equal(t, 2, got.Counts.Succeeded)
	assert.EqualValues(t, 3700, got.PreviewCost)
}

func TestEngine_Preview_RatingFailureMarksRowFailedNotBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	compiler := testCompiler(t)
	job := seedPreviewingJob(t, s, compiler, "job-2")

	src := &fakeSourceTransport{rows: []map[string]any{orderRow(1, "R1")}}
	gw := datagateway.New(src)
	ct := &fakeCarrierTransport{rateErrs: []error{assertErr("rate boom")}}
	cc := carrier.NewClient(ct, carrier.WithBackoff(0, 0, 1))
	bus := eventbus.New()
	eng := batch.NewEngine(s, gw, cc, bus, compiler)

	require.NoError(t, eng.Preview(ctx, job))

	got, err := s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPreviewed, got.Status)
	assert.Equal(t, 1, got.Counts.Failed)
}

func TestEngine_Execute_ShipsRowsAndCompletesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	compiler := testCompiler(t)
	job := seedPreviewingJob(t, s, compiler, "job-3")
	job.Status = domain.JobRunning
	require.NoError(t, s.UpdateJobStatus(ctx, "job-3", domain.JobPreviewing, domain.JobRunning))

	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-3", RowNumber: 1, SourceChecksum: "c1", SourceData: orderRow(1, "R1"), Status: domain.RowPending},
	}))

	src := &fakeSourceTransport{}
	gw := datagateway.New(src)
	ct := &fakeCarrierTransport{
		shipResults: []map[string]any{
			{"trackingNumbers": []any{"1Z999"}, "labelData": []any{[]byte("label-bytes")}},
		},
	}
	cc := carrier.NewClient(ct)
	bus := eventbus.New()
	labelsDir := t.TempDir()
	eng := batch.NewEngine(s, gw, cc, bus, compiler, batch.WithLabelsDir(labelsDir))

	require.NoError(t, eng.Execute(ctx, job))

	got, err := s.GetJob(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, 1, got.Counts.Succeeded)

	row, err := s.GetRow(ctx, "job-3", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RowShipped, row.Status)
	assert.Equal(t, "1Z999", row.TrackingNumber)
	assert.NotEmpty(t, row.PayloadSnapshot)
}

func TestEngine_Execute_FailFastSkipsRemainingRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	compiler := testCompiler(t)
	job := seedPreviewingJob(t, s, compiler, "job-4")
	job.FailFast = true
	job.Status = domain.JobRunning
	require.NoError(t, s.UpdateJobStatus(ctx, "job-4", domain.JobPreviewing, domain.JobRunning))

	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-4", RowNumber: 1, SourceChecksum: "c1", SourceData: orderRow(1, "R1"), Status: domain.RowPending},
	}))

	src := &fakeSourceTransport{}
	gw := datagateway.New(src)
	ct := &fakeCarrierTransport{shipErrs: []error{assertErr("carrier rejected")}}
	cc := carrier.NewClient(ct)
	bus := eventbus.New()
	eng := batch.NewEngine(s, gw, cc, bus, compiler)

	require.NoError(t, eng.Execute(ctx, job))

	got, err := s.GetJob(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Equal(t, 1, got.Counts.Failed)
}

func TestEngine_ResumeRunning_MarksInFlightRowsIndeterminate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	compiler := testCompiler(t)
	job := seedPreviewingJob(t, s, compiler, "job-5")
	job.Status = domain.JobRunning
	require.NoError(t, s.UpdateJobStatus(ctx, "job-5", domain.JobPreviewing, domain.JobRunning))

	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-5", RowNumber: 1, SourceChecksum: "c1", SourceData: orderRow(1, "R1"), Status: domain.RowPending},
	}))
	require.NoError(t, s.TransitionRow(ctx, "job-5", 1, domain.RowPending, domain.RowShipping, nil))

	src := &fakeSourceTransport{}
	gw := datagateway.New(src)
	cc := carrier.NewClient(&fakeCarrierTransport{})
	bus := eventbus.New()
	eng := batch.NewEngine(s, gw, cc, bus, compiler)

	require.NoError(t, eng.ResumeRunning(ctx, job))

	row, err := s.GetRow(ctx, "job-5", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RowFailed, row.Status)
	require.NotNil(t, row.Error)
	assert.Contains(t, row.Error.Message, "failed-indeterminate")
}

type simpleErr struct{ msg string }

func (e simpleErr) Error() string { return e.msg }

func assertErr(msg string) error { return simpleErr{msg: msg} }

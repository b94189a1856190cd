package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/domain"
)

func TestStore_SetPreviewResult_CAS(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p1", Status: domain.JobPreviewing}))

	counts := domain.RowCounts{Total: 10, Succeeded: 0, Failed: 1, Skipped: 2, Pending: 7}
	require.NoError(t, s.SetPreviewResult(ctx, "job-p1", counts, 5000, domain.JobPreviewed))

	got, err := s.GetJob(ctx, "job-p1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPreviewed, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.EqualValues(t, 5000, got.PreviewCost)

	err = s.SetPreviewResult(ctx, "job-p1", counts, 5000, domain.JobPreviewed)
	require.ErrorIs(t, err, domain.ErrStaleTransition)
}

func TestStore_ApproveStartComplete_HappyPath(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p2", Status: domain.JobPreviewed}))

	require.NoError(t, s.ApproveJob(ctx, "job-p2", "hash-123"))
	got, err := s.GetJob(ctx, "job-p2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, got.Status)
	assert.Equal(t, "hash-123", got.ApprovalHash)
	assert.False(t, got.ApprovalUsed)
	assert.NotNil(t, got.ApprovedAt)

	err = s.ApproveJob(ctx, "job-p2", "hash-again")
	require.ErrorIs(t, err, domain.ErrStaleTransition)

	require.NoError(t, s.StartRunning(ctx, "job-p2"))
	got, err = s.GetJob(ctx, "job-p2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, got.Status)
	assert.True(t, got.ApprovalUsed)
	assert.NotNil(t, got.StartedAt)

	counts := domain.RowCounts{Total: 3, Succeeded: 3}
	require.NoError(t, s.CompleteJob(ctx, "job-p2", domain.JobCompleted, counts, 999, nil))
	got, err = s.GetJob(ctx, "job-p2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.EqualValues(t, 999, got.AggregateCost)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.LastError)
}

func TestStore_CompleteJob_WritesLastErrorOnFailure(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p3", Status: domain.JobRunning}))

	failure := &domain.ErrorRecord{Code: "E-4001", Message: "carrier unreachable"}
	counts := domain.RowCounts{Total: 5, Failed: 5}
	require.NoError(t, s.CompleteJob(ctx, "job-p3", domain.JobFailed, counts, 0, failure))

	got, err := s.GetJob(ctx, "job-p3")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "E-4001", got.LastError.Code)
}

func TestStore_CancelJob_FromAnyNonTerminalStatus(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p4", Status: domain.JobApproved}))

	require.NoError(t, s.CancelJob(ctx, "job-p4", domain.JobApproved))
	got, err := s.GetJob(ctx, "job-p4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	err = s.CancelJob(ctx, "job-p4", domain.JobApproved)
	require.ErrorIs(t, err, domain.ErrStaleTransition)
}

func TestStore_RefineJob_BumpsGenerationAndResetsRows(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p5", Status: domain.JobPreviewing, Generation: 0}))

	original := domain.FilterSpec{
		JobID: "job-p5", Generation: 0, TableName: "orders",
		WhereClause: "status = :status", ParamNames: []string{"status"},
		ParamValues: map[string]any{"status": "pending"}, Signature: "sig-a",
		OriginCommand: "ship pending orders",
	}
	require.NoError(t, s.SaveFilter(ctx, original))
	require.NoError(t, s.InsertRows(ctx, []domain.JobRow{
		{JobID: "job-p5", RowNumber: 1, SourceChecksum: "c1", SourceData: map[string]any{"zip": "10001"}, Status: domain.RowPending},
	}))
	counts := domain.RowCounts{Total: 1, Succeeded: 1}
	require.NoError(t, s.SetPreviewResult(ctx, "job-p5", counts, 100, domain.JobPreviewed))

	refined := domain.FilterSpec{
		TableName: "orders", WhereClause: "status = :status AND country = :country",
		ParamNames: []string{"status", "country"},
		ParamValues: map[string]any{"status": "pending", "country": "US"},
		Signature:   "sig-b", OriginCommand: "ship pending US orders",
	}
	require.NoError(t, s.RefineJob(ctx, "job-p5", refined))

	got, err := s.GetJob(ctx, "job-p5")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCreated, got.Status)
	assert.Equal(t, 1, got.Generation)
	assert.Equal(t, domain.RowCounts{}, got.Counts)
	assert.EqualValues(t, 0, got.PreviewCost)

	filter, err := s.GetFilter(ctx, "job-p5")
	require.NoError(t, err)
	assert.Equal(t, 1, filter.Generation)
	assert.Equal(t, "sig-b", filter.Signature)

	var seen []int
	require.NoError(t, s.IterRows(ctx, "job-p5", func(r domain.JobRow) error {
		seen = append(seen, r.RowNumber)
		return nil
	}))
	assert.Empty(t, seen)
}

func TestStore_RefineJob_RejectsTerminalJob(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, domain.Job{ID: "job-p6", Status: domain.JobCompleted}))

	err := s.RefineJob(ctx, "job-p6", domain.FilterSpec{TableName: "orders"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
)

func TestAuditLogger_StartFinishOnce(t *testing.T) {
	runs := &fakeRuns{}
	a := NewAuditLogger(runs, zaptest.NewLogger(t))
	a.now = func() time.Time { return testNow }
	ctx := context.Background()
	conn := uuid.Must(uuid.NewV4())

	id, err := a.Start(ctx, conn, model.OpInboundIncremental, map[string]any{"lookback_days": 7})
	require.NoError(t, err)
	run := runs.runs[id]
	require.Equal(t, model.RunPending, run.Status)
	require.Equal(t, testNow, run.StartedAt)
	require.JSONEq(t, `{"lookback_days":7}`, string(run.RequestSummary))

	counts := model.RunCounts{Processed: 2, Successful: 2}
	require.NoError(t, a.Finish(ctx, id, model.RunSuccess, counts, map[string]int{"skipped": 0}, ""))
	require.Equal(t, model.RunSuccess, run.Status)
	require.Equal(t, counts, run.Counts)
	require.NotNil(t, run.CompletedAt)

	err = a.Finish(ctx, id, model.RunError, model.RunCounts{}, nil, "late")
	require.ErrorIs(t, err, errs.ErrRunFinalized)
	require.Equal(t, model.RunSuccess, run.Status, "a finalized run is never mutated")

	list, err := a.List(ctx, conn, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAuditLogger_FinishSurvivesCanceledContext(t *testing.T) {
	runs := &fakeRuns{}
	a := NewAuditLogger(runs, zaptest.NewLogger(t))
	id, err := a.Start(context.Background(), uuid.Must(uuid.NewV4()), model.OpActivityCreate, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Abort(ctx, id, model.RunCounts{}, errors.New("deadline"))
	require.Equal(t, model.RunError, runs.runs[id].Status)
	require.Equal(t, "deadline", runs.runs[id].ErrorMessage)
}

// Package service contains the CRM sync engine: token lifecycle, inbound sync,
// prospect discovery, outbound publishing and the run audit trail.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

// AuditLogger records one SyncRun per execution and finalizes it exactly once.
type AuditLogger struct {
	runs repository.SyncRunRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewAuditLogger constructs an AuditLogger.
func NewAuditLogger(runs repository.SyncRunRepository, log *zap.Logger) *AuditLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLogger{runs: runs, log: log, now: time.Now}
}

func summary(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Start opens a pending run and returns its id.
func (a *AuditLogger) Start(ctx context.Context, connectionID uuid.UUID, op model.Operation, request any) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	run := &model.SyncRun{
		ID:             id,
		ConnectionID:   connectionID,
		Operation:      op,
		Status:         model.RunPending,
		StartedAt:      a.now().UTC(),
		RequestSummary: summary(request),
	}
	if err := a.runs.Create(ctx, run); err != nil {
		return uuid.Nil, err
	}
	a.log.Info("sync run started",
		zap.Stringer("run_id", id),
		zap.Stringer("connection_id", connectionID),
		zap.String("operation", string(op)))
	return id, nil
}

// Finish finalizes a pending run. Finalizing a run twice yields errs.ErrRunFinalized.
// The write is detached from ctx cancellation so an aborted run still gets its terminal row.
func (a *AuditLogger) Finish(
	ctx context.Context, runID uuid.UUID, status model.RunStatus, counts model.RunCounts, response any, errMsg string,
) error {
	done := a.now().UTC()
	run := &model.SyncRun{
		ID:              runID,
		Status:          status,
		CompletedAt:     &done,
		Counts:          counts,
		ResponseSummary: summary(response),
		ErrorMessage:    errMsg,
	}
	if err := a.runs.Finalize(context.WithoutCancel(ctx), run); err != nil {
		a.log.Error("finalize sync run", zap.Stringer("run_id", runID), zap.Error(err))
		return err
	}
	a.log.Info("sync run finished",
		zap.Stringer("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("processed", counts.Processed),
		zap.Int("successful", counts.Successful),
		zap.Int("failed", counts.Failed))
	return nil
}

// Abort finalizes a run as error with err's message.
func (a *AuditLogger) Abort(ctx context.Context, runID uuid.UUID, counts model.RunCounts, err error) {
	if err == nil {
		err = errors.New("aborted")
	}
	_ = a.Finish(ctx, runID, model.RunError, counts, nil, err.Error())
}

// List returns the latest runs of a connection.
func (a *AuditLogger) List(ctx context.Context, connectionID uuid.UUID, limit int) ([]model.SyncRun, error) {
	return a.runs.List(ctx, connectionID, limit)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/crmsync/internal/convert"
	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/limiter"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

// Inbound sync defaults.
const (
	FullLookbackDays           = 365
	DefaultIncrementalLookback = 30
	sampleSize                 = 5
)

// CallReader lists remote call activities of one prospect.
type CallReader interface {
	ListCallsForProspect(ctx context.Context, token, prospectID string, lookbackDays int) (*crm.CallListing, error)
}

// InboundOptions tunes InboundSync. Zero values take the defaults.
type InboundOptions struct {
	// Workers bounds how many profiles are processed concurrently; 1 is sequential.
	Workers int
	Limiter limiter.Limiter
	Logger  *zap.Logger
}

// InboundSync pulls call activities of a connection's active profiles into the local cache.
type InboundSync struct {
	conns    repository.ConnectionRepository
	profiles repository.ProfileRepository
	calls    repository.CallCacheRepository
	tokens   TokenEnsurer
	reader   CallReader
	audit    *AuditLogger
	lim      limiter.Limiter
	workers  int
	log      *zap.Logger
	now      func() time.Time
}

// NewInboundSync constructs InboundSync with required dependencies.
func NewInboundSync(
	conns repository.ConnectionRepository,
	profiles repository.ProfileRepository,
	calls repository.CallCacheRepository,
	tokens TokenEnsurer,
	reader CallReader,
	audit *AuditLogger,
	opts InboundOptions,
) *InboundSync {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Limiter == nil {
		opts.Limiter = limiter.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &InboundSync{
		conns: conns, profiles: profiles, calls: calls, tokens: tokens, reader: reader, audit: audit,
		lim: opts.Limiter, workers: opts.Workers, log: opts.Logger, now: time.Now,
	}
}

// syncedSample is the observability snapshot of one upserted record.
type syncedSample struct {
	RemoteCallID    string    `json:"remote_call_id"`
	ProspectID      string    `json:"prospect_id"`
	Subject         string    `json:"subject,omitempty"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`
}

// profileOutcome accumulates the result of syncing one profile.
type profileOutcome struct {
	counts    model.RunCounts
	skipped   int
	truncated bool
	completed bool
	details   []model.Detail
	sample    []syncedSample
}

func (o *profileOutcome) fail(ref string, err error) {
	o.counts.Failed++
	o.details = append(o.details, model.Detail{Ref: ref, Status: string(model.SyncStatusError), Message: err.Error()})
}

// RunSync executes one inbound pass. Per-record and per-profile failures are
// reported in the result; only connection-level and precondition failures are errors.
func (s *InboundSync) RunSync(ctx context.Context, connectionID uuid.UUID, mode model.SyncMode, lookbackDays int) (model.SyncResult, error) {
	if _, err := model.ParseSyncMode(string(mode)); err != nil {
		return model.SyncResult{}, err
	}
	if mode == model.ModeFull {
		lookbackDays = FullLookbackDays
	} else if lookbackDays <= 0 {
		lookbackDays = DefaultIncrementalLookback
	}
	op := mode.Operation()

	conn, err := s.conns.GetByID(ctx, connectionID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.SyncResult{}, errs.ErrNoConnection
	}
	if err != nil {
		return model.SyncResult{}, err
	}

	allowed, retryAfter, err := s.lim.Allow(ctx, conn.ID, string(op))
	if err != nil {
		return model.SyncResult{}, err
	}
	if !allowed {
		return model.SyncResult{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retryAfter.Round(time.Second))
	}

	runID, err := s.audit.Start(ctx, conn.ID, op, map[string]any{
		"sync_type":     string(mode),
		"lookback_days": lookbackDays,
	})
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("open sync run: %w", err)
	}
	log := s.log.With(zap.Stringer("run_id", runID), zap.Stringer("connection_id", conn.ID), zap.String("mode", string(mode)))

	token, err := s.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return s.abort(ctx, runID, conn.ID, op, err)
	}
	profiles, err := s.profiles.ListActive(ctx, conn.ID)
	if err != nil {
		return s.abort(ctx, runID, conn.ID, op, err)
	}
	if len(profiles) == 0 {
		return s.abort(ctx, runID, conn.ID, op, errs.ErrNoActiveProfiles)
	}

	outcomes := make([]profileOutcome, len(profiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range profiles {
		g.Go(func() error {
			outcomes[i] = s.syncProfile(gctx, conn.ID, token, profiles[i], mode, lookbackDays, log)
			return nil
		})
	}
	_ = g.Wait()

	var (
		res     = model.SyncResult{RunID: runID}
		counts  model.RunCounts
		sample  []syncedSample
		touched []uuid.UUID
		cut     []string
	)
	for i, o := range outcomes {
		counts.Processed += o.counts.Processed
		counts.Successful += o.counts.Successful
		counts.Failed += o.counts.Failed
		res.Skipped += o.skipped
		res.Details = append(res.Details, o.details...)
		if o.truncated {
			res.Truncated = true
			cut = append(cut, profiles[i].RemoteProspectID)
		}
		if o.completed {
			touched = append(touched, profiles[i].ID)
		}
		for _, smp := range o.sample {
			if len(sample) < sampleSize {
				sample = append(sample, smp)
			}
		}
	}

	if err := s.profiles.TouchLastSynced(context.WithoutCancel(ctx), touched, s.now().UTC()); err != nil {
		log.Warn("touch profiles last_synced_at", zap.Error(err))
	}

	if ctx.Err() != nil {
		return s.abort(ctx, runID, conn.ID, op, ctx.Err())
	}

	status := model.DeriveRunStatus(counts, res.Skipped)
	response := map[string]any{
		"profiles":  len(profiles),
		"skipped":   res.Skipped,
		"truncated": cut,
		"sample":    sample,
	}
	// Nothing was written, yet the run is partial because the rest was already current.
	response["partial_by_skips"] = status == model.RunPartial && counts.Successful == 0
	if err := s.audit.Finish(ctx, runID, status, counts, response, ""); err != nil {
		return model.SyncResult{}, fmt.Errorf("finalize sync run: %w", err)
	}
	_ = s.lim.Success(context.WithoutCancel(ctx), conn.ID, string(op))

	res.Success = status != model.RunError
	res.Status = status
	res.Processed = counts.Processed
	res.Successful = counts.Successful
	res.Failed = counts.Failed
	res.Message = fmt.Sprintf("synced %d of %d records (%d up to date, %d failed)",
		counts.Successful, counts.Processed, res.Skipped, counts.Failed)
	if res.Details == nil {
		res.Details = []model.Detail{}
	}
	log.Info("inbound sync done",
		zap.String("status", string(status)),
		zap.Int("profiles", len(profiles)),
		zap.Int("processed", counts.Processed),
		zap.Int("successful", counts.Successful),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", counts.Failed),
		zap.Bool("truncated", res.Truncated))
	return res, nil
}

// abort finalizes the run as error, records the failure for backoff and returns err.
func (s *InboundSync) abort(ctx context.Context, runID, connectionID uuid.UUID, op model.Operation, err error) (model.SyncResult, error) {
	s.audit.Abort(ctx, runID, model.RunCounts{}, err)
	if blocked, d, ferr := s.lim.Failure(context.WithoutCancel(ctx), connectionID, string(op)); ferr == nil && blocked {
		s.log.Warn("sync backoff engaged", zap.Stringer("connection_id", connectionID), zap.Duration("block_for", d))
	}
	return model.SyncResult{RunID: runID, Status: model.RunError, Message: err.Error(), Details: []model.Detail{}}, err
}

func (s *InboundSync) syncProfile(
	ctx context.Context, connectionID uuid.UUID, token string, p model.ProspectProfile,
	mode model.SyncMode, lookbackDays int, log *zap.Logger,
) profileOutcome {
	var o profileOutcome
	listing, err := s.reader.ListCallsForProspect(ctx, token, p.RemoteProspectID, lookbackDays)
	if err != nil {
		log.Warn("list remote calls", zap.String("prospect_id", p.RemoteProspectID), zap.Error(err))
		o.fail("prospect:"+p.RemoteProspectID, err)
		return o
	}
	o.truncated = listing.Truncated
	if o.truncated {
		log.Warn("remote history truncated at cap",
			zap.String("prospect_id", p.RemoteProspectID), zap.Int("records", len(listing.Records)))
	}

	for i, raw := range listing.Records {
		if ctx.Err() != nil {
			return o
		}
		o.counts.Processed++

		rc, err := convert.ToRemoteCall(raw)
		if err != nil {
			ref := fmt.Sprintf("prospect:%s#%d", p.RemoteProspectID, i)
			var pe *convert.ParseError
			if errors.As(err, &pe) && pe.Ref != "" {
				ref = pe.Ref
			}
			o.fail(ref, err)
			continue
		}

		cached, err := s.calls.Get(ctx, connectionID, rc.ID)
		switch {
		case err == nil:
			if mode == model.ModeIncremental && !cached.Supersedes(rc.UpdatedAt) {
				o.skipped++
				continue
			}
		case errors.Is(err, errs.ErrNotFound):
		default:
			o.fail(rc.ID, err)
			continue
		}

		row := convert.ToCachedCall(p, rc, s.now().UTC())
		if err := s.calls.Upsert(ctx, &row); err != nil {
			o.fail(rc.ID, err)
			continue
		}
		o.counts.Successful++
		if len(o.sample) < sampleSize {
			o.sample = append(o.sample, syncedSample{
				RemoteCallID: row.RemoteCallID, ProspectID: row.ProspectID,
				Subject: row.Subject, RemoteUpdatedAt: row.RemoteUpdatedAt,
			})
		}
	}
	o.completed = true
	return o
}

// ListCachedCalls returns cached calls of a connection for display.
func (s *InboundSync) ListCachedCalls(ctx context.Context, connectionID uuid.UUID, prospectID string, limit int) ([]model.CachedCall, error) {
	return s.calls.List(ctx, connectionID, prospectID, limit)
}

// EnrollProfile adds a remote prospect to the connection's sync set.
func (s *InboundSync) EnrollProfile(ctx context.Context, p *model.ProspectProfile) error {
	if p.ConnectionID == uuid.Nil || p.UserID == uuid.Nil || p.RemoteProspectID == "" {
		return fmt.Errorf("%w: connection_id/user_id/remote_prospect_id", errs.ErrValidation)
	}
	if err := s.profiles.Enroll(ctx, p); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrNoConnection
		}
		return err
	}
	return nil
}

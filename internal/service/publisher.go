package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/convert"
	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/limiter"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

// ActivityCreator creates call activities in the CRM.
type ActivityCreator interface {
	CreateCall(ctx context.Context, token string, in crm.CallInput) (string, error)
}

// ProspectResolver maps candidate emails to CRM prospects.
type ProspectResolver interface {
	ResolveProspects(ctx context.Context, token string, emails []string) []model.RemoteProspect
}

// PublisherOptions tunes Publisher.
type PublisherOptions struct {
	Limiter limiter.Limiter
	Logger  *zap.Logger
}

// Publisher pushes recordings into the CRM as call activities, one per prospect.
type Publisher struct {
	conns      repository.ConnectionRepository
	recordings repository.RecordingRepository
	mappings   repository.MappingRepository
	tokens     TokenEnsurer
	creator    ActivityCreator
	resolver   ProspectResolver
	audit      *AuditLogger
	lim        limiter.Limiter
	log        *zap.Logger
	now        func() time.Time
}

// NewPublisher constructs a Publisher with required dependencies.
func NewPublisher(
	conns repository.ConnectionRepository,
	recordings repository.RecordingRepository,
	mappings repository.MappingRepository,
	tokens TokenEnsurer,
	creator ActivityCreator,
	resolver ProspectResolver,
	audit *AuditLogger,
	opts PublisherOptions,
) *Publisher {
	if opts.Limiter == nil {
		opts.Limiter = limiter.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Publisher{
		conns: conns, recordings: recordings, mappings: mappings, tokens: tokens,
		creator: creator, resolver: resolver, audit: audit,
		lim: opts.Limiter, log: opts.Logger, now: time.Now,
	}
}

// PublishRecording creates one call activity per prospect of a recording. Manual
// prospects, when given, replace discovery. Finding no prospect is a terminal
// outcome reported in the result, not an error.
func (p *Publisher) PublishRecording(
	ctx context.Context, recordingID, userID uuid.UUID, manual []model.ManualProspect,
) (model.PublishResult, error) {
	if recordingID == uuid.Nil || userID == uuid.Nil {
		return model.PublishResult{}, fmt.Errorf("%w: empty recording_id/user_id", errs.ErrValidation)
	}
	for i, m := range manual {
		if m.ProspectID == "" {
			return model.PublishResult{}, fmt.Errorf("%w: manual prospect[%d] empty prospect_id", errs.ErrValidation, i)
		}
	}
	const op = model.OpActivityCreate

	conn, err := p.conns.GetForUser(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.PublishResult{}, errs.ErrNoConnection
	}
	if err != nil {
		return model.PublishResult{}, err
	}

	allowed, retryAfter, err := p.lim.Allow(ctx, conn.ID, string(op))
	if err != nil {
		return model.PublishResult{}, err
	}
	if !allowed {
		return model.PublishResult{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retryAfter.Round(time.Second))
	}

	runID, err := p.audit.Start(ctx, conn.ID, op, map[string]any{
		"recording_id":     recordingID.String(),
		"user_id":          userID.String(),
		"manual_prospects": len(manual),
	})
	if err != nil {
		return model.PublishResult{}, fmt.Errorf("open sync run: %w", err)
	}
	log := p.log.With(zap.Stringer("run_id", runID), zap.Stringer("recording_id", recordingID))

	token, err := p.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return p.abort(ctx, runID, conn.ID, err)
	}
	rec, err := p.recordings.Get(ctx, recordingID)
	if err == nil && rec.UserID != userID {
		err = errs.ErrRecordingNotFound
	}
	if errors.Is(err, errs.ErrNotFound) {
		err = errs.ErrRecordingNotFound
	}
	if err != nil {
		return p.abort(ctx, runID, conn.ID, err)
	}

	prospects, emails := p.prospects(ctx, token, rec, manual)
	if len(prospects) == 0 {
		log.Info("no prospects identified", zap.Int("candidate_emails", len(emails)))
		_ = p.audit.Finish(ctx, runID, model.RunError, model.RunCounts{},
			map[string]any{"candidate_emails": len(emails)}, errs.ErrNoProspectsIdentified.Error())
		_ = p.lim.Success(context.WithoutCancel(ctx), conn.ID, string(op))
		return model.PublishResult{
			SyncResult: model.SyncResult{
				RunID:   runID,
				Status:  model.RunError,
				Message: errs.ErrNoProspectsIdentified.Error(),
				Details: []model.Detail{},
			},
			Activities: []model.ActivityRef{},
		}, nil
	}

	activity := ComposeActivity(rec)
	res := model.PublishResult{
		SyncResult: model.SyncResult{RunID: runID, Details: []model.Detail{}},
		Activities: []model.ActivityRef{},
	}
	var counts model.RunCounts
	for _, pr := range prospects {
		if ctx.Err() != nil {
			break
		}
		counts.Processed++
		activityID, cerr := p.creator.CreateCall(ctx, token, convert.ToCallInput(pr.ID, activity))
		if cerr == nil && activityID == "" {
			cerr = errors.New("crm returned no activity id")
		}
		m := convert.ToMapping(rec, userID, pr, activityID, cerr, p.now().UTC())
		if err := p.mappings.Upsert(ctx, &m); err != nil {
			log.Error("write prospect mapping", zap.String("prospect_id", pr.ID), zap.Error(err))
		}
		if cerr != nil {
			log.Warn("create call activity", zap.String("prospect_id", pr.ID), zap.Error(cerr))
			counts.Failed++
			res.Details = append(res.Details, model.Detail{Ref: pr.ID, Status: string(model.SyncStatusError), Message: cerr.Error()})
			continue
		}
		counts.Successful++
		res.Activities = append(res.Activities, model.ActivityRef{ProspectID: pr.ID, ActivityID: activityID})
		res.Details = append(res.Details, model.Detail{Ref: pr.ID, Status: string(model.SyncStatusSynced)})
	}
	if ctx.Err() != nil {
		return p.abort(ctx, runID, conn.ID, ctx.Err())
	}

	status := model.DeriveRunStatus(counts, 0)
	if err := p.audit.Finish(ctx, runID, status, counts, map[string]any{"activities": res.Activities}, ""); err != nil {
		return model.PublishResult{}, fmt.Errorf("finalize sync run: %w", err)
	}
	_ = p.lim.Success(context.WithoutCancel(ctx), conn.ID, string(op))

	res.Success = status != model.RunError
	res.Status = status
	res.Processed = counts.Processed
	res.Successful = counts.Successful
	res.Failed = counts.Failed
	res.ProspectsSynced = counts.Successful
	res.ActivitiesCreated = len(res.Activities)
	res.Message = fmt.Sprintf("published to %d of %d prospects", counts.Successful, counts.Processed)
	log.Info("recording published",
		zap.String("status", string(status)),
		zap.Int("prospects", counts.Processed),
		zap.Int("synced", counts.Successful),
		zap.Int("failed", counts.Failed))
	return res, nil
}

// prospects returns the manual override deduplicated by id, or the discovered and
// resolved prospects together with the candidate emails.
func (p *Publisher) prospects(
	ctx context.Context, token string, rec *model.Recording, manual []model.ManualProspect,
) ([]model.RemoteProspect, []string) {
	if len(manual) > 0 {
		seen := make(map[string]struct{}, len(manual))
		out := make([]model.RemoteProspect, 0, len(manual))
		for _, m := range manual {
			if _, ok := seen[m.ProspectID]; ok {
				continue
			}
			seen[m.ProspectID] = struct{}{}
			out = append(out, m.Prospect())
		}
		return out, nil
	}
	emails := DiscoverProspects(rec)
	if len(emails) == 0 {
		return nil, nil
	}
	return p.resolver.ResolveProspects(ctx, token, emails), emails
}

func (p *Publisher) abort(ctx context.Context, runID, connectionID uuid.UUID, err error) (model.PublishResult, error) {
	p.audit.Abort(ctx, runID, model.RunCounts{}, err)
	if blocked, d, ferr := p.lim.Failure(context.WithoutCancel(ctx), connectionID, string(model.OpActivityCreate)); ferr == nil && blocked {
		p.log.Warn("publish backoff engaged", zap.Stringer("connection_id", connectionID), zap.Duration("block_for", d))
	}
	res := model.PublishResult{
		SyncResult: model.SyncResult{RunID: runID, Status: model.RunError, Message: err.Error(), Details: []model.Detail{}},
		Activities: []model.ActivityRef{},
	}
	return res, err
}

// ListMappings returns the publish outcomes of a recording owned by userID.
func (p *Publisher) ListMappings(ctx context.Context, recordingID, userID uuid.UUID) ([]model.ProspectMapping, error) {
	rec, err := p.recordings.Get(ctx, recordingID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrRecordingNotFound
		}
		return nil, err
	}
	if rec.UserID != userID {
		return nil, errs.ErrRecordingNotFound
	}
	return p.mappings.ListByRecording(ctx, recordingID)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/limiter"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

var testNow = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

/************ repositories ************/

type fakeConns struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*model.Connection
	forUser map[uuid.UUID]uuid.UUID

	getErr    error
	updateErr error

	gets    int
	updates int
}

var _ repository.ConnectionRepository = (*fakeConns)(nil)

func newFakeConns(conns ...*model.Connection) *fakeConns {
	f := &fakeConns{byID: map[uuid.UUID]*model.Connection{}, forUser: map[uuid.UUID]uuid.UUID{}}
	for _, c := range conns {
		cp := *c
		f.byID[c.ID] = &cp
	}
	return f
}

func (f *fakeConns) GetByID(_ context.Context, id uuid.UUID) (*model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConns) GetForUser(ctx context.Context, userID uuid.UUID) (*model.Connection, error) {
	f.mu.Lock()
	id, ok := f.forUser[userID]
	f.mu.Unlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeConns) Upsert(_ context.Context, c *model.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.byID {
		if ex.ScopeType == c.ScopeType && ex.ScopeID == c.ScopeID {
			c.ID = ex.ID
		}
	}
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeConns) UpdateTokens(_ context.Context, c *model.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	ex, ok := f.byID[c.ID]
	if !ok {
		return errs.ErrNotFound
	}
	ex.AccessToken, ex.RefreshToken, ex.TokenExpiresAt = c.AccessToken, c.RefreshToken, c.TokenExpiresAt
	return nil
}

func (f *fakeConns) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeProfiles struct {
	mu      sync.Mutex
	active  []model.ProspectProfile
	listErr error
	touched map[uuid.UUID]time.Time
}

var _ repository.ProfileRepository = (*fakeProfiles)(nil)

func (f *fakeProfiles) ListActive(_ context.Context, connectionID uuid.UUID) ([]model.ProspectProfile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.ProspectProfile
	for _, p := range f.active {
		if p.ConnectionID == connectionID && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfiles) TouchLastSynced(_ context.Context, ids []uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touched == nil {
		f.touched = map[uuid.UUID]time.Time{}
	}
	for _, id := range ids {
		f.touched[id] = at
	}
	return nil
}

func (f *fakeProfiles) Enroll(_ context.Context, p *model.ProspectProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	p.Active = true
	f.active = append(f.active, *p)
	return nil
}

type callKey struct {
	conn uuid.UUID
	id   string
}

// fakeCalls is an in-memory crm_calls table keyed like the real one.
type fakeCalls struct {
	mu      sync.Mutex
	rows    map[callKey]model.CachedCall
	writes  int
	failIDs map[string]error
}

var _ repository.CallCacheRepository = (*fakeCalls)(nil)

func newFakeCalls() *fakeCalls { return &fakeCalls{rows: map[callKey]model.CachedCall{}} }

func (f *fakeCalls) Get(_ context.Context, conn uuid.UUID, id string) (*model.CachedCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[callKey{conn, id}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCalls) Upsert(_ context.Context, c *model.CachedCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[c.RemoteCallID]; err != nil {
		return err
	}
	f.writes++
	row := *c
	// timestamptz keeps microseconds.
	row.RemoteUpdatedAt = row.RemoteUpdatedAt.Truncate(time.Microsecond)
	f.rows[callKey{c.ConnectionID, c.RemoteCallID}] = row
	return nil
}

func (f *fakeCalls) List(_ context.Context, conn uuid.UUID, prospectID string, limit int) ([]model.CachedCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CachedCall
	for k, c := range f.rows {
		if k.conn == conn && (prospectID == "" || c.ProspectID == prospectID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteCallID < out[j].RemoteCallID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeMappings struct {
	mu   sync.Mutex
	rows map[string]model.ProspectMapping // recording/prospect
}

var _ repository.MappingRepository = (*fakeMappings)(nil)

func (f *fakeMappings) Upsert(_ context.Context, m *model.ProspectMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[string]model.ProspectMapping{}
	}
	f.rows[m.RecordingID.String()+"/"+m.RemoteProspectID] = *m
	return nil
}

func (f *fakeMappings) ListByRecording(_ context.Context, rec uuid.UUID) ([]model.ProspectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProspectMapping
	for _, m := range f.rows {
		if m.RecordingID == rec {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteProspectID < out[j].RemoteProspectID })
	return out, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*model.SyncRun
	seq  []uuid.UUID
}

var _ repository.SyncRunRepository = (*fakeRuns)(nil)

func (f *fakeRuns) Create(_ context.Context, r *model.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = map[uuid.UUID]*model.SyncRun{}
	}
	cp := *r
	f.runs[r.ID] = &cp
	f.seq = append(f.seq, r.ID)
	return nil
}

func (f *fakeRuns) Finalize(_ context.Context, r *model.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex, ok := f.runs[r.ID]
	if !ok || ex.Status != model.RunPending {
		return errs.ErrRunFinalized
	}
	ex.Status, ex.CompletedAt, ex.Counts = r.Status, r.CompletedAt, r.Counts
	ex.ResponseSummary, ex.ErrorMessage = r.ResponseSummary, r.ErrorMessage
	return nil
}

func (f *fakeRuns) List(_ context.Context, conn uuid.UUID, _ int) ([]model.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncRun
	for _, id := range f.seq {
		if r := f.runs[id]; r.ConnectionID == conn {
			out = append(out, *r)
		}
	}
	return out, nil
}

// last returns the most recently created run.
func (f *fakeRuns) last() *model.SyncRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seq) == 0 {
		return nil
	}
	return f.runs[f.seq[len(f.seq)-1]]
}

type fakeRecordings struct {
	byID map[uuid.UUID]*model.Recording
}

var _ repository.RecordingRepository = (*fakeRecordings)(nil)

func (f *fakeRecordings) Get(_ context.Context, id uuid.UUID) (*model.Recording, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrRecordingNotFound
	}
	cp := *r
	return &cp, nil
}

/************ collaborators ************/

type fakeTokens struct {
	token string
	err   error
	calls int
}

var _ TokenEnsurer = (*fakeTokens)(nil)

func (f *fakeTokens) EnsureValidToken(context.Context, *model.Connection) (string, error) {
	f.calls++
	return f.token, f.err
}

// fakeReader serves canned raw call documents per prospect and records the tokens it saw.
type fakeReader struct {
	mu        sync.Mutex
	calls     map[string][]json.RawMessage
	errs      map[string]error
	truncated map[string]bool
	tokens    []string
	lookbacks []int
}

var _ CallReader = (*fakeReader)(nil)

func (f *fakeReader) ListCallsForProspect(_ context.Context, token, prospectID string, lookbackDays int) (*crm.CallListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.lookbacks = append(f.lookbacks, lookbackDays)
	if err := f.errs[prospectID]; err != nil {
		return nil, err
	}
	recs := f.calls[prospectID]
	return &crm.CallListing{Records: recs, Pages: 1, Truncated: f.truncated[prospectID]}, nil
}

func rawCall(id, prospectID string, updated time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"type":"call","id":%q,"attributes":{"subject":"call %s","updatedAt":%q},"relationships":{"prospect":{"data":{"type":"prospect","id":%q}}}}`,
		id, id, updated.Format(time.RFC3339), prospectID))
}

type fakeCreator struct {
	mu     sync.Mutex
	fail   map[string]error
	inputs []crm.CallInput
	tokens []string
	seq    int
}

var _ ActivityCreator = (*fakeCreator)(nil)

func (f *fakeCreator) CreateCall(_ context.Context, token string, in crm.CallInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.tokens = append(f.tokens, token)
	if err := f.fail[in.ProspectID]; err != nil {
		return "", err
	}
	f.seq++
	return fmt.Sprintf("act-%d", f.seq), nil
}

type fakeSearcher struct {
	byEmail map[string][]crm.ProspectResource
	errs    map[string]error
	queried []string
}

var _ ProspectSearcher = (*fakeSearcher)(nil)

func (f *fakeSearcher) SearchProspectsByEmail(_ context.Context, _ string, email string) ([]crm.ProspectResource, error) {
	f.queried = append(f.queried, email)
	if err := f.errs[email]; err != nil {
		return nil, err
	}
	return f.byEmail[email], nil
}

func prospectRes(id, email string) crm.ProspectResource {
	var r crm.ProspectResource
	r.Type = "prospect"
	r.ID = crm.ID(id)
	r.Attributes.Email = email
	return r
}

type fakeLimiter struct {
	allowOK      bool
	retryAfter   time.Duration
	failBlocked  bool
	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Allow(context.Context, uuid.UUID, string) (bool, time.Duration, error) {
	f.allowCalls++
	return f.allowOK, f.retryAfter, nil
}

func (f *fakeLimiter) Success(context.Context, uuid.UUID, string) error {
	f.successCalls++
	return nil
}

func (f *fakeLimiter) Failure(context.Context, uuid.UUID, string) (bool, time.Duration, error) {
	f.failureCalls++
	return f.failBlocked, time.Minute, nil
}

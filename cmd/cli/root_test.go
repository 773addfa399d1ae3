package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/config"
	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/server/httpapi"
)

type fakeEngine struct {
	syncRes     model.SyncResult
	pubRes      model.PublishResult
	err         error
	runs        []model.SyncRun
	gotConn     uuid.UUID
	gotMode     model.SyncMode
	gotLookback int
	gotManual   []model.ManualProspect
	gotLimit    int
	deadline    time.Time
	closed      bool
}

func (f *fakeEngine) RunSync(ctx context.Context, id uuid.UUID, mode model.SyncMode, lookback int) (model.SyncResult, error) {
	f.deadline, _ = ctx.Deadline()
	f.gotConn, f.gotMode, f.gotLookback = id, mode, lookback
	return f.syncRes, f.err
}

func (f *fakeEngine) PublishRecording(_ context.Context, _, _ uuid.UUID, manual []model.ManualProspect) (model.PublishResult, error) {
	f.gotManual = manual
	return f.pubRes, f.err
}

func (f *fakeEngine) ListRuns(_ context.Context, id uuid.UUID, limit int) ([]model.SyncRun, error) {
	f.gotConn, f.gotLimit = id, limit
	return f.runs, f.err
}

func (f *fakeEngine) Close() { f.closed = true }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTKey = "cli-key"
	cfg.Sync.RunTimeout = time.Minute
	return &cfg
}

func run(t *testing.T, eng *fakeEngine, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		NewEngine: func(context.Context, *config.Config, *zap.Logger) (Engine, error) { return eng, nil },
		LoadConfig: func(string, string) (*config.Config, error) {
			return testConfig(), nil
		},
	}
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSyncCommand_Text(t *testing.T) {
	eng := &fakeEngine{syncRes: model.SyncResult{
		Success: true, RunID: uuid.Must(uuid.NewV4()), Status: model.RunPartial,
		Processed: 3, Successful: 2, Failed: 1, Truncated: true,
		Details: []model.Detail{{Ref: "c9", Status: "error", Message: "bad updatedAt"}},
	}}
	conn := uuid.Must(uuid.NewV4())

	out, err := run(t, eng, "sync", "--connection", conn.String(), "--type", "full")
	require.NoError(t, err)
	assert.Equal(t, conn, eng.gotConn)
	assert.Equal(t, model.ModeFull, eng.gotMode)
	assert.True(t, eng.closed)
	assert.WithinDuration(t, time.Now().Add(time.Minute), eng.deadline, 5*time.Second, "run timeout from config")
	assert.Contains(t, out, "processed 3, successful 2, failed 1")
	assert.Contains(t, out, "truncated")
	assert.Contains(t, out, "error c9: bad updatedAt")
}

func TestSyncCommand_JSONAndTimeoutFlag(t *testing.T) {
	eng := &fakeEngine{syncRes: model.SyncResult{Success: true, Status: model.RunSuccess, Details: []model.Detail{}}}

	out, err := run(t, eng, "sync", "--connection", uuid.Must(uuid.NewV4()).String(),
		"--lookback", "7", "--format", "json", "--timeout", "5s")
	require.NoError(t, err)
	assert.Equal(t, 7, eng.gotLookback)
	assert.Equal(t, model.ModeIncremental, eng.gotMode)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), eng.deadline, 2*time.Second)

	var got model.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, model.RunSuccess, got.Status)
}

func TestSyncCommand_Failures(t *testing.T) {
	_, err := run(t, &fakeEngine{}, "sync", "--connection", "nope")
	require.ErrorContains(t, err, "--connection")

	_, err = run(t, &fakeEngine{}, "sync", "--connection", uuid.Must(uuid.NewV4()).String(), "--type", "delta")
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = run(t, &fakeEngine{}, "sync")
	require.Error(t, err, "connection is required")

	_, err = run(t, &fakeEngine{err: errs.ErrNoConnection}, "sync", "--connection", uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errs.ErrNoConnection)

	eng := &fakeEngine{syncRes: model.SyncResult{Status: model.RunError, Details: []model.Detail{}}}
	_, err = run(t, eng, "sync", "--connection", uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errRunFailed)

	_, err = run(t, &fakeEngine{}, "sync", "--connection", uuid.Must(uuid.NewV4()).String(), "--format", "yaml")
	require.ErrorContains(t, err, "invalid format")
}

func TestPublishCommand_ManualProspects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prospects.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"prospect_id":"42","email":"ana@acme.io"}]`), 0o600))
	eng := &fakeEngine{pubRes: model.PublishResult{
		SyncResult:        model.SyncResult{Success: true, Status: model.RunSuccess},
		ProspectsSynced:   1,
		ActivitiesCreated: 1,
		Activities:        []model.ActivityRef{{ProspectID: "42", ActivityID: "901"}},
	}}

	out, err := run(t, eng, "publish",
		"--recording", uuid.Must(uuid.NewV4()).String(),
		"--user", uuid.Must(uuid.NewV4()).String(),
		"--prospects", path)
	require.NoError(t, err)
	assert.Equal(t, []model.ManualProspect{{ProspectID: "42", Email: "ana@acme.io"}}, eng.gotManual)
	assert.Contains(t, out, "prospects synced 1, activities created 1")
	assert.Contains(t, out, "prospect 42 -> activity 901")
}

func TestPublishCommand_NoProspects(t *testing.T) {
	eng := &fakeEngine{pubRes: model.PublishResult{
		SyncResult: model.SyncResult{Status: model.RunError, Message: errs.ErrNoProspectsIdentified.Error()},
	}}
	out, err := run(t, eng, "publish",
		"--recording", uuid.Must(uuid.NewV4()).String(),
		"--user", uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "map prospects manually")
	assert.Nil(t, eng.gotManual)
}

func TestRunsCommand(t *testing.T) {
	started := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	eng := &fakeEngine{runs: []model.SyncRun{{
		ID: uuid.Must(uuid.NewV4()), Operation: model.OpInboundFull, Status: model.RunSuccess,
		StartedAt: started, Counts: model.RunCounts{Processed: 10, Successful: 10},
	}}}

	out, err := run(t, eng, "runs", "--connection", uuid.Must(uuid.NewV4()).String(), "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, eng.gotLimit)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "inbound_full")
	assert.Contains(t, lines[1], "2026-05-10T08:00:00Z")

	eng.err = errors.New("db down")
	_, err = run(t, eng, "runs", "--connection", uuid.Must(uuid.NewV4()).String())
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	user := uuid.Must(uuid.NewV4())
	out, err := run(t, &fakeEngine{}, "token", "--user", user.String())
	require.NoError(t, err)

	got, err := httpapi.NewTokens([]byte("cli-key"), time.Minute).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, model.Principal{UserID: user}, got)

	org := uuid.Must(uuid.NewV4())
	out, err = run(t, &fakeEngine{}, "token", "--user", user.String(), "--org", org.String())
	require.NoError(t, err)
	got, err = httpapi.NewTokens([]byte("cli-key"), time.Minute).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, org, got.OrgID)

	_, err = run(t, &fakeEngine{}, "token", "--user", user.String(), "--org", "acme")
	require.Error(t, err)
}

// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/crmsync/internal/errs"
)

// ScopeType says who owns a CRM connection.
type ScopeType string

const (
	ScopeOrg  ScopeType = "org"
	ScopeUser ScopeType = "user"
)

// Valid reports whether s is a known scope type.
func (s ScopeType) Valid() bool { return s == ScopeOrg || s == ScopeUser }

// Principal is an authenticated caller: a user, optionally acting for the org it belongs to.
type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
}

// OwnsScope reports whether p may create or manage the connection of (scope, scopeID).
func (p Principal) OwnsScope(scope ScopeType, scopeID uuid.UUID) bool {
	switch scope {
	case ScopeUser:
		return p.UserID != uuid.Nil && scopeID == p.UserID
	case ScopeOrg:
		return p.OrgID != uuid.Nil && scopeID == p.OrgID
	default:
		return false
	}
}

// Access is what a caller wants to do with a connection.
type Access int

const (
	// AccessUse covers syncing and reading cached data.
	AccessUse Access = iota
	// AccessManage covers disconnecting and enrolling profiles.
	AccessManage
)

// Tokens collects OAuth access/refresh tokens and the access token expiry.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Connection is one authorized OAuth link to the CRM for an org or a user.
type Connection struct {
	ID             uuid.UUID
	ScopeType      ScopeType
	ScopeID        uuid.UUID
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenValid reports whether the access token is still usable at now, treating
// tokens that expire within skew as already expired.
func (c *Connection) TokenValid(now time.Time, skew time.Duration) bool {
	return c.AccessToken != "" && c.TokenExpiresAt.After(now.Add(skew))
}

// ProspectProfile maps a local user to a remote prospect the engine may sync for them.
type ProspectProfile struct {
	ID               uuid.UUID  `json:"id"`
	ConnectionID     uuid.UUID  `json:"connection_id"`
	UserID           uuid.UUID  `json:"user_id"`
	RemoteProspectID string     `json:"remote_prospect_id"`
	Email            string     `json:"email,omitempty"`
	Name             string     `json:"name,omitempty"`
	Company          string     `json:"company,omitempty"`
	Active           bool       `json:"active"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
}

// SyncStatus is the per-record outcome stored on cache and mapping rows.
type SyncStatus string

const (
	SyncStatusSynced SyncStatus = "synced"
	SyncStatusError  SyncStatus = "error"
)

// CachedCall is the local mirror of one remote call activity.
// (ConnectionID, RemoteCallID) is the natural key.
type CachedCall struct {
	ConnectionID     uuid.UUID       `json:"connection_id"`
	RemoteCallID     string          `json:"remote_call_id"`
	ProspectID       string          `json:"prospect_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Subject          string          `json:"subject,omitempty"`
	Body             string          `json:"body,omitempty"`
	Disposition      string          `json:"disposition,omitempty"`
	DurationSeconds  int             `json:"duration_seconds"`
	RemoteOccurredAt *time.Time      `json:"remote_occurred_at,omitempty"`
	RemoteCreatedAt  *time.Time      `json:"remote_created_at,omitempty"`
	RemoteUpdatedAt  time.Time       `json:"remote_updated_at"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
	SyncStatus       SyncStatus      `json:"sync_status"`
	LastSyncedAt     time.Time       `json:"last_synced_at"`
}

// Supersedes reports whether an incoming remote copy updated at remoteUpdatedAt
// should overwrite this cached row. Both sides compare at the microsecond
// precision the cache stores.
func (c *CachedCall) Supersedes(remoteUpdatedAt time.Time) bool {
	return remoteUpdatedAt.Truncate(time.Microsecond).After(c.RemoteUpdatedAt.Truncate(time.Microsecond))
}

// ProspectMapping records the outcome of publishing a recording to one prospect.
type ProspectMapping struct {
	UserID           uuid.UUID  `json:"user_id"`
	RecordingID      uuid.UUID  `json:"recording_id"`
	RemoteProspectID string     `json:"remote_prospect_id"`
	Email            string     `json:"email,omitempty"`
	Name             string     `json:"name,omitempty"`
	Company          string     `json:"company,omitempty"`
	SyncStatus       SyncStatus `json:"sync_status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ActivityID       string     `json:"activity_id,omitempty"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
}

// Operation is the kind of sync run.
type Operation string

const (
	OpInboundFull        Operation = "inbound_full"
	OpInboundIncremental Operation = "inbound_incremental"
	OpActivityCreate     Operation = "activity_create"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// RunCounts are the record counters persisted on a finalized run.
type RunCounts struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// DeriveRunStatus maps run counters to a final status.
// skipped counts records that were already current and needed no write.
func DeriveRunStatus(c RunCounts, skipped int) RunStatus {
	switch {
	case c.Failed == 0:
		return RunSuccess
	case c.Successful > 0 || skipped > 0:
		return RunPartial
	default:
		return RunError
	}
}

// SyncRun is the audit record of one inbound or outbound execution.
type SyncRun struct {
	ID              uuid.UUID       `json:"id"`
	ConnectionID    uuid.UUID       `json:"connection_id"`
	Operation       Operation       `json:"operation"`
	Status          RunStatus       `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Counts          RunCounts       `json:"counts"`
	RequestSummary  json.RawMessage `json:"request_summary,omitempty"`
	ResponseSummary json.RawMessage `json:"response_summary,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// SyncMode selects between a full and an incremental inbound pass.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// ParseSyncMode validates a sync type coming from a trigger.
func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(s) {
	case ModeFull, ModeIncremental:
		return SyncMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown sync type %q", errs.ErrValidation, s)
	}
}

// Operation returns the audit operation recorded for the mode.
func (m SyncMode) Operation() Operation {
	if m == ModeFull {
		return OpInboundFull
	}
	return OpInboundIncremental
}

// Speaker is one participant as seen by the AI speaker analysis.
type Speaker struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Insights are AI-derived takeaways for a recording.
type Insights struct {
	NextSteps []string `json:"next_steps,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// Coaching is the AI coaching evaluation of a recording.
type Coaching struct {
	Score        *float64 `json:"score,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// RecordingAnalysis is the AI analysis stored alongside a recording.
type RecordingAnalysis struct {
	Speakers []Speaker `json:"speakers,omitempty"`
	Insights *Insights `json:"insights,omitempty"`
	Coaching *Coaching `json:"coaching,omitempty"`
}

// Recording is a locally generated call recording, produced by the transcription pipeline.
type Recording struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Title           string
	DurationSeconds int
	CreatedAt       time.Time
	Transcript      string
	Summary         string
	Analysis        RecordingAnalysis
}

// RemoteCall is a validated call activity read from the CRM.
type RemoteCall struct {
	ID              string
	ProspectID      string
	Subject         string
	Body            string
	Disposition     string
	DurationSeconds int
	OccurredAt      *time.Time
	CreatedAt       *time.Time
	UpdatedAt       time.Time
	Raw             json.RawMessage
}

// RemoteProspect is a CRM prospect record.
type RemoteProspect struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Company   string `json:"company,omitempty"`
}

// DisplayName returns the best available human name for the prospect.
func (p RemoteProspect) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// Detail is one per-record or per-prospect line of a run result.
type Detail struct {
	Ref     string `json:"ref"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncResult is the result shape returned by both sync directions.
type SyncResult struct {
	Success    bool      `json:"success"`
	RunID      uuid.UUID `json:"run_id"`
	Status     RunStatus `json:"status"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Truncated  bool      `json:"truncated"`
	Message    string    `json:"message,omitempty"`
	Details    []Detail  `json:"details"`
}

// ActivityRef identifies a call activity created in the CRM.
type ActivityRef struct {
	ProspectID string `json:"prospect_id"`
	ActivityID string `json:"activity_id"`
}

// PublishResult is returned by the outbound publisher.
type PublishResult struct {
	SyncResult
	ProspectsSynced   int           `json:"prospects_synced"`
	ActivitiesCreated int           `json:"activities_created"`
	Activities        []ActivityRef `json:"activities"`
}

// ManualProspect is a user-supplied prospect mapping that overrides discovery.
type ManualProspect struct {
	ProspectID string `json:"prospect_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Company    string `json:"company,omitempty"`
}

// Prospect returns the mapping as a remote prospect, used verbatim.
func (m ManualProspect) Prospect() RemoteProspect {
	return RemoteProspect{ID: m.ProspectID, Name: m.Name, Email: m.Email, Company: m.Company}
}

// Activity is a composed call activity ready to be created in the CRM.
type Activity struct {
	Subject         string
	Body            string
	Disposition     string
	DurationSeconds int
	OccurredAt      time.Time
}

// Package convert maps CRM wire documents to domain types, validating
// required fields at the boundary.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/model"
)

// ParseError describes a remote record that failed boundary validation.
type ParseError struct {
	Ref    string // remote id when known
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	ref := e.Ref
	if ref == "" {
		ref = "?"
	}
	return fmt.Sprintf("parse %s: field %s: %s", ref, e.Field, e.Reason)
}

// --- helpers ---

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func parseTime(ref, field string, v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return nil, &ParseError{Ref: ref, Field: field, Reason: err.Error()}
	}
	// timestamptz stores microseconds; anything finer would never read back equal.
	t = t.UTC().Truncate(time.Microsecond)
	return &t, nil
}

// --- calls (crm -> domain) ---

// ToRemoteCall decodes and validates one raw call resource. The id and
// updatedAt attribute are required; updatedAt decides cache supersession.
func ToRemoteCall(raw json.RawMessage) (model.RemoteCall, error) {
	res, err := crm.DecodeCall(raw)
	if err != nil {
		return model.RemoteCall{}, &ParseError{Field: "document", Reason: err.Error()}
	}
	ref := string(res.ID)
	if ref == "" {
		return model.RemoteCall{}, &ParseError{Field: "id", Reason: "missing"}
	}
	if res.Type != "" && res.Type != "call" {
		return model.RemoteCall{}, &ParseError{Ref: ref, Field: "type", Reason: fmt.Sprintf("unexpected %q", res.Type)}
	}

	a := res.Attributes
	updated, err := parseTime(ref, "updatedAt", a.UpdatedAt)
	if err != nil {
		return model.RemoteCall{}, err
	}
	if updated == nil {
		return model.RemoteCall{}, &ParseError{Ref: ref, Field: "updatedAt", Reason: "missing"}
	}
	occurred, err := parseTime(ref, "occurredAt", a.OccurredAt)
	if err != nil {
		return model.RemoteCall{}, err
	}
	created, err := parseTime(ref, "createdAt", a.CreatedAt)
	if err != nil {
		return model.RemoteCall{}, err
	}
	dur := 0
	if a.CallDurationSeconds != nil {
		if *a.CallDurationSeconds < 0 {
			return model.RemoteCall{}, &ParseError{Ref: ref, Field: "callDurationSeconds", Reason: "negative"}
		}
		dur = *a.CallDurationSeconds
	}

	rc := model.RemoteCall{
		ID:              ref,
		Subject:         str(a.Subject),
		Body:            str(a.Body),
		Disposition:     str(a.CallDisposition),
		DurationSeconds: dur,
		OccurredAt:      occurred,
		CreatedAt:       created,
		UpdatedAt:       *updated,
		Raw:             append(json.RawMessage(nil), raw...),
	}
	if p := res.Relationships.Prospect.Data; p != nil {
		rc.ProspectID = string(p.ID)
	}
	return rc, nil
}

// ToCachedCall builds the cache row for a remote call fetched on behalf of profile.
func ToCachedCall(p model.ProspectProfile, rc model.RemoteCall, now time.Time) model.CachedCall {
	prospectID := rc.ProspectID
	if prospectID == "" {
		prospectID = p.RemoteProspectID
	}
	return model.CachedCall{
		ConnectionID:     p.ConnectionID,
		RemoteCallID:     rc.ID,
		ProspectID:       prospectID,
		UserID:           p.UserID,
		Subject:          rc.Subject,
		Body:             rc.Body,
		Disposition:      rc.Disposition,
		DurationSeconds:  rc.DurationSeconds,
		RemoteOccurredAt: rc.OccurredAt,
		RemoteCreatedAt:  rc.CreatedAt,
		RemoteUpdatedAt:  rc.UpdatedAt,
		RawPayload:       rc.Raw,
		SyncStatus:       model.SyncStatusSynced,
		LastSyncedAt:     now,
	}
}

// --- prospects ---

// ToRemoteProspect validates a prospect search hit.
func ToRemoteProspect(res crm.ProspectResource) (model.RemoteProspect, error) {
	if res.ID == "" {
		return model.RemoteProspect{}, &ParseError{Field: "id", Reason: "missing"}
	}
	a := res.Attributes
	email := a.Email
	if email == "" && len(a.Emails) > 0 {
		email = a.Emails[0]
	}
	return model.RemoteProspect{
		ID:        string(res.ID),
		Name:      a.Name,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Company:   a.Company,
	}, nil
}

// --- activities (domain -> crm) ---

// ToCallInput builds the create payload for a composed activity.
func ToCallInput(prospectID string, a model.Activity) crm.CallInput {
	return crm.CallInput{
		ProspectID:          prospectID,
		Subject:             a.Subject,
		Body:                a.Body,
		CallDisposition:     a.Disposition,
		CallDurationSeconds: a.DurationSeconds,
		OccurredAt:          a.OccurredAt.UTC().Format(time.RFC3339),
	}
}

// ToMapping builds the mapping row recording a publish outcome for one prospect.
// A nil err yields a synced row.
func ToMapping(rec *model.Recording, userID uuid.UUID, p model.RemoteProspect, activityID string, err error, now time.Time) model.ProspectMapping {
	m := model.ProspectMapping{
		UserID:           userID,
		RecordingID:      rec.ID,
		RemoteProspectID: p.ID,
		Email:            p.Email,
		Name:             p.DisplayName(),
		Company:          p.Company,
	}
	if err != nil {
		m.SyncStatus = model.SyncStatusError
		m.ErrorMessage = err.Error()
		return m
	}
	m.SyncStatus = model.SyncStatusSynced
	m.ActivityID = activityID
	m.SyncedAt = &now
	return m
}

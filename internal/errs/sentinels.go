// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller acting outside what it owns.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the operation is temporarily blocked after repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates malformed input; wrapped with the offending field.
	ErrValidation = errors.New("validation")

	// ErrRunFinalized indicates an attempt to finalize a sync run twice.
	ErrRunFinalized = errors.New("sync run already finalized")
)

// Run-aborting sentinels. A run that hits one of these is finalized as error.
var (
	// ErrNoConnection indicates there is no CRM connection for the requested scope.
	ErrNoConnection = errors.New("no crm connection")

	// ErrTokenRefreshFailed indicates the CRM rejected the refresh token; the owner must re-authorize.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrNoActiveProfiles indicates the connection has nothing to sync.
	ErrNoActiveProfiles = errors.New("no active prospect profiles")

	// ErrRecordingNotFound indicates the recording to publish does not exist.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrNoProspectsIdentified indicates no CRM prospect could be matched to a recording.
	ErrNoProspectsIdentified = errors.New("no prospects identified; map prospects manually")
)

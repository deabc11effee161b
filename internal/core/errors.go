package core

import (
	"fmt"
	"time"
)

// AuthError indicates a token refresh failed. It is never retried
// internally; callers decide whether to retry the whole operation.
type AuthError struct {
	Session string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token refresh failed for %s session: %v", e.Session, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// LaunchTimeoutError indicates the receiver app never confirmed launch
// within the configured bound.
type LaunchTimeoutError struct {
	Device  string
	Timeout time.Duration
}

func (e *LaunchTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for receiver app on device %q after %s", e.Device, e.Timeout)
}

// CredentialError indicates the receiver explicitly rejected the
// authorization, as opposed to never answering. The remediation differs
// from a timeout: re-authenticate rather than retry.
type CredentialError struct {
	Device string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("receiver app on device %q rejected the credentials", e.Device)
}

// InvalidQueryError is raised at search query construction when an item
// type, filter key or tag falls outside its allow-set. It never reaches
// the network.
type InvalidQueryError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("%q is not a valid %s, must be one of %v", e.Value, e.Field, e.Allowed)
}

// InvalidURIError indicates a malformed playback target. The command is
// aborted before any remote call.
type InvalidURIError struct {
	URI string
}

func (e *InvalidURIError) Error() string {
	return fmt.Sprintf("%q is not a valid spotify uri", e.URI)
}

// RemotePlaybackError wraps a remote API failure during playback
// issuance, carrying the remote-reported status.
type RemotePlaybackError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemotePlaybackError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("playback command failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("playback command failed: %s", e.Message)
}

func (e *RemotePlaybackError) Unwrap() error { return e.Err }

// UnknownTargetError indicates the requested account or device could not
// be resolved.
type UnknownTargetError struct {
	Kind string
	ID   string
}

func (e *UnknownTargetError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("no default %s configured", e.Kind)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}

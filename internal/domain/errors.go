package domain

import "errors"

// Sentinel errors for protocol anomalies. None of them is fatal: the
// offending input is dropped and the snapshot is left untouched.
var (
	ErrUnknownActivity    = errors.New("domain: unknown activity")
	ErrActivityEnded      = errors.New("domain: activity already ended")
	ErrStaleActivity      = errors.New("domain: stale activity instance")
	ErrInvalidPayload     = errors.New("domain: invalid payload")
	ErrUnknownAction      = errors.New("domain: unknown action")
	ErrMalformedMessage   = errors.New("domain: malformed message")
	ErrMalformedHandshake = errors.New("domain: malformed handshake")
	ErrModeCommitted      = errors.New("domain: transport mode already committed")
	ErrUnexpectedMessage  = errors.New("domain: message not valid in current transport mode")
	ErrStoreClosed        = errors.New("domain: snapshot store closed")
	ErrNotFound           = errors.New("domain: not found")
)

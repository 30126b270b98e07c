package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by services and adapters
var (
	// ErrInvalidSignature is terminal: the request is answered 401 and never processed
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload is terminal: the request is answered 400
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnsupportedEvent marks webhook categories the engine does not act on
	ErrUnsupportedEvent = errors.New("unsupported event type")

	ErrUnknownAgent         = errors.New("unknown agent mapping")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrOrderingViolation    = errors.New("event ordering violation")

	// ErrRemoteAPI wraps transient remote failures that are worth retrying
	ErrRemoteAPI = errors.New("remote api failure")

	// ErrPermanent wraps remote failures that retrying cannot fix (auth, bad request)
	ErrPermanent = errors.New("permanent remote failure")

	// ErrNoRemoteTarget means the remote side has nothing to attach a record to
	ErrNoRemoteTarget = errors.New("no remote target for record")

	ErrRateLimited = errors.New("remote rate limit exceeded")
	ErrQueueFull   = errors.New("queue full")
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate key")
)

// RemoteError describes a failed call to a platform API
type RemoteError struct {
	Platform Platform
	Status   int
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s api: status %d: %v", e.Platform, e.Status, e.Err)
	}
	return fmt.Sprintf("%s api: %v", e.Platform, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Retryable reports whether a dispatch failure should be attempted again
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent)
}

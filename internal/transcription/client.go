// Package transcription dispatches stored scanned documents to the external
// recognition service and hands each outcome to the lifecycle manager.
package transcription

import (
	"context"
	"errors"
)

// State is the provider-reported state of one request.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is a provider response, from a poll or a push callback. Text and
// Score are set only when State is completed; Reason only when failed.
type Status struct {
	State  State   `json:"status"`
	Text   string  `json:"text,omitempty"`
	Score  float64 `json:"confidence_score,omitempty"`
	Reason string  `json:"error,omitempty"`
}

// Client is the recognition service API.
type Client interface {
	Submit(ctx context.Context, data []byte, mimeType string) (requestID string, err error)
	Status(ctx context.Context, requestID string) (Status, error)
}

var (
	// ErrCircuitOpen is returned without calling the provider while its
	// breaker is open.
	ErrCircuitOpen = errors.New("transcription provider circuit open")
	// ErrRejected marks a 4xx response. Repeating the request will not help.
	ErrRejected = errors.New("transcription request rejected")
	// ErrAlreadyDispatched is returned by Dispatch when the upload already
	// has an outstanding request, here or in another process.
	ErrAlreadyDispatched = errors.New("transcription already outstanding for upload")

	errTimedOut  = errors.New("transcription timed out")
	errCancelled = errors.New("transcription dispatch cancelled")
	errStopped   = errors.New("transcription dispatcher stopped")
)

// Package provider talks to the external generation service. Submissions
// return a tracking handle that is later polled for status.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrRejected is returned when the provider refuses a submission outright.
// Retrying the same request will not help.
var ErrRejected = errors.New("provider rejected request")

// State is the provider-side progress of a generation.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is one observation of a submitted generation.
type Status struct {
	State     State
	OutputRef string
	Reason    string
}

// Provider is the generation capability. Errors other than ErrRejected are
// transient and the caller may try again later.
type Provider interface {
	Submit(ctx context.Context, toolType string, params json.RawMessage) (externalRef string, err error)
	Status(ctx context.Context, externalRef string) (Status, error)
}

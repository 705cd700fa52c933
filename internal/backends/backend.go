// Package backends defines the common interface and error types implemented
// by all inference-backend adapters.
//
// Each variant lives in its own sub-package and implements Adapter. The
// pipeline constructs one adapter per invocation from the owner's model
// config; adapters hold no cross-request state.
package backends

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single upstream call when the caller supplies no
// tighter deadline.
const DefaultTimeout = 60 * time.Second

// Options are an adapter's live-reconfigurable settings. Configure merges
// non-zero fields into the current settings; unset fields keep their prior
// values. Last writer wins, no history.
type Options struct {
	// APIKey authenticates the gateway to the backend.
	APIKey string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string

	// ModelName selects the model on the backend.
	ModelName string

	// Timeout bounds each outbound call. Zero keeps the prior value.
	Timeout time.Duration
}

// Adapter turns a text input into a text output against one backend variant.
//
// Send issues exactly one outbound call — no retry, no backoff. sessionID is
// part of the contract for conversational continuity even though current
// variants are stateless per call; adapters must accept it.
type Adapter interface {
	Name() string
	Configure(opts Options)
	Send(ctx context.Context, input, sessionID string) (string, error)
}

// BackendError is returned when the backend responded with a non-success
// status. Status and Body carry the upstream response verbatim for logging
// and for surfacing to the caller.
type BackendError struct {
	Name   string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: backend error %d: %s", e.Name, e.Status, e.Body)
}

// HTTPStatus exposes the upstream status so the HTTP edge can surface it.
func (e *BackendError) HTTPStatus() int { return e.Status }

// TransportError is returned when the network exchange itself could not
// complete. Not classified further at this layer.
type TransportError struct {
	Name string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Name, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Merge returns o with non-zero fields of delta applied.
func Merge(o, delta Options) Options {
	if delta.APIKey != "" {
		o.APIKey = delta.APIKey
	}
	if delta.BaseURL != "" {
		o.BaseURL = delta.BaseURL
	}
	if delta.ModelName != "" {
		o.ModelName = delta.ModelName
	}
	if delta.Timeout > 0 {
		o.Timeout = delta.Timeout
	}
	return o
}

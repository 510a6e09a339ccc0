package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTranscription marks a recognizer call that produced no usable
	// text; callers treat it as "no speech", not a fault.
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	// ErrProviderTransport covers network failures, timeouts and non-OK
	// HTTP/WS responses talking to a vendor.
	ErrProviderTransport = errors.New("provider transport error")

	// ErrProviderSemantic covers an OK response with an invalid or
	// unparsable payload.
	ErrProviderSemantic = errors.New("provider returned an invalid response")

	// ErrNilProvider guards constructors against a missing dependency.
	ErrNilProvider = errors.New("required provider is nil")
)

// ProviderError wraps a vendor-adapter failure with the provider's name so
// logs and telemetry can attribute it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Wrap builds a ProviderError attributed to provider.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

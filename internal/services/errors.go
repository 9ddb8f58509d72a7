package services

import "fmt"

// ValidationError is a client input problem. The request never reaches Gemini.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConfigError means the relay itself is misconfigured, e.g. no API key.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// UpstreamError wraps any failure raised while talking to Gemini.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Details is the underlying message passed back to the caller.
func (e *UpstreamError) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// RateLimitError is returned when no Gemini slot frees up in time.
type RateLimitError struct {
	Message string
	Err     error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

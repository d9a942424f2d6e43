// Package llm provides the reply-generation collaborator interface and
// provider implementations. The pipeline treats generation as a black box:
// ordered history in, content out, possibly slow, possibly failing.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role values for generation input.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of generation input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the interface for reply-generation providers.
type Client interface {
	// Generate produces reply content for the given ordered history. It
	// must honor ctx cancellation. Failures are classified as transient
	// (wrapped in *TransientError, retried by the dispatcher) or permanent
	// (wrapped in *PermanentError, not retried).
	Generate(ctx context.Context, history []Message) (string, error)

	// Name returns the provider name.
	Name() string
}

// TransientError marks a generation failure worth retrying: timeouts,
// connection errors, rate limits, provider 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient generation error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an explicit provider rejection that retrying will
// not fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent generation error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Provider is the type of generation provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a generation client for the given provider.
func NewClient(provider Provider, apiKey, model, systemPrompt string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, model, systemPrompt)
	case ProviderOpenAI, "":
		return NewOpenAIClient(apiKey, model, systemPrompt)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

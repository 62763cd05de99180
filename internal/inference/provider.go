package inference

import (
	"context"
	"fmt"
)

// Provider issues one structured-extraction call. It returns the raw JSON
// arguments of every function call the model made (zero or more) and the
// raw completion text kept for audit.
type Provider interface {
	Call(ctx context.Context, prompt string, tool Tool) (args []string, completion string, err error)
}

// Kind selects a Provider implementation at construction time.
type Kind string

const (
	KindGemini    Kind = "gemini"
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// ParseKind validates a configured provider name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindGemini, KindOpenAI, KindAnthropic:
		return k, nil
	}
	return "", fmt.Errorf("ParseKind: unknown provider %q", s)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, prompt string, tool Tool) ([]string, string, error)

// Call implements Provider.
func (f ProviderFunc) Call(ctx context.Context, prompt string, tool Tool) ([]string, string, error) {
	return f(ctx, prompt, tool)
}

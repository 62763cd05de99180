package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is returned before any provider call when there is
	// nothing to infer from.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrNoTransactions is returned when extraction produced no transactions.
	ErrNoTransactions = errors.New("no transactions")

	// ErrNoInvoice is returned when the invoice call returned no result.
	ErrNoInvoice = errors.New("no invoice")
)

// ProviderError wraps a failed provider call or an unusable response.
type ProviderError struct {
	Tool string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Tool, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

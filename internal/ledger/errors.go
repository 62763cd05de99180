package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist or is not
	// visible to the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrNoMedia is returned when an invoice has no stored image.
	ErrNoMedia = errors.New("invoice has no media")

	// ErrBotIDRequired is returned by NewCoordinator without a bot identity.
	ErrBotIDRequired = errors.New("bot id is required")
)

// TxError wraps a failure inside a store transaction. Nothing written in
// that transaction is visible.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("ledger %s: transaction aborted: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

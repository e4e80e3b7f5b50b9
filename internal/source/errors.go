package source

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps failures of a remote API or network call.
	ErrTransport = errors.New("transport error")
	ErrStorage   = errors.New("storage error")
	// ErrUpdateNotSupported is returned when a provider receives an update it cannot create a source from.
	ErrUpdateNotSupported = errors.New("update not supported")
	// ErrSourceKindConflict is returned when a kind is requested that no enabled provider serves.
	ErrSourceKindConflict = errors.New("source kind is not enabled")
	ErrSourceNotFound     = errors.New("source not found")
	// ErrSourceCreation signals that enrichment expected exactly one new record.
	ErrSourceCreation = errors.New("source creation error")
	ErrIO             = errors.New("io error")
)

func transportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

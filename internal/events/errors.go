package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSignalMetadataMissing is returned when the caller supplies no
// signal_metadata at all.
var ErrSignalMetadataMissing = errors.New("signal_metadata missing")

// ErrSignalMetadataIncomplete is the sentinel SignalMetadataIncompleteError
// wraps, so callers can errors.Is against it without caring which fields
// were missing.
var ErrSignalMetadataIncomplete = errors.New("signal_metadata incomplete")

// SignalMetadataIncompleteError carries the specific missing field names.
type SignalMetadataIncompleteError struct {
	Missing []string
}

func (e *SignalMetadataIncompleteError) Error() string {
	return fmt.Sprintf("signal_metadata incomplete: missing %s", strings.Join(e.Missing, ", "))
}

func (e *SignalMetadataIncompleteError) Is(target error) bool {
	return target == ErrSignalMetadataIncomplete
}

func (e *SignalMetadataIncompleteError) Unwrap() error {
	return ErrSignalMetadataIncomplete
}

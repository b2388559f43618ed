package ble

import (
	"errors"
	"fmt"
)

// Pairing failures, wrapped in *PairError.
var (
	ErrAlreadyConnecting      = errors.New("connect already in progress")
	ErrDeviceNotFound         = errors.New("no matching device found")
	ErrSelectionCancelled     = errors.New("device selection cancelled")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrPairTimeout            = errors.New("pairing timed out")
	ErrConnectionLost         = errors.New("connection lost during pairing")
)

// Write failures.
var (
	ErrNotConnected = errors.New("ble: not connected")
	ErrSuperseded   = errors.New("ble: write superseded by a newer request")
	ErrWriteFailed  = errors.New("ble: write failed")
)

// PairError reports a failed connect attempt. The session is back in
// Disconnected whenever one is returned.
type PairError struct {
	Op  string
	Err error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// WriteError wraps a transport failure reported by the characteristic.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%v: %v", ErrWriteFailed, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrWriteFailed, e.Err} }

// IsDeviceError reports whether err is a write-side failure (not connected
// or transport error). Superseded writes are not failures.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrWriteFailed)
}

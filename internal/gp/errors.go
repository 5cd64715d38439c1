package gp

import (
	"errors"

	"zigbee-go-gp/internal/zcl"
)

var (
	// ErrCapacityExceeded is returned when a table has no free entry.
	ErrCapacityExceeded = errors.New("table capacity exceeded")
	// ErrInsufficientSpace is returned when a per-entry sub-list is full.
	ErrInsufficientSpace = errors.New("insufficient space")
	// ErrNotFound is returned when a referenced entry does not exist.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidField is returned for unsupported or reserved field values.
	ErrInvalidField = errors.New("invalid field")
	// ErrSecurityCheckFailed is returned for replays and level or key type mismatches.
	ErrSecurityCheckFailed = errors.New("security check failed")
	// ErrDecryptFailed is returned when key material could not be recovered.
	ErrDecryptFailed = errors.New("decrypt failed")
	// ErrMalformed is returned when a frame is shorter than its fields require.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnsupportedCommand is returned for unknown GP cluster commands.
	ErrUnsupportedCommand = errors.New("unsupported cluster command")
)

// StatusOf maps an error returned by the core to a ZCL status byte.
func StatusOf(err error) uint8 {
	switch {
	case err == nil:
		return zcl.ZCLStatusSuccess
	case errors.Is(err, ErrNotFound):
		return zcl.ZCLStatusNotFound
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrInsufficientSpace):
		return zcl.ZCLStatusInsufficientSpace
	case errors.Is(err, ErrInvalidField):
		return zcl.ZCLStatusInvalidField
	case errors.Is(err, ErrMalformed):
		return zcl.ZCLStatusMalformedCommand
	case errors.Is(err, ErrUnsupportedCommand):
		return zcl.ZCLStatusUnsupClusterCmd
	default:
		return zcl.ZCLStatusFailure
	}
}

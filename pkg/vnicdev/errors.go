// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import "errors"

// The control surface error taxonomy. Call sites wrap these with
// fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	// ErrInvalidArgument rejects a request that fails local validation:
	// a zero queue count, a change to a fixed-zero channel category, a
	// tunable above its bound, or an unknown tunable identity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported rejects an operation or identity the device does
	// not recognize, such as a partial reset scope.
	ErrUnsupported = errors.New("unsupported")

	// ErrDeviceCommand reports an admin queue command that the device
	// rejected or that timed out.
	ErrDeviceCommand = errors.New("device command failed")
)

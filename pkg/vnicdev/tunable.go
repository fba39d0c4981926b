// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import (
	"fmt"
	"sync/atomic"
)

// Tunable identifies a runtime-tunable datapath parameter.
type Tunable int

const (
	// TunableRxCopybreak is the receive copy-break threshold: packets up
	// to this size are copied into a fresh buffer instead of handing the
	// original buffer upward.
	TunableRxCopybreak Tunable = iota
)

// GetTunable returns the current value of a tunable.
func (d *Device) GetTunable(t Tunable) (uint32, error) {
	switch t {
	case TunableRxCopybreak:
		return d.RxCopybreak(), nil
	default:
		return 0, fmt.Errorf("%w: unknown tunable %d", ErrInvalidArgument, t)
	}
}

// SetTunable updates a tunable after validating its bound. The copy-break
// threshold may not exceed the interface MTU.
func (d *Device) SetTunable(t Tunable, value uint32) error {
	switch t {
	case TunableRxCopybreak:
		if mtu := d.MTU(); value > mtu {
			return fmt.Errorf("%w: copybreak %d exceeds mtu %d", ErrInvalidArgument, value, mtu)
		}
		atomic.StoreUint32(&d.copybreak, value)
		return nil
	default:
		return fmt.Errorf("%w: unknown tunable %d", ErrInvalidArgument, t)
	}
}

// RxCopybreak returns the receive copy-break threshold. Read by the
// datapath on every received packet.
func (d *Device) RxCopybreak() uint32 {
	return atomic.LoadUint32(&d.copybreak)
}

// MTU returns the current maximum transfer unit.
func (d *Device) MTU() uint32 {
	return atomic.LoadUint32(&d.mtu)
}

// SetMTU records a new maximum transfer unit, typically mirrored from the
// backing host interface.
func (d *Device) SetMTU(mtu uint32) {
	atomic.StoreUint32(&d.mtu, mtu)
}

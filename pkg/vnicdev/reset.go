// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ResetScope selects which parts of the device a reset request covers.
// Only a full device reset is recognized.
type ResetScope int

const (
	// ResetAll requests a full device reset.
	ResetAll ResetScope = iota
)

// Reset requests a device reset. The teardown and rebuild mechanics are
// delegated to the attached reset handler; its result is propagated
// unchanged. Runs under the control lock, exclusive with reconfiguration
// and flag updates.
func (d *Device) Reset(scope ResetScope) error {
	logger := log.WithField("func", "Reset").WithField("pkg", "vnicdev")

	if scope != ResetAll {
		return fmt.Errorf("%w: only a full device reset is supported", ErrUnsupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reset == nil {
		return fmt.Errorf("%w: no reset handler attached", ErrUnsupported)
	}
	logger.Debug("delegating full device reset")
	if err := d.reset(); err != nil {
		logger.WithError(err).Error("device reset failed")
		return err
	}
	d.stats.Resets++
	return nil
}

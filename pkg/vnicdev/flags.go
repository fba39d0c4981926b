// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

// Feature flag bits, in advertised name order.
const (
	// FlagReportStats enables periodic device-side statistics reporting
	// into the registered report buffer.
	FlagReportStats uint32 = 1 << iota
)

// reportBuffer is the locally cached statistics report region registered
// with the device when periodic reporting is enabled.
type reportBuffer struct {
	buf  []uint64
	addr uint64
}

func (r *reportBuffer) byteLen() uint64 {
	return uint64(len(r.buf) * 8)
}

// privFlag ties one feature flag bit to its side effects. prepare runs
// whenever the flag is requested on; apply runs when the acknowledged
// state actually flips and must reach the device before the flip commits.
type privFlag struct {
	name    string
	bit     uint32
	prepare func(d *Device)
	apply   func(d *Device, enable bool) error
}

// privFlagTable lists the recognized flags in bit order. It must agree
// with vnicstats.PrivFlagNames.
var privFlagTable = []privFlag{
	{
		name:    "report-stats",
		bit:     FlagReportStats,
		prepare: (*Device).refreshStatsReport,
		apply:   (*Device).applyReportStats,
	},
}

// PrivFlagNames returns the advertised feature flag names in bit order.
func (d *Device) PrivFlagNames() []string {
	return vnicstats.PrivFlagNames()
}

// GetPrivFlags returns the currently acknowledged feature flag bitset.
func (d *Device) GetPrivFlags() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags
}

// SetPrivFlags applies a requested feature flag bitset.
//
// The update is all-or-nothing: the in-memory bitset commits only after
// every changed flag's device command succeeds. On a command failure the
// flags flipped earlier in the same call are rolled back best-effort and
// the bitset is left at its prior value.
func (d *Device) SetPrivFlags(requested uint32) error {
	logger := log.WithField("func", "SetPrivFlags").WithField("pkg", "vnicdev")

	d.mu.Lock()
	defer d.mu.Unlock()

	ori := d.flags
	updated := ori
	var applied []privFlag

	for _, f := range privFlagTable {
		want := requested&f.bit != 0
		if want {
			updated |= f.bit
			if f.prepare != nil {
				f.prepare(d)
			}
		} else {
			updated &^= f.bit
		}

		if want == (ori&f.bit != 0) || f.apply == nil {
			continue
		}
		if err := f.apply(d, want); err != nil {
			logger.WithError(err).Errorf("flag %s command failed, rolling back", f.name)
			d.rollbackFlags(applied, ori)
			return fmt.Errorf("%w: %s: %v", ErrDeviceCommand, f.name, err)
		}
		applied = append(applied, f)
	}

	d.flags = updated
	return nil
}

// rollbackFlags re-issues the inverse command for flags already flipped in
// a failed SetPrivFlags call. Rollback failures are logged; the in-memory
// bitset stays at prior either way, reflecting the last state the caller
// can rely on.
func (d *Device) rollbackFlags(applied []privFlag, prior uint32) {
	logger := log.WithField("func", "rollbackFlags").WithField("pkg", "vnicdev")
	for i := len(applied) - 1; i >= 0; i-- {
		f := applied[i]
		if err := f.apply(d, prior&f.bit != 0); err != nil {
			logger.WithError(err).Errorf("rollback of flag %s failed", f.name)
		}
	}
}

// refreshStatsReport re-fills the local report buffer from the live
// counters so a freshly enabled periodic report starts from current
// values.
func (d *Device) refreshStatsReport() {
	d.report.buf = vnicstats.Collect(d.View())
}

// applyReportStats issues the admin queue command that enables or
// disables periodic statistics reporting.
func (d *Device) applyReportStats(enable bool) error {
	if enable {
		return d.adminq.ReportStats(d.report.byteLen(), d.report.addr)
	}
	return d.adminq.ReportStats(0, 0)
}

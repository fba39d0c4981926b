// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

// Package adminq defines the contract the control surface expects from the
// device's admin queue: the out-of-band command transport used to configure
// device-side behavior, distinct from the packet datapath.
//
// The transport's wire format, retries and timeouts belong to the
// implementation; callers only see a definitive error per command and the
// per-category command counters.
package adminq

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

// AdminQueue is the control-plane command transport of one device
// instance. Commands block until the device acknowledges or the
// transport's own timeout policy gives up; either way the caller gets a
// definitive result.
type AdminQueue interface {
	// ReportStats configures periodic device statistics reporting into
	// the report buffer of the given length at the given device address.
	// A zero length and address disables reporting.
	ReportStats(bufLen uint64, bufAddr uint64) error

	// Counters exposes the transport's command counters for the
	// statistics export path. Read-only for callers.
	Counters() *vnicstats.AdminqStats
}

// Loopback is an AdminQueue that acknowledges every command locally. It
// backs simulated device instances and tests; the command counters behave
// exactly as a hardware transport's would.
type Loopback struct {
	mu    sync.Mutex
	stats vnicstats.AdminqStats

	// CommandErr, when set, makes every subsequent command fail after
	// being counted, mimicking a device rejection.
	CommandErr error

	reportLen  uint64
	reportAddr uint64
}

// NewLoopback returns a Loopback admin queue.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// ReportStats implements AdminQueue.
func (l *Loopback) ReportStats(bufLen uint64, bufAddr uint64) error {
	logger := log.WithField("func", "ReportStats").WithField("pkg", "adminq")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.ProdCount++
	l.stats.ReportStats++
	if l.CommandErr != nil {
		l.stats.CmdFail++
		logger.WithError(l.CommandErr).Error("report stats command rejected")
		return fmt.Errorf("report stats command: %w", l.CommandErr)
	}
	l.reportLen = bufLen
	l.reportAddr = bufAddr
	logger.Debugf("report stats configured len:%d addr:%#x", bufLen, bufAddr)
	return nil
}

// Counters implements AdminQueue.
func (l *Loopback) Counters() *vnicstats.AdminqStats {
	return &l.stats
}

// ReportConfig returns the last acknowledged report buffer configuration.
func (l *Loopback) ReportConfig() (bufLen uint64, bufAddr uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reportLen, l.reportAddr
}

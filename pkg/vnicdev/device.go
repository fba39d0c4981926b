// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

// Package vnicdev implements the management control surface of one virtual
// NIC instance: statistics export, queue-count reconfiguration, feature
// flags, tunables and reset.
//
// Control operations serialize on a per-device control lock, exclusive
// with datapath lifecycle transitions. The statistics export path never
// takes that lock and never blocks a queue's processing context.
package vnicdev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/openvnic/vnic-agent/pkg/adminq"
	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

// DriverName identifies the driver in DriverInfo reports.
const DriverName = "vnic"

// defaultStatsReportAddr is the simulated device address of the periodic
// statistics report region when the caller does not provide one.
const defaultStatsReportAddr = 0x2000

// QueueConfig holds the active and maximum queue counts for one direction
// of the datapath.
type QueueConfig struct {
	NumQueues int
	MaxQueues int
}

// DriverInfo is the identification report of a device instance.
type DriverInfo struct {
	Driver  string
	Version string
	BusInfo string
}

// RingParams reports the configured and maximum descriptor ring depths.
type RingParams struct {
	RxPending    uint32
	RxMaxPending uint32
	TxPending    uint32
	TxMaxPending uint32
}

// Config carries the construction parameters of a device instance.
type Config struct {
	Version string
	// BusInfo identifies the device instance; a fresh instance ID is
	// generated when empty.
	BusInfo string

	RxQueues    int
	MaxRxQueues int
	TxQueues    int
	MaxTxQueues int

	RingSize    uint32
	MaxRingSize uint32

	MTU         uint32
	RxCopybreak uint32

	// AdminQueue is the control-plane command transport. Required.
	AdminQueue adminq.AdminQueue
	// QueueManager performs live queue resizes. Optional; without one,
	// reconfiguring an active device is unsupported.
	QueueManager QueueManager
	// ResetFunc performs the full device reset. Optional.
	ResetFunc func() error

	// StatsReportAddr is the device address of the periodic statistics
	// report region.
	StatsReportAddr uint64
}

// Device is the management-side state of one virtual NIC instance. All
// control operations go through it; the datapath only touches the
// per-queue statistics blocks it hands out.
type Device struct {
	// mu is the device control lock. It serializes reconfiguration,
	// flag updates and reset against each other and against lifecycle
	// transitions. The statistics export path never takes it.
	mu sync.Mutex

	version string
	busInfo string

	msgLevel uint32 // atomic

	linkUp    uint32 // atomic bool
	mtu       uint32 // atomic
	copybreak uint32 // atomic

	// qmu guards the queue arrays and active counts for the statistics
	// reader. Mutators additionally hold mu.
	qmu   sync.RWMutex
	rxCfg QueueConfig
	txCfg QueueConfig
	rx    []*vnicstats.RxQueueStats
	tx    []*vnicstats.TxQueueStats

	ringSize    uint32
	maxRingSize uint32

	stats  vnicstats.DeviceStats
	adminq adminq.AdminQueue
	queues QueueManager
	reset  func() error

	flags  uint32
	report reportBuffer
}

// New builds a device instance with freshly allocated queue statistics
// blocks for the configured counts.
func New(cfg Config) (*Device, error) {
	if cfg.AdminQueue == nil {
		return nil, fmt.Errorf("%w: admin queue transport is required", ErrInvalidArgument)
	}
	if cfg.RxQueues < 1 || cfg.TxQueues < 1 {
		return nil, fmt.Errorf("%w: rx and tx queue counts must be at least 1", ErrInvalidArgument)
	}
	if cfg.RxQueues > cfg.MaxRxQueues || cfg.TxQueues > cfg.MaxTxQueues {
		return nil, fmt.Errorf("%w: queue counts exceed device maximum", ErrInvalidArgument)
	}

	busInfo := cfg.BusInfo
	if busInfo == "" {
		busInfo = uuid.NewString()
	}
	reportAddr := cfg.StatsReportAddr
	if reportAddr == 0 {
		reportAddr = defaultStatsReportAddr
	}

	d := &Device{
		version:     cfg.Version,
		busInfo:     busInfo,
		mtu:         cfg.MTU,
		copybreak:   cfg.RxCopybreak,
		rxCfg:       QueueConfig{NumQueues: cfg.RxQueues, MaxQueues: cfg.MaxRxQueues},
		txCfg:       QueueConfig{NumQueues: cfg.TxQueues, MaxQueues: cfg.MaxTxQueues},
		ringSize:    cfg.RingSize,
		maxRingSize: cfg.MaxRingSize,
		adminq:      cfg.AdminQueue,
		queues:      cfg.QueueManager,
		reset:       cfg.ResetFunc,
	}
	d.report.addr = reportAddr
	d.rx = newRxStats(cfg.RxQueues)
	d.tx = newTxStats(cfg.TxQueues)
	return d, nil
}

func newRxStats(n int) []*vnicstats.RxQueueStats {
	s := make([]*vnicstats.RxQueueStats, n)
	for i := range s {
		s[i] = &vnicstats.RxQueueStats{}
	}
	return s
}

func newTxStats(n int) []*vnicstats.TxQueueStats {
	s := make([]*vnicstats.TxQueueStats, n)
	for i := range s {
		s[i] = &vnicstats.TxQueueStats{}
	}
	return s
}

// DriverInfo reports the driver identification of this instance.
func (d *Device) DriverInfo() DriverInfo {
	return DriverInfo{
		Driver:  DriverName,
		Version: d.version,
		BusInfo: d.busInfo,
	}
}

// MsgLevel returns the driver message verbosity bitmap.
func (d *Device) MsgLevel() uint32 {
	return atomic.LoadUint32(&d.msgLevel)
}

// SetMsgLevel sets the driver message verbosity bitmap.
func (d *Device) SetMsgLevel(v uint32) {
	atomic.StoreUint32(&d.msgLevel, v)
}

// RingParams reports the descriptor ring depths. The ring size is fixed
// at device bring-up, so configured always equals maximum.
func (d *Device) RingParams() RingParams {
	return RingParams{
		RxPending:    d.ringSize,
		RxMaxPending: d.maxRingSize,
		TxPending:    d.ringSize,
		TxMaxPending: d.maxRingSize,
	}
}

// LinkUp reports whether the device link is currently active.
func (d *Device) LinkUp() bool {
	return atomic.LoadUint32(&d.linkUp) != 0
}

// SetLinkUp records a link transition, counting up/down flaps. Called by
// the lifecycle path and by link mirroring.
func (d *Device) SetLinkUp(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := atomic.LoadUint32(&d.linkUp) != 0
	if was == up {
		return
	}
	if up {
		atomic.StoreUint32(&d.linkUp, 1)
		d.stats.InterfaceUp++
	} else {
		atomic.StoreUint32(&d.linkUp, 0)
		d.stats.InterfaceDown++
	}
}

// NoteTxTimeout counts a transmit timeout reported by the datapath.
func (d *Device) NoteTxTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.TxTimeouts++
}

// RxQueueStats returns the statistics block owned by receive queue i, or
// nil when the queue array is not currently allocated for that slot.
func (d *Device) RxQueueStats(i int) *vnicstats.RxQueueStats {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if i < 0 || i >= len(d.rx) {
		return nil
	}
	return d.rx[i]
}

// TxQueueStats returns the statistics block owned by transmit queue i, or
// nil when the queue array is not currently allocated for that slot.
func (d *Device) TxQueueStats(i int) *vnicstats.TxQueueStats {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if i < 0 || i >= len(d.tx) {
		return nil
	}
	return d.tx[i]
}

// AttachQueues installs freshly built queue statistics arrays. Called by
// the queue lifecycle manager during a live resize or bring-up, which
// already holds control exclusivity, so only the reader guard is taken.
func (d *Device) AttachQueues(rx []*vnicstats.RxQueueStats, tx []*vnicstats.TxQueueStats) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	d.rx = rx
	d.tx = tx
}

// DetachQueues drops the queue statistics arrays for a reconfiguration
// window. Statistics collected during the window report zeros for the
// per-queue slots while keeping the advertised shape.
func (d *Device) DetachQueues() {
	d.AttachQueues(nil, nil)
}

// View captures the state the statistics aggregator walks. The returned
// view pins the queue arrays of the moment; the counters themselves keep
// mutating and are read through their snapshot protocol.
func (d *Device) View() vnicstats.View {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	return vnicstats.View{
		RxQueues: d.rxCfg.NumQueues,
		TxQueues: d.txCfg.NumQueues,
		Rx:       d.rx,
		Tx:       d.tx,
		Device:   &d.stats,
		Adminq:   d.adminq.Counters(),
	}
}

// CollectStats aggregates the device statistic set in the advertised
// order. It never fails and never blocks the datapath.
func (d *Device) CollectStats() []uint64 {
	return vnicstats.Collect(d.View())
}

// StatNames returns the advertised statistic names for the current queue
// configuration, matching CollectStats exactly in order and length.
func (d *Device) StatNames() []string {
	d.qmu.RLock()
	rx, tx := d.rxCfg.NumQueues, d.txCfg.NumQueues
	d.qmu.RUnlock()
	return vnicstats.StatNames(rx, tx)
}

// StatCount returns the advertised statistic count for the current queue
// configuration.
func (d *Device) StatCount() int {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	return vnicstats.StatCount(d.rxCfg.NumQueues, d.txCfg.NumQueues)
}

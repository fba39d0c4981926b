// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

// Package vnicstats holds the per-queue and device-wide counter blocks of a
// virtual NIC instance and aggregates them into the flat statistic set the
// export surface advertises.
//
// Per-queue blocks are mutated at packet rate by the owning queue context
// and read by management callers through a sequence-counter snapshot, so
// the datapath never takes a lock on behalf of a reader.
package vnicstats

import (
	"sync/atomic"

	"github.com/openvnic/vnic-agent/pkg/seqcount"
)

// RxQueueCounters are the sequenced counters of one receive queue. They are
// written only by the queue's processing context, inside a write bracket of
// the owning RxQueueStats.
type RxQueueCounters struct {
	Packets        uint64
	Bytes          uint64
	BufAllocFail   uint64
	PageAllocFail  uint64
	DMAMappingErr  uint64
	DescErrDropped uint64
}

// Dropped returns the derived per-queue drop total: the sum of the
// categorized receive failure counters.
func (c RxQueueCounters) Dropped() uint64 {
	return c.BufAllocFail + c.PageAllocFail + c.DMAMappingErr + c.DescErrDropped
}

// RxQueueStats is the full statistics block of one receive queue: the
// sequenced counters plus ring-cursor counters that are read directly.
type RxQueueStats struct {
	seq seqcount.SeqCount

	RxQueueCounters

	// Ring cursors and copy counters, owner-written, read without the
	// sequence counter (each is individually monotonic).
	Posted        uint64
	Completed     uint64
	CopybreakPkts uint64
	CopiedPkts    uint64
}

// Write runs update inside the queue's write bracket. Only the owning
// queue context may call it, and calls must not nest.
func (s *RxQueueStats) Write(update func(*RxQueueCounters)) {
	s.seq.BeginWrite()
	update(&s.RxQueueCounters)
	s.seq.EndWrite()
}

// Snapshot returns a self-consistent copy of the sequenced counters,
// retrying until no write overlapped the copy.
func (s *RxQueueStats) Snapshot() RxQueueCounters {
	for {
		start := s.seq.ReadBegin()
		snap := s.RxQueueCounters
		if !s.seq.ReadRetry(start) {
			return snap
		}
	}
}

// TxQueueCounters are the sequenced counters of one transmit queue.
type TxQueueCounters struct {
	PacketsDone uint64
	BytesDone   uint64
}

// TxQueueStats is the full statistics block of one transmit queue.
type TxQueueStats struct {
	seq seqcount.SeqCount

	TxQueueCounters

	// Ring cursors and queue flow-control transitions, owner-written,
	// read directly.
	Posted    uint64
	Completed uint64
	Wake      uint64
	Stop      uint64

	// eventCounter mirrors the device-reported completion event count.
	// The device side stores it; readers load it atomically, outside
	// the sequence counter.
	eventCounter uint32
}

// Write runs update inside the queue's write bracket. Only the owning
// queue context may call it, and calls must not nest.
func (s *TxQueueStats) Write(update func(*TxQueueCounters)) {
	s.seq.BeginWrite()
	update(&s.TxQueueCounters)
	s.seq.EndWrite()
}

// Snapshot returns a self-consistent copy of the sequenced counters.
func (s *TxQueueStats) Snapshot() TxQueueCounters {
	for {
		start := s.seq.ReadBegin()
		snap := s.TxQueueCounters
		if !s.seq.ReadRetry(start) {
			return snap
		}
	}
}

// SetEventCounter records the device-reported completion event count.
func (s *TxQueueStats) SetEventCounter(v uint32) {
	atomic.StoreUint32(&s.eventCounter, v)
}

// EventCounter returns the last device-reported completion event count.
func (s *TxQueueStats) EventCounter() uint32 {
	return atomic.LoadUint32(&s.eventCounter)
}

// DeviceStats are device-scoped counters mutated by the infrequent
// control and reset paths. Single writer, read without synchronization.
type DeviceStats struct {
	TxTimeouts    uint64
	InterfaceUp   uint64
	InterfaceDown uint64
	Resets        uint64
}

// AdminqStats count every command category issued on the admin queue,
// plus failures and timeouts. The admin queue transport is the single
// writer; they are read at any time.
type AdminqStats struct {
	ProdCount           uint64
	CmdFail             uint64
	Timeouts            uint64
	DescribeDevice      uint64
	CfgDeviceResources  uint64
	RegisterPageList    uint64
	UnregisterPageList  uint64
	CreateTxQueue       uint64
	CreateRxQueue       uint64
	DestroyTxQueue      uint64
	DestroyRxQueue      uint64
	DcfgDeviceResources uint64
	SetDriverParameter  uint64
	ReportStats         uint64
}

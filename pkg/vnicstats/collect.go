// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicstats

// View is the slice of device state the aggregator walks. Rx and Tx may
// be nil (or shorter than the configured counts) while a reconfiguration
// is rebuilding the queue arrays; the output shape depends only on
// RxQueues and TxQueues.
type View struct {
	RxQueues int
	TxQueues int
	Rx       []*RxQueueStats
	Tx       []*TxQueueStats
	Device   *DeviceStats
	Adminq   *AdminqStats
}

func (v View) rxAt(i int) *RxQueueStats {
	if i < len(v.Rx) {
		return v.Rx[i]
	}
	return nil
}

func (v View) txAt(i int) *TxQueueStats {
	if i < len(v.Tx) {
		return v.Tx[i]
	}
	return nil
}

// Collect aggregates the view into the flat statistic set, in the exact
// order StatNames advertises for (RxQueues, TxQueues). Each per-queue
// sequenced block is read through its snapshot protocol; queue slots
// without a live block are emitted as zeros. Collect never fails and
// never blocks a queue's processing context.
func Collect(v View) []uint64 {
	data := make([]uint64, 0, StatCount(v.RxQueues, v.TxQueues))

	// Device-wide totals, folded from one snapshot per live queue.
	var rxTotal RxQueueCounters
	rxSnaps := make([]RxQueueCounters, v.RxQueues)
	for q := 0; q < v.RxQueues; q++ {
		if rx := v.rxAt(q); rx != nil {
			rxSnaps[q] = rx.Snapshot()
		}
		rxTotal.Packets += rxSnaps[q].Packets
		rxTotal.Bytes += rxSnaps[q].Bytes
		rxTotal.BufAllocFail += rxSnaps[q].BufAllocFail
		rxTotal.PageAllocFail += rxSnaps[q].PageAllocFail
		rxTotal.DMAMappingErr += rxSnaps[q].DMAMappingErr
		rxTotal.DescErrDropped += rxSnaps[q].DescErrDropped
	}

	var txTotal TxQueueCounters
	txSnaps := make([]TxQueueCounters, v.TxQueues)
	for q := 0; q < v.TxQueues; q++ {
		if tx := v.txAt(q); tx != nil {
			txSnaps[q] = tx.Snapshot()
		}
		txTotal.PacketsDone += txSnaps[q].PacketsDone
		txTotal.BytesDone += txSnaps[q].BytesDone
	}

	data = append(data,
		rxTotal.Packets,
		rxTotal.Bytes,
		rxTotal.Dropped(),
		rxTotal.BufAllocFail,
		rxTotal.PageAllocFail,
		rxTotal.DMAMappingErr,
		rxTotal.DescErrDropped,
		txTotal.PacketsDone,
		txTotal.BytesDone,
		0, // tx_total_dropped_pkt: reserved, the transmit path never drops
		v.Device.TxTimeouts,
		v.Device.InterfaceUp,
		v.Device.InterfaceDown,
		v.Device.Resets,
	)

	// Per-queue blocks. Ring cursors are read directly; the sequenced
	// counters reuse the snapshots taken for the totals above.
	for q := 0; q < v.RxQueues; q++ {
		rx := v.rxAt(q)
		if rx == nil {
			data = append(data, make([]uint64, len(rxQueueStatNames))...)
			continue
		}
		data = append(data,
			rx.Posted,
			rx.Completed,
			rxSnaps[q].Bytes,
			rxSnaps[q].Dropped(),
			rx.CopybreakPkts,
			rx.CopiedPkts,
		)
	}

	for q := 0; q < v.TxQueues; q++ {
		tx := v.txAt(q)
		if tx == nil {
			data = append(data, make([]uint64, len(txQueueStatNames))...)
			continue
		}
		data = append(data,
			tx.Posted,
			tx.Completed,
			txSnaps[q].BytesDone,
			tx.Wake,
			tx.Stop,
			uint64(tx.EventCounter()),
		)
	}

	aq := v.Adminq
	data = append(data,
		aq.ProdCount,
		aq.CmdFail,
		aq.Timeouts,
		aq.DescribeDevice,
		aq.CfgDeviceResources,
		aq.RegisterPageList,
		aq.UnregisterPageList,
		aq.CreateTxQueue,
		aq.CreateRxQueue,
		aq.DestroyTxQueue,
		aq.DestroyRxQueue,
		aq.DcfgDeviceResources,
		aq.SetDriverParameter,
		aq.ReportStats,
	)

	return data
}

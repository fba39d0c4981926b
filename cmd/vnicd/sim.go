// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package main

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openvnic/vnic-agent/pkg/vnicdev"
	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

// queueSim stands in for the datapath and the queue lifecycle subsystem of
// a real device: it runs one worker goroutine per queue mutating that
// queue's counters at a steady rate, and implements the live-resize
// contract by draining the workers, rebuilding the queue arrays and
// restarting the workers on the new set.
type queueSim struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func newQueueSim(interval time.Duration) *queueSim {
	return &queueSim{interval: interval}
}

// Start launches workers for the device's currently attached queues.
func (s *queueSim) Start(d *vnicdev.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startWorkersLocked(d)
}

// Stop drains all workers.
func (s *queueSim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWorkersLocked()
}

// AdjustQueues implements vnicdev.QueueManager. The caller holds the
// device control lock, so no other control operation can interleave with
// the drain/rebuild window.
func (s *queueSim) AdjustQueues(d *vnicdev.Device, newRx, newTx vnicdev.QueueConfig) error {
	logger := log.WithField("func", "AdjustQueues")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopWorkersLocked()
	d.DetachQueues()

	rx := make([]*vnicstats.RxQueueStats, newRx.NumQueues)
	for i := range rx {
		rx[i] = &vnicstats.RxQueueStats{}
	}
	tx := make([]*vnicstats.TxQueueStats, newTx.NumQueues)
	for i := range tx {
		tx[i] = &vnicstats.TxQueueStats{}
	}
	d.AttachQueues(rx, tx)

	s.stop = make(chan struct{})
	for i := range rx {
		s.wg.Add(1)
		go s.rxWorker(d, rx[i], s.stop)
	}
	for i := range tx {
		s.wg.Add(1)
		go s.txWorker(tx[i], s.stop)
	}
	logger.Infof("queues rebuilt rx:%d tx:%d", newRx.NumQueues, newTx.NumQueues)
	return nil
}

// Reset implements the full device reset: all queues are torn down and
// rebuilt at the current configuration, clearing their counters.
func (s *queueSim) Reset(d *vnicdev.Device) error {
	ch := d.GetChannels()
	return s.AdjustQueues(d,
		vnicdev.QueueConfig{NumQueues: int(ch.RxCount), MaxQueues: int(ch.MaxRx)},
		vnicdev.QueueConfig{NumQueues: int(ch.TxCount), MaxQueues: int(ch.MaxTx)})
}

func (s *queueSim) startWorkersLocked(d *vnicdev.Device) {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	ch := d.GetChannels()
	for i := 0; i < int(ch.RxCount); i++ {
		if rx := d.RxQueueStats(i); rx != nil {
			s.wg.Add(1)
			go s.rxWorker(d, rx, s.stop)
		}
	}
	for i := 0; i < int(ch.TxCount); i++ {
		if tx := d.TxQueueStats(i); tx != nil {
			s.wg.Add(1)
			go s.txWorker(tx, s.stop)
		}
	}
}

func (s *queueSim) stopWorkersLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
}

func (s *queueSim) rxWorker(d *vnicdev.Device, rx *vnicstats.RxQueueStats, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pkts := uint64(1 + rand.Intn(16))
			copybreak := d.RxCopybreak()
			var bytes, small uint64
			for p := uint64(0); p < pkts; p++ {
				size := uint64(64 + rand.Intn(1400))
				if uint32(size) <= copybreak {
					small++
				}
				bytes += size
			}
			rx.Posted += pkts
			rx.Completed += pkts
			rx.CopybreakPkts += small
			rx.CopiedPkts += small
			rx.Write(func(c *vnicstats.RxQueueCounters) {
				c.Packets += pkts
				c.Bytes += bytes
				if rand.Intn(1000) == 0 {
					c.BufAllocFail++
				}
				if rand.Intn(1000) == 0 {
					c.DescErrDropped++
				}
			})
		}
	}
}

func (s *queueSim) txWorker(tx *vnicstats.TxQueueStats, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pkts := uint64(1 + rand.Intn(16))
			bytes := pkts * uint64(64+rand.Intn(1400))
			tx.Posted += pkts
			tx.Completed += pkts
			if rand.Intn(100) == 0 {
				tx.Stop++
				tx.Wake++
			}
			tx.Write(func(c *vnicstats.TxQueueCounters) {
				c.PacketsDone += pkts
				c.BytesDone += bytes
			})
			tx.SetEventCounter(uint32(tx.Completed))
		}
	}
}

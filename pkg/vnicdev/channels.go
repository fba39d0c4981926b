// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Channels mirrors the channel report of the export surface. Other and
// combined channels are fixed at zero for this device.
type Channels struct {
	MaxRx         uint32
	MaxTx         uint32
	MaxOther      uint32
	MaxCombined   uint32
	RxCount       uint32
	TxCount       uint32
	OtherCount    uint32
	CombinedCount uint32
}

// QueueManager is the external queue lifecycle collaborator. It owns the
// teardown and rebuild of datapath queues and the admin queue commands
// that registers them with the device.
type QueueManager interface {
	// AdjustQueues resizes the active queue sets of a device whose link
	// is up, draining and rebuilding datapath resources. It blocks until
	// the resize definitively succeeds or fails; no mid-resize
	// cancellation is supported. On success the manager has attached the
	// rebuilt statistics arrays via Device.AttachQueues.
	AdjustQueues(d *Device, newRx, newTx QueueConfig) error
}

// GetChannels reports the current channel configuration.
func (d *Device) GetChannels() Channels {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	return d.channelsLocked()
}

func (d *Device) channelsLocked() Channels {
	return Channels{
		MaxRx:   uint32(d.rxCfg.MaxQueues),
		MaxTx:   uint32(d.txCfg.MaxQueues),
		RxCount: uint32(d.rxCfg.NumQueues),
		TxCount: uint32(d.txCfg.NumQueues),
	}
}

// SetChannels changes the active queue counts. With the link down the new
// counts are a pure metadata update; with the link up the change is
// delegated to the queue lifecycle manager, whose result is propagated
// unchanged and no partial state is applied locally.
func (d *Device) SetChannels(req Channels) error {
	logger := log.WithField("func", "SetChannels").WithField("pkg", "vnicdev")

	d.mu.Lock()
	defer d.mu.Unlock()

	d.qmu.RLock()
	cur := d.channelsLocked()
	d.qmu.RUnlock()

	if req.OtherCount != cur.OtherCount || req.CombinedCount != cur.CombinedCount {
		return fmt.Errorf("%w: other and combined channel counts are fixed", ErrInvalidArgument)
	}
	if req.RxCount == 0 || req.TxCount == 0 {
		return fmt.Errorf("%w: rx and tx channel counts must be at least 1", ErrInvalidArgument)
	}
	if req.RxCount > cur.MaxRx || req.TxCount > cur.MaxTx {
		return fmt.Errorf("%w: requested %d/%d channels exceed device maximum %d/%d",
			ErrInvalidArgument, req.RxCount, req.TxCount, cur.MaxRx, cur.MaxTx)
	}

	if !d.LinkUp() {
		// No traffic is flowing; the queue arrays are rebuilt at the
		// next bring-up.
		d.qmu.Lock()
		d.rxCfg.NumQueues = int(req.RxCount)
		d.txCfg.NumQueues = int(req.TxCount)
		d.qmu.Unlock()
		logger.Debugf("channels updated offline rx:%d tx:%d", req.RxCount, req.TxCount)
		return nil
	}

	if d.queues == nil {
		return fmt.Errorf("%w: no queue lifecycle manager attached", ErrUnsupported)
	}

	newRx := d.rxCfg
	newRx.NumQueues = int(req.RxCount)
	newTx := d.txCfg
	newTx.NumQueues = int(req.TxCount)

	logger.Debugf("delegating live resize rx:%d tx:%d", req.RxCount, req.TxCount)
	if err := d.queues.AdjustQueues(d, newRx, newTx); err != nil {
		logger.WithError(err).Error("live queue resize failed")
		return err
	}

	d.qmu.Lock()
	d.rxCfg = newRx
	d.txCfg = newTx
	d.qmu.Unlock()
	return nil
}

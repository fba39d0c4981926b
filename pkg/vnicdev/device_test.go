// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicdev

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openvnic/vnic-agent/pkg/adminq"
	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

func TestVnicdev(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Vnicdev Test Suite")
}

type resizeCall struct {
	rx QueueConfig
	tx QueueConfig
}

type fakeQueueManager struct {
	calls []resizeCall
	err   error
}

func (m *fakeQueueManager) AdjustQueues(d *Device, newRx, newTx QueueConfig) error {
	m.calls = append(m.calls, resizeCall{rx: newRx, tx: newTx})
	if m.err != nil {
		return m.err
	}
	d.AttachQueues(newRxStats(newRx.NumQueues), newTxStats(newTx.NumQueues))
	return nil
}

func testConfig(aq adminq.AdminQueue, qm QueueManager) Config {
	return Config{
		Version:      "0.1-test",
		RxQueues:     4,
		MaxRxQueues:  16,
		TxQueues:     4,
		MaxTxQueues:  16,
		RingSize:     1024,
		MaxRingSize:  1024,
		MTU:          1500,
		RxCopybreak:  256,
		AdminQueue:   aq,
		QueueManager: qm,
	}
}

func statsByName(d *Device) map[string]uint64 {
	names := d.StatNames()
	data := d.CollectStats()
	out := map[string]uint64{}
	for i, n := range names {
		out[n] = data[i]
	}
	return out
}

var _ = Describe("New", func() {
	It("rejects a missing admin queue", func() {
		cfg := testConfig(nil, nil)
		_, err := New(cfg)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})

	It("rejects zero queue counts", func() {
		cfg := testConfig(adminq.NewLoopback(), nil)
		cfg.RxQueues = 0
		_, err := New(cfg)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})

	It("rejects counts above the device maximum", func() {
		cfg := testConfig(adminq.NewLoopback(), nil)
		cfg.TxQueues = 17
		_, err := New(cfg)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})

	It("generates an instance identity when none is given", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
		info := d.DriverInfo()
		Expect(info.Driver).To(Equal(DriverName))
		Expect(info.Version).To(Equal("0.1-test"))
		Expect(info.BusInfo).NotTo(BeEmpty())
	})
})

var _ = Describe("Channels", func() {
	var (
		d  *Device
		qm *fakeQueueManager
	)

	BeforeEach(func() {
		qm = &fakeQueueManager{}
		var err error
		d, err = New(testConfig(adminq.NewLoopback(), qm))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports fixed-zero other and combined channels", func() {
		ch := d.GetChannels()
		Expect(ch.MaxRx).To(Equal(uint32(16)))
		Expect(ch.MaxTx).To(Equal(uint32(16)))
		Expect(ch.MaxOther).To(BeZero())
		Expect(ch.MaxCombined).To(BeZero())
		Expect(ch.RxCount).To(Equal(uint32(4)))
		Expect(ch.TxCount).To(Equal(uint32(4)))
		Expect(ch.OtherCount).To(BeZero())
		Expect(ch.CombinedCount).To(BeZero())
	})

	It("rejects zero rx or tx counts", func() {
		for _, k := range []uint32{1, 2, 8, 16} {
			err := d.SetChannels(Channels{RxCount: 0, TxCount: k})
			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
			err = d.SetChannels(Channels{RxCount: k, TxCount: 0})
			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		}
		Expect(qm.calls).To(BeEmpty())
	})

	It("rejects a change to the combined or other channel counts", func() {
		err := d.SetChannels(Channels{RxCount: 4, TxCount: 4, CombinedCount: 1})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		err = d.SetChannels(Channels{RxCount: 4, TxCount: 4, OtherCount: 2})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		Expect(qm.calls).To(BeEmpty())
	})

	It("rejects counts above the device maximum", func() {
		err := d.SetChannels(Channels{RxCount: 17, TxCount: 4})
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		Expect(qm.calls).To(BeEmpty())
	})

	It("applies the new counts directly while the link is down", func() {
		Expect(d.LinkUp()).To(BeFalse())
		Expect(d.SetChannels(Channels{RxCount: 3, TxCount: 5})).To(Succeed())

		ch := d.GetChannels()
		Expect(ch.RxCount).To(Equal(uint32(3)))
		Expect(ch.TxCount).To(Equal(uint32(5)))
		Expect(qm.calls).To(BeEmpty())
	})

	It("delegates to the queue manager while the link is up", func() {
		d.SetLinkUp(true)
		Expect(d.SetChannels(Channels{RxCount: 2, TxCount: 6})).To(Succeed())

		Expect(qm.calls).To(HaveLen(1))
		Expect(qm.calls[0].rx).To(Equal(QueueConfig{NumQueues: 2, MaxQueues: 16}))
		Expect(qm.calls[0].tx).To(Equal(QueueConfig{NumQueues: 6, MaxQueues: 16}))

		ch := d.GetChannels()
		Expect(ch.RxCount).To(Equal(uint32(2)))
		Expect(ch.TxCount).To(Equal(uint32(6)))
	})

	It("propagates a live resize failure unchanged and applies nothing", func() {
		resizeErr := errors.New("create rx queue command timed out")
		qm.err = resizeErr
		d.SetLinkUp(true)

		err := d.SetChannels(Channels{RxCount: 8, TxCount: 8})
		Expect(err).To(Equal(resizeErr))

		ch := d.GetChannels()
		Expect(ch.RxCount).To(Equal(uint32(4)))
		Expect(ch.TxCount).To(Equal(uint32(4)))
	})

	It("refuses a live resize without a queue manager", func() {
		var err error
		d, err = New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
		d.SetLinkUp(true)
		err = d.SetChannels(Channels{RxCount: 2, TxCount: 2})
		Expect(errors.Is(err, ErrUnsupported)).To(BeTrue())
	})

	It("drives the statistics shape from the configured counts", func() {
		Expect(d.SetChannels(Channels{RxCount: 3, TxCount: 5})).To(Succeed())
		Expect(d.CollectStats()).To(HaveLen(vnicstats.StatCount(3, 5)))
		Expect(d.StatNames()).To(HaveLen(d.StatCount()))

		d.DetachQueues()
		Expect(d.CollectStats()).To(HaveLen(vnicstats.StatCount(3, 5)))
	})
})

var _ = Describe("Tunables", func() {
	var d *Device

	BeforeEach(func() {
		var err error
		d, err = New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a copybreak above the mtu", func() {
		err := d.SetTunable(TunableRxCopybreak, d.MTU()+1)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())

		v, err := d.GetTunable(TunableRxCopybreak)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(256)))
	})

	It("accepts a copybreak up to the mtu and reflects it", func() {
		Expect(d.SetTunable(TunableRxCopybreak, d.MTU())).To(Succeed())
		v, err := d.GetTunable(TunableRxCopybreak)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(1500)))
		Expect(d.RxCopybreak()).To(Equal(uint32(1500)))
	})

	It("rejects an unknown tunable identity", func() {
		_, err := d.GetTunable(Tunable(99))
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		err = d.SetTunable(Tunable(99), 1)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})
})

var _ = Describe("PrivFlags", func() {
	var (
		d  *Device
		aq *adminq.Loopback
	)

	BeforeEach(func() {
		aq = adminq.NewLoopback()
		var err error
		d, err = New(testConfig(aq, nil))
		Expect(err).NotTo(HaveOccurred())
	})

	It("advertises the flag names in bit order", func() {
		Expect(d.PrivFlagNames()).To(Equal([]string{"report-stats"}))
	})

	It("issues exactly one enable and one disable for an on/off toggle", func() {
		original := d.GetPrivFlags()

		Expect(d.SetPrivFlags(FlagReportStats)).To(Succeed())
		Expect(d.GetPrivFlags() & FlagReportStats).NotTo(BeZero())
		bufLen, bufAddr := aq.ReportConfig()
		Expect(bufLen).To(Equal(uint64(8 * d.StatCount())))
		Expect(bufAddr).NotTo(BeZero())

		Expect(d.SetPrivFlags(0)).To(Succeed())
		Expect(d.GetPrivFlags()).To(Equal(original))
		bufLen, bufAddr = aq.ReportConfig()
		Expect(bufLen).To(BeZero())
		Expect(bufAddr).To(BeZero())

		Expect(aq.Counters().ReportStats).To(Equal(uint64(2)))
	})

	It("does not re-issue the command when the flag state is unchanged", func() {
		Expect(d.SetPrivFlags(FlagReportStats)).To(Succeed())
		Expect(d.SetPrivFlags(FlagReportStats)).To(Succeed())
		Expect(aq.Counters().ReportStats).To(Equal(uint64(1)))
	})

	It("keeps the bitset on a failed device command", func() {
		aq.CommandErr = errors.New("device rejected command")
		err := d.SetPrivFlags(FlagReportStats)
		Expect(errors.Is(err, ErrDeviceCommand)).To(BeTrue())
		Expect(d.GetPrivFlags()).To(BeZero())

		aq.CommandErr = nil
		Expect(d.SetPrivFlags(FlagReportStats)).To(Succeed())
		Expect(d.GetPrivFlags() & FlagReportStats).NotTo(BeZero())
	})
})

var _ = Describe("Reset", func() {
	It("rejects any scope but a full reset", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
		err = d.Reset(ResetScope(3))
		Expect(errors.Is(err, ErrUnsupported)).To(BeTrue())
	})

	It("delegates a full reset and counts it", func() {
		resets := 0
		cfg := testConfig(adminq.NewLoopback(), nil)
		cfg.ResetFunc = func() error {
			resets++
			return nil
		}
		d, err := New(cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Reset(ResetAll)).To(Succeed())
		Expect(resets).To(Equal(1))
		Expect(statsByName(d)["reset_cnt"]).To(Equal(uint64(1)))
	})

	It("propagates a reset failure without counting it", func() {
		resetErr := errors.New("reset handler failed")
		cfg := testConfig(adminq.NewLoopback(), nil)
		cfg.ResetFunc = func() error { return resetErr }
		d, err := New(cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Reset(ResetAll)).To(Equal(resetErr))
		Expect(statsByName(d)["reset_cnt"]).To(BeZero())
	})
})

var _ = Describe("Link accounting", func() {
	It("counts link transitions once per flap", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())

		d.SetLinkUp(true)
		d.SetLinkUp(true) // no-op
		d.SetLinkUp(false)
		d.SetLinkUp(true)

		byName := statsByName(d)
		Expect(byName["interface_up_cnt"]).To(Equal(uint64(2)))
		Expect(byName["interface_down_cnt"]).To(Equal(uint64(1)))
	})

	It("counts transmit timeouts", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
		d.NoteTxTimeout()
		d.NoteTxTimeout()
		Expect(statsByName(d)["tx_timeouts"]).To(Equal(uint64(2)))
	})
})

var _ = Describe("Statistics through the device", func() {
	It("aggregates live queue counters into the export set", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())

		rx0 := d.RxQueueStats(0)
		Expect(rx0).NotTo(BeNil())
		rx0.Write(func(c *vnicstats.RxQueueCounters) {
			c.Packets += 3
			c.Bytes += 300
		})
		tx1 := d.TxQueueStats(1)
		Expect(tx1).NotTo(BeNil())
		tx1.Write(func(c *vnicstats.TxQueueCounters) {
			c.PacketsDone += 2
			c.BytesDone += 128
		})

		byName := statsByName(d)
		Expect(byName["rx_packets"]).To(Equal(uint64(3)))
		Expect(byName["rx_bytes[0]"]).To(Equal(uint64(300)))
		Expect(byName["tx_packets"]).To(Equal(uint64(2)))
		Expect(byName["tx_bytes[1]"]).To(Equal(uint64(128)))
	})

	It("returns nil for out-of-range queue slots", func() {
		d, err := New(testConfig(adminq.NewLoopback(), nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(d.RxQueueStats(99)).To(BeNil())
		Expect(d.TxQueueStats(-1)).To(BeNil())
	})
})

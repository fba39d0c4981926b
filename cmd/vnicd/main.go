// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/safchain/ethtool"
	"golang.org/x/time/rate"

	"github.com/openvnic/vnic-agent/pkg/adminq"
	"github.com/openvnic/vnic-agent/pkg/hostlink"
	"github.com/openvnic/vnic-agent/pkg/vnicdev"
	"github.com/openvnic/vnic-agent/pkg/vnicstats"
)

// This is overridden in the linker script
var BuildVersion = "version unknown"

var (
	addr        = flag.String("address", ":33010", "Address on which metrics are exposed")
	backingIf   = flag.String("interface", "", "Host interface whose carrier and MTU the device mirrors")
	configPath  = flag.String("config", "", "Path to the runtime configuration file")
	rxQueues    = flag.Int("rx-queues", 4, "Initial receive queue count")
	txQueues    = flag.Int("tx-queues", 4, "Initial transmit queue count")
	maxQueues   = flag.Int("max-queues", 16, "Maximum queue count per direction")
	mtu         = flag.Uint("mtu", 1500, "Initial maximum transfer unit")
	simInterval = flag.Duration("sim-interval", 10*time.Millisecond, "Simulated datapath tick interval")

	sanitizeNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	queueNumberRegex  = regexp.MustCompile(`^([a-z_]+)\[(\d+)\]$`)
)

type ethtoolInterface interface {
	DriverName(intf string) (string, error)
}

var (
	getEthtool  = func() (ethtoolInterface, error) { return ethtool.NewEthtool() }
	hostlinkNew = hostlink.Init
)

type prometheusHandler struct {
	handler http.Handler
}

var limiter = rate.NewLimiter(1, 3)

func (ph *prometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET requests are allowed!", http.StatusMethodNotAllowed)
		return
	}
	if !limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	ph.handler.ServeHTTP(w, r)
}

// transformStatName splits a per-queue statistic name into its metric base
// name and queue number label, eg rx_bytes[3] becomes (rx_bytes, "3").
// Device-level names pass through with an empty queue label.
func transformStatName(name string) (string, string) {
	matches := queueNumberRegex.FindStringSubmatch(name)
	if len(matches) == 3 {
		return sanitizeNameRegex.ReplaceAllString(matches[1], "_"), matches[2]
	}
	return sanitizeNameRegex.ReplaceAllString(name, "_"), ""
}

// vnicCollector exports the device statistic set as prometheus metrics.
// Per-queue statistics share one metric per base name, distinguished by
// the queue number label.
type vnicCollector struct {
	dev           *vnicdev.Device
	backingDriver string
	entries       map[string]*prometheus.Desc
}

// NewVnicCollector returns a collector with a Description map covering
// every statistic the device can advertise.
func NewVnicCollector(dev *vnicdev.Device, backingDriver string) *vnicCollector {
	entries := map[string]*prometheus.Desc{}
	// StatNames(1, 1) yields every distinct base name.
	for _, name := range vnicstats.StatNames(1, 1) {
		base, _ := transformStatName(name)
		if _, exists := entries[base]; exists {
			continue
		}
		entries[base] = prometheus.NewDesc(
			prometheus.BuildFQName("", "vnic", base),
			base,
			[]string{"vnic_instance", "vnic_backing_interface", "vnic_backing_driver", "vnic_queue_number"},
			nil,
		)
	}
	return &vnicCollector{
		dev:           dev,
		backingDriver: backingDriver,
		entries:       entries,
	}
}

// Describe sends descriptions to the prometheus channel
func (vc *vnicCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, e := range vc.entries {
		ch <- e
	}
}

// Collect aggregates the device statistic set and sends one metric per
// entry to the prometheus channel.
func (vc *vnicCollector) Collect(ch chan<- prometheus.Metric) {
	logger := log.WithField("func", "Collect")

	names := vc.dev.StatNames()
	data := vc.dev.CollectStats()
	if len(names) != len(data) {
		logger.Errorf("statistic set mismatch names:%d values:%d", len(names), len(data))
		return
	}

	info := vc.dev.DriverInfo()
	for i, name := range names {
		base, queue := transformStatName(name)
		desc, exists := vc.entries[base]
		if !exists {
			continue
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(data[i]),
			info.BusInfo,
			*backingIf,
			vc.backingDriver,
			queue,
		)
	}
}

// mirrorHostLink seeds the device's link and MTU state from the backing
// host interface and keeps the carrier state updated until done closes.
func mirrorHostLink(dev *vnicdev.Device, ifname string, done <-chan struct{}) error {
	logger := log.WithField("func", "mirrorHostLink")

	hl, err := hostlinkNew(ifname)
	if err != nil {
		return err
	}
	if m, err := hl.MTU(); err == nil {
		dev.SetMTU(m)
	} else {
		logger.WithError(err).Errorf("unable to read mtu of %s", ifname)
	}
	up, err := hl.Carrier()
	if err != nil {
		return err
	}
	dev.SetLinkUp(up)

	updates := make(chan bool, 16)
	if err := hl.SubscribeCarrier(updates, done); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case up := <-updates:
				logger.Infof("backing interface %s carrier:%v", ifname, up)
				dev.SetLinkUp(up)
			case <-done:
				return
			}
		}
	}()
	return nil
}

func backingDriverName(ifname string) string {
	if ifname == "" {
		return "none"
	}
	logger := log.WithField("func", "backingDriverName")
	eth, err := getEthtool()
	if err != nil {
		logger.WithError(err).Error("unable to create ethtool handler")
		return "unknown"
	}
	driver, err := eth.DriverName(ifname)
	if err != nil {
		logger.WithError(err).Errorf("unable to get driver name for %s", ifname)
		return "unknown"
	}
	return driver
}

func init() {
	log.SetLevel(log.DebugLevel)
}

func main() {
	logger := log.WithField("func", "main")
	flag.Parse()

	sim := newQueueSim(*simInterval)
	var dev *vnicdev.Device
	dev, err := vnicdev.New(vnicdev.Config{
		Version:      BuildVersion,
		RxQueues:     *rxQueues,
		MaxRxQueues:  *maxQueues,
		TxQueues:     *txQueues,
		MaxTxQueues:  *maxQueues,
		RingSize:     1024,
		MaxRingSize:  1024,
		MTU:          uint32(*mtu),
		RxCopybreak:  256,
		AdminQueue:   adminq.NewLoopback(),
		QueueManager: sim,
		ResetFunc:    func() error { return sim.Reset(dev) },
	})
	if err != nil {
		logger.Errorf("Error when creating device: %v", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	defer close(done)

	if *backingIf != "" {
		if err := mirrorHostLink(dev, *backingIf, done); err != nil {
			logger.Errorf("Error when mirroring host interface %s: %v", *backingIf, err)
			os.Exit(1)
		}
	} else {
		dev.SetLinkUp(true)
	}

	sim.Start(dev)
	defer sim.Stop()

	if *configPath != "" {
		if rc, err := loadRuntimeConfig(*configPath); err != nil {
			logger.WithError(err).Warn("runtime config not applied at startup")
		} else if err := applyRuntimeConfig(dev, rc); err != nil {
			logger.WithError(err).Warn("runtime config applied with errors")
		}
		if err := watchRuntimeConfig(dev, *configPath, done); err != nil {
			logger.Errorf("Error when watching runtime config: %v", err)
			os.Exit(1)
		}
	}

	collector := NewVnicCollector(dev, backingDriverName(*backingIf))
	prometheus.MustRegister(collector)

	http.Handle("/metrics", &prometheusHandler{handler: promhttp.Handler()})
	server := &http.Server{Addr: *addr}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("vnicd http server returned:%v", err)
			os.Exit(1)
		}
	}()
	logger.Infof("vnicd serving metrics on %s instance:%s", *addr, dev.DriverInfo().BusInfo)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Infof("received %v, shutting down", sig)
	server.Close()
}

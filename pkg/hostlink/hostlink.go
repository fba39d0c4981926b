// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

// Package hostlink provides a narrow netlink-backed view of a host network
// interface: carrier state, MTU and carrier-change notifications. The agent
// mirrors these into a device instance so reconfiguration decisions and the
// copy-break bound track the backing interface.
package hostlink

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// HostLink is the view of one backing host interface.
type HostLink interface {
	Name() string
	Carrier() (bool, error)
	MTU() (uint32, error)
	// SubscribeCarrier forwards carrier state changes of this interface
	// to updates until done is closed.
	SubscribeCarrier(updates chan<- bool, done <-chan struct{}) error
}

type hostLinkObject struct {
	name  string
	index int
}

var (
	netlinkLinkByName    = netlink.LinkByName
	netlinkLinkSubscribe = netlink.LinkSubscribe
)

// Init resolves the named host interface.
func Init(ifname string) (HostLink, error) {
	link, err := netlinkLinkByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve interface %s: %v", ifname, err)
	}
	return &hostLinkObject{name: ifname, index: link.Attrs().Index}, nil
}

func (h *hostLinkObject) Name() string {
	return h.name
}

func linkRunning(attrs *netlink.LinkAttrs) bool {
	return attrs.RawFlags&unix.IFF_RUNNING != 0
}

// Carrier reports whether the interface currently has carrier.
func (h *hostLinkObject) Carrier() (bool, error) {
	link, err := netlinkLinkByName(h.name)
	if err != nil {
		return false, err
	}
	return linkRunning(link.Attrs()), nil
}

// MTU returns the interface's current maximum transfer unit.
func (h *hostLinkObject) MTU() (uint32, error) {
	link, err := netlinkLinkByName(h.name)
	if err != nil {
		return 0, err
	}
	return uint32(link.Attrs().MTU), nil
}

// SubscribeCarrier implements HostLink. Updates for other interfaces on
// the netlink socket are filtered out.
func (h *hostLinkObject) SubscribeCarrier(updates chan<- bool, done <-chan struct{}) error {
	logger := log.WithField("func", "SubscribeCarrier").WithField("pkg", "hostlink")

	ch := make(chan netlink.LinkUpdate)
	if err := netlinkLinkSubscribe(ch, done); err != nil {
		return fmt.Errorf("unable to subscribe to link updates: %v", err)
	}

	go func() {
		for update := range ch {
			if int(update.Index) != h.index {
				continue
			}
			running := update.IfInfomsg.Flags&unix.IFF_RUNNING != 0
			logger.Debugf("carrier update for %s running:%v", h.name, running)
			updates <- running
		}
	}()
	return nil
}

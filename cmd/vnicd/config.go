// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/openvnic/vnic-agent/pkg/vnicdev"
)

var (
	getFsNotifyWatcher = fsnotify.NewWatcher
	readFile           = os.ReadFile
)

// runtimeConfig is the operator-editable runtime configuration applied to
// the device whenever the config file changes.
type runtimeConfig struct {
	RxQueues    uint32  `json:"rxQueues"`
	TxQueues    uint32  `json:"txQueues"`
	ReportStats bool    `json:"reportStats"`
	RxCopybreak *uint32 `json:"rxCopybreak,omitempty"`
}

func loadRuntimeConfig(path string) (*runtimeConfig, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read runtime config %s: %v", path, err)
	}
	rc := &runtimeConfig{}
	if err := json.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("unable to parse runtime config %s: %v", path, err)
	}
	if rc.RxQueues == 0 || rc.TxQueues == 0 {
		return nil, fmt.Errorf("runtime config %s: rxQueues and txQueues must be at least 1", path)
	}
	return rc, nil
}

// applyRuntimeConfig pushes a loaded runtime config into the device
// control surface. Each setting is applied independently so one rejected
// setting does not block the others; the first error is returned.
func applyRuntimeConfig(dev *vnicdev.Device, rc *runtimeConfig) error {
	logger := log.WithField("func", "applyRuntimeConfig")
	var firstErr error

	ch := dev.GetChannels()
	if ch.RxCount != rc.RxQueues || ch.TxCount != rc.TxQueues {
		ch.RxCount = rc.RxQueues
		ch.TxCount = rc.TxQueues
		if err := dev.SetChannels(ch); err != nil {
			logger.WithError(err).Errorf("unable to set channels rx:%d tx:%d", rc.RxQueues, rc.TxQueues)
			firstErr = err
		}
	}

	var flags uint32
	if rc.ReportStats {
		flags |= vnicdev.FlagReportStats
	}
	if flags != dev.GetPrivFlags() {
		if err := dev.SetPrivFlags(flags); err != nil {
			logger.WithError(err).Error("unable to set feature flags")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if rc.RxCopybreak != nil {
		if err := dev.SetTunable(vnicdev.TunableRxCopybreak, *rc.RxCopybreak); err != nil {
			logger.WithError(err).Errorf("unable to set rx copybreak %d", *rc.RxCopybreak)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// watchRuntimeConfig watches the config file's directory and re-applies
// the config on every create or write of the file, until done is closed.
// The directory is watched rather than the file so editors that replace
// the file atomically keep triggering events.
func watchRuntimeConfig(dev *vnicdev.Device, path string, done <-chan struct{}) error {
	logger := log.WithField("func", "watchRuntimeConfig")

	watcher, err := getFsNotifyWatcher()
	if err != nil {
		return fmt.Errorf("unable to create fsnotify watcher: %v", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("unable to watch %s: %v", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				rc, err := loadRuntimeConfig(path)
				if err != nil {
					logger.WithError(err).Error("ignoring unreadable runtime config")
					continue
				}
				if err := applyRuntimeConfig(dev, rc); err != nil {
					logger.WithError(err).Error("runtime config applied with errors")
				} else {
					logger.Infof("runtime config applied rx:%d tx:%d reportStats:%v",
						rc.RxQueues, rc.TxQueues, rc.ReportStats)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Error("fsnotify watcher error")
			case <-done:
				return
			}
		}
	}()
	return nil
}

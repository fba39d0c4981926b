// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OpenVNIC Authors

package vnicstats

import "fmt"

// The advertised statistic names. Their order is load-bearing: Collect
// emits values in exactly this order, and StatCount must stay equal to
// len(StatNames) for every queue configuration.
var (
	deviceStatNames = []string{
		"rx_packets", "rx_total_bytes", "rx_total_dropped_pkt",
		"rx_buf_alloc_fail", "rx_page_alloc_fail", "rx_dma_mapping_error",
		"rx_desc_err_dropped_pkt", "tx_packets", "tx_total_bytes",
		"tx_total_dropped_pkt", "tx_timeouts", "interface_up_cnt",
		"interface_down_cnt", "reset_cnt",
	}

	rxQueueStatNames = []string{
		"rx_posted_desc[%d]", "rx_completed_desc[%d]", "rx_bytes[%d]",
		"rx_dropped_pkt[%d]", "rx_copybreak_pkt[%d]", "rx_copied_pkt[%d]",
	}

	txQueueStatNames = []string{
		"tx_posted_desc[%d]", "tx_completed_desc[%d]", "tx_bytes[%d]",
		"tx_wake[%d]", "tx_stop[%d]", "tx_event_counter[%d]",
	}

	adminqStatNames = []string{
		"adminq_prod_cnt", "adminq_cmd_fail", "adminq_timeouts",
		"adminq_describe_device_cnt", "adminq_cfg_device_resources_cnt",
		"adminq_register_page_list_cnt", "adminq_unregister_page_list_cnt",
		"adminq_create_tx_queue_cnt", "adminq_create_rx_queue_cnt",
		"adminq_destroy_tx_queue_cnt", "adminq_destroy_rx_queue_cnt",
		"adminq_dcfg_device_resources_cnt", "adminq_set_driver_parameter_cnt",
		"adminq_report_stats_cnt",
	}

	privFlagNames = []string{
		"report-stats",
	}
)

// StatCount returns the number of statistics advertised for the given
// queue configuration.
func StatCount(rxQueues, txQueues int) int {
	return len(deviceStatNames) + len(adminqStatNames) +
		rxQueues*len(rxQueueStatNames) + txQueues*len(txQueueStatNames)
}

// StatNames returns the advertised statistic names for the given queue
// configuration, in emission order: device block, per-receive-queue
// blocks, per-transmit-queue blocks, admin queue block.
func StatNames(rxQueues, txQueues int) []string {
	names := make([]string, 0, StatCount(rxQueues, txQueues))
	names = append(names, deviceStatNames...)
	for q := 0; q < rxQueues; q++ {
		for _, tmpl := range rxQueueStatNames {
			names = append(names, fmt.Sprintf(tmpl, q))
		}
	}
	for q := 0; q < txQueues; q++ {
		for _, tmpl := range txQueueStatNames {
			names = append(names, fmt.Sprintf(tmpl, q))
		}
	}
	names = append(names, adminqStatNames...)
	return names
}

// PrivFlagNames returns the advertised feature flag names in bit order.
func PrivFlagNames() []string {
	names := make([]string, len(privFlagNames))
	copy(names, privFlagNames)
	return names
}

// PrivFlagCount returns the number of advertised feature flags.
func PrivFlagCount() int {
	return len(privFlagNames)
}

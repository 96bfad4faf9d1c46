// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	Spaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peercall_spaces",
		Help: "Number of origin spaces held by the hub",
	})
	Windows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peercall_windows",
		Help: "Number of windows attached across all spaces",
	})
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peercall_relay_connections",
		Help: "Number of open relay WebSocket connections",
	})
)

// Counters
var (
	StorageWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peercall_storage_writes_total",
		Help: "Storage mutations that changed a space, by operation",
	}, []string{"op"})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peercall_events_delivered_total",
		Help: "Storage events queued for delivery to windows",
	})
	WindowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peercall_windows_dropped_total",
		Help: "Windows detached because their event buffer was full",
	})
	RelayRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peercall_relay_rejected_total",
		Help: "Relay connection attempts rejected, by reason",
	}, []string{"reason"})
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peercall_relay_messages_total",
		Help: "Relay WebSocket frames handled, by op",
	}, []string{"op"})
)

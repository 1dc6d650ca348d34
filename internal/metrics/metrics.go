// Package metrics содержит метрики Prometheus сервиса обменов
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardtrade"

var (
	// Завершение обменов
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "settlements_total",
			Help:      "Settlement attempts by result",
		},
		[]string{"result"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "settlement_duration_seconds",
			Help:      "Duration of the settlement transaction",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ConfirmConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "confirm_conflicts_total",
			Help:      "Optimistic concurrency conflicts retried while confirming a side",
		},
	)

	TradeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "status_transitions_total",
			Help:      "Trade status transitions",
		},
		[]string{"status"},
	)

	// Запросы и приглашения
	RequestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "transitions_total",
			Help:      "Trade request transitions by status",
		},
		[]string{"status"},
	)

	InviteTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invite",
			Name:      "transitions_total",
			Help:      "Room invite transitions by status",
		},
		[]string{"status"},
	)

	// Доставка событий
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of websocket connections",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events handed to a transport",
		},
		[]string{"transport", "result"},
	)
)

// Результаты завершения обмена
const (
	ResultCompleted = "completed"
	ResultError     = "error"
)

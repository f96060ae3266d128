// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointments_booked_total",
		Help: "Appointments successfully booked, by source channel and type.",
	}, []string{"source", "type"})

	BookingRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_booking_rejections_total",
		Help: "Booking requests rejected before persistence, by reason.",
	}, []string{"reason"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_status_transitions_total",
		Help: "Lifecycle transitions applied, by target status.",
	}, []string{"to"})

	SideEffectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_side_effects_total",
		Help: "Best-effort side effect outcomes, by effect and outcome.",
	}, []string{"effect", "outcome"})

	OutboxDispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_dispatch_duration_seconds",
		Help:    "Time spent delivering one outbox record.",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

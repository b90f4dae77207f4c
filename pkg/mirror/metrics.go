// Copyright 2024-2026 Aiku AI

package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanmirror_events_published_total",
			Help: "Events emitted by the group assembler",
		},
		[]string{"type"},
	)

	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanmirror_events_applied_total",
			Help: "Events successfully applied by the delivery engine",
		},
		[]string{"type"},
	)

	EventRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_event_retries_total",
			Help: "Event-level retry cycles after a delivery failure",
		},
	)

	GroupsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chanmirror_groups_flushed_total",
			Help: "Pending message groups flushed",
		},
		[]string{"reason"}, // "follower", "timer"
	)

	// Target side effects
	StatusesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_statuses_posted_total",
			Help: "New statuses published to the target platform",
		},
	)

	AttachmentRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_attachment_retries_total",
			Help: "Publish retries while attachments were still processing",
		},
	)

	// Rate limit metrics
	VisibilityEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_visibility_escalations_total",
			Help: "Posts granted elevated visibility",
		},
	)

	VisibilityThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_visibility_throttled_total",
			Help: "Elevated-visibility grants denied by the rate limiter",
		},
	)

	// Liveness
	WatchdogTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chanmirror_watchdog_timeouts_total",
			Help: "Watchdog deadline expirations",
		},
	)
)

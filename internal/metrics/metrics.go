// Package metrics holds the Prometheus collectors for the chat core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalchat_messages_posted_total",
		Help: "Number of chat messages accepted into the log.",
	})

	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portalchat_messages_rejected_total",
		Help: "Number of rejected post attempts by reason.",
	}, []string{"reason"})

	ReactionsToggled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalchat_reactions_toggled_total",
		Help: "Number of successful reaction toggles.",
	})

	ReportsFiled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalchat_reports_filed_total",
		Help: "Number of reports accepted into the review queue.",
	})

	BansActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portalchat_bans_active",
		Help: "Number of currently banned devices.",
	})

	SessionsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portalchat_sessions_online",
		Help: "Number of sessions currently in the room.",
	})
)

package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promptsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maya_prompts_sent_total",
		Help: "Chat turns that completed and were committed to usage.",
	})

	capacityDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maya_capacity_denials_total",
		Help: "Requests denied on a quota cap.",
	}, []string{"cap"})

	voiceDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maya_voice_denials_total",
		Help: "Voice preflights rejected at admission.",
	}, []string{"reason"})

	voiceSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maya_voice_sessions_started_total",
		Help: "Voice sessions admitted and provisioned.",
	})
)

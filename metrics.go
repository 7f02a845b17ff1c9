/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_gateway_requests_total",
		Help: "Total number of calls to the game service, by operation and result.",
	}, []string{"op", "result"})
	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bouncer_gateway_request_duration_seconds",
		Help:    "Latency of calls to the game service.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_decisions_total",
		Help: "Total number of decisions confirmed by the game service.",
	}, []string{"decision"})
	decisionsRefusedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_decisions_refused_total",
		Help: "Total number of decision inputs refused locally, by reason.",
	}, []string{"reason"})
	statusPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_status_polls_total",
		Help: "Total number of game status refreshes, by trigger and result.",
	}, []string{"trigger", "result"})
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_sessions_total",
		Help: "Total number of sessions started, by how they were started.",
	}, []string{"kind"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func decisionLabel(accepted bool) string {
	if accepted {
		return "accept"
	}
	return "reject"
}

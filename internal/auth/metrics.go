// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks authorization workflow counters.
type Metrics struct {
	authAttempts *prometheus.CounterVec
	mailsSent    prometheus.Counter
	mailsFailed  prometheus.Counter
	pending      prometheus.Gauge
}

// NewMetrics creates and registers the authorization metrics. A nil registry
// yields a no-op recorder backed by unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luminauth_auth_attempts_total",
			Help: "Password authentication attempts by result",
		}, []string{"result"}),
		mailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luminauth_verification_mails_sent_total",
			Help: "Verification mails successfully dispatched",
		}),
		mailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luminauth_verification_mails_failed_total",
			Help: "Verification mail dispatch failures",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "luminauth_pending_confirmations",
			Help: "E-mail confirmations awaiting a token",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.authAttempts, m.mailsSent, m.mailsFailed, m.pending)
	}
	return m
}

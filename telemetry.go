// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for the deliveries counter.
const (
	outcomeDelivered = "delivered"
	outcomeTransient = "transient_failure"
	outcomePermanent = "permanent_failure"
)

// Metrics holds the router's prometheus instrumentation.  All Metrics
// methods are nil-safe, so an embedder that does not care about metrics can
// simply leave the field unset.
type Metrics struct {
	EventsSubmitted  prometheus.Counter
	EventsMalformed  prometheus.Counter
	EventsMatched    prometheus.Counter
	PolicyEvalErrors prometheus.Counter
	Deliveries       *prometheus.CounterVec
	RetriesScheduled prometheus.Counter
	DeadLetters      prometheus.Counter
}

// NewMetrics creates and registers the router's collectors against r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	f := promauto.With(r)
	return &Metrics{
		EventsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "events_submitted_total",
			Help:      "Raw event records submitted for routing",
		}),
		EventsMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "events_malformed_total",
			Help:      "Raw event records rejected at ingestion",
		}),
		EventsMatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "subscriptions_matched_total",
			Help:      "Subscription matches across all routed events",
		}),
		PolicyEvalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "policy_eval_errors_total",
			Help:      "Filter policy evaluations that failed with a configuration error",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "deliveries_total",
			Help:      "Delivery attempt outcomes",
		}, []string{"outcome"}),
		RetriesScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "retries_scheduled_total",
			Help:      "Delivery retries scheduled after a transient failure",
		}),
		DeadLetters: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventfanout",
			Name:      "dead_letters_total",
			Help:      "Deliveries recorded as dead letters",
		}),
	}
}

func (m *Metrics) incSubmitted() {
	if m != nil {
		m.EventsSubmitted.Inc()
	}
}

func (m *Metrics) incMalformed() {
	if m != nil {
		m.EventsMalformed.Inc()
	}
}

func (m *Metrics) addMatched(n int) {
	if m != nil {
		m.EventsMatched.Add(float64(n))
	}
}

func (m *Metrics) incPolicyEvalError() {
	if m != nil {
		m.PolicyEvalErrors.Inc()
	}
}

func (m *Metrics) incDelivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incRetryScheduled() {
	if m != nil {
		m.RetriesScheduled.Inc()
	}
}

func (m *Metrics) incDeadLetter() {
	if m != nil {
		m.DeadLetters.Inc()
	}
}

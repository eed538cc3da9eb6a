// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package eventfanout routes storage-change events to independently
// filtered subscribers.  A Router evaluates every confirmed subscription's
// filter policy against each inbound event and hands the matches to a
// DeliveryTracker, which drives each delivery through bounded retries and
// dead-letters deliveries that permanently fail.
package eventfanout

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Registry is the source of truth for subscriptions.  Required.  A
	// Registry may be shared between Routers, e.g. one Router per producer.
	Registry *Registry

	// Tracker dispatches matched deliveries.  Required.
	Tracker *DeliveryTracker

	// Logger defaults to a no-op logger when nil.
	Logger *zerolog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Router fans inbound events out to every confirmed subscription whose
// filter policy matches.  Route may be invoked concurrently for multiple
// in-flight events; matching only performs registry reads and predicate
// evaluation shares no mutable state.
type Router struct {
	registry *Registry
	tracker  *DeliveryTracker
	logger   zerolog.Logger
	metrics  *Metrics
}

// NewRouter creates a Router.
func NewRouter(c RouterConfig) (*Router, error) {
	const op = "eventfanout.NewRouter"
	if c.Registry == nil {
		return nil, fmt.Errorf("%s: missing registry", op)
	}
	if c.Tracker == nil {
		return nil, fmt.Errorf("%s: missing tracker", op)
	}
	logger := zerolog.Nop()
	if c.Logger != nil {
		logger = *c.Logger
	}
	return &Router{
		registry: c.Registry,
		tracker:  c.Tracker,
		logger:   logger,
		metrics:  c.Metrics,
	}, nil
}

// Submit validates a raw producer record and routes the resulting event.
// A malformed record is rejected synchronously with a *MalformedEventError
// and never enters the routing pipeline.
func (r *Router) Submit(ctx context.Context, raw map[string]interface{}) (int, error) {
	r.metrics.incSubmitted()
	e, err := ParseRawEvent(raw)
	if err != nil {
		r.metrics.incMalformed()
		return 0, err
	}
	return r.Route(ctx, e)
}

// Route takes a snapshot of the confirmed subscriptions, evaluates each
// subscription's filter policy against the event, and dispatches one
// delivery attempt per match.  It returns the number of matched
// subscriptions for which a delivery attempt was created, without blocking
// on delivery completion.
//
// A subscription whose policy fails to evaluate, or whose dispatch fails,
// is skipped for this event and reported: the errors are logged and
// aggregated into the returned error, but they never prevent delivery to
// the remaining subscriptions.  The count is authoritative whether or not
// an error is returned.
func (r *Router) Route(ctx context.Context, e *Event) (int, error) {
	const op = "eventfanout.(Router).Route"
	if e == nil {
		return 0, fmt.Errorf("%s: missing event", op)
	}

	snapshot := r.registry.ListConfirmed()

	var matched int
	var errs *multierror.Error
	for _, sub := range snapshot {
		ok, err := sub.Policy.Matches(e)
		if err != nil {
			r.metrics.incPolicyEvalError()
			r.logger.Error().Err(err).
				Str("subscription_id", string(sub.ID)).
				Str("event_name", e.Name).
				Msg("filter policy evaluation failed, subscription skipped for this event")
			errs = multierror.Append(errs, fmt.Errorf("%s: subscription %q: %w", op, sub.ID, err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := r.tracker.Dispatch(ctx, e, sub); err != nil {
			r.logger.Error().Err(err).
				Str("subscription_id", string(sub.ID)).
				Str("event_name", e.Name).
				Msg("dispatch failed, subscription skipped for this event")
			errs = multierror.Append(errs, err)
			continue
		}
		matched++
	}

	r.metrics.addMatched(matched)
	return matched, errs.ErrorOrNil()
}

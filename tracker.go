// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/rs/zerolog"
)

// DeliveryStatus is the state of a delivery attempt, and doubles as the
// classification a Deliverer reports for a single try.
type DeliveryStatus int

const (
	// StatusPending means the attempt has been created but no outcome is
	// known yet.
	StatusPending DeliveryStatus = iota

	// StatusDelivered is terminal: the endpoint accepted the event.
	StatusDelivered

	// StatusTransientFailure means the try failed in a retryable way, e.g.
	// throttling.  The tracker schedules a retry while budget remains.
	StatusTransientFailure

	// StatusPermanentFailure is terminal: the endpoint rejected the event
	// outright or the retry budget was exhausted.
	StatusPermanentFailure
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	case StatusTransientFailure:
		return "transient_failure"
	case StatusPermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// DeliveryResult is what a Deliverer reports for one try.  It is a typed
// result, not an error: transient and permanent failures are expected
// outcomes the tracker acts on, not exceptional conditions.
type DeliveryResult struct {
	Status DeliveryStatus
	Reason string
}

// Success reports an accepted delivery.
func Success() DeliveryResult {
	return DeliveryResult{Status: StatusDelivered}
}

// Transient reports a retryable failure.
func Transient(reason string) DeliveryResult {
	return DeliveryResult{Status: StatusTransientFailure, Reason: reason}
}

// Permanent reports a terminal failure, e.g. an invalid endpoint.
func Permanent(reason string) DeliveryResult {
	return DeliveryResult{Status: StatusPermanentFailure, Reason: reason}
}

// A Deliverer hands a matched event to a subscription's endpoint.  It is
// the sole interface the router requires from the transport layer; email,
// webhook and queue transports all implement it.  Implementations must be
// safe for concurrent use.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, e *Event) DeliveryResult
}

// RetryPolicy bounds the per-delivery retry schedule.
type RetryPolicy struct {
	// MaxAttempts is the total try budget, first attempt included.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the exponentially growing delay.
	MaxInterval time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
}

// DefaultRetryPolicy returns the default schedule: 5 attempts, 1s initial
// delay, doubling, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2,
	}
}

// DeliveryAttempt records the state of one (event, subscription) dispatch.
// The tracker owns these records exclusively; accessors return copies.
type DeliveryAttempt struct {
	ID string

	EventName      string
	SubscriptionID SubscriptionID
	Endpoint       string

	// Attempts is how many tries have run so far.
	Attempts int

	Outcome DeliveryStatus

	// LastReason is the reason reported with the most recent failure.
	LastReason string

	// ScheduledRetryAt is set while a retry timer is pending.
	ScheduledRetryAt time.Time

	CreatedAt time.Time

	// CompletedAt is zero until the attempt reaches a terminal outcome.
	CompletedAt time.Time
}

const attemptIDLength = 20

// TrackerConfig configures a DeliveryTracker.
type TrackerConfig struct {
	// Deliverer hands events to endpoints.  Required.
	Deliverer Deliverer

	// Retry bounds the retry schedule.  Zero-valued fields take the
	// DefaultRetryPolicy values.
	Retry RetryPolicy

	// DeadLetters durably records exhausted and permanently failed
	// deliveries.  Optional; the tracker always retains dead letters in
	// memory for DeadLettered regardless.
	DeadLetters DeadLetterRecorder

	// Logger defaults to a no-op logger when nil.
	Logger *zerolog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// NowFunc returns the current time, defaulting to time.Now.  Settable
	// for tests.
	NowFunc func() time.Time
}

// DeliveryTracker dispatches matched events to a Deliverer and drives each
// delivery attempt through its retry state machine.  Retries are scheduled
// on independent timers, so a slow or failing endpoint never delays
// delivery to other subscriptions or processing of subsequent events.
type DeliveryTracker struct {
	deliverer   Deliverer
	retry       RetryPolicy
	deadLetters DeadLetterRecorder
	logger      zerolog.Logger
	metrics     *Metrics
	nowFunc     func() time.Time

	l        sync.Mutex
	records  map[string]*DeliveryAttempt
	order    []string
	dead     []DeadLetter
	inflight sync.WaitGroup
}

// NewDeliveryTracker creates a DeliveryTracker.  The Deliverer is required.
func NewDeliveryTracker(c TrackerConfig) (*DeliveryTracker, error) {
	const op = "eventfanout.NewDeliveryTracker"
	if c.Deliverer == nil {
		return nil, fmt.Errorf("%s: missing deliverer", op)
	}
	retry := c.Retry
	def := DefaultRetryPolicy()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = def.InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = def.MaxInterval
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = def.Multiplier
	}
	logger := zerolog.Nop()
	if c.Logger != nil {
		logger = *c.Logger
	}
	return &DeliveryTracker{
		deliverer:   c.Deliverer,
		retry:       retry,
		deadLetters: c.DeadLetters,
		logger:      logger,
		metrics:     c.Metrics,
		nowFunc:     c.NowFunc,
		records:     make(map[string]*DeliveryAttempt),
	}, nil
}

// Dispatch creates a DeliveryAttempt for the (event, subscription) pair and
// runs the first try on its own goroutine.  It returns the attempt ID
// immediately; the caller never blocks on delivery.
//
// The attempt is detached from the caller's context cancellation: once an
// event has been matched, delivery proceeds independently of whether the
// producer's submit call is still pending.
func (t *DeliveryTracker) Dispatch(ctx context.Context, e *Event, sub Subscription) (string, error) {
	const op = "eventfanout.(DeliveryTracker).Dispatch"
	if e == nil {
		return "", fmt.Errorf("%s: missing event", op)
	}
	if sub.Endpoint == "" {
		return "", fmt.Errorf("%s: subscription %q has no endpoint", op, sub.ID)
	}
	id, err := base62.Random(attemptIDLength)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	rec := &DeliveryAttempt{
		ID:             id,
		EventName:      e.Name,
		SubscriptionID: sub.ID,
		Endpoint:       sub.Endpoint,
		Outcome:        StatusPending,
		CreatedAt:      t.now(),
	}
	t.l.Lock()
	t.records[id] = rec
	t.order = append(t.order, id)
	t.l.Unlock()

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = t.retry.InitialInterval
	boff.MaxInterval = t.retry.MaxInterval
	boff.Multiplier = t.retry.Multiplier

	t.inflight.Add(1)
	detached := context.WithoutCancel(ctx)
	go t.attempt(detached, e, id, boff)
	return id, nil
}

// attempt runs one try for the delivery.  The first call comes from
// Dispatch's goroutine; later calls come from retry timers, so attempt N+1
// only ever starts after attempt N's outcome is known.
func (t *DeliveryTracker) attempt(ctx context.Context, e *Event, id string, boff *backoff.ExponentialBackOff) {
	t.l.Lock()
	rec := t.records[id]
	rec.Attempts++
	n := rec.Attempts
	endpoint := rec.Endpoint
	t.l.Unlock()

	result := t.deliverer.Deliver(ctx, endpoint, e)
	switch result.Status {
	case StatusDelivered:
		t.finish(rec, StatusDelivered, result.Reason)
		t.metrics.incDelivery(outcomeDelivered)
		t.logger.Debug().
			Str("attempt_id", id).
			Str("subscription_id", string(rec.SubscriptionID)).
			Str("event_name", rec.EventName).
			Int("attempts", n).
			Msg("event delivered")
		t.inflight.Done()

	case StatusTransientFailure:
		if n >= t.retry.MaxAttempts {
			reason := fmt.Sprintf("retry budget exhausted after %d attempts: %s", n, result.Reason)
			t.finish(rec, StatusPermanentFailure, reason)
			t.metrics.incDelivery(outcomePermanent)
			t.deadLetter(ctx, e, rec, reason)
			t.inflight.Done()
			return
		}
		delay := boff.NextBackOff()
		if delay == backoff.Stop {
			delay = t.retry.MaxInterval
		}
		t.l.Lock()
		rec.Outcome = StatusTransientFailure
		rec.LastReason = result.Reason
		rec.ScheduledRetryAt = t.now().Add(delay)
		t.l.Unlock()
		t.metrics.incDelivery(outcomeTransient)
		t.metrics.incRetryScheduled()
		t.logger.Warn().
			Str("attempt_id", id).
			Str("subscription_id", string(rec.SubscriptionID)).
			Str("event_name", rec.EventName).
			Int("attempts", n).
			Dur("retry_in", delay).
			Str("reason", result.Reason).
			Msg("transient delivery failure, retry scheduled")
		time.AfterFunc(delay, func() {
			t.attempt(ctx, e, id, boff)
		})

	default:
		// Permanent failures and any status the deliverer should not have
		// reported are terminal.
		reason := result.Reason
		if result.Status != StatusPermanentFailure {
			reason = fmt.Sprintf("unrecognized delivery status %d: %s", result.Status, reason)
		}
		t.finish(rec, StatusPermanentFailure, reason)
		t.metrics.incDelivery(outcomePermanent)
		t.deadLetter(ctx, e, rec, reason)
		t.inflight.Done()
	}
}

// finish moves the record to a terminal outcome.
func (t *DeliveryTracker) finish(rec *DeliveryAttempt, outcome DeliveryStatus, reason string) {
	t.l.Lock()
	defer t.l.Unlock()
	rec.Outcome = outcome
	rec.LastReason = reason
	rec.ScheduledRetryAt = time.Time{}
	rec.CompletedAt = t.now()
}

// deadLetter records an exhausted or permanently failed delivery so an
// operator can detect a subscriber that stopped receiving events.  Failures
// are retained in memory unconditionally and handed to the configured
// recorder for durable storage.
func (t *DeliveryTracker) deadLetter(ctx context.Context, e *Event, rec *DeliveryAttempt, reason string) {
	t.l.Lock()
	dl := DeadLetter{
		AttemptID:      rec.ID,
		SubscriptionID: rec.SubscriptionID,
		Endpoint:       rec.Endpoint,
		EventName:      rec.EventName,
		Container:      e.Resource.Container,
		Key:            e.Resource.Key,
		TotalAttempts:  rec.Attempts,
		LastReason:     reason,
		CreatedAt:      t.now(),
	}
	t.dead = append(t.dead, dl)
	t.l.Unlock()

	t.metrics.incDeadLetter()
	t.logger.Error().
		Str("attempt_id", dl.AttemptID).
		Str("subscription_id", string(dl.SubscriptionID)).
		Str("event_name", dl.EventName).
		Int("attempts", dl.TotalAttempts).
		Str("reason", dl.LastReason).
		Msg("delivery dead-lettered")

	if t.deadLetters == nil {
		return
	}
	if err := t.deadLetters.Record(ctx, dl); err != nil {
		t.logger.Error().Err(err).
			Str("attempt_id", dl.AttemptID).
			Msg("failed to durably record dead letter")
	}
}

// Lookup returns a copy of the attempt record with the given ID.
func (t *DeliveryTracker) Lookup(id string) (DeliveryAttempt, bool) {
	t.l.Lock()
	defer t.l.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return DeliveryAttempt{}, false
	}
	return *rec, true
}

// Records returns copies of all attempt records in dispatch order.
func (t *DeliveryTracker) Records() []DeliveryAttempt {
	t.l.Lock()
	defer t.l.Unlock()
	out := make([]DeliveryAttempt, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.records[id])
	}
	return out
}

// DeadLettered returns copies of all dead letters recorded so far.
func (t *DeliveryTracker) DeadLettered() []DeadLetter {
	t.l.Lock()
	defer t.l.Unlock()
	out := make([]DeadLetter, len(t.dead))
	copy(out, t.dead)
	return out
}

// Drain blocks until every in-flight delivery, including pending retry
// timers, reaches a terminal outcome.  Intended for shutdown and tests.
func (t *DeliveryTracker) Drain() {
	t.inflight.Wait()
}

func (t *DeliveryTracker) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

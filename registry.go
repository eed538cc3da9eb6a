// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
)

// SubscriptionID uniquely identifies a Subscription within a Registry.
type SubscriptionID string

// ConfirmationState is the lifecycle state of a Subscription.
type ConfirmationState int

const (
	// StatePending means the subscription was registered but the destination
	// has not yet acknowledged interest.  Pending subscriptions receive no
	// deliveries.
	StatePending ConfirmationState = iota

	// StateConfirmed means the destination acknowledged interest and the
	// subscription is eligible for deliveries.
	StateConfirmed

	// StateRemoved is terminal.  Removed subscriptions are never selected
	// again, though deliveries already in flight complete naturally.
	StateRemoved
)

func (s ConfirmationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// A Subscription pairs a delivery endpoint with an optional FilterPolicy
// and a confirmation lifecycle.
type Subscription struct {
	ID SubscriptionID

	// Endpoint is the opaque handle the delivery collaborator uses to route
	// a message.  The router never interprets it.
	Endpoint string

	// Policy is nil for an accept-all subscription.  It is immutable after
	// registration.
	Policy *FilterPolicy

	State ConfirmationState

	CreatedAt time.Time
}

// Registry is the single source of truth for subscriptions and their
// confirmation state.  It is an independently instantiable component with
// no package-level state; every mutation is atomic with respect to
// concurrent callers and readers never observe a half-updated record.
type Registry struct {
	// NowFunc returns the current time, defaulting to time.Now.  Settable
	// for tests.
	NowFunc func() time.Time

	l     sync.RWMutex
	subs  map[SubscriptionID]*Subscription
	order []SubscriptionID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[SubscriptionID]*Subscription),
	}
}

// Register creates a subscription in the Pending state and returns its ID.
// The policy is validated up front: a bad policy never enters the registry.
// A nil policy registers an accept-all subscription.
func (r *Registry) Register(endpoint string, policy *FilterPolicy) (SubscriptionID, error) {
	const op = "eventfanout.(Registry).Register"
	if endpoint == "" {
		return "", fmt.Errorf("%s: missing endpoint", op)
	}
	if err := policy.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	r.l.Lock()
	defer r.l.Unlock()
	sid := SubscriptionID(id)
	r.subs[sid] = &Subscription{
		ID:        sid,
		Endpoint:  endpoint,
		Policy:    policy,
		State:     StatePending,
		CreatedAt: r.now(),
	}
	r.order = append(r.order, sid)
	return sid, nil
}

// Confirm transitions a subscription from Pending to Confirmed.  Confirming
// an already-Confirmed subscription is a no-op.  Unknown IDs yield a
// *NotFoundError; Removed subscriptions yield a *InvalidStateError since
// Removed is terminal.
func (r *Registry) Confirm(id SubscriptionID) error {
	r.l.Lock()
	defer r.l.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if sub.State == StateRemoved {
		return &InvalidStateError{ID: id, State: sub.State}
	}
	sub.State = StateConfirmed
	return nil
}

// Remove transitions a subscription to the terminal Removed state from any
// state.  Removing an already-Removed subscription is a no-op success, so
// Remove is idempotent.  Unknown IDs yield a *NotFoundError.
//
// Removal only prevents future routing from selecting the subscription;
// delivery attempts already dispatched are allowed to complete or exhaust
// their retries naturally.
func (r *Registry) Remove(id SubscriptionID) error {
	r.l.Lock()
	defer r.l.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	sub.State = StateRemoved
	return nil
}

// Lookup returns a copy of the subscription with the given ID.
func (r *Registry) Lookup(id SubscriptionID) (Subscription, error) {
	r.l.RLock()
	defer r.l.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return Subscription{}, &NotFoundError{ID: id}
	}
	return *sub, nil
}

// ListConfirmed returns a snapshot of all Confirmed subscriptions at call
// time, in insertion order.  The returned values are copies: later registry
// mutations are never visible through them.
func (r *Registry) ListConfirmed() []Subscription {
	r.l.RLock()
	defer r.l.RUnlock()
	confirmed := make([]Subscription, 0, len(r.order))
	for _, id := range r.order {
		if sub := r.subs[id]; sub.State == StateConfirmed {
			confirmed = append(confirmed, *sub)
		}
	}
	return confirmed
}

func (r *Registry) now() time.Time {
	if r.NowFunc != nil {
		return r.NowFunc()
	}
	return time.Now()
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import "fmt"

// MalformedEventError reports a raw producer record that could not be
// converted into an Event.  The record is rejected at ingestion and never
// enters the routing pipeline.
type MalformedEventError struct {
	// Field is the raw record field that failed validation, using the
	// producer's wire names (e.g. "resource_locator.object_key").
	Field string

	// Reason describes why the field failed validation.
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: field %q: %s", e.Field, e.Reason)
}

// MalformedPolicyError reports a filter policy that references an unknown
// field or carries an operand that cannot be evaluated (for example an
// invalid wildcard pattern).
type MalformedPolicyError struct {
	Field  string
	Reason string
}

func (e *MalformedPolicyError) Error() string {
	return fmt.Sprintf("malformed filter policy: field %q: %s", e.Field, e.Reason)
}

// TypeMismatchError reports a filter policy operator applied to a field of
// an incompatible type (for example a numeric comparison against
// event_name).  This is a configuration error on the subscription, not a
// property of any particular event, so it is surfaced rather than treated
// as a non-match.
type TypeMismatchError struct {
	Field    string
	Operator string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: operator %q cannot be applied to field %q", e.Operator, e.Field)
}

// NotFoundError reports a registry operation against an unknown
// subscription ID.
type NotFoundError struct {
	ID SubscriptionID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("subscription %q not found", e.ID)
}

// InvalidStateError reports a registry operation that is not legal for the
// subscription's current confirmation state.
type InvalidStateError struct {
	ID    SubscriptionID
	State ConfirmationState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("subscription %q is %s", e.ID, e.State)
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// Field names a FilterPolicy may select on.
const (
	FieldEventName     = "event_name"
	FieldObjectKey     = "resource_locator.object_key"
	FieldContainer     = "resource_locator.container_identifier"
	FieldSizeBytes     = "resource_locator.size_bytes"
	FieldContentHash   = "resource_locator.content_hash"
	FieldVersion       = "resource_locator.version_identifier"
	FieldPrincipal     = "origin.principal"
	FieldSourceAddress = "origin.source_address"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumeric
)

// policyFields is the static schema of filterable event fields.
var policyFields = map[string]fieldKind{
	FieldEventName:     kindString,
	FieldObjectKey:     kindString,
	FieldContainer:     kindString,
	FieldSizeBytes:     kindNumeric,
	FieldContentHash:   kindString,
	FieldVersion:       kindString,
	FieldPrincipal:     kindString,
	FieldSourceAddress: kindString,
}

// A FilterPolicy decides which events a subscription receives.  Selectors
// combine with AND; the matchers within one selector combine with OR.  A
// nil policy, or a policy with no selectors, accepts every event.
//
// Policies are validated when a subscription is registered and treated as
// immutable afterwards, so evaluation is pure: the same (event, policy)
// pair always yields the same result.
type FilterPolicy struct {
	Selectors []FieldSelector
}

// FieldSelector applies one or more matchers to a single named event field.
// An empty matcher list never matches (a vacuous OR is false).
type FieldSelector struct {
	Field    string
	Matchers []Matcher
}

// Matcher is one match spec within a FieldSelector.  The set of matchers is
// closed: PrefixMatcher, SuffixMatcher, AnyOfMatcher, NumericMatcher and
// WildcardMatcher.
type Matcher interface {
	// validate checks the matcher against the schema kind of its field.
	validate(field string, kind fieldKind) error

	// match evaluates the matcher against the event's value for field.  An
	// absent optional field is a non-match, not an error.
	match(e *Event, field string, kind fieldKind) (bool, error)
}

// Validate checks the policy against the event field schema.  An unknown
// field yields a *MalformedPolicyError; an operator applied to a field of
// an incompatible type yields a *TypeMismatchError.  Registration calls
// this so a bad policy is rejected up front rather than discovered on
// first evaluation.
func (p *FilterPolicy) Validate() error {
	if p == nil {
		return nil
	}
	for _, sel := range p.Selectors {
		kind, ok := policyFields[sel.Field]
		if !ok {
			return &MalformedPolicyError{Field: sel.Field, Reason: "unknown field"}
		}
		for _, m := range sel.Matchers {
			if m == nil {
				return &MalformedPolicyError{Field: sel.Field, Reason: "nil matcher"}
			}
			if err := m.validate(sel.Field, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// Matches reports whether the event satisfies the policy.  Evaluation is
// side-effect-free and deterministic.
func (p *FilterPolicy) Matches(e *Event) (bool, error) {
	const op = "eventfanout.(FilterPolicy).Matches"
	if e == nil {
		return false, fmt.Errorf("%s: missing event", op)
	}
	if p == nil || len(p.Selectors) == 0 {
		return true, nil
	}
	for _, sel := range p.Selectors {
		kind, ok := policyFields[sel.Field]
		if !ok {
			return false, &MalformedPolicyError{Field: sel.Field, Reason: "unknown field"}
		}
		matched := false
		for _, m := range sel.Matchers {
			if m == nil {
				return false, &MalformedPolicyError{Field: sel.Field, Reason: "nil matcher"}
			}
			ok, err := m.match(e, sel.Field, kind)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// stringValue resolves a string field against an event.
func stringValue(e *Event, field string) string {
	switch field {
	case FieldEventName:
		return e.Name
	case FieldObjectKey:
		return e.Resource.Key
	case FieldContainer:
		return e.Resource.Container
	case FieldContentHash:
		return e.Resource.ContentHash
	case FieldVersion:
		return e.Resource.Version
	case FieldPrincipal:
		return e.Origin.Principal
	case FieldSourceAddress:
		return e.Origin.SourceAddress
	default:
		return ""
	}
}

// numericValue resolves a numeric field against an event.  ok is false when
// the producer omitted the field.
func numericValue(e *Event, field string) (int64, bool) {
	switch field {
	case FieldSizeBytes:
		if e.Resource.Size == nil {
			return 0, false
		}
		return *e.Resource.Size, true
	default:
		return 0, false
	}
}

// PrefixMatcher matches when the field's value starts with Prefix.
// Comparison is byte-wise and case-sensitive.
type PrefixMatcher struct {
	Prefix string
}

var _ Matcher = (*PrefixMatcher)(nil)

func (m *PrefixMatcher) validate(field string, kind fieldKind) error {
	if kind != kindString {
		return &TypeMismatchError{Field: field, Operator: "prefix"}
	}
	return nil
}

func (m *PrefixMatcher) match(e *Event, field string, kind fieldKind) (bool, error) {
	if kind != kindString {
		return false, &TypeMismatchError{Field: field, Operator: "prefix"}
	}
	v := stringValue(e, field)
	return len(v) >= len(m.Prefix) && v[:len(m.Prefix)] == m.Prefix, nil
}

// SuffixMatcher matches when the field's value ends with Suffix.
// Comparison is byte-wise and case-sensitive.
type SuffixMatcher struct {
	Suffix string
}

var _ Matcher = (*SuffixMatcher)(nil)

func (m *SuffixMatcher) validate(field string, kind fieldKind) error {
	if kind != kindString {
		return &TypeMismatchError{Field: field, Operator: "suffix"}
	}
	return nil
}

func (m *SuffixMatcher) match(e *Event, field string, kind fieldKind) (bool, error) {
	if kind != kindString {
		return false, &TypeMismatchError{Field: field, Operator: "suffix"}
	}
	v := stringValue(e, field)
	return len(v) >= len(m.Suffix) && v[len(v)-len(m.Suffix):] == m.Suffix, nil
}

// AnyOfMatcher matches when the field's value equals any of the listed
// literals (the exact-set operator).
type AnyOfMatcher struct {
	Values []string
}

var _ Matcher = (*AnyOfMatcher)(nil)

func (m *AnyOfMatcher) validate(field string, kind fieldKind) error {
	if kind != kindString {
		return &TypeMismatchError{Field: field, Operator: "exact-set"}
	}
	return nil
}

func (m *AnyOfMatcher) match(e *Event, field string, kind fieldKind) (bool, error) {
	if kind != kindString {
		return false, &TypeMismatchError{Field: field, Operator: "exact-set"}
	}
	return strutil.StrListContains(m.Values, stringValue(e, field)), nil
}

// CompareOp is a numeric comparison operator.
type CompareOp string

const (
	OpGreaterThan  CompareOp = ">"
	OpLessThan     CompareOp = "<"
	OpGreaterEqual CompareOp = ">="
	OpLessEqual    CompareOp = "<="
	OpEqual        CompareOp = "=="
)

// NumericMatcher compares a numeric field against Operand using Op.  An
// event that lacks the field (e.g. no size on a delete) is a non-match.
type NumericMatcher struct {
	Op      CompareOp
	Operand int64
}

var _ Matcher = (*NumericMatcher)(nil)

func (m *NumericMatcher) validate(field string, kind fieldKind) error {
	if kind != kindNumeric {
		return &TypeMismatchError{Field: field, Operator: "numeric-comparison"}
	}
	switch m.Op {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual:
		return nil
	default:
		return &MalformedPolicyError{Field: field, Reason: fmt.Sprintf("unknown comparison operator %q", m.Op)}
	}
}

func (m *NumericMatcher) match(e *Event, field string, kind fieldKind) (bool, error) {
	if kind != kindNumeric {
		return false, &TypeMismatchError{Field: field, Operator: "numeric-comparison"}
	}
	v, ok := numericValue(e, field)
	if !ok {
		return false, nil
	}
	switch m.Op {
	case OpGreaterThan:
		return v > m.Operand, nil
	case OpLessThan:
		return v < m.Operand, nil
	case OpGreaterEqual:
		return v >= m.Operand, nil
	case OpLessEqual:
		return v <= m.Operand, nil
	case OpEqual:
		return v == m.Operand, nil
	default:
		return false, &MalformedPolicyError{Field: field, Reason: fmt.Sprintf("unknown comparison operator %q", m.Op)}
	}
}

// WildcardMatcher matches a string field against a glob pattern, e.g.
// "reports/*.csv" on the object key.  The pattern is compiled once during
// Validate.
type WildcardMatcher struct {
	Pattern string

	compiled glob.Glob
}

var _ Matcher = (*WildcardMatcher)(nil)

func (m *WildcardMatcher) validate(field string, kind fieldKind) error {
	if kind != kindString {
		return &TypeMismatchError{Field: field, Operator: "wildcard"}
	}
	g, err := glob.Compile(m.Pattern)
	if err != nil {
		return &MalformedPolicyError{Field: field, Reason: fmt.Sprintf("invalid wildcard pattern %q: %s", m.Pattern, err)}
	}
	m.compiled = g
	return nil
}

func (m *WildcardMatcher) match(e *Event, field string, kind fieldKind) (bool, error) {
	if kind != kindString {
		return false, &TypeMismatchError{Field: field, Operator: "wildcard"}
	}
	g := m.compiled
	if g == nil {
		// Not validated yet.  Compile locally rather than caching so that
		// concurrent evaluations never write to shared matcher state.
		var err error
		g, err = glob.Compile(m.Pattern)
		if err != nil {
			return false, &MalformedPolicyError{Field: field, Reason: fmt.Sprintf("invalid wildcard pattern %q: %s", m.Pattern, err)}
		}
	}
	return g.Match(stringValue(e, field)), nil
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// An Event is a single storage-change notification.  Events are immutable
// after creation: the Router and every Matcher only ever read them.
type Event struct {
	// Name is the change taxonomy string, e.g. "ObjectCreated:Put" or
	// "ObjectRemoved:Delete".
	Name string

	// CreatedAt is when the change occurred.  It is non-decreasing within a
	// single producer's stream but carries no ordering across producers.
	CreatedAt time.Time

	// Resource identifies the changed object.
	Resource ResourceLocator

	// Origin identifies the principal and network origin of the action that
	// caused the event.  It is opaque to the router.
	Origin Origin
}

// ResourceLocator identifies an object within a producer.  Container and
// Key together uniquely identify the resource.
type ResourceLocator struct {
	Container string

	Key string

	// Size is the object size in bytes.  Producers omit it for some change
	// types (e.g. deletes), so it is a pointer: a nil Size simply fails any
	// numeric filter on size rather than matching as zero.
	Size *int64

	ContentHash string

	Version string
}

// Origin describes who caused an event and from where.
type Origin struct {
	Principal     string
	SourceAddress string
}

// Wire field names used by producers in raw event records.
const (
	rawEventName   = "event_name"
	rawTimestamp   = "timestamp"
	rawResource    = "resource_locator"
	rawContainer   = "container_identifier"
	rawObjectKey   = "object_key"
	rawSizeBytes   = "size_bytes"
	rawContentHash = "content_hash"
	rawVersion     = "version_identifier"
	rawOrigin      = "origin"
	rawPrincipal   = "principal"
	rawSourceAddr  = "source_address"
)

// ParseRawEvent validates an unstructured producer record and converts it
// into an Event.  event_name, resource_locator.object_key and
// resource_locator.container_identifier are required; everything else is
// optional.  A missing or mis-shaped field yields a *MalformedEventError
// naming the field.
func ParseRawEvent(raw map[string]interface{}) (*Event, error) {
	if raw == nil {
		return nil, &MalformedEventError{Field: "", Reason: "missing raw record"}
	}

	name, err := requiredString(raw, rawEventName, rawEventName)
	if err != nil {
		return nil, err
	}

	res, ok := raw[rawResource]
	if !ok {
		return nil, &MalformedEventError{Field: rawResource, Reason: "required field is absent"}
	}
	resMap, ok := res.(map[string]interface{})
	if !ok {
		return nil, &MalformedEventError{Field: rawResource, Reason: fmt.Sprintf("expected a map, got %T", res)}
	}

	container, err := requiredString(resMap, rawContainer, rawResource+"."+rawContainer)
	if err != nil {
		return nil, err
	}
	key, err := requiredString(resMap, rawObjectKey, rawResource+"."+rawObjectKey)
	if err != nil {
		return nil, err
	}

	e := &Event{
		Name: name,
		Resource: ResourceLocator{
			Container: container,
			Key:       key,
		},
	}

	if v, ok := resMap[rawSizeBytes]; ok {
		size, err := toInt64(v)
		if err != nil {
			return nil, &MalformedEventError{Field: rawResource + "." + rawSizeBytes, Reason: err.Error()}
		}
		e.Resource.Size = &size
	}
	if e.Resource.ContentHash, err = optionalString(resMap, rawContentHash, rawResource+"."+rawContentHash); err != nil {
		return nil, err
	}
	if e.Resource.Version, err = optionalString(resMap, rawVersion, rawResource+"."+rawVersion); err != nil {
		return nil, err
	}

	switch ts := raw[rawTimestamp].(type) {
	case nil:
		e.CreatedAt = time.Now()
	case time.Time:
		e.CreatedAt = ts
	case string:
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, &MalformedEventError{Field: rawTimestamp, Reason: fmt.Sprintf("not an RFC 3339 timestamp: %q", ts)}
		}
		e.CreatedAt = parsed
	default:
		return nil, &MalformedEventError{Field: rawTimestamp, Reason: fmt.Sprintf("expected a time.Time or RFC 3339 string, got %T", ts)}
	}

	if o, ok := raw[rawOrigin]; ok {
		oMap, ok := o.(map[string]interface{})
		if !ok {
			return nil, &MalformedEventError{Field: rawOrigin, Reason: fmt.Sprintf("expected a map, got %T", o)}
		}
		if e.Origin.Principal, err = optionalString(oMap, rawPrincipal, rawOrigin+"."+rawPrincipal); err != nil {
			return nil, err
		}
		if e.Origin.SourceAddress, err = optionalString(oMap, rawSourceAddr, rawOrigin+"."+rawSourceAddr); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func requiredString(m map[string]interface{}, key, field string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", &MalformedEventError{Field: field, Reason: "required field is absent"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &MalformedEventError{Field: field, Reason: fmt.Sprintf("expected a string, got %T", v)}
	}
	if s == "" {
		return "", &MalformedEventError{Field: field, Reason: "required field is empty"}
	}
	return s, nil
}

func optionalString(m map[string]interface{}, key, field string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &MalformedEventError{Field: field, Reason: fmt.Sprintf("expected a string, got %T", v)}
	}
	return s, nil
}

// toInt64 coerces the numeric representations a raw record may carry after
// JSON decoding.
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", n.String())
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

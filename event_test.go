// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout_test

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/eventfanout"
)

func TestParseRawEvent(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		raw             map[string]interface{}
		want            *eventfanout.Event
		wantErrField    string
		wantErrContains string
	}{
		{
			name: "full-record",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  now,
				"resource_locator": map[string]interface{}{
					"container_identifier": "audit-archive",
					"object_key":           "reports/2024/06/01.csv",
					"size_bytes":           int64(2048),
					"content_hash":         "9f86d08",
					"version_identifier":   "v2",
				},
				"origin": map[string]interface{}{
					"principal":      "svc:uploader",
					"source_address": "10.0.4.7",
				},
			},
			want: &eventfanout.Event{
				Name:      "ObjectCreated:Put",
				CreatedAt: now,
				Resource: eventfanout.ResourceLocator{
					Container:   "audit-archive",
					Key:         "reports/2024/06/01.csv",
					Size:        int64Ptr(2048),
					ContentHash: "9f86d08",
					Version:     "v2",
				},
				Origin: eventfanout.Origin{
					Principal:     "svc:uploader",
					SourceAddress: "10.0.4.7",
				},
			},
		},
		{
			name: "minimal-record",
			raw: map[string]interface{}{
				"event_name": "ObjectRemoved:Delete",
				"timestamp":  now,
				"resource_locator": map[string]interface{}{
					"container_identifier": "audit-archive",
					"object_key":           "reports/old.csv",
				},
			},
			want: &eventfanout.Event{
				Name:      "ObjectRemoved:Delete",
				CreatedAt: now,
				Resource: eventfanout.ResourceLocator{
					Container: "audit-archive",
					Key:       "reports/old.csv",
				},
			},
		},
		{
			name: "rfc3339-timestamp",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Post",
				"timestamp":  "2024-06-01T12:00:00Z",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
			},
			want: &eventfanout.Event{
				Name:      "ObjectCreated:Post",
				CreatedAt: now,
				Resource:  eventfanout.ResourceLocator{Container: "c", Key: "k"},
			},
		},
		{
			name: "float64-size-from-json-decoding",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  now,
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
					"size_bytes":           float64(512),
				},
			},
			want: &eventfanout.Event{
				Name:      "ObjectCreated:Put",
				CreatedAt: now,
				Resource:  eventfanout.ResourceLocator{Container: "c", Key: "k", Size: int64Ptr(512)},
			},
		},
		{
			name: "json-number-size",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  now,
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
					"size_bytes":           json.Number("1024"),
				},
			},
			want: &eventfanout.Event{
				Name:      "ObjectCreated:Put",
				CreatedAt: now,
				Resource:  eventfanout.ResourceLocator{Container: "c", Key: "k", Size: int64Ptr(1024)},
			},
		},
		{
			name:            "nil-record",
			raw:             nil,
			wantErrContains: "missing raw record",
		},
		{
			name: "missing-event-name",
			raw: map[string]interface{}{
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
			},
			wantErrField:    "event_name",
			wantErrContains: "required field is absent",
		},
		{
			name: "empty-event-name",
			raw: map[string]interface{}{
				"event_name": "",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
			},
			wantErrField:    "event_name",
			wantErrContains: "required field is empty",
		},
		{
			name: "missing-resource-locator",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
			},
			wantErrField:    "resource_locator",
			wantErrContains: "required field is absent",
		},
		{
			name: "resource-locator-not-a-map",
			raw: map[string]interface{}{
				"event_name":       "ObjectCreated:Put",
				"resource_locator": "not-a-map",
			},
			wantErrField:    "resource_locator",
			wantErrContains: "expected a map",
		},
		{
			name: "missing-object-key",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
				},
			},
			wantErrField:    "resource_locator.object_key",
			wantErrContains: "required field is absent",
		},
		{
			name: "missing-container",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"resource_locator": map[string]interface{}{
					"object_key": "k",
				},
			},
			wantErrField:    "resource_locator.container_identifier",
			wantErrContains: "required field is absent",
		},
		{
			name: "non-integer-size",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
					"size_bytes":           12.5,
				},
			},
			wantErrField:    "resource_locator.size_bytes",
			wantErrContains: "expected an integer",
		},
		{
			name: "size-wrong-type",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
					"size_bytes":           "big",
				},
			},
			wantErrField:    "resource_locator.size_bytes",
			wantErrContains: "expected a number",
		},
		{
			name: "bad-timestamp-string",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  "yesterday",
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
			},
			wantErrField:    "timestamp",
			wantErrContains: "not an RFC 3339 timestamp",
		},
		{
			name: "timestamp-wrong-type",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  42,
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
			},
			wantErrField:    "timestamp",
			wantErrContains: "expected a time.Time or RFC 3339 string",
		},
		{
			name: "origin-not-a-map",
			raw: map[string]interface{}{
				"event_name": "ObjectCreated:Put",
				"timestamp":  now,
				"resource_locator": map[string]interface{}{
					"container_identifier": "c",
					"object_key":           "k",
				},
				"origin": []string{"nope"},
			},
			wantErrField:    "origin",
			wantErrContains: "expected a map",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := eventfanout.ParseRawEvent(tt.raw)
			if tt.wantErrContains != "" {
				require.Error(err)
				assert.Contains(err.Error(), tt.wantErrContains)
				var malformed *eventfanout.MalformedEventError
				require.True(errors.As(err, &malformed))
				assert.Equal(tt.wantErrField, malformed.Field)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestParseRawEvent_DefaultTimestamp(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	got, err := eventfanout.ParseRawEvent(map[string]interface{}{
		"event_name": "ObjectCreated:Put",
		"resource_locator": map[string]interface{}{
			"container_identifier": "c",
			"object_key":           "k",
		},
	})
	require.NoError(err)
	require.False(got.CreatedAt.IsZero())
	require.WithinDuration(time.Now(), got.CreatedAt, time.Minute)
}

func int64Ptr(n int64) *int64 {
	return &n
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/hashicorp/eventfanout"
)

// DefaultRequestTimeout bounds a single webhook POST.
const DefaultRequestTimeout = 10 * time.Second

// WebhookDeliverer POSTs the JSON-encoded event to the subscription's
// endpoint URL.
//
// Response classification: 2xx is a success; 408, 429 and 5xx are transient
// (the endpoint may recover, so the tracker retries); every other status is
// permanent.  Transport errors are transient.
type WebhookDeliverer struct {
	// Client defaults to an http.Client with DefaultRequestTimeout.
	Client *http.Client

	// Headers are added to every request, e.g. an authorization header.
	Headers map[string]string
}

var _ eventfanout.Deliverer = (*WebhookDeliverer)(nil)

type webhookBody struct {
	EventName   string    `json:"event_name"`
	Timestamp   time.Time `json:"timestamp"`
	Container   string    `json:"container_identifier"`
	Key         string    `json:"object_key"`
	SizeBytes   *int64    `json:"size_bytes,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Version     string    `json:"version_identifier,omitempty"`
	Principal   string    `json:"principal,omitempty"`
	SourceAddr  string    `json:"source_address,omitempty"`
}

// Deliver POSTs the event to the endpoint URL.
func (w *WebhookDeliverer) Deliver(ctx context.Context, endpoint string, e *eventfanout.Event) eventfanout.DeliveryResult {
	if e == nil {
		return eventfanout.Permanent("event is nil")
	}
	body, err := json.Marshal(webhookBody{
		EventName:   e.Name,
		Timestamp:   e.CreatedAt,
		Container:   e.Resource.Container,
		Key:         e.Resource.Key,
		SizeBytes:   e.Resource.Size,
		ContentHash: e.Resource.ContentHash,
		Version:     e.Resource.Version,
		Principal:   e.Origin.Principal,
		SourceAddr:  e.Origin.SourceAddress,
	})
	if err != nil {
		return eventfanout.Permanent(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		// An endpoint that can't even form a request will never succeed.
		return eventfanout.Permanent(fmt.Sprintf("invalid endpoint %q: %s", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return eventfanout.Transient(err.Error())
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return eventfanout.Success()
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return eventfanout.Transient(fmt.Sprintf("endpoint returned %s", resp.Status))
	default:
		return eventfanout.Permanent(fmt.Sprintf("endpoint returned %s", resp.Status))
	}
}

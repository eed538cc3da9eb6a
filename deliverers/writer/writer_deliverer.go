// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package writer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/hashicorp/eventfanout"
)

// WriterDeliverer JSON-encodes each delivery to an io.Writer as one line.
// It allows any io.Writer to act as a delivery endpoint, including
// os.Stdout and os.Stderr.
type WriterDeliverer struct {
	// Writer receives the encoded deliveries.
	Writer io.Writer

	l sync.Mutex
}

var _ eventfanout.Deliverer = (*WriterDeliverer)(nil)

// Deliver writes the event and its endpoint as a JSON line.  A write error
// is reported as transient since the writer may recover (e.g. after log
// rotation).
func (w *WriterDeliverer) Deliver(ctx context.Context, endpoint string, e *eventfanout.Event) eventfanout.DeliveryResult {
	if w.Writer == nil {
		return eventfanout.Permanent(errors.New("deliverer writer is nil").Error())
	}
	if e == nil {
		return eventfanout.Permanent("event is nil")
	}

	buf, err := json.Marshal(struct {
		Endpoint  string    `json:"endpoint"`
		EventName string    `json:"event_name"`
		CreatedAt time.Time `json:"created_at"`
		Container string    `json:"container_identifier"`
		Key       string    `json:"object_key"`
	}{
		Endpoint:  endpoint,
		EventName: e.Name,
		CreatedAt: e.CreatedAt,
		Container: e.Resource.Container,
		Key:       e.Resource.Key,
	})
	if err != nil {
		return eventfanout.Permanent(err.Error())
	}
	buf = append(buf, '\n')

	w.l.Lock()
	defer w.l.Unlock()
	if _, err := w.Writer.Write(buf); err != nil {
		return eventfanout.Transient(err.Error())
	}
	return eventfanout.Success()
}

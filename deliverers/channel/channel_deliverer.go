// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package channel

import (
	"context"
	"errors"

	"github.com/hashicorp/eventfanout"
)

// Delivery pairs a matched event with the endpoint it was addressed to.
type Delivery struct {
	Endpoint string
	Event    *eventfanout.Event
}

// ChannelDeliverer hands matched events to a Go channel, letting an
// embedding system consume the fan-out in-process.
type ChannelDeliverer struct {
	// Block makes Deliver wait for a receiver.  When false, a full channel
	// is reported as a transient failure so the tracker retries, which
	// turns the channel's capacity into a backpressure signal.
	Block bool

	deliveryChan chan<- Delivery
}

var _ eventfanout.Deliverer = (*ChannelDeliverer)(nil)

// NewChannelDeliverer creates a ChannelDeliverer.
func NewChannelDeliverer(c chan<- Delivery) (*ChannelDeliverer, error) {
	if c == nil {
		return nil, errors.New("missing delivery channel")
	}
	return &ChannelDeliverer{
		deliveryChan: c,
	}, nil
}

// Deliver sends the event on the channel.
func (c *ChannelDeliverer) Deliver(ctx context.Context, endpoint string, e *eventfanout.Event) eventfanout.DeliveryResult {
	d := Delivery{Endpoint: endpoint, Event: e}
	if c.Block {
		select {
		case c.deliveryChan <- d:
			return eventfanout.Success()
		case <-ctx.Done():
			return eventfanout.Transient(ctx.Err().Error())
		}
	}
	select {
	case c.deliveryChan <- d:
		return eventfanout.Success()
	default:
		return eventfanout.Transient("delivery channel is full")
	}
}

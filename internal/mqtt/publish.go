// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"strings"

	"github.com/eclipse/paho.golang/paho"
)

// Publish sends a message, waiting for a connection if there is none. A QoS 1
// publish interrupted by a disconnection is sent again on the next
// connection, so it is delivered at least once.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) error {
	if err := c.checkState(); err != nil {
		return err
	}
	if topic == "" || strings.ContainsAny(topic, "#+") {
		return &InvalidArgumentError{"invalid topic name " + topic}
	}

	var o PublishOptions
	o.Apply(opts)
	if o.QoS > QoS1 {
		return &InvalidArgumentError{"unsupported QoS"}
	}

	packet := &paho.Publish{
		Topic:   topic,
		QoS:     byte(o.QoS),
		Retain:  o.Retain,
		Payload: payload,
	}

	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()

	for {
		current, err := c.conn.Wait(ctx)
		if err != nil {
			return err
		}

		err = c.publish(ctx, current.Client, current.Down.With, packet)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return context.Cause(ctx)
		}

		select {
		case <-current.Down.Done():
			c.log.Debug(ctx, "connection lost during publish; retrying")
		default:
			return err
		}
	}
}

func (c *SessionClient) publish(
	ctx context.Context,
	client *paho.Client,
	bind func(context.Context) (context.Context, context.CancelFunc),
	packet *paho.Publish,
) error {
	ctx, cancel := bind(ctx)
	defer cancel()

	c.log.Packet(ctx, "publish", packet)
	res, err := client.Publish(ctx, packet)
	if err != nil {
		return &ConnectionError{message: "error publishing", wrapped: err}
	}
	if res != nil && res.ReasonCode >= reasonCodeFailure {
		return &AckError{Packet: "PUBLISH", ReasonCode: res.ReasonCode}
	}
	return nil
}

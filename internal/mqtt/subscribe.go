// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// Only send retained messages for subscriptions that do not already exist on
// the server, so resubscribing does not replay them.
const retainHandlingIfNew byte = 1

// Subscribe registers a handler for messages matching the topic filter. If
// the client is connected, the subscription is sent immediately and its
// result returned; otherwise it is sent when the connection comes up. The
// subscription is kept across reconnections until unsubscribed.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	filter string,
	handler MessageHandler,
	opts ...SubscribeOption,
) (*Subscription, error) {
	if err := c.checkState(); err != nil {
		return nil, err
	}
	if !isValidTopicFilter(filter) {
		return nil, &InvalidArgumentError{"invalid topic filter " + filter}
	}
	if handler == nil {
		return nil, &InvalidArgumentError{"nil message handler"}
	}

	var o SubscribeOptions
	o.Apply(opts)
	if o.QoS > QoS1 {
		return nil, &InvalidArgumentError{"unsupported QoS"}
	}

	sub := &subscription{filter: filter, opts: o, handler: handler}
	remove := c.subscriptions.Add(sub)

	if current := c.conn.Current(); current.Client != nil {
		if err := c.sendSubscribe(ctx, current.Client, sub); err != nil {
			remove()
			return nil, err
		}
	}

	return &Subscription{filter: filter, remove: remove, client: c}, nil
}

func (c *SessionClient) unsubscribe(ctx context.Context, s *Subscription) error {
	s.remove()

	for other := range c.subscriptions.All() {
		if other.filter == s.filter {
			return nil
		}
	}

	current := c.conn.Current()
	if current.Client == nil {
		return nil
	}

	packet := &paho.Unsubscribe{Topics: []string{s.filter}}
	c.log.Packet(ctx, "unsubscribe", packet)
	unsuback, err := current.Client.Unsubscribe(ctx, packet)
	if unsuback != nil {
		c.log.Packet(ctx, "unsuback", unsuback)
		for _, rc := range unsuback.Reasons {
			if rc >= reasonCodeFailure {
				return &AckError{Packet: "UNSUBSCRIBE", ReasonCode: rc}
			}
		}
	}
	if err != nil {
		return &ConnectionError{message: "error unsubscribing", wrapped: err}
	}
	return nil
}

// resubscribe sends every registered filter in a single SUBSCRIBE.
func (c *SessionClient) resubscribe(
	ctx context.Context,
	client *paho.Client,
) error {
	var subs []*subscription
	for s := range c.subscriptions.All() {
		subs = append(subs, s)
	}
	if len(subs) == 0 {
		return nil
	}
	c.log.Debug(ctx, "resubscribing", slog.Int("count", len(subs)))
	return c.sendSubscribe(ctx, client, subs...)
}

func (c *SessionClient) sendSubscribe(
	ctx context.Context,
	client *paho.Client,
	subs ...*subscription,
) error {
	seen := make(map[string]struct{}, len(subs))
	packet := &paho.Subscribe{
		Subscriptions: make([]paho.SubscribeOptions, 0, len(subs)),
	}
	for _, s := range subs {
		if _, ok := seen[s.filter]; ok {
			continue
		}
		seen[s.filter] = struct{}{}
		packet.Subscriptions = append(packet.Subscriptions, paho.SubscribeOptions{
			Topic:          s.filter,
			QoS:            byte(s.opts.QoS),
			NoLocal:        s.opts.NoLocal,
			RetainHandling: retainHandlingIfNew,
		})
	}

	c.log.Packet(ctx, "subscribe", packet)
	suback, err := client.Subscribe(ctx, packet)
	if suback != nil {
		c.log.Packet(ctx, "suback", suback)
		for _, rc := range suback.Reasons {
			if rc >= reasonCodeFailure {
				return &AckError{Packet: "SUBSCRIBE", ReasonCode: rc}
			}
		}
	}
	if err != nil {
		return &ConnectionError{message: "error subscribing", wrapped: err}
	}
	return nil
}

// onPublishReceived dispatches an incoming PUBLISH to every matching handler.
// Paho calls it from a single goroutine, so handlers see messages in the
// order the server sent them.
func (c *SessionClient) onPublishReceived(
	pr paho.PublishReceived,
) (bool, error) {
	c.log.Packet(c.ctx, "publish received", pr.Packet)

	msg := &Message{
		Topic:   pr.Packet.Topic,
		Payload: pr.Packet.Payload,
		PublishOptions: PublishOptions{
			QoS:    QoS(pr.Packet.QoS),
			Retain: pr.Packet.Retain,
		},
		Ack: c.ack(pr.Client, pr.Packet),
	}

	handled := false
	for s := range c.subscriptions.All() {
		if !IsTopicFilterMatch(s.filter, msg.Topic) {
			continue
		}
		handled = true
		if err := s.handler(c.ctx, msg); err != nil {
			c.log.Err(c.ctx, err)
		}
	}

	// Nobody is left to acknowledge it, and an unacknowledged message would
	// hold up the ones behind it.
	if !handled {
		if err := msg.Ack(); err != nil {
			c.log.Warn(c.ctx, err)
		}
	}
	return true, nil
}

func (c *SessionClient) ack(client *paho.Client, pb *paho.Publish) func() error {
	if pb.QoS == 0 {
		return func() error { return nil }
	}
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			c.log.Packet(c.ctx, "puback", pb)
			if e := client.Ack(pb); e != nil {
				err = &ConnectionError{message: "error acknowledging", wrapped: e}
			}
		})
		return err
	}
}

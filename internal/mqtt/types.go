// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "context"

type (
	// QoS is the MQTT quality of service level.
	QoS byte

	// Message represents a received message. The client handler is expected to
	// call Ack once it is done with a QoS 1 message; the session client does
	// not acknowledge on the handler's behalf.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions

		// Ack sends the PUBACK. It is safe to call more than once.
		Ack func() error
	}

	// MessageHandler is a user-defined callback function used to handle
	// messages received on a subscribed topic.
	MessageHandler func(context.Context, *Message) error

	// Subscription represents an open subscription.
	Subscription struct {
		filter string
		remove func()
		client *SessionClient
	}

	// ConnectEvent describes a successful connection, after any subscriptions
	// have been re-established.
	ConnectEvent struct {
		ReasonCode     byte
		SessionPresent bool

		// Count is the number of successful connections so far, including
		// this one.
		Count uint64
	}

	// ConnectEventHandler is notified of every successful connection.
	ConnectEventHandler func(*ConnectEvent)

	// DisconnectEvent describes a lost connection.
	DisconnectEvent struct {
		// ReasonCode is set only if the server sent a DISCONNECT.
		ReasonCode *byte
		Err        error
	}

	// DisconnectEventHandler is notified of every lost connection.
	DisconnectEventHandler func(*DisconnectEvent)
)

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
)

// Filter returns the topic filter of the subscription.
func (s *Subscription) Filter() string {
	return s.filter
}

// Unsubscribe stops delivering messages to this subscription's handler and
// removes the filter from the server if no other handler uses it.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.unsubscribe(ctx, s)
}

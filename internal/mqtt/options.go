// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"log/slog"
	"time"

	"github.com/H2WO4/project-m101/internal/retry"
)

type (
	// SessionClientOption represents a single session client option.
	SessionClientOption interface{ sessionClient(*SessionClientOptions) }

	// SessionClientOptions are the resolved session client options.
	SessionClientOptions struct {
		ClientID       string
		KeepAlive      time.Duration
		SessionExpiry  time.Duration
		CleanStart     bool
		ReceiveMaximum uint16
		Username       string
		Password       []byte

		// ConnectionRetry governs each round of reconnection. Only fatal
		// reason codes and Stop end it.
		ConnectionRetry retry.Policy

		// ConnectionTimeout bounds a single connection attempt.
		ConnectionTimeout time.Duration

		Logger *slog.Logger
	}

	// PublishOption represents a single publish option.
	PublishOption interface{ publish(*PublishOptions) }

	// PublishOptions are the resolved publish options.
	PublishOptions struct {
		QoS    QoS
		Retain bool
	}

	// SubscribeOption represents a single subscribe option.
	SubscribeOption interface{ subscribe(*SubscribeOptions) }

	// SubscribeOptions are the resolved subscribe options.
	SubscribeOptions struct {
		QoS     QoS
		NoLocal bool
	}

	// WithClientID sets the MQTT client identifier.
	WithClientID string

	// WithKeepAlive sets the keep-alive interval sent in CONNECT.
	WithKeepAlive time.Duration

	// WithSessionExpiry sets how long the server keeps the session after a
	// disconnect.
	WithSessionExpiry time.Duration

	// WithCleanStart sets the clean start flag of the first connection only;
	// reconnections always resume the session.
	WithCleanStart bool

	// WithReceiveMaximum caps the number of unacknowledged QoS 1 messages the
	// server may send.
	WithReceiveMaximum uint16

	// WithUsername sets the username for the connection.
	WithUsername string

	// WithPassword sets the password for the connection.
	WithPassword []byte

	// WithConnectionTimeout bounds a single connection attempt.
	WithConnectionTimeout time.Duration

	// WithQoS sets the QoS level for the publish or subscribe.
	WithQoS QoS

	// WithRetain sets the retain flag for the publish.
	WithRetain bool

	// WithNoLocal sets the no local flag for the subscription.
	WithNoLocal bool

	// These options are not used directly; see the functions below.
	withConnectionRetry struct{ retry.Policy }
	withLogger          struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *SessionClientOptions) Apply(
	opts []SessionClientOption,
	rest ...SessionClientOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
}

func (o *SessionClientOptions) sessionClient(opt *SessionClientOptions) {
	if o != nil {
		*opt = *o
	}
}

// Apply resolves the provided list of options.
func (o *PublishOptions) Apply(opts []PublishOption, rest ...PublishOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.publish(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.publish(o)
		}
	}
}

// Apply resolves the provided list of options.
func (o *SubscribeOptions) Apply(
	opts []SubscribeOption,
	rest ...SubscribeOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.subscribe(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.subscribe(o)
		}
	}
}

func (o WithClientID) sessionClient(opt *SessionClientOptions) {
	opt.ClientID = string(o)
}

func (o WithKeepAlive) sessionClient(opt *SessionClientOptions) {
	opt.KeepAlive = time.Duration(o)
}

func (o WithSessionExpiry) sessionClient(opt *SessionClientOptions) {
	opt.SessionExpiry = time.Duration(o)
}

func (o WithCleanStart) sessionClient(opt *SessionClientOptions) {
	opt.CleanStart = bool(o)
}

func (o WithReceiveMaximum) sessionClient(opt *SessionClientOptions) {
	opt.ReceiveMaximum = uint16(o)
}

func (o WithUsername) sessionClient(opt *SessionClientOptions) {
	opt.Username = string(o)
}

func (o WithPassword) sessionClient(opt *SessionClientOptions) {
	opt.Password = []byte(o)
}

func (o WithConnectionTimeout) sessionClient(opt *SessionClientOptions) {
	opt.ConnectionTimeout = time.Duration(o)
}

func (o WithQoS) publish(opt *PublishOptions) {
	opt.QoS = QoS(o)
}

func (o WithQoS) subscribe(opt *SubscribeOptions) {
	opt.QoS = QoS(o)
}

func (o WithRetain) publish(opt *PublishOptions) {
	opt.Retain = bool(o)
}

func (o WithNoLocal) subscribe(opt *SubscribeOptions) {
	opt.NoLocal = bool(o)
}

// WithConnectionRetry sets the retry policy used to (re)connect.
func WithConnectionRetry(policy retry.Policy) SessionClientOption {
	return withConnectionRetry{policy}
}

func (o withConnectionRetry) sessionClient(opt *SessionClientOptions) {
	opt.ConnectionRetry = o.Policy
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) SessionClientOption {
	return withLogger{logger}
}

func (o withLogger) sessionClient(opt *SessionClientOptions) {
	opt.Logger = o.Logger
}

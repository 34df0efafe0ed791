// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "fmt"

// ClientState is the lifecycle stage of a session client.
type ClientState byte

const (
	NotStarted ClientState = iota
	Started

	// ShutDown follows Stop or a fatal error. It is final.
	ShutDown
)

func (s ClientState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case ShutDown:
		return "shut down"
	default:
		return fmt.Sprintf("ClientState(%d)", byte(s))
	}
}

type (
	// ClientStateError rejects an operation the client's state forbids.
	ClientStateError struct {
		State ClientState
	}

	// DisconnectError is a server DISCONNECT after which reconnecting is
	// still worthwhile.
	DisconnectError struct {
		ReasonCode byte
	}

	// FatalDisconnectError is a server DISCONNECT that ended the client.
	FatalDisconnectError struct {
		ReasonCode byte
	}

	// ConnectionError is a network level failure talking to the broker.
	ConnectionError struct {
		wrapped error
		message string
	}

	// ConnackError is a refused connection that may be retried.
	ConnackError struct {
		ReasonCode byte
	}

	// FatalConnackError is a refused connection that ended the client.
	FatalConnackError struct {
		ReasonCode byte
	}

	// AckError is a SUBSCRIBE, UNSUBSCRIBE or PUBLISH the broker rejected.
	AckError struct {
		Packet     string
		ReasonCode byte
	}

	// InvalidArgumentError rejects a caller supplied value.
	InvalidArgumentError struct {
		message string
	}
)

func (e *ClientStateError) Error() string {
	return "session client is " + e.State.String()
}

func (e *DisconnectError) Error() string {
	return "server disconnected with reason code " +
		describeReasonCode(disconnectReasonCodes, e.ReasonCode)
}

func (e *FatalDisconnectError) Error() string {
	return "server disconnected with reason code " +
		describeReasonCode(disconnectReasonCodes, e.ReasonCode) +
		"; giving up"
}

func (e *ConnectionError) Error() string {
	if e.wrapped == nil {
		return e.message
	}
	return e.message + ": " + e.wrapped.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.wrapped
}

func (e *ConnackError) Error() string {
	return "CONNACK refused with reason code " +
		describeReasonCode(connackReasonCodes, e.ReasonCode)
}

func (e *FatalConnackError) Error() string {
	return "CONNACK refused with reason code " +
		describeReasonCode(connackReasonCodes, e.ReasonCode) +
		"; giving up"
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s rejected with reason code %#x", e.Packet, e.ReasonCode)
}

func (e *InvalidArgumentError) Error() string {
	return e.message
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "fmt"

// Reason codes at or above this value signal failure in every ack packet.
const reasonCodeFailure byte = 0x80

const disconnectNormal byte = 0x00

type reasonCode struct {
	name  string
	fatal bool
}

// CONNACK failures. A fatal one means retrying with the same settings cannot
// succeed.
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901079
var connackReasonCodes = map[byte]reasonCode{
	0x80: {"unspecified error", false},
	0x81: {"malformed packet", true},
	0x82: {"protocol error", true},
	0x83: {"implementation specific error", true},
	0x84: {"unsupported protocol version", true},
	0x85: {"client identifier not valid", true},
	0x86: {"bad user name or password", true},
	0x87: {"not authorized", true},
	0x88: {"server unavailable", false},
	0x89: {"server busy", false},
	0x8A: {"banned", true},
	0x8C: {"bad authentication method", true},
	0x90: {"topic name invalid", true},
	0x95: {"packet too large", true},
	0x97: {"quota exceeded", false},
	0x99: {"payload format invalid", true},
	0x9A: {"retain not supported", true},
	0x9B: {"QoS not supported", true},
	0x9C: {"use another server", true},
	0x9D: {"server moved", true},
	0x9F: {"connection rate exceeded", false},
}

// DISCONNECT reasons sent by the server.
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901208
var disconnectReasonCodes = map[byte]reasonCode{
	0x00: {"normal disconnection", false},
	0x80: {"unspecified error", false},
	0x81: {"malformed packet", true},
	0x82: {"protocol error", true},
	0x83: {"implementation specific error", false},
	0x87: {"not authorized", true},
	0x89: {"server busy", false},
	0x8B: {"server shutting down", false},
	0x8D: {"keep alive timeout", false},
	0x8E: {"session taken over", true},
	0x8F: {"topic filter invalid", true},
	0x90: {"topic name invalid", true},
	0x93: {"receive maximum exceeded", false},
	0x94: {"topic alias invalid", true},
	0x95: {"packet too large", true},
	0x97: {"quota exceeded", false},
	0x98: {"administrative action", false},
	0x99: {"payload format invalid", true},
	0x9A: {"retain not supported", true},
	0x9B: {"QoS not supported", true},
	0x9C: {"use another server", false},
	0x9D: {"server moved", true},
	0x9E: {"shared subscriptions not supported", true},
	0x9F: {"connection rate exceeded", false},
	0xA0: {"maximum connect time", false},
	0xA1: {"subscription identifiers not supported", true},
	0xA2: {"wildcard subscriptions not supported", true},
}

func isFatalConnackReasonCode(rc byte) bool {
	return connackReasonCodes[rc].fatal
}

func isFatalDisconnectReasonCode(rc byte) bool {
	return disconnectReasonCodes[rc].fatal
}

func describeReasonCode(table map[byte]reasonCode, rc byte) string {
	if r, ok := table[rc]; ok {
		return fmt.Sprintf("%#x (%s)", rc, r.name)
	}
	return fmt.Sprintf("%#x", rc)
}

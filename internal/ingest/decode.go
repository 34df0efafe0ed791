// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package ingest

import (
	"fmt"
	"strconv"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/topic"
)

const segmentToken = "segmentId"

var (
	trafficPattern = mustPattern()
	trafficFilter  = mustFilter()
)

// Reading is one decoded sensor report.
type Reading struct {
	ID       int
	AvgSpeed int
}

// Topic returns the topic a sensor reports segment id on.
func Topic(id int) string {
	t, err := trafficPattern.Topic(map[string]string{
		segmentToken: strconv.Itoa(id),
	})
	if err != nil {
		// Unreachable: the token is always a valid topic level.
		panic(err)
	}
	return t
}

// Decoder turns sensor messages into readings.
type Decoder struct {
	// Sensors is the number of segments; ids must be in [0, Sensors).
	Sensors int

	// IDFromPayload expects [id, speed] payloads whose id must agree with
	// the topic. Otherwise the payload is [speed] and any further bytes are
	// ignored.
	IDFromPayload bool
}

// Decode a message. Every failure is a DecodeError.
func (d Decoder) Decode(name string, payload []byte) (Reading, error) {
	tokens, ok := trafficFilter.Tokens(name)
	if !ok {
		return Reading{}, decodeError(
			name,
			"topic does not match "+trafficPattern.Pattern(),
		)
	}

	raw := tokens[segmentToken]
	id, err := strconv.Atoi(raw)
	if err != nil || strconv.Itoa(id) != raw {
		return Reading{}, decodeError(name, "segment id is not a number")
	}
	if id < 0 || id >= d.Sensors {
		return Reading{}, decodeError(
			name,
			fmt.Sprintf("segment id %d out of range [0, %d)", id, d.Sensors),
		)
	}

	if !d.IDFromPayload {
		if len(payload) < 1 {
			return Reading{}, decodeError(name, "empty payload")
		}
		return Reading{ID: id, AvgSpeed: int(payload[0])}, nil
	}

	if len(payload) < 2 {
		return Reading{}, decodeError(
			name,
			fmt.Sprintf("payload of %d bytes, want [id, speed]", len(payload)),
		)
	}
	if int(payload[0]) != id {
		return Reading{}, decodeError(
			name,
			fmt.Sprintf("payload id %d disagrees with topic", payload[0]),
		)
	}
	return Reading{ID: id, AvgSpeed: int(payload[1])}, nil
}

func decodeError(name, msg string) error {
	return &errors.Error{
		Message:       msg,
		Kind:          errors.DecodeError,
		PropertyName:  "topic",
		PropertyValue: name,
	}
}

func mustPattern() *topic.Pattern {
	p, err := topic.NewPattern("traffic", "traffic/{"+segmentToken+"}", nil)
	if err != nil {
		panic(err)
	}
	return p
}

func mustFilter() *topic.Filter {
	f, err := trafficPattern.Filter()
	if err != nil {
		panic(err)
	}
	return f
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt_test

import (
	"testing"

	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/stretchr/testify/require"
)

func TestTopicFilterMatch(t *testing.T) {
	tests := []struct {
		filter   string
		topic    string
		expected bool
	}{
		{"traffic/3", "traffic/3", true},
		{"traffic/3", "traffic/30", false},
		{"traffic/+", "traffic/3", true},
		{"traffic/+", "traffic/3/raw", false},
		{"traffic/#", "traffic", true},
		{"traffic/#", "traffic/3/raw", true},
		{"$share/aggregators/traffic/+", "traffic/12", true},
		{"$share/aggregators", "traffic/12", false},
		{"traffic/#/raw", "traffic/3/raw", false},
	}

	for _, test := range tests {
		require.Equal(
			t,
			test.expected,
			mqtt.IsTopicFilterMatch(test.filter, test.topic),
			"Topic filter: %s, Topic name: %s",
			test.filter,
			test.topic,
		)
	}
}

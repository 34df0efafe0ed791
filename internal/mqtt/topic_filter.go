// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "strings"

const sharedPrefix = "$share/"

// IsTopicFilterMatch checks if a topic name matches a topic filter.
func IsTopicFilterMatch(topicFilter, topicName string) bool {
	if tf, ok := strings.CutPrefix(topicFilter, sharedPrefix); ok {
		idx := strings.Index(tf, "/")
		if idx == -1 {
			return false
		}
		topicFilter = tf[idx+1:]
	}

	filters := strings.Split(topicFilter, "/")
	names := strings.Split(topicName, "/")

	for i, filter := range filters {
		switch {
		case filter == "#":
			// Multi-level wildcard must be at the end.
			return i == len(filters)-1
		case filter == "+" && i < len(names):
			continue
		case i >= len(names) || filter != names[i]:
			return false
		}
	}
	return len(filters) == len(names)
}

// isValidTopicFilter checks the wildcard placement rules of a topic filter.
func isValidTopicFilter(topicFilter string) bool {
	if topicFilter == "" {
		return false
	}
	levels := strings.Split(topicFilter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return false
		case level != "#" && level != "+" && strings.ContainsAny(level, "#+"):
			return false
		}
	}
	return true
}

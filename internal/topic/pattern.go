// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package topic

import (
	"maps"
	"regexp"
	"strings"

	"github.com/H2WO4/project-m101/internal/errors"
)

type (
	// Pattern applies tokens to a named topic pattern such as "traffic/{id}".
	Pattern struct {
		name    string
		pattern string
		tokens  map[string]string
	}

	// Filter provides a topic filter that can parse out its named tokens.
	Filter struct {
		filter string
		regex  *regexp.Regexp
		names  []string
		tokens map[string]string
	}
)

const (
	topicLabel = `[^ "+#{}/]+`
	topicToken = `\{` + topicLabel + `\}`
	topicLevel = `(` + topicLabel + `|` + topicToken + `)`
	topicMatch = `(` + topicLabel + `)`
)

var (
	matchLabel = regexp.MustCompile(
		`^` + topicLabel + `$`,
	)
	matchToken = regexp.MustCompile(
		topicToken, // Lacks anchors because it is used for replacements.
	)
	matchTopic = regexp.MustCompile(
		`^` + topicLabel + `(/` + topicLabel + `)*$`,
	)
	matchPattern = regexp.MustCompile(
		`^` + topicLevel + `(/` + topicLevel + `)*$`,
	)
)

// NewPattern creates a new topic pattern and performs initial validations.
// Tokens given here are static and cannot be overridden later.
func NewPattern(
	name, pattern string,
	tokens map[string]string,
) (*Pattern, error) {
	if !matchPattern.MatchString(pattern) {
		return nil, errors.Config(name, pattern, "invalid topic pattern")
	}

	if err := validateTokens(tokens); err != nil {
		return nil, err
	}
	for token, value := range tokens {
		pattern = strings.ReplaceAll(pattern, `{`+token+`}`, value)
	}

	return &Pattern{name, pattern, tokens}, nil
}

// Pattern returns the raw pattern string.
func (tp *Pattern) Pattern() string {
	return tp.pattern
}

// Topic fully resolves the pattern for publishing.
func (tp *Pattern) Topic(tokens map[string]string) (string, error) {
	topic := tp.pattern

	if err := validateTokens(tokens); err != nil {
		return "", err
	}
	for token, value := range tokens {
		topic = strings.ReplaceAll(topic, `{`+token+`}`, value)
	}

	if !ValidTopic(topic) {
		if missing := matchToken.FindString(topic); missing != "" {
			return "", errors.Config(
				missing[1:len(missing)-1],
				nil,
				"unresolved topic token",
			)
		}
		return "", errors.Config(tp.name, topic, "invalid topic")
	}
	return topic, nil
}

// Filter generates a filter for subscribing. Unresolved tokens are treated as
// "+" wildcards for this purpose.
func (tp *Pattern) Filter() (*Filter, error) {
	// Get the remaining token names.
	names := matchToken.FindAllString(tp.pattern, -1)
	for i, token := range names {
		names[i] = token[1 : len(token)-1]
	}

	// Build a regexp matching all remaining tokens.
	escaped := regexp.QuoteMeta(tp.pattern)
	for _, token := range names {
		escaped = strings.ReplaceAll(escaped, `\{`+token+`\}`, topicMatch)
	}
	regex, err := regexp.Compile(`^` + escaped + `$`)
	if err != nil {
		return nil, err
	}

	// Replace remaining tokens with "+".
	filter := matchToken.ReplaceAllString(tp.pattern, `+`)

	return &Filter{filter, regex, names, tp.tokens}, nil
}

// Filter provides the MQTT topic filter string.
func (tf *Filter) Filter() string {
	return tf.filter
}

// Tokens indicates whether the topic matched and resolves its topic tokens.
func (tf *Filter) Tokens(topic string) (map[string]string, bool) {
	match := tf.regex.FindStringSubmatch(topic)
	if match == nil {
		return nil, false
	}

	tokens := make(map[string]string, len(tf.names)+len(tf.tokens))
	for i, val := range match[1:] {
		tokens[tf.names[i]] = val
	}
	maps.Copy(tokens, tf.tokens)
	return tokens, true
}

// ValidTopic returns whether the provided string is a fully-resolved topic.
func ValidTopic(topic string) bool {
	return matchTopic.MatchString(topic)
}

// Return whether all the topic tokens are valid, to provide more specific
// errors compared to just testing the resulting topic.
func validateTokens(tokens map[string]string) error {
	for k, v := range tokens {
		if !matchLabel.MatchString(k) || !matchLabel.MatchString(v) {
			return errors.Config(k, v, "invalid topic token")
		}
	}
	return nil
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors_test

import (
	stderr "errors"
	"fmt"
	"testing"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestIsKindThroughWrapping(t *testing.T) {
	cause := stderr.New("connection refused")
	err := fmt.Errorf("list jams: %w", errors.Store("cannot read segments", cause))

	require.True(t, errors.IsKind(err, errors.StoreUnavailable))
	require.False(t, errors.IsKind(err, errors.DecodeError))
	require.ErrorIs(t, err, cause)
	require.False(t, errors.IsKind(cause, errors.StoreUnavailable))
}

func TestErrorMessage(t *testing.T) {
	err := errors.Config("SENSOR_NUMBER", "abc", "SENSOR_NUMBER must be an integer")
	require.Equal(t, "SENSOR_NUMBER must be an integer", err.Error())

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errors.ConfigError, e.Kind)
	require.Equal(t, "SENSOR_NUMBER", e.PropertyName)

	attrs := e.Attrs()
	require.Len(t, attrs, 3)
	require.Equal(t, "ConfigError", attrs[0].Value.String())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "TransportUnavailable", errors.TransportUnavailable.String())
	require.Equal(t, "Kind(42)", errors.Kind(42).String())
}

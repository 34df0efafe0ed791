// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import "context"

type (
	// Task is one attempt of a retried operation. A failed attempt reports
	// whether another one may follow.
	Task = func(context.Context) (retryable bool, err error)

	// Policy runs a task until it succeeds, fails for good, or ctx ends.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)

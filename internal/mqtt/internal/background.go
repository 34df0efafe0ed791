// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"sync"
)

// Background represents a long-running process that contexts can be tied to.
// Closing it cancels every context derived through With.
type Background struct {
	cause error
	done  chan struct{}
	close func()
}

func NewBackground(cause error) *Background {
	done := make(chan struct{})
	return &Background{cause, done, sync.OnceFunc(func() { close(done) })}
}

// With returns a child of ctx that is also cancelled when the background
// process closes.
func (b *Background) With(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-b.done:
			cancel(b.cause)
		case <-c.Done():
		}
	}()
	return c, func() { cancel(context.Canceled) }
}

func (b *Background) Close() {
	b.close()
}

func (b *Background) Done() <-chan struct{} {
	return b.done
}

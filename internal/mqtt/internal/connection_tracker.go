// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// ErrConnectionDown is the cancellation cause of contexts bound to a
// connection that has since dropped.
var ErrConnectionDown = errors.New("connection down")

type (
	// ConnectionTracker follows the lifecycle of the paho client for each
	// connection attempt, and lets callers wait for a live one.
	ConnectionTracker struct {
		mu      sync.RWMutex
		current Connection
	}

	// Connection is a snapshot of the tracked connection.
	Connection struct {
		// Client is nil while disconnected.
		Client *paho.Client

		// Err is the error that ended the attempt, if any.
		Err error

		// Attempt counts connection attempts, successful or not.
		Attempt uint64

		// Count counts successful connections.
		Count uint64

		// Up is closed once the current attempt has connected.
		Up chan struct{}

		// Down is closed once the current connection has dropped. It is
		// already closed while disconnected.
		Down *Background
	}
)

func NewConnectionTracker() *ConnectionTracker {
	c := &ConnectionTracker{}
	c.current.Up = make(chan struct{})
	c.current.Down = NewBackground(ErrConnectionDown)
	c.current.Down.Close()
	return c
}

// Attempt records the start of a new connection attempt.
func (c *ConnectionTracker) Attempt() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current.Err = nil
	c.current.Attempt++
	return c.current.Attempt
}

// Connect marks the attempt as connected. If the attempt already failed in
// the meantime, its error is returned instead.
func (c *ConnectionTracker) Connect(client *paho.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Err != nil {
		return c.current.Err
	}

	c.current.Client = client
	c.current.Count++
	c.current.Down = NewBackground(ErrConnectionDown)
	close(c.current.Up)
	return nil
}

// Disconnect marks the given attempt as failed. Reports for stale attempts
// are ignored.
func (c *ConnectionTracker) Disconnect(attempt uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Attempt != attempt {
		return
	}
	if c.current.Err == nil {
		c.current.Err = err
	}
	if c.current.Client == nil {
		return
	}

	c.current.Client = nil
	c.current.Up = make(chan struct{})
	c.current.Down.Close()
}

// Current returns a snapshot of the tracked connection.
func (c *ConnectionTracker) Current() Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Wait blocks until a connection is live and returns it.
func (c *ConnectionTracker) Wait(ctx context.Context) (Connection, error) {
	for {
		current := c.Current()
		if current.Client != nil {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return Connection{}, context.Cause(ctx)
		case <-current.Up:
		}
	}
}

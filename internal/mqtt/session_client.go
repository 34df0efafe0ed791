// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/mqtt/internal"
	"github.com/H2WO4/project-m101/internal/retry"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"
	"github.com/google/uuid"
)

var errStopped = errors.New("session client stopped")

type (
	// SessionClient implements an MQTT v5 session client that keeps its
	// connection and subscriptions alive until stopped.
	SessionClient struct {
		state atomic.Uint32

		// Closed once the connection manager has exited.
		shutdown *internal.Background
		ctx      context.Context
		stop     context.CancelFunc

		conn *internal.ConnectionTracker

		subscriptions *internal.Handlers[*subscription]

		connectEventHandlers    *internal.Handlers[ConnectEventHandler]
		disconnectEventHandlers *internal.Handlers[DisconnectEventHandler]
		fatalErrorHandlers      *internal.Handlers[func(error)]

		// Paho's session state, shared by the client of every connection so
		// in-flight QoS 1 packets survive reconnects.
		session session.SessionManager

		connectionProvider ConnectionProvider
		options            SessionClientOptions

		log logger
	}

	subscription struct {
		filter  string
		opts    SubscribeOptions
		handler MessageHandler
	}
)

// NewSessionClient constructs a new session client with user options.
func NewSessionClient(
	connectionProvider ConnectionProvider,
	opts ...SessionClientOption,
) *SessionClient {
	client := &SessionClient{
		connectionProvider: connectionProvider,

		shutdown: internal.NewBackground(errStopped),
		conn:     internal.NewConnectionTracker(),

		subscriptions:           internal.NewHandlers[*subscription](),
		connectEventHandlers:    internal.NewHandlers[ConnectEventHandler](),
		disconnectEventHandlers: internal.NewHandlers[DisconnectEventHandler](),
		fatalErrorHandlers:      internal.NewHandlers[func(error)](),

		session: state.NewInMemory(),
	}

	client.options.Apply(opts)

	if client.options.ClientID == "" {
		client.options.ClientID = RandomClientID()
	}
	if client.options.KeepAlive == 0 {
		client.options.KeepAlive = time.Minute
	}
	if client.options.ReceiveMaximum == 0 {
		client.options.ReceiveMaximum = math.MaxUint16
	}
	if client.options.ConnectionRetry == nil {
		client.options.ConnectionRetry = &retry.ExponentialBackoff{
			Logger: client.options.Logger,
		}
	}

	client.log.Logger = log.Wrap(client.options.Logger)
	return client
}

// RandomClientID generates a random client ID.
func RandomClientID() string {
	return "client-" + uuid.NewString()
}

// ID returns the MQTT client ID for this session client.
func (c *SessionClient) ID() string {
	return c.options.ClientID
}

// State returns the lifecycle state of the session client.
func (c *SessionClient) State() ClientState {
	return ClientState(c.state.Load())
}

// Start the session client, spawning the goroutine that connects and keeps
// reconnecting. It does not wait for the first connection.
func (c *SessionClient) Start() error {
	if !c.state.CompareAndSwap(uint32(NotStarted), uint32(Started)) {
		return &ClientStateError{State: c.State()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.stop = ctx, cancel

	go func() {
		defer c.shutdown.Close()
		defer c.state.Store(uint32(ShutDown))

		if err := c.manageConnection(ctx); err != nil {
			c.log.Err(ctx, err)
			for handler := range c.fatalErrorHandlers.All() {
				go handler(err)
			}
		}
	}()

	return nil
}

// Stop the session client, sending a DISCONNECT if connected, and wait for
// its goroutines to exit.
func (c *SessionClient) Stop() error {
	switch c.State() {
	case NotStarted:
		return &ClientStateError{State: NotStarted}
	case ShutDown:
		<-c.shutdown.Done()
		return nil
	}
	c.stop()
	<-c.shutdown.Done()
	return nil
}

// Done is closed once the session client has shut down, whether stopped or
// terminated by a fatal error.
func (c *SessionClient) Done() <-chan struct{} {
	return c.shutdown.Done()
}

// RegisterConnectEventHandler registers a handler notified after each
// successful connection. It returns a function to remove the handler.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) (unregister func()) {
	return c.connectEventHandlers.Add(handler)
}

// RegisterDisconnectEventHandler registers a handler notified after each
// lost connection. It returns a function to remove the handler.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) (unregister func()) {
	return c.disconnectEventHandlers.Add(handler)
}

// RegisterFatalErrorHandler registers a handler called in a goroutine when
// the session client terminates due to a fatal error.
func (c *SessionClient) RegisterFatalErrorHandler(
	handler func(error),
) (unregister func()) {
	return c.fatalErrorHandlers.Add(handler)
}

func (c *SessionClient) checkState() error {
	if s := c.State(); s == ShutDown {
		return &ClientStateError{State: s}
	}
	return nil
}

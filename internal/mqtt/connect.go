// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/eclipse/paho.golang/paho"
)

// manageConnection connects, waits for the connection to drop and reconnects
// until the context is cancelled or a fatal error occurs.
func (c *SessionClient) manageConnection(ctx context.Context) error {
	for {
		err := c.options.ConnectionRetry.Start(
			ctx,
			"connect",
			func(ctx context.Context) (bool, error) {
				err := c.connect(ctx)
				var fatal *FatalConnackError
				return !errors.As(err, &fatal), err
			},
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		current := c.conn.Current()
		select {
		case <-ctx.Done():
			c.disconnect(current.Client)
			return nil
		case <-current.Down.Done():
		}

		err = c.conn.Current().Err
		if err == nil {
			err = &ConnectionError{message: "connection lost"}
		}
		c.log.Warn(ctx, err)

		event := &DisconnectEvent{Err: err}
		var disconnect *DisconnectError
		var fatal *FatalDisconnectError
		switch {
		case errors.As(err, &disconnect):
			event.ReasonCode = &disconnect.ReasonCode
		case errors.As(err, &fatal):
			event.ReasonCode = &fatal.ReasonCode
		}
		for handler := range c.disconnectEventHandlers.All() {
			handler(event)
		}

		if fatal != nil {
			return fatal
		}
	}
}

// connect performs a single connection attempt.
func (c *SessionClient) connect(ctx context.Context) error {
	attempt := c.conn.Attempt()
	if c.options.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.ConnectionTimeout)
		defer cancel()
	}

	netConn, err := c.connectionProvider(ctx)
	if err != nil {
		return err
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID:                   c.options.ClientID,
		Conn:                       netConn,
		Session:                    c.session,
		EnableManualAcknowledgment: true,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublishReceived,
		},
		OnClientError: func(err error) {
			c.conn.Disconnect(attempt, &ConnectionError{
				message: "connection lost",
				wrapped: err,
			})
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.log.Packet(c.ctx, "disconnect", d)
			if isFatalDisconnectReasonCode(d.ReasonCode) {
				c.conn.Disconnect(attempt, &FatalDisconnectError{d.ReasonCode})
			} else {
				c.conn.Disconnect(attempt, &DisconnectError{d.ReasonCode})
			}
		},
	})

	packet := c.connectPacket(c.conn.Current().Count == 0)
	c.log.Packet(ctx, "connect", packet)

	connack, err := client.Connect(ctx, packet)
	if connack != nil {
		c.log.Packet(ctx, "connack", connack)
	}
	switch {
	case connack != nil && connack.ReasonCode >= reasonCodeFailure:
		_ = netConn.Close()
		if isFatalConnackReasonCode(connack.ReasonCode) {
			return &FatalConnackError{connack.ReasonCode}
		}
		return &ConnackError{connack.ReasonCode}
	case err != nil:
		_ = netConn.Close()
		return &ConnectionError{message: "error connecting", wrapped: err}
	}

	if err := c.conn.Connect(client); err != nil {
		return err
	}

	// Subscriptions made while disconnected, or lost with the session, are
	// (re)issued before anyone is told the connection is up. A rejection
	// fails the attempt, which is then retried.
	if err := c.resubscribe(ctx, client); err != nil {
		c.conn.Disconnect(attempt, err)
		c.disconnect(client)
		return err
	}

	count := c.conn.Current().Count
	c.log.Info(ctx, "connected",
		slog.String("client_id", c.options.ClientID),
		slog.Bool("session_present", connack.SessionPresent),
		slog.Uint64("connection_count", count),
	)

	event := &ConnectEvent{
		ReasonCode:     connack.ReasonCode,
		SessionPresent: connack.SessionPresent,
		Count:          count,
	}
	for handler := range c.connectEventHandlers.All() {
		handler(event)
	}
	return nil
}

func (c *SessionClient) connectPacket(first bool) *paho.Connect {
	keepAlive := min(c.options.KeepAlive.Seconds(), math.MaxUint16)
	receiveMaximum := c.options.ReceiveMaximum

	packet := &paho.Connect{
		ClientID:   c.options.ClientID,
		KeepAlive:  uint16(keepAlive),
		CleanStart: first && c.options.CleanStart,
		Properties: &paho.ConnectProperties{
			ReceiveMaximum: &receiveMaximum,
		},
	}

	if c.options.SessionExpiry > 0 {
		expiry := uint32(min(
			c.options.SessionExpiry.Seconds(),
			math.MaxUint32,
		))
		packet.Properties.SessionExpiryInterval = &expiry
	}

	if c.options.Username != "" {
		packet.Username = c.options.Username
		packet.UsernameFlag = true
	}
	if len(c.options.Password) > 0 {
		packet.Password = c.options.Password
		packet.PasswordFlag = true
	}

	return packet
}

func (c *SessionClient) disconnect(client *paho.Client) {
	if client == nil {
		return
	}
	packet := &paho.Disconnect{ReasonCode: disconnectNormal}
	c.log.Packet(context.Background(), "disconnect", packet)
	if err := client.Disconnect(packet); err != nil {
		c.log.Warn(context.Background(), err)
	}
}

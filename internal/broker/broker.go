// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package broker

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/log"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

type (
	// Broker is an in-process MQTT broker, used for development runs without
	// an external broker and by tests.
	Broker struct {
		server  *mochi.Server
		address string
		close   func() error
		log     log.Logger
	}

	// Option represents a single broker option.
	Option interface{ broker(*Options) }

	// Options are the resolved broker options.
	Options struct {
		// Username and Password, when set, are required of every client.
		// Otherwise all clients are allowed.
		Username string
		Password string

		// ACL restricts topic access; see auth.Ledger. Empty allows all.
		ACL auth.ACLRules

		Logger *slog.Logger
	}

	// WithCredentials requires clients to authenticate.
	WithCredentials struct{ Username, Password string }

	// WithACL restricts which topics clients may publish or subscribe to.
	WithACL auth.ACLRules

	withLogger struct{ *slog.Logger }
)

// Start a broker listening on the TCP address. A port of 0 picks a free port;
// see Address.
func Start(address string, opts ...Option) (*Broker, error) {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt.broker(&o)
		}
	}

	address, err := resolve(address)
	if err != nil {
		return nil, err
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       o.Logger,
	})

	switch {
	case o.Username != "" || len(o.ACL) > 0:
		// Empty rule fields match anything.
		rule := auth.AuthRule{Allow: true}
		if o.Username != "" {
			rule.Username = auth.RString(o.Username)
			rule.Password = auth.RString(o.Password)
		}
		err = server.AddHook(new(auth.Hook), &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{rule},
				ACL:  o.ACL,
			},
		})
	default:
		err = server.AddHook(new(auth.AllowHook), nil)
	}
	if err != nil {
		return nil, err
	}

	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "tcp",
		Address: address,
	})); err != nil {
		return nil, err
	}

	if err := server.Serve(); err != nil {
		return nil, err
	}

	b := &Broker{
		server:  server,
		address: address,
		close:   sync.OnceValue(server.Close),
		log:     log.Wrap(o.Logger),
	}
	b.log.Info(context.Background(), "embedded MQTT broker listening",
		slog.String("address", address),
	)
	return b, nil
}

// Address returns the address the broker listens on.
func (b *Broker) Address() string {
	return b.address
}

// HostPort splits the listening address for use by a client.
func (b *Broker) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(b.address)
	p, _ := strconv.Atoi(port)
	return host, p
}

// Publish injects a message as if a client had published it.
func (b *Broker) Publish(
	topic string,
	payload []byte,
	retain bool,
	qos byte,
) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Close stops the broker, disconnecting every client. Further calls are
// no-ops.
func (b *Broker) Close() error {
	return b.close()
}

// resolve replaces a zero port with a free one, since mochi does not expose
// the bound address of its listeners.
func resolve(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", errors.Config("MQTT_HOST/MQTT_PORT", address, err.Error())
	}
	if port != "0" {
		return address, nil
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func (o WithCredentials) broker(opt *Options) {
	opt.Username = o.Username
	opt.Password = o.Password
}

func (o WithACL) broker(opt *Options) {
	opt.ACL = auth.ACLRules(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) broker(opt *Options) {
	opt.Logger = o.Logger
}

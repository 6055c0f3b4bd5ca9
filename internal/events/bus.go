// Package events carries hub notifications over an embedded NATS server so
// websocket clients and other processes can follow plugin actions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects published by the hub
const (
	SubjectAll               = "pluginhub.>"
	SubjectActionCompleted   = "pluginhub.action.completed"
	SubjectBulkProgress      = "pluginhub.bulk.progress"
	SubjectBulkCompleted     = "pluginhub.bulk.completed"
	SubjectManifestRefreshed = "pluginhub.manifest.refreshed"
	SubjectConfigChanged     = "pluginhub.config.changed"
)

// Publisher sends JSON encoded events
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Discard is a Publisher that drops every event
type Discard struct{}

// Publish implements Publisher
func (Discard) Publish(string, interface{}) error { return nil }

// Config configures the embedded server
type Config struct {
	// Host to listen on (default: 127.0.0.1)
	Host string
	// Port to listen on; 0 picks a free port
	Port int
	// StoreDir enables JetStream persistence when set
	StoreDir string
}

// Bus is an embedded NATS server with a client connection
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   []*nats.Subscription
	subsMu sync.Mutex
}

// NewBus starts the embedded server and connects to it
func NewBus(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	}
	if cfg.StoreDir != "" {
		opts.JetStream = true
		opts.StoreDir = cfg.StoreDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("pluginhub"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
	}
	b.logger.Info("Event bus started", "url", ns.ClientURL(), "jetstream", opts.JetStream)
	return b, nil
}

// ClientURL returns the URL other processes can connect to
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish implements Publisher
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe delivers raw message payloads for subject to handler. The
// returned function cancels the subscription.
func (b *Bus) Subscribe(subject string, handler func(subject string, data []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()

	return func() {
		_ = sub.Unsubscribe()
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}, nil
}

// Flush waits until published messages reach the server
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// HealthCheck verifies the client connection
func (b *Bus) HealthCheck(_ context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	return nil
}

// Stop drains subscriptions and shuts the server down
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}

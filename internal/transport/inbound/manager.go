// Package inbound owns the agent's listening transports. The manager
// constructs them from settings, starts and stops them as a group, and
// hands every received message to the conductor's inbound router.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

// ReceiveFunc is the router callback invoked synchronously for every
// received message. It must not block on message processing.
type ReceiveFunc func(msg *transport.InboundMessage)

// Transport is one listening endpoint.
type Transport interface {
	Scheme() string
	Address() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Creator builds a transport for a parsed inbound spec.
type Creator func(u *url.URL, receive ReceiveFunc, settings config.Settings, logger *slog.Logger) (Transport, error)

func defaultCreators() map[string]Creator {
	return map[string]Creator{
		"http": newHTTPTransport,
		"ws":   newWSTransport,
		"mqtt": newMQTTTransport,
	}
}

// Manager owns the inbound transports.
type Manager struct {
	context    *config.Context
	receive    ReceiveFunc
	creators   map[string]Creator
	transports []Transport
	logger     *slog.Logger
}

// NewManager creates a Manager that will deliver every received message
// to receive.
func NewManager(conCtx *config.Context, receive ReceiveFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		context:  conCtx,
		receive:  receive,
		creators: defaultCreators(),
		logger:   logger.With("component", "inbound"),
	}
}

// Setup constructs transports from the transport.inbound setting. Specs
// look like "http://0.0.0.0:8020", "ws://0.0.0.0:8023" or
// "mqtt://broker:1883/parley/inbound".
func (m *Manager) Setup() error {
	specs := m.context.Settings.GetStringList("transport.inbound")
	for _, spec := range specs {
		u, err := url.Parse(spec)
		if err != nil {
			return fmt.Errorf("inbound: bad transport spec %q: %w", spec, err)
		}
		creator, ok := m.creators[u.Scheme]
		if !ok {
			return fmt.Errorf("inbound: unknown transport scheme %q in %q", u.Scheme, spec)
		}
		t, err := creator(u, m.receive, m.context.Settings, m.logger)
		if err != nil {
			return fmt.Errorf("inbound: create %s transport: %w", u.Scheme, err)
		}
		m.transports = append(m.transports, t)
		m.logger.Info("inbound transport registered", "scheme", t.Scheme(), "address", t.Address())
	}
	return nil
}

// Start brings up all transports in parallel, failing fast if any cannot
// start.
func (m *Manager) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, t := range m.transports {
		g.Go(func() error {
			if err := t.Start(gCtx); err != nil {
				return fmt.Errorf("start %s transport on %s: %w", t.Scheme(), t.Address(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop shuts down all transports, collecting every failure.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s transport: %w", t.Scheme(), err))
		}
	}
	return errors.Join(errs...)
}

// DispatchComplete is the notification hook the conductor invokes once a
// queued message finishes processing.
func (m *Manager) DispatchComplete(msg *transport.InboundMessage, err error) {
	if err != nil {
		m.logger.Error("message processing failed",
			"id", msg.MessageID,
			"transport", msg.Receipt.TransportType,
			"error", err,
		)
		return
	}
	m.logger.Debug("message processing complete", "id", msg.MessageID)
}

// RegisteredTransports lists the configured transports as scheme://address.
func (m *Manager) RegisteredTransports() []string {
	out := make([]string, 0, len(m.transports))
	for _, t := range m.transports {
		out = append(out, t.Scheme()+"://"+t.Address())
	}
	return out
}

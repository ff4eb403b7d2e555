// Package outbound owns the agent's sending transports. Delivery is
// fire-and-forget: the manager matches a transport synchronously, then
// performs the actual send as a background task on the dispatcher's
// queue.
package outbound

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

// TaskRunner schedules a background task; the dispatcher supplies it.
type TaskRunner func(name string, fn func(context.Context) error)

// Transport is one sending endpoint type.
type Transport interface {
	Scheme() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, target *transport.Target, payload []byte) error
}

// Creator builds a transport for a configured outbound scheme.
type Creator func(settings config.Settings, logger *slog.Logger) (Transport, error)

func defaultCreators() map[string]Creator {
	return map[string]Creator{
		"http": newHTTPTransport,
		"ws":   newWSTransport,
		"mqtt": newMQTTTransport,
	}
}

// Manager owns the outbound transports, keyed by endpoint scheme.
type Manager struct {
	context    *config.Context
	runTask    TaskRunner
	creators   map[string]Creator
	transports map[string]Transport
	logger     *slog.Logger
}

// NewManager creates a Manager whose sends run on the given task runner.
func NewManager(conCtx *config.Context, runTask TaskRunner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		context:    conCtx,
		runTask:    runTask,
		creators:   defaultCreators(),
		transports: make(map[string]Transport),
		logger:     logger.With("component", "outbound"),
	}
}

// Setup constructs a transport per scheme named in transport.outbound
// (default http and ws).
func (m *Manager) Setup() error {
	schemes := m.context.Settings.GetStringList("transport.outbound")
	if len(schemes) == 0 {
		schemes = []string{"http", "ws"}
	}
	for _, scheme := range schemes {
		creator, ok := m.creators[scheme]
		if !ok {
			return fmt.Errorf("outbound: unknown transport scheme %q", scheme)
		}
		t, err := creator(m.context.Settings, m.logger)
		if err != nil {
			return fmt.Errorf("outbound: create %s transport: %w", scheme, err)
		}
		m.transports[scheme] = t
		m.logger.Info("outbound transport registered", "scheme", scheme)
	}
	return nil
}

// Start brings up all transports in parallel, failing fast.
func (m *Manager) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for scheme, t := range m.transports {
		g.Go(func() error {
			if err := t.Start(gCtx); err != nil {
				return fmt.Errorf("start %s transport: %w", scheme, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop shuts down all transports, collecting every failure.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for scheme, t := range m.transports {
		if err := t.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s transport: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}

// Deliver hands a targeted message to the matching transport. The
// transport match happens synchronously so the caller learns about an
// unserviceable message immediately; the send itself is scheduled on the
// task runner and its failure is logged, not returned. After Deliver
// returns nil the manager owns the message.
func (m *Manager) Deliver(ctx context.Context, msg *transport.OutboundMessage) error {
	target := msg.DeliveryTarget()
	if target == nil {
		return transport.ErrNoDeliveryTarget
	}

	u, err := url.Parse(target.Endpoint)
	if err != nil {
		return fmt.Errorf("outbound: bad endpoint %q: %w", target.Endpoint, err)
	}
	scheme := u.Scheme
	if scheme == "https" {
		scheme = "http"
	}
	if scheme == "wss" {
		scheme = "ws"
	}

	t, ok := m.transports[scheme]
	if !ok {
		return fmt.Errorf("outbound: endpoint %q: %w", target.Endpoint, transport.ErrNoTransport)
	}

	payload := msg.Payload
	m.runTask("deliver to "+target.Endpoint, func(taskCtx context.Context) error {
		if err := t.Send(taskCtx, target, payload); err != nil {
			m.logger.Error("outbound send failed", "endpoint", target.Endpoint, "error", err)
			return err
		}
		m.logger.Debug("outbound message sent", "endpoint", target.Endpoint, "bytes", len(payload))
		return nil
	})
	return nil
}

// RegisteredTransports returns a read-only copy of the scheme map.
func (m *Manager) RegisteredTransports() map[string]Transport {
	out := make(map[string]Transport, len(m.transports))
	for k, v := range m.transports {
		out[k] = v
	}
	return out
}

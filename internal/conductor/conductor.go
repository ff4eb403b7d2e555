// Package conductor is the coordination core of the agent: it owns the
// boot/run/shutdown lifecycle and is the single choke point through which
// every inbound and outbound protocol message passes.
package conductor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/admin"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/connections"
	"github.com/parleylabs/parley/internal/dispatch"
	"github.com/parleylabs/parley/internal/maintenance"
	"github.com/parleylabs/parley/internal/stats"
	"github.com/parleylabs/parley/internal/transport"
	"github.com/parleylabs/parley/internal/transport/inbound"
	"github.com/parleylabs/parley/internal/transport/outbound"
	"github.com/parleylabs/parley/internal/wallet"
)

// DefaultStopTimeout bounds shutdown when the caller does not choose one.
const DefaultStopTimeout = time.Second

// Seeds for the deterministic test-suite connection. Hashing these fixed
// strings yields reproducible identities on both sides of the handshake.
const (
	testSuiteSubjectSeed = "aries-protocol-test-subject"
	testSuiteSuiteSeed   = "aries-protocol-test-suite"
)

// State is the conductor's lifecycle position. Transitions never skip a
// state.
type State int

// Lifecycle states.
const (
	StateCreated State = iota
	StateConfigured
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Collaborator contracts. The conductor consumes capabilities, not
// concrete types, so tests can stand in for any subsystem.

type messageDispatcher interface {
	QueueMessage(msg *transport.InboundMessage, respond dispatch.Responder, onComplete func(error))
	RunTask(name string, fn func(context.Context) error)
	PutTask(fn func(context.Context) error)
	Active() int
	Pending() int
}

type inboundTransportManager interface {
	Setup() error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	DispatchComplete(msg *transport.InboundMessage, err error)
	RegisteredTransports() []string
}

type outboundTransportManager interface {
	Setup() error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Deliver(ctx context.Context, msg *transport.OutboundMessage) error
	RegisteredTransports() map[string]outbound.Transport
}

type adminAPI interface {
	Start() error
	Stop(ctx context.Context) error
	AddWebhookTarget(url string)
	Responder() *admin.Responder
	Address() string
	SetQueueStats(fn func() map[string]any)
}

type connectionService interface {
	GetConnectionTargets(ctx context.Context, connectionID string) ([]*transport.Target, error)
	CreateStaticConnection(ctx context.Context, args connections.StaticConnectionArgs) (*connections.Connection, error)
	CreateInvitation(ctx context.Context, args connections.InvitationArgs) (*connections.Connection, *connections.Invitation, error)
}

// Conductor sequences the agent's subsystems and routes every message.
// Exactly one exists per running agent; collaborators receive it by
// handle, never through global state.
type Conductor struct {
	builder config.Builder
	logger  *slog.Logger
	out     io.Writer

	mu    sync.Mutex
	state State

	context     *config.Context
	store       *connections.Store
	dispatcher  messageDispatcher
	inboundMgr  inboundTransportManager
	outboundMgr outboundTransportManager
	adminServer adminAPI
	scheduler   *maintenance.Scheduler
	collector   *stats.Collector
	identity    *wallet.Identity

	// outboundRoute is the (possibly instrumented) routing function every
	// caller goes through; set exactly once during Setup.
	outboundRoute dispatch.Responder

	// Indirections for subsystems the conductor drives but does not own.
	// Tests substitute these; production keeps the defaults.
	newConnections  func(conCtx *config.Context) (connectionService, error)
	walletConfigure func(conCtx *config.Context, logger *slog.Logger) (*wallet.Identity, error)
	ledgerConfigure func(ctx context.Context, conCtx *config.Context, identity *wallet.Identity, logger *slog.Logger) error
}

// New creates a Conductor in the created state. Nothing is constructed
// until Setup.
func New(builder config.Builder, logger *slog.Logger) *Conductor {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conductor{
		builder: builder,
		logger:  logger.With("component", "conductor"),
		out:     os.Stdout,
		state:   StateCreated,
	}
	c.newConnections = func(conCtx *config.Context) (connectionService, error) {
		return connections.NewManager(conCtx, c.logger)
	}
	c.walletConfigure = wallet.Configure
	c.ledgerConfigure = wallet.ConfigureLedger
	return c
}

// State returns the current lifecycle state.
func (c *Conductor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conductor) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("conductor: cannot move to %s from %s", to, c.state)
	}
	c.state = to
	return nil
}

func (c *Conductor) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Setup builds the injection context and constructs every subsystem. It
// runs exactly once; any failure is fatal and leaves the conductor
// unusable.
func (c *Conductor) Setup(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCreated {
		c.mu.Unlock()
		return fmt.Errorf("conductor: setup already ran (state %s)", c.state)
	}
	c.mu.Unlock()

	conCtx, err := c.builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("conductor: build context: %w", err)
	}

	store, err := connections.OpenStore(conCtx.Settings.GetString("storage.path"))
	if err != nil {
		return err
	}
	conCtx.Injector.Bind(config.CapConnectionStore, store)
	c.store = store

	dispatcher := dispatch.New(conCtx, c.logger)
	c.dispatcher = dispatcher

	inboundMgr := inbound.NewManager(conCtx, c.InboundRouter, c.logger)
	if err := inboundMgr.Setup(); err != nil {
		return err
	}
	c.inboundMgr = inboundMgr

	outboundMgr := outbound.NewManager(conCtx, dispatcher.RunTask, c.logger)
	if err := outboundMgr.Setup(); err != nil {
		return err
	}
	c.outboundMgr = outboundMgr

	// The public OutboundRouter delegates through this slot so the
	// instrumentation wrap below applies no matter who captured the
	// router first.
	c.outboundRoute = c.routeOutbound

	if conCtx.Settings.GetBool("admin.enabled") {
		host := conCtx.Settings.GetStringDefault("admin.host", "0.0.0.0")
		port := conCtx.Settings.GetInt("admin.port", 80)
		server, err := admin.New(host, port, conCtx, c.OutboundRouter, dispatcher.PutTask, c.logger)
		if err != nil {
			c.logger.Error("unable to register admin server", "error", err)
			return err
		}
		for _, url := range conCtx.Settings.GetStringList("admin.webhook_urls") {
			server.AddWebhookTarget(url)
		}
		server.SetQueueStats(c.queueStats)
		conCtx.Injector.Bind(config.CapAdminServer, server)
		c.adminServer = server
	}

	if svc, ok := conCtx.Injector.Resolve(config.CapCollector); ok {
		if collector, ok := svc.(*stats.Collector); ok {
			c.collector = collector
			base := c.outboundRoute
			c.outboundRoute = func(ctx context.Context, conCtx *config.Context, out *transport.OutboundMessage, in *transport.InboundMessage) {
				defer collector.Timer("conductor.OutboundRouter")()
				base(ctx, conCtx, out, in)
			}
			// Process-wide hook; a second Setup in the same process will
			// not stack another timing layer.
			connections.InstallCollector(collector)
		}
	}

	c.context = conCtx
	c.setState(StateConfigured)
	return nil
}

// Start performs side-effecting startup in a fixed order. Wallet, ledger
// and transport failures are fatal; the admin server and maintenance
// scheduler start best-effort.
func (c *Conductor) Start(ctx context.Context) error {
	if err := c.transition(StateConfigured, StateStarting); err != nil {
		return err
	}

	identity, err := c.walletConfigure(c.context, c.logger)
	if err != nil {
		return err
	}
	c.identity = identity

	if err := c.ledgerConfigure(ctx, c.context, identity, c.logger); err != nil {
		return err
	}

	if err := c.inboundMgr.Start(ctx); err != nil {
		c.logger.Error("unable to start inbound transports", "error", err)
		return err
	}
	if err := c.outboundMgr.Start(ctx); err != nil {
		c.logger.Error("unable to start outbound transports", "error", err)
		return err
	}

	if c.adminServer != nil {
		if err := c.adminServer.Start(); err != nil {
			// The agent keeps running without its admin API.
			c.logger.Error("unable to start administration API", "error", err)
		} else {
			// Default responder for messages originating outside the
			// inbound flow. Written once, before any reader is active.
			c.context.Injector.Bind(config.CapResponder, c.adminServer.Responder())
		}
	}

	c.startMaintenance()

	c.printBanner()

	if endpoint := c.context.Settings.GetString("debug.test_suite_endpoint"); endpoint != "" {
		if err := c.createTestSuiteConnection(ctx, endpoint); err != nil {
			return err
		}
	}

	if c.context.Settings.GetBool("debug.print_invitation") {
		c.printInvitation(ctx)
	}

	c.setState(StateRunning)
	return nil
}

// startMaintenance wires the cron jobs when maintenance.enabled is set.
// Never fatal.
func (c *Conductor) startMaintenance() {
	if !c.context.Settings.GetBool("maintenance.enabled") {
		return
	}
	sched := maintenance.NewScheduler(c.logger)

	purgeSpec := c.context.Settings.GetStringDefault("maintenance.purge_schedule", "@every 5m")
	err := sched.AddJob(purgeSpec, "purge-invitations", func(ctx context.Context) {
		mgr, err := c.newConnections(c.context)
		if err != nil {
			return
		}
		if purger, ok := mgr.(interface {
			PurgeExpiredInvitations(context.Context) (int64, error)
		}); ok {
			if n, err := purger.PurgeExpiredInvitations(ctx); err != nil {
				c.logger.Warn("invitation purge failed", "error", err)
			} else if n > 0 {
				c.logger.Info("expired invitations purged", "count", n)
			}
		}
	})
	if err != nil {
		c.logger.Warn("maintenance scheduler disabled", "error", err)
		return
	}

	statsSpec := c.context.Settings.GetStringDefault("maintenance.stats_schedule", "@every 1m")
	err = sched.AddJob(statsSpec, "queue-snapshot", func(context.Context) {
		c.logger.Info("queue status",
			"active", c.dispatcher.Active(),
			"pending", c.dispatcher.Pending(),
		)
	})
	if err != nil {
		c.logger.Warn("maintenance scheduler disabled", "error", err)
		return
	}

	sched.Start()
	c.scheduler = sched
}

// createTestSuiteConnection derives a static connection from fixed seed
// strings so the protocol test suite can reach the agent with known
// identities. Failure is fatal during this debug-mode startup.
func (c *Conductor) createTestSuiteConnection(ctx context.Context, endpoint string) error {
	mgr, err := c.newConnections(c.context)
	if err != nil {
		return err
	}
	mySeed := sha256.Sum256([]byte(testSuiteSubjectSeed))
	theirSeed := sha256.Sum256([]byte(testSuiteSuiteSeed))
	conn, err := mgr.CreateStaticConnection(ctx, connections.StaticConnectionArgs{
		MySeed:        mySeed[:],
		TheirSeed:     theirSeed[:],
		TheirEndpoint: endpoint,
		TheirRole:     "tester",
		Alias:         "test-suite",
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Created static connection for test suite")
	fmt.Fprintln(c.out, " - My DID:", conn.MyDID)
	fmt.Fprintln(c.out, " - Their DID:", conn.TheirDID)
	fmt.Fprintln(c.out, " - Their endpoint:", endpoint)
	fmt.Fprintln(c.out)
	return nil
}

// printInvitation creates and prints a shareable invitation. Failures are
// logged and swallowed; the agent starts regardless.
func (c *Conductor) printInvitation(ctx context.Context) {
	mgr, err := c.newConnections(c.context)
	if err != nil {
		c.logger.Error("error creating invitation", "error", err)
		return
	}
	settings := c.context.Settings
	_, inv, err := mgr.CreateInvitation(ctx, connections.InvitationArgs{
		TheirRole: settings.GetString("debug.invite_role"),
		MyLabel:   settings.GetString("debug.invite_label"),
		MultiUse:  settings.GetBool("debug.invite_multi_use"),
		Public:    settings.GetBool("debug.invite_public"),
	})
	if err != nil {
		c.logger.Error("error creating invitation", "error", err)
		return
	}
	url, err := inv.ToURL(settings.GetString("invite_base_url"))
	if err != nil {
		c.logger.Error("error creating invitation", "error", err)
		return
	}
	fmt.Fprintln(c.out, "Invitation URL:")
	fmt.Fprintln(c.out, url)
}

// Stop tears the agent down best-effort: component stops are scheduled in
// parallel and given until the timeout to finish. Components that miss
// the deadline are reported by name and abandoned, never retried; there
// is no rollback. Safe to call with components that were never enabled.
func (c *Conductor) Stop(ctx context.Context, timeout time.Duration) error {
	c.setState(StateStopping)
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	shutdown := dispatch.NewTaskQueue(0)
	stop := func(name string, fn func(context.Context) error) {
		shutdown.Run(ctx, name, func(taskCtx context.Context) error {
			stopCtx, cancel := context.WithTimeout(taskCtx, timeout)
			defer cancel()
			return fn(stopCtx)
		}, func(err error) {
			if err != nil {
				c.logger.Error("component stop failed", "component", name, "error", err)
			}
		})
	}

	if c.adminServer != nil {
		stop("admin server", c.adminServer.Stop)
	}
	if c.inboundMgr != nil {
		stop("inbound transports", c.inboundMgr.Stop)
	}
	if c.outboundMgr != nil {
		stop("outbound transports", c.outboundMgr.Stop)
	}
	if c.scheduler != nil {
		stop("maintenance scheduler", c.scheduler.Stop)
	}

	err := shutdown.CompleteWithin(timeout)
	if err != nil {
		c.logger.Warn("shutdown deadline exceeded", "error", err)
	}

	if c.store != nil {
		if cerr := c.store.Close(); cerr != nil {
			c.logger.Error("closing connection store", "error", cerr)
		}
	}

	c.setState(StateStopped)
	return err
}

// InboundRouter is the synchronous entry point for every received
// message. It validates, warns on unserviceable direct-response requests,
// and enqueues exactly one handling task; it never blocks on processing.
func (c *Conductor) InboundRouter(msg *transport.InboundMessage) {
	if msg.Receipt.DirectResponseRequested() && !msg.Receipt.CanReplyDirectly {
		c.logger.Warn("direct response requested, but not supported by transport",
			"transport", msg.Receipt.TransportType,
			"mode", msg.Receipt.DirectResponseMode,
		)
	}

	c.dispatcher.QueueMessage(msg, c.OutboundRouter, func(err error) {
		c.inboundMgr.DispatchComplete(msg, err)
	})
}

// OutboundRouter is the sole path by which any component sends a message
// out. When it returns, the message was either handed to a transport or
// definitively dropped with a log entry; nothing stays pending here.
func (c *Conductor) OutboundRouter(ctx context.Context, conCtx *config.Context, out *transport.OutboundMessage, in *transport.InboundMessage) {
	c.outboundRoute(ctx, conCtx, out, in)
}

func (c *Conductor) routeOutbound(ctx context.Context, conCtx *config.Context, out *transport.OutboundMessage, in *transport.InboundMessage) {
	_ = in // correlation only; unused beyond the signature at this layer

	if out.Target == nil && len(out.TargetList) == 0 && out.ConnectionID != "" {
		mgr, err := c.newConnections(conCtx)
		if err != nil {
			c.logger.Error("error preparing outbound message for transmission", "error", err)
			return
		}
		targets, err := mgr.GetConnectionTargets(ctx, out.ConnectionID)
		if err != nil {
			c.logger.Error("error preparing outbound message for transmission",
				"connection_id", out.ConnectionID,
				"error", err,
			)
			return // drop message
		}
		out.TargetList = targets
	}

	if err := c.outboundMgr.Deliver(ctx, out); err != nil {
		// Drop policy: no undelivered-message queue, no retry.
		c.logger.Warn("cannot deliver message, no supported transport", "error", err)
		return
	}
}

func (c *Conductor) queueStats() map[string]any {
	return map[string]any{
		"active":  c.dispatcher.Active(),
		"pending": c.dispatcher.Pending(),
	}
}

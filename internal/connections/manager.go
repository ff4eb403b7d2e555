// Package connections resolves logical connection identifiers to concrete
// delivery targets and manages connection establishment: static
// connections for known peers and shareable invitations for new ones.
package connections

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/stats"
	"github.com/parleylabs/parley/internal/transport"
	"github.com/parleylabs/parley/internal/wallet"
)

// The collector hook is process-wide so that every Manager instance is
// observed by the same instrumentation, and it is installed at most once:
// re-running conductor setup must not stack a second layer of timing on
// top of the first.
var (
	collectorOnce sync.Once
	collector     *stats.Collector
)

// InstallCollector wires the stats collector into every Manager in the
// process. Only the first call takes effect.
func InstallCollector(c *stats.Collector) {
	collectorOnce.Do(func() { collector = c })
}

func observe(method string) func() {
	// collector is written once during setup, before any message can
	// flow, so the unsynchronized read here is safe.
	if collector == nil {
		return func() {}
	}
	return collector.Timer("connections." + method)
}

// Manager performs connection operations against the shared store. It is
// cheap to construct; callers build one per operation scope, the way the
// routers do.
type Manager struct {
	store    *Store
	settings config.Settings
	identity *wallet.Identity
	logger   *slog.Logger
}

// NewManager builds a Manager from the injection context. The connection
// store must be bound; the wallet identity is optional until invitations
// are created.
func NewManager(conCtx *config.Context, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := conCtx.Injector.MustResolve(config.CapConnectionStore)
	if err != nil {
		return nil, err
	}
	store, ok := svc.(*Store)
	if !ok {
		return nil, fmt.Errorf("connections: bound store has unexpected type %T", svc)
	}
	m := &Manager{
		store:    store,
		settings: conCtx.Settings,
		logger:   logger.With("component", "connections"),
	}
	if svc, ok := conCtx.Injector.Resolve(config.CapWalletIdentity); ok {
		m.identity, _ = svc.(*wallet.Identity)
	}
	return m, nil
}

// GetConnectionTargets resolves a connection to its live delivery targets.
func (m *Manager) GetConnectionTargets(ctx context.Context, connectionID string) ([]*transport.Target, error) {
	defer observe("GetConnectionTargets")()

	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection %s: %w", connectionID, err)
	}
	if conn.TheirEndpoint == "" {
		return nil, fmt.Errorf("connection %s has no delivery endpoint: %w", connectionID, ErrNotFound)
	}

	target := &transport.Target{
		Endpoint:      conn.TheirEndpoint,
		RecipientKeys: []string{conn.TheirVerkey},
		SenderKey:     conn.MyVerkey,
		Label:         conn.TheirLabel,
	}
	return []*transport.Target{target}, nil
}

// StaticConnectionArgs parameterize CreateStaticConnection.
type StaticConnectionArgs struct {
	MySeed        []byte
	TheirSeed     []byte
	TheirEndpoint string
	TheirRole     string
	Alias         string
}

// CreateStaticConnection derives both sides of a connection from fixed
// seeds and stores it in the active state. The same seeds always produce
// the same DIDs, which the test-suite handshake depends on.
func (m *Manager) CreateStaticConnection(ctx context.Context, args StaticConnectionArgs) (*Connection, error) {
	mine, err := wallet.IdentityFromSeed(args.MySeed)
	if err != nil {
		return nil, fmt.Errorf("connections: my seed: %w", err)
	}
	theirs, err := wallet.IdentityFromSeed(args.TheirSeed)
	if err != nil {
		return nil, fmt.Errorf("connections: their seed: %w", err)
	}

	conn := &Connection{
		ID:            uuid.NewString(),
		MyDID:         mine.DID,
		MyVerkey:      mine.Verkey,
		TheirDID:      theirs.DID,
		TheirVerkey:   theirs.Verkey,
		TheirEndpoint: args.TheirEndpoint,
		TheirRole:     args.TheirRole,
		Alias:         args.Alias,
		State:         StateActive,
	}
	if err := m.store.InsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	m.logger.Info("static connection created",
		"connection_id", conn.ID,
		"my_did", conn.MyDID,
		"their_did", conn.TheirDID,
	)
	return conn, nil
}

// InvitationArgs parameterize CreateInvitation.
type InvitationArgs struct {
	TheirRole string
	MyLabel   string
	MultiUse  bool
	Public    bool
}

// CreateInvitation creates a pending connection and its shareable
// invitation. Each invitation gets a fresh connection-scoped keypair;
// public invitations advertise the wallet DID instead.
func (m *Manager) CreateInvitation(ctx context.Context, args InvitationArgs) (*Connection, *Invitation, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("connections: invitation key: %w", err)
	}
	connKey, err := wallet.IdentityFromSeed(seed)
	if err != nil {
		return nil, nil, err
	}

	label := args.MyLabel
	if label == "" && m.identity != nil {
		label = m.identity.Label
	}
	endpoint := m.settings.GetString("endpoint")

	conn := &Connection{
		ID:        uuid.NewString(),
		MyDID:     connKey.DID,
		MyVerkey:  connKey.Verkey,
		TheirRole: args.TheirRole,
		State:     StateInvitation,
	}
	if err := m.store.InsertConnection(ctx, conn); err != nil {
		return nil, nil, err
	}

	inv := &Invitation{
		Type:      InvitationType,
		ID:        uuid.NewString(),
		Label:     label,
		Endpoint:  endpoint,
		MultiUse:  args.MultiUse,
		Public:    args.Public,
		CreatedAt: time.Now(),
	}
	if args.Public {
		if m.identity == nil {
			return nil, nil, fmt.Errorf("connections: public invitation requires a wallet identity")
		}
		inv.DID = m.identity.DID
	} else {
		inv.RecipientKeys = []string{connKey.Verkey}
	}
	if ttl := m.settings.GetInt("invitations.ttl_minutes", 0); ttl > 0 {
		inv.ExpiresAt = inv.CreatedAt.Add(time.Duration(ttl) * time.Minute)
	}

	if err := m.store.InsertInvitation(ctx, inv, conn.ID); err != nil {
		return nil, nil, err
	}
	m.logger.Info("invitation created", "connection_id", conn.ID, "multi_use", args.MultiUse)
	return conn, inv, nil
}

// FindMessageConnection locates the connection an inbound message arrived
// on, keyed by the sender's verkey from the receipt.
func (m *Manager) FindMessageConnection(ctx context.Context, msg *transport.InboundMessage) (*Connection, error) {
	defer observe("FindMessageConnection")()

	if msg.Receipt.SenderKey == "" {
		return nil, fmt.Errorf("message %s carries no sender key: %w", msg.MessageID, ErrNotFound)
	}
	return m.store.FindByTheirVerkey(ctx, msg.Receipt.SenderKey)
}

// DIDDocument is a minimal DID document assembled from stored state.
type DIDDocument struct {
	Context string       `json:"@context"`
	ID      string       `json:"id"`
	Keys    []DocKey     `json:"publicKey,omitempty"`
	Service []DocService `json:"service,omitempty"`
}

// DocKey is a verification key entry in a DID document.
type DocKey struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

// DocService is a service endpoint entry in a DID document.
type DocService struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"serviceEndpoint"`
}

// FetchDIDDocument assembles the DID document for a known DID: the
// agent's own, or a stored peer's.
func (m *Manager) FetchDIDDocument(ctx context.Context, did string) (*DIDDocument, error) {
	defer observe("FetchDIDDocument")()

	if m.identity != nil && did == m.identity.DID {
		return buildDIDDocument(did, m.identity.Verkey, m.settings.GetString("endpoint")), nil
	}

	conn, err := m.findByTheirDID(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("did %s: %w", did, err)
	}
	return buildDIDDocument(did, conn.TheirVerkey, conn.TheirEndpoint), nil
}

func (m *Manager) findByTheirDID(ctx context.Context, did string) (*Connection, error) {
	row := m.store.db.QueryRowContext(ctx, `
		SELECT id, my_did, my_verkey, their_did, their_verkey, their_endpoint,
		       their_role, their_label, alias, state, created_at
		FROM connections WHERE their_did = ? LIMIT 1`, did)
	return scanConnection(row)
}

func buildDIDDocument(did, verkey, endpoint string) *DIDDocument {
	doc := &DIDDocument{
		Context: "https://w3id.org/did/v1",
		ID:      "did:sov:" + did,
	}
	if verkey != "" {
		doc.Keys = append(doc.Keys, DocKey{
			ID:              doc.ID + "#1",
			Type:            "Ed25519VerificationKey2018",
			Controller:      doc.ID,
			PublicKeyBase58: verkey,
		})
	}
	if endpoint != "" {
		doc.Service = append(doc.Service, DocService{
			ID:       doc.ID + ";indy",
			Type:     "IndyAgent",
			Endpoint: endpoint,
		})
	}
	return doc
}

// PurgeExpiredInvitations removes expired invitations; the maintenance
// scheduler calls this on a timer.
func (m *Manager) PurgeExpiredInvitations(ctx context.Context) (int64, error) {
	return m.store.PurgeExpiredInvitations(ctx, time.Now())
}

// ListConnections returns all stored connections for the admin API.
func (m *Manager) ListConnections(ctx context.Context) ([]*Connection, error) {
	return m.store.ListConnections(ctx)
}

package connections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a connection or invitation does not exist.
var ErrNotFound = errors.New("connections: not found")

// Connection is a stored pairwise relationship with a peer.
type Connection struct {
	ID            string
	MyDID         string
	MyVerkey      string
	TheirDID      string
	TheirVerkey   string
	TheirEndpoint string
	TheirRole     string
	TheirLabel    string
	Alias         string
	State         string
	CreatedAt     time.Time
}

// Connection states.
const (
	StateInvitation = "invitation"
	StateActive     = "active"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	id             TEXT PRIMARY KEY,
	my_did         TEXT NOT NULL,
	my_verkey      TEXT NOT NULL,
	their_did      TEXT NOT NULL DEFAULT '',
	their_verkey   TEXT NOT NULL DEFAULT '',
	their_endpoint TEXT NOT NULL DEFAULT '',
	their_role     TEXT NOT NULL DEFAULT '',
	their_label    TEXT NOT NULL DEFAULT '',
	alias          TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_their_verkey ON connections(their_verkey);

CREATE TABLE IF NOT EXISTS invitations (
	id             TEXT PRIMARY KEY,
	connection_id  TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	recipient_keys TEXT NOT NULL DEFAULT '',
	endpoint       TEXT NOT NULL DEFAULT '',
	multi_use      INTEGER NOT NULL DEFAULT 0,
	public         INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL DEFAULT 0
);
`

// Store persists connections and invitations in sqlite. The special path
// ":memory:" keeps everything in process, which the tests rely on.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the connection store at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connections: open store: %w", err)
	}
	// sqlite tolerates a single writer; keep the pool at one connection so
	// an in-memory store is not silently split across connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("connections: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertConnection persists a new connection.
func (s *Store) InsertConnection(ctx context.Context, c *Connection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections
			(id, my_did, my_verkey, their_did, their_verkey, their_endpoint,
			 their_role, their_label, alias, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MyDID, c.MyVerkey, c.TheirDID, c.TheirVerkey, c.TheirEndpoint,
		c.TheirRole, c.TheirLabel, c.Alias, c.State, c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("connections: insert %s: %w", c.ID, err)
	}
	return nil
}

// GetConnection fetches a connection by ID.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, my_did, my_verkey, their_did, their_verkey, their_endpoint,
		       their_role, their_label, alias, state, created_at
		FROM connections WHERE id = ?`, id)
	return scanConnection(row)
}

// FindByTheirVerkey fetches the connection whose peer signs with verkey.
func (s *Store) FindByTheirVerkey(ctx context.Context, verkey string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, my_did, my_verkey, their_did, their_verkey, their_endpoint,
		       their_role, their_label, alias, state, created_at
		FROM connections WHERE their_verkey = ? LIMIT 1`, verkey)
	return scanConnection(row)
}

// ListConnections returns all stored connections, newest first.
func (s *Store) ListConnections(ctx context.Context) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, my_did, my_verkey, their_did, their_verkey, their_endpoint,
		       their_role, their_label, alias, state, created_at
		FROM connections ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("connections: list: %w", err)
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var c Connection
	var created int64
	err := row.Scan(&c.ID, &c.MyDID, &c.MyVerkey, &c.TheirDID, &c.TheirVerkey,
		&c.TheirEndpoint, &c.TheirRole, &c.TheirLabel, &c.Alias, &c.State, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("connections: scan: %w", err)
	}
	c.CreatedAt = time.Unix(created, 0)
	return &c, nil
}

// InsertInvitation persists an invitation record.
func (s *Store) InsertInvitation(ctx context.Context, inv *Invitation, connectionID string) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	var expires int64
	if !inv.ExpiresAt.IsZero() {
		expires = inv.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations
			(id, connection_id, label, recipient_keys, endpoint, multi_use, public, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, connectionID, inv.Label, strings.Join(inv.RecipientKeys, ","),
		inv.Endpoint, boolToInt(inv.MultiUse), boolToInt(inv.Public),
		inv.CreatedAt.Unix(), expires,
	)
	if err != nil {
		return fmt.Errorf("connections: insert invitation %s: %w", inv.ID, err)
	}
	return nil
}

// PurgeExpiredInvitations deletes invitations whose expiry has passed and
// returns how many were removed. Invitations with no expiry are kept.
func (s *Store) PurgeExpiredInvitations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at > 0 AND expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("connections: purge invitations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

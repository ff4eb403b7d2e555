package connections

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndGetConnection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conn := &Connection{
		ID:            "c1",
		MyDID:         "MyDid",
		MyVerkey:      "MyVerkey",
		TheirDID:      "TheirDid",
		TheirVerkey:   "TheirVerkey",
		TheirEndpoint: "http://peer.example:8020",
		TheirRole:     "tester",
		Alias:         "peer",
		State:         StateActive,
	}
	if err := store.InsertConnection(ctx, conn); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TheirEndpoint != conn.TheirEndpoint || got.State != StateActive {
		t.Errorf("fetched connection differs: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("created_at not persisted")
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetConnection(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByTheirVerkey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conn := &Connection{ID: "c2", MyDID: "m", MyVerkey: "mk", TheirVerkey: "peer-key", State: StateActive}
	if err := store.InsertConnection(ctx, conn); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.FindByTheirVerkey(ctx, "peer-key")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "c2" {
		t.Errorf("found wrong connection: %s", got.ID)
	}

	if _, err := store.FindByTheirVerkey(ctx, "unknown-key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConnections(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		conn := &Connection{ID: id, MyDID: "m", MyVerkey: "mk", State: StateInvitation}
		if err := store.InsertConnection(ctx, conn); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	conns, err := store.ListConnections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 3 {
		t.Errorf("listed %d connections, want 3", len(conns))
	}
}

func TestPurgeExpiredInvitations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := &Invitation{ID: "i1", Type: InvitationType, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	live := &Invitation{ID: "i2", Type: InvitationType, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	eternal := &Invitation{ID: "i3", Type: InvitationType, CreatedAt: now}

	for _, inv := range []*Invitation{expired, live, eternal} {
		if err := store.InsertInvitation(ctx, inv, "conn"); err != nil {
			t.Fatalf("insert %s: %v", inv.ID, err)
		}
	}

	n, err := store.PurgeExpiredInvitations(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d invitations, want 1", n)
	}

	// A second purge finds nothing new.
	n, err = store.PurgeExpiredInvitations(ctx, now)
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if n != 0 {
		t.Errorf("second purge removed %d, want 0", n)
	}
}

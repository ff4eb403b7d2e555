package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/connections"
	"github.com/parleylabs/parley/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncEnqueue(fn func(ctx context.Context) error) {
	fn(context.Background())
}

func noopRoute(context.Context, *config.Context, *transport.OutboundMessage, *transport.InboundMessage) {
}

func testServer(t *testing.T, settings config.Settings) (*Server, *config.Context) {
	t.Helper()
	conCtx := config.NewContext(settings)
	store, err := connections.OpenStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	conCtx.Injector.Bind(config.CapConnectionStore, store)

	s, err := New("127.0.0.1", 8031, conCtx, noopRoute, syncEnqueue, testLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, conCtx
}

func TestNewValidatesArguments(t *testing.T) {
	conCtx := config.NewContext(config.Settings{})

	if _, err := New("0.0.0.0", 0, conCtx, noopRoute, syncEnqueue, testLogger()); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := New("0.0.0.0", 70000, conCtx, noopRoute, syncEnqueue, testLogger()); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, err := New("0.0.0.0", 80, conCtx, nil, syncEnqueue, testLogger()); err == nil {
		t.Error("expected error for nil route")
	}
	if _, err := New("0.0.0.0", 80, conCtx, noopRoute, nil, testLogger()); err == nil {
		t.Error("expected error for nil enqueue")
	}
}

func TestAddress(t *testing.T) {
	s, _ := testServer(t, config.Settings{})
	if got := s.Address(); got != "127.0.0.1:8031" {
		t.Errorf("address = %q", got)
	}
}

func TestWebhookTargets(t *testing.T) {
	s, _ := testServer(t, config.Settings{})
	s.AddWebhookTarget("http://hooks-a.example")
	s.AddWebhookTarget("http://hooks-b.example")

	targets := s.WebhookTargets()
	if len(targets) != 2 {
		t.Fatalf("targets = %v", targets)
	}

	// The returned slice is a copy.
	targets[0] = "mutated"
	if s.WebhookTargets()[0] != "http://hooks-a.example" {
		t.Errorf("WebhookTargets exposed internal state")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t, config.Settings{"default_label": "Status Agent"})

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["label"] != "Status Agent" {
		t.Errorf("label = %v", body["label"])
	}
}

func TestQueueEndpoint(t *testing.T) {
	s, _ := testServer(t, config.Settings{})
	s.SetQueueStats(func() map[string]any {
		return map[string]any{"active": 2, "pending": 5}
	})

	rec := httptest.NewRecorder()
	s.handleQueue(rec, httptest.NewRequest("GET", "/status/queue", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active"] != float64(2) || body["pending"] != float64(5) {
		t.Errorf("queue stats = %v", body)
	}
}

func TestCreateInvitationEndpoint(t *testing.T) {
	s, _ := testServer(t, config.Settings{"endpoint": "http://agent.example:8020"})

	hooked := make(chan string, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooked <- r.URL.Path
	}))
	defer hookSrv.Close()
	s.AddWebhookTarget(hookSrv.URL)

	req := httptest.NewRequest("POST", "/connections/create-invitation",
		strings.NewReader(`{"my_label":"Inviter"}`))
	rec := httptest.NewRecorder()
	s.handleCreateInvitation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ConnectionID  string `json:"connection_id"`
		InvitationURL string `json:"invitation_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ConnectionID == "" {
		t.Errorf("no connection id in response")
	}
	if !strings.Contains(body.InvitationURL, "c_i=") {
		t.Errorf("invitation url = %q", body.InvitationURL)
	}

	select {
	case path := <-hooked:
		if path != "/topic/connections" {
			t.Errorf("webhook path = %q", path)
		}
	default:
		t.Errorf("connections webhook not emitted")
	}
}

func TestConnectionsEndpoint(t *testing.T) {
	s, conCtx := testServer(t, config.Settings{})

	svc, _ := conCtx.Injector.Resolve(config.CapConnectionStore)
	store := svc.(*connections.Store)
	conn := &connections.Connection{ID: "c1", MyDID: "m", MyVerkey: "mk", State: connections.StateActive}
	if err := store.InsertConnection(context.Background(), conn); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec := httptest.NewRecorder()
	s.handleConnections(rec, httptest.NewRequest("GET", "/connections", nil))

	var body struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0]["connection_id"] != "c1" {
		t.Errorf("results = %v", body.Results)
	}
}

func TestEmitEventPostsToAllTargets(t *testing.T) {
	s, _ := testServer(t, config.Settings{})

	var mu sync.Mutex
	var paths []string
	hookSrv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer hookSrv.Close()

	s.AddWebhookTarget(hookSrv.URL + "/one")
	s.AddWebhookTarget(hookSrv.URL + "/two")
	s.EmitEvent("startup", map[string]any{"label": "x"})

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 {
		t.Fatalf("webhook deliveries = %v", paths)
	}
	for _, p := range paths {
		if !strings.HasSuffix(p, "/topic/startup") {
			t.Errorf("webhook path = %q", p)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, _ := testServer(t, config.Settings{})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}

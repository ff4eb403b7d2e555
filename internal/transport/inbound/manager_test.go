package inbound

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupParsesSpecs(t *testing.T) {
	conCtx := config.NewContext(config.Settings{
		"transport.inbound": []string{"http://0.0.0.0:8020", "ws://0.0.0.0:8023"},
	})
	m := NewManager(conCtx, func(*transport.InboundMessage) {}, testLogger())
	if err := m.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	registered := m.RegisteredTransports()
	if len(registered) != 2 {
		t.Fatalf("registered %d transports, want 2: %v", len(registered), registered)
	}
	if registered[0] != "http://0.0.0.0:8020" {
		t.Errorf("first transport = %s", registered[0])
	}
	if registered[1] != "ws://0.0.0.0:8023" {
		t.Errorf("second transport = %s", registered[1])
	}
}

func TestSetupRejectsUnknownScheme(t *testing.T) {
	conCtx := config.NewContext(config.Settings{
		"transport.inbound": []string{"smtp://0.0.0.0:25"},
	})
	m := NewManager(conCtx, func(*transport.InboundMessage) {}, testLogger())
	if err := m.Setup(); err == nil || !strings.Contains(err.Error(), "unknown transport scheme") {
		t.Fatalf("expected unknown-scheme error, got %v", err)
	}
}

func TestSetupWithNoSpecs(t *testing.T) {
	m := NewManager(config.NewContext(config.Settings{}), func(*transport.InboundMessage) {}, testLogger())
	if err := m.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := m.RegisteredTransports(); len(got) != 0 {
		t.Errorf("expected no transports, got %v", got)
	}
}

func TestHTTPTransportReceive(t *testing.T) {
	var received *transport.InboundMessage
	u, _ := url.Parse("http://127.0.0.1:0")
	tr, err := newHTTPTransport(u, func(msg *transport.InboundMessage) { received = msg }, config.Settings{}, testLogger())
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	ht := tr.(*httpTransport)

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"@type":"x"}`))
	req.Header.Set("Return-Route", transport.ReplyModeAll)
	req.Header.Set("X-Sender-Verkey", "SenderKey")
	rec := httptest.NewRecorder()
	ht.handlePost(rec, req)

	if rec.Code != 202 {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if received == nil {
		t.Fatal("message not delivered to the router")
	}
	if received.Receipt.TransportType != "http" {
		t.Errorf("transport type = %q", received.Receipt.TransportType)
	}
	if received.Receipt.DirectResponseMode != transport.ReplyModeAll {
		t.Errorf("direct response mode = %q", received.Receipt.DirectResponseMode)
	}
	if !received.Receipt.CanReplyDirectly {
		t.Errorf("http receipt must allow direct replies")
	}
	if received.Receipt.SenderKey != "SenderKey" {
		t.Errorf("sender key = %q", received.Receipt.SenderKey)
	}
}

func TestHTTPTransportRejectsEmptyBody(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:0")
	tr, err := newHTTPTransport(u, func(*transport.InboundMessage) {
		t.Error("empty message reached the router")
	}, config.Settings{}, testLogger())
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	ht := tr.(*httpTransport)

	req := httptest.NewRequest("POST", "/", strings.NewReader(""))
	rec := httptest.NewRecorder()
	ht.handlePost(rec, req)

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	conCtx := config.NewContext(config.Settings{
		"transport.inbound": []string{"http://127.0.0.1:0"},
	})
	m := NewManager(conCtx, func(*transport.InboundMessage) {}, testLogger())
	if err := m.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/connections"
	"github.com/parleylabs/parley/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) *config.Context {
	t.Helper()
	conCtx := config.NewContext(config.Settings{})
	store, err := connections.OpenStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	conCtx.Injector.Bind(config.CapConnectionStore, store)
	return conCtx
}

type responderRecorder struct {
	mu   sync.Mutex
	sent []*transport.OutboundMessage
}

func (r *responderRecorder) respond(_ context.Context, _ *config.Context, out *transport.OutboundMessage, _ *transport.InboundMessage) {
	r.mu.Lock()
	r.sent = append(r.sent, out)
	r.mu.Unlock()
}

func (r *responderRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestDecodeEnvelope(t *testing.T) {
	payload := []byte(`{"@type":"https://didcomm.org/trust_ping/1.0/ping","@id":"abc","~thread":{"thid":"t1"}}`)
	env, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeTrustPing {
		t.Errorf("type = %q", env.Type)
	}
	if env.ID != "abc" {
		t.Errorf("id = %q", env.ID)
	}
	if env.Thread == nil || env.Thread.ThreadID != "t1" {
		t.Errorf("thread = %+v", env.Thread)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := DecodeEnvelope([]byte(`{"@id":"no-type"}`)); err == nil {
		t.Error("expected error for missing @type")
	}
}

func TestHandleMessageUnknownType(t *testing.T) {
	d := New(testContext(t), testLogger())
	msg := transport.NewInboundMessage([]byte(`{"@type":"https://didcomm.org/unknown/1.0/x"}`), transport.Receipt{})

	err := d.HandleMessage(context.Background(), msg, nil)
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Errorf("expected no-handler error, got %v", err)
	}
}

func TestRegisteredHandlerInvoked(t *testing.T) {
	d := New(testContext(t), testLogger())
	const msgType = "https://didcomm.org/custom/1.0/thing"

	var got *Envelope
	d.RegisterHandler(msgType, func(_ context.Context, _ *config.Context, env *Envelope, _ *transport.InboundMessage, _ Responder) error {
		got = env
		return nil
	})

	msg := transport.NewInboundMessage([]byte(`{"@type":"`+msgType+`","@id":"42"}`), transport.Receipt{})
	if err := d.HandleMessage(context.Background(), msg, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got == nil || got.ID != "42" {
		t.Errorf("handler did not receive the envelope: %+v", got)
	}
}

func TestQueueMessageCompletion(t *testing.T) {
	d := New(testContext(t), testLogger())
	msg := transport.NewInboundMessage([]byte(`{"@type":"https://didcomm.org/basicmessage/1.0/message","content":"hi"}`), transport.Receipt{})

	done := make(chan error, 1)
	d.QueueMessage(msg, nil, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("basic message handling failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("completion callback never ran")
	}
}

func TestTrustPingRespondsOnArrivalConnection(t *testing.T) {
	conCtx := testContext(t)
	d := New(conCtx, testLogger())

	// Store the connection the ping will arrive over.
	svc, _ := conCtx.Injector.Resolve(config.CapConnectionStore)
	store := svc.(*connections.Store)
	conn := &connections.Connection{
		ID:            "conn-ping",
		MyDID:         "MyDid",
		MyVerkey:      "MyVerkey",
		TheirVerkey:   "PeerVerkey",
		TheirEndpoint: "http://peer.example:8020",
		State:         connections.StateActive,
	}
	if err := store.InsertConnection(context.Background(), conn); err != nil {
		t.Fatalf("insert connection: %v", err)
	}

	rec := &responderRecorder{}
	msg := transport.NewInboundMessage(
		[]byte(`{"@type":"https://didcomm.org/trust_ping/1.0/ping","@id":"ping-1"}`),
		transport.Receipt{TransportType: "http", SenderKey: "PeerVerkey"},
	)
	if err := d.HandleMessage(context.Background(), msg, rec.respond); err != nil {
		t.Fatalf("handle ping: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 response, got %d", rec.count())
	}
	reply := rec.sent[0]
	if reply.ConnectionID != "conn-ping" {
		t.Errorf("reply connection = %q", reply.ConnectionID)
	}
	if reply.ReplyThreadID != "ping-1" {
		t.Errorf("reply thread = %q", reply.ReplyThreadID)
	}

	var body map[string]any
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		t.Fatalf("reply payload: %v", err)
	}
	if body["@type"] != TypeTrustPingResponse {
		t.Errorf("reply type = %v", body["@type"])
	}
	thread, _ := body["~thread"].(map[string]any)
	if thread["thid"] != "ping-1" {
		t.Errorf("reply thid = %v", thread["thid"])
	}
}

func TestTrustPingResponseSuppressed(t *testing.T) {
	d := New(testContext(t), testLogger())
	rec := &responderRecorder{}

	msg := transport.NewInboundMessage(
		[]byte(`{"@type":"https://didcomm.org/trust_ping/1.0/ping","@id":"p2","response_requested":false}`),
		transport.Receipt{SenderKey: "AnyKey"},
	)
	if err := d.HandleMessage(context.Background(), msg, rec.respond); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("response sent despite response_requested=false")
	}
}

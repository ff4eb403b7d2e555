package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

// wsTransport delivers messages over WebSocket connections, keeping one
// socket open per endpoint until Stop.
type wsTransport struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newWSTransport(_ config.Settings, logger *slog.Logger) (Transport, error) {
	return &wsTransport{
		logger: logger.With("transport", "ws"),
		conns:  make(map[string]*websocket.Conn),
	}, nil
}

func (t *wsTransport) Scheme() string { return "ws" }

func (t *wsTransport) Start(_ context.Context) error { return nil }

func (t *wsTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for endpoint, conn := range t.conns {
		conn.Close(websocket.StatusNormalClosure, "agent stopping")
		delete(t.conns, endpoint)
	}
	return nil
}

func (t *wsTransport) Send(ctx context.Context, target *transport.Target, payload []byte) error {
	conn, err := t.connTo(ctx, target.Endpoint)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		// Connection may be stale; drop it so the next send redials.
		t.mu.Lock()
		delete(t.conns, target.Endpoint)
		t.mu.Unlock()
		conn.Close(websocket.StatusAbnormalClosure, "write failed")
		return fmt.Errorf("ws write to %s: %w", target.Endpoint, err)
	}
	return nil
}

func (t *wsTransport) connTo(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	t.mu.Lock()
	conn, ok := t.conns[endpoint]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", endpoint, err)
	}

	t.mu.Lock()
	if existing, ok := t.conns[endpoint]; ok {
		// Lost a dial race; keep the first socket.
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "duplicate connection")
		return existing, nil
	}
	t.conns[endpoint] = conn
	t.mu.Unlock()

	t.logger.Debug("ws connection opened", "endpoint", endpoint)
	return conn, nil
}

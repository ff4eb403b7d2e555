package inbound

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

// wsTransport receives messages over WebSocket connections. Each socket
// is one inbound session; the return_route query parameter at connect
// time carries the direct-response request for every message on it.
type wsTransport struct {
	addr    string
	receive ReceiveFunc
	logger  *slog.Logger
	server  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func newWSTransport(u *url.URL, receive ReceiveFunc, _ config.Settings, logger *slog.Logger) (Transport, error) {
	return &wsTransport{
		addr:    u.Host,
		receive: receive,
		logger:  logger.With("transport", "ws"),
	}, nil
}

func (t *wsTransport) Scheme() string  { return "ws" }
func (t *wsTransport) Address() string { return t.addr }

func (t *wsTransport) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleAccept)

	t.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // sockets stay open for the life of the session
	}
	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("ws inbound server error", "error", err)
		}
	}()

	t.logger.Info("ws inbound transport started", "address", t.addr)
	return nil
}

func (t *wsTransport) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *wsTransport) handleAccept(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warn("ws accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	replyMode := r.URL.Query().Get("return_route")
	senderKey := r.URL.Query().Get("sender_verkey")
	t.logger.Debug("ws session opened", "remote", r.RemoteAddr, "return_route", replyMode)

	for {
		readCtx, cancel := context.WithTimeout(t.ctx, 10*time.Minute)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			t.logger.Debug("ws session closed", "remote", r.RemoteAddr, "error", err)
			return
		}
		if len(data) == 0 || len(data) > maxMessageBytes {
			continue
		}

		msg := transport.NewInboundMessage(data, transport.Receipt{
			TransportType:      "ws",
			DirectResponseMode: replyMode,
			CanReplyDirectly:   true,
			SenderKey:          senderKey,
		})
		t.receive(msg)
	}
}

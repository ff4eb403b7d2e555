package inbound

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

// maxMessageBytes caps a single inbound message body.
const maxMessageBytes = 4 << 20

// httpTransport receives messages as HTTP POST bodies. The Return-Route
// header carries the sender's direct-response request.
type httpTransport struct {
	addr    string
	receive ReceiveFunc
	logger  *slog.Logger
	server  *http.Server
}

func newHTTPTransport(u *url.URL, receive ReceiveFunc, _ config.Settings, logger *slog.Logger) (Transport, error) {
	return &httpTransport{
		addr:    u.Host,
		receive: receive,
		logger:  logger.With("transport", "http"),
	}, nil
}

func (t *httpTransport) Scheme() string  { return "http" }
func (t *httpTransport) Address() string { return t.addr }

func (t *httpTransport) Start(_ context.Context) error {
	// Bind synchronously so a busy port fails startup instead of being
	// discovered later inside the serve goroutine.
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", t.handlePost)

	t.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("http inbound server error", "error", err)
		}
	}()

	t.logger.Info("http inbound transport started", "address", t.addr)
	return nil
}

func (t *httpTransport) Stop(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *httpTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	msg := transport.NewInboundMessage(body, transport.Receipt{
		TransportType:      "http",
		DirectResponseMode: r.Header.Get("Return-Route"),
		CanReplyDirectly:   true,
		SenderKey:          r.Header.Get("X-Sender-Verkey"),
	})
	t.receive(msg)
	w.WriteHeader(http.StatusAccepted)
}

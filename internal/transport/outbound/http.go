package outbound

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

const wireContentType = "application/ssi-agent-wire"

// httpTransport delivers messages as HTTP POST requests.
type httpTransport struct {
	client *http.Client
	logger *slog.Logger
}

func newHTTPTransport(_ config.Settings, logger *slog.Logger) (Transport, error) {
	return &httpTransport{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("transport", "http"),
	}, nil
}

func (t *httpTransport) Scheme() string { return "http" }

func (t *httpTransport) Start(_ context.Context) error { return nil }

func (t *httpTransport) Stop(_ context.Context) error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *httpTransport) Send(ctx context.Context, target *transport.Target, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", target.Endpoint, err)
	}
	req.Header.Set("Content-Type", wireContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", target.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post to %s: %s", target.Endpoint, resp.Status)
	}
	return nil
}

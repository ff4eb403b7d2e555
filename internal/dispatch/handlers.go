package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/connections"
	"github.com/parleylabs/parley/internal/transport"
)

// Built-in message types.
const (
	TypeTrustPing         = "https://didcomm.org/trust_ping/1.0/ping"
	TypeTrustPingResponse = "https://didcomm.org/trust_ping/1.0/ping_response"
	TypeBasicMessage      = "https://didcomm.org/basicmessage/1.0/message"
)

func registerBuiltinHandlers(d *Dispatcher) {
	d.RegisterHandler(TypeTrustPing, d.handleTrustPing)
	d.RegisterHandler(TypeBasicMessage, d.handleBasicMessage)
}

// handleTrustPing answers a trust ping on the connection it arrived over,
// unless the sender opted out of a response.
func (d *Dispatcher) handleTrustPing(ctx context.Context, conCtx *config.Context, env *Envelope, inbound *transport.InboundMessage, respond Responder) error {
	var ping struct {
		Comment           string `json:"comment,omitempty"`
		ResponseRequested *bool  `json:"response_requested,omitempty"`
	}
	if err := json.Unmarshal(env.Raw, &ping); err != nil {
		return fmt.Errorf("parse trust ping: %w", err)
	}
	if ping.ResponseRequested != nil && !*ping.ResponseRequested {
		d.logger.Debug("trust ping received, no response requested", "id", env.ID)
		return nil
	}

	mgr, err := connections.NewManager(conCtx, d.logger)
	if err != nil {
		return err
	}
	conn, err := mgr.FindMessageConnection(ctx, inbound)
	if err != nil {
		return fmt.Errorf("trust ping %s: %w", env.ID, err)
	}

	body, err := json.Marshal(map[string]any{
		"@type":   TypeTrustPingResponse,
		"@id":     uuid.NewString(),
		"~thread": map[string]string{"thid": env.ID},
	})
	if err != nil {
		return err
	}

	respond(ctx, conCtx, &transport.OutboundMessage{
		Payload:       body,
		ConnectionID:  conn.ID,
		ReplyThreadID: env.ID,
		ReplyToVerkey: inbound.Receipt.SenderKey,
	}, inbound)
	return nil
}

// handleBasicMessage records a basic message; delivery to an application
// callback is the admin webhook's job, not the dispatcher's.
func (d *Dispatcher) handleBasicMessage(_ context.Context, _ *config.Context, env *Envelope, inbound *transport.InboundMessage, _ Responder) error {
	var body struct {
		Content string `json:"content"`
		SentAt  string `json:"sent_time,omitempty"`
	}
	if err := json.Unmarshal(env.Raw, &body); err != nil {
		return fmt.Errorf("parse basic message: %w", err)
	}
	if d.collector != nil {
		d.collector.Count("dispatch.basicmessages")
	}
	d.logger.Info("basic message received",
		"id", env.ID,
		"transport", inbound.Receipt.TransportType,
		"length", len(body.Content),
	)
	return nil
}

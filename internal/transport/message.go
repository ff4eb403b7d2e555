// Package transport defines the message types exchanged between the
// inbound/outbound transport managers and the conductor's routers.
package transport

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Direct-response reply modes carried on an inbound receipt. A transport
// that can hold its connection open sets the mode the sender asked for;
// "none" and the empty string both mean no direct response is expected.
const (
	ReplyModeNone = "none"
	ReplyModeOne  = "one"
	ReplyModeAll  = "all"
)

// Delivery errors surfaced by the outbound transport manager. The
// conductor treats both as message-scoped: log and drop, never retry.
var (
	// ErrNoDeliveryTarget means the message carried neither an explicit
	// target nor a resolvable target list.
	ErrNoDeliveryTarget = errors.New("transport: no delivery target for outbound message")
	// ErrNoTransport means no registered outbound transport services the
	// target's endpoint scheme.
	ErrNoTransport = errors.New("transport: no transport registered for target scheme")
)

// Receipt describes how an inbound message arrived and whether its sender
// expects a direct response over the same connection.
type Receipt struct {
	// TransportType identifies the receiving transport ("http", "ws", "mqtt").
	TransportType string
	// DirectResponseMode is the requested reply mode ("", "none", "one", "all").
	DirectResponseMode string
	// CanReplyDirectly reports whether the receiving transport is able to
	// service a direct response at all.
	CanReplyDirectly bool
	// SenderKey is the sender's verkey when the transport learned it.
	SenderKey string
	// ReceivedAt is the arrival timestamp.
	ReceivedAt time.Time
}

// DirectResponseRequested reports whether the sender asked for a direct
// response with a mode other than none.
func (r Receipt) DirectResponseRequested() bool {
	return r.DirectResponseMode != "" && r.DirectResponseMode != ReplyModeNone
}

// InboundMessage is a protocol message received by a transport. It is
// read-only to the inbound router; ownership passes to the dispatcher
// once queued.
type InboundMessage struct {
	MessageID string
	SessionID string
	Payload   []byte
	Receipt   Receipt
}

// NewInboundMessage creates an inbound message with a fresh message ID.
func NewInboundMessage(payload []byte, receipt Receipt) *InboundMessage {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now()
	}
	return &InboundMessage{
		MessageID: uuid.NewString(),
		Payload:   payload,
		Receipt:   receipt,
	}
}

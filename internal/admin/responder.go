package admin

import (
	"context"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/dispatch"
	"github.com/parleylabs/parley/internal/transport"
)

// Responder sends unsolicited outbound messages through the conductor's
// outbound router. During start it is bound under config.CapResponder as
// the process default, giving background-originated messages (webhook
// state notifications, admin-triggered sends) a delivery path.
type Responder struct {
	context *config.Context
	route   dispatch.Responder
}

// Send routes the message. Delivery is fire-and-forget: an undeliverable
// message is logged and dropped by the router.
func (r *Responder) Send(ctx context.Context, msg *transport.OutboundMessage) {
	r.route(ctx, r.context, msg, nil)
}

package transport

// Target is a resolved delivery destination for an outbound message.
// Targets are produced by the connection manager and referenced, never
// owned, by the messages that carry them.
type Target struct {
	Endpoint      string
	RecipientKeys []string
	RoutingKeys   []string
	SenderKey     string
	Label         string
}

// OutboundMessage is a protocol message awaiting delivery. Exactly one of
// Target, TargetList or ConnectionID determines where it goes: the
// outbound router populates TargetList from ConnectionID when neither
// explicit form is present, after which the outbound transport manager
// owns the message.
type OutboundMessage struct {
	Payload []byte

	// Target, when set, is the explicit single destination.
	Target *Target
	// TargetList, when set, holds resolved destinations in preference order.
	TargetList []*Target
	// ConnectionID names a stored connection to resolve targets from.
	ConnectionID string

	// ReplyThreadID correlates the message with the thread it answers.
	ReplyThreadID string
	// ReplyToVerkey is the verkey of the party being answered.
	ReplyToVerkey string
}

// DeliveryTarget returns the destination the transport manager should use:
// the explicit target when present, otherwise the first resolved target.
func (m *OutboundMessage) DeliveryTarget() *Target {
	if m.Target != nil {
		return m.Target
	}
	if len(m.TargetList) > 0 {
		return m.TargetList[0]
	}
	return nil
}

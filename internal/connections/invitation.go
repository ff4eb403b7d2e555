package connections

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// InvitationType is the message type carried inside a shareable invitation.
const InvitationType = "https://didcomm.org/connections/1.0/invitation"

// Invitation is a shareable connection offer. Its JSON form travels
// base64url-encoded in the c_i query parameter of the invitation URL.
type Invitation struct {
	Type          string   `json:"@type"`
	ID            string   `json:"@id"`
	Label         string   `json:"label,omitempty"`
	RecipientKeys []string `json:"recipientKeys,omitempty"`
	RoutingKeys   []string `json:"routingKeys,omitempty"`
	Endpoint      string   `json:"serviceEndpoint,omitempty"`
	DID           string   `json:"did,omitempty"`

	MultiUse  bool      `json:"-"`
	Public    bool      `json:"-"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// ToURL renders the invitation as a shareable URL on the given base.
func (inv *Invitation) ToURL(base string) (string, error) {
	if base == "" {
		base = inv.Endpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("connections: bad invitation base URL %q: %w", base, err)
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("connections: encode invitation: %w", err)
	}

	q := u.Query()
	q.Set("c_i", base64.URLEncoding.EncodeToString(body))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InvitationFromURL decodes the c_i parameter of an invitation URL.
func InvitationFromURL(raw string) (*Invitation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("connections: parse invitation URL: %w", err)
	}
	encoded := u.Query().Get("c_i")
	if encoded == "" {
		return nil, fmt.Errorf("connections: invitation URL missing c_i parameter")
	}
	body, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("connections: decode invitation: %w", err)
	}
	var inv Invitation
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("connections: parse invitation: %w", err)
	}
	return &inv, nil
}

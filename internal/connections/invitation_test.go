package connections

import (
	"strings"
	"testing"
)

func TestInvitationURLRoundTrip(t *testing.T) {
	inv := &Invitation{
		Type:          InvitationType,
		ID:            "inv-1",
		Label:         "Parley Agent",
		RecipientKeys: []string{"Key1"},
		Endpoint:      "http://agent.example:8020",
	}

	url, err := inv.ToURL("http://agent.example:8020")
	if err != nil {
		t.Fatalf("to url: %v", err)
	}
	if !strings.Contains(url, "c_i=") {
		t.Fatalf("invitation URL missing c_i parameter: %s", url)
	}

	decoded, err := InvitationFromURL(url)
	if err != nil {
		t.Fatalf("from url: %v", err)
	}
	if decoded.Type != InvitationType || decoded.ID != "inv-1" {
		t.Errorf("decoded invitation differs: %+v", decoded)
	}
	if len(decoded.RecipientKeys) != 1 || decoded.RecipientKeys[0] != "Key1" {
		t.Errorf("recipient keys lost: %v", decoded.RecipientKeys)
	}
	if decoded.Endpoint != inv.Endpoint {
		t.Errorf("endpoint lost: %q", decoded.Endpoint)
	}
}

func TestInvitationToURLFallsBackToEndpoint(t *testing.T) {
	inv := &Invitation{Type: InvitationType, ID: "inv-2", Endpoint: "http://agent.example:8020"}
	url, err := inv.ToURL("")
	if err != nil {
		t.Fatalf("to url: %v", err)
	}
	if !strings.HasPrefix(url, "http://agent.example:8020") {
		t.Errorf("url = %s, want endpoint base", url)
	}
}

func TestInvitationFromURLErrors(t *testing.T) {
	if _, err := InvitationFromURL("http://agent.example/invite"); err == nil {
		t.Error("expected error when c_i is missing")
	}
	if _, err := InvitationFromURL("http://agent.example/invite?c_i=!!!not-base64!!!"); err == nil {
		t.Error("expected error for undecodable c_i")
	}
}

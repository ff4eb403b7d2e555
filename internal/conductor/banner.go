package conductor

import (
	"fmt"
	"sort"
	"strings"
)

// printBanner writes the startup summary. It runs after the transports
// are listening so the addresses shown are live.
func (c *Conductor) printBanner() {
	label := c.context.Settings.GetStringDefault("default_label", "Parley Agent")

	var outboundSchemes []string
	for scheme := range c.outboundMgr.RegisteredTransports() {
		outboundSchemes = append(outboundSchemes, scheme)
	}
	sort.Strings(outboundSchemes)

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, strings.Repeat("=", 50))
	fmt.Fprintf(c.out, "  %s\n", label)
	fmt.Fprintln(c.out, strings.Repeat("-", 50))
	for _, addr := range c.inboundMgr.RegisteredTransports() {
		fmt.Fprintf(c.out, "  Inbound:  %s\n", addr)
	}
	fmt.Fprintf(c.out, "  Outbound: %s\n", strings.Join(outboundSchemes, ", "))
	if c.identity != nil {
		fmt.Fprintf(c.out, "  DID:      %s\n", c.identity.DID)
		fmt.Fprintf(c.out, "  Verkey:   %s\n", c.identity.Verkey)
	}
	if c.adminServer != nil {
		fmt.Fprintf(c.out, "  Admin:    http://%s\n", c.adminServer.Address())
	} else {
		fmt.Fprintln(c.out, "  Admin:    disabled")
	}
	fmt.Fprintln(c.out, strings.Repeat("=", 50))
	fmt.Fprintln(c.out)
}

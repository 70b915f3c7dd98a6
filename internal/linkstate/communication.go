// RFC 9384 — BGP Cease NOTIFICATION Message Subcode for BFD-Down, reused
// here for fabric link-down triggered peer shutdowns.
//
// RFC 9384 defines Cease subcode 10 ("BFD Down") for BGP NOTIFICATION
// messages when a failure detection mechanism triggers BGP session
// teardown. GoBGP v3 does not expose per-subcode control in its
// DisablePeer API; it uses Administrative Shutdown (subcode 2) with a
// communication string per RFC 8203. This file enriches that string with
// the fabric interface name so operators can identify link-triggered
// shutdowns in logs and monitoring systems.
package linkstate

import (
	"fmt"
	"strings"
)

// CeaseSubcodeBFDDown is the IANA-assigned Cease NOTIFICATION subcode
// reused for link-failure triggered peer shutdowns (RFC 9384 Section 3).
const CeaseSubcodeBFDDown uint8 = 10

// linkDownPrefix is the standardized prefix for link-down communication messages.
const linkDownPrefix = "Link Down (RFC 9384 Cease/10)"

// FormatLinkDownCommunication formats a link-down shutdown communication
// string. The returned string is suitable for the GoBGP
// DisablePeerRequest.Communication field (RFC 8203 administrative reason).
//
// Format: "Link Down (RFC 9384 Cease/10): ifname=<name>".
func FormatLinkDownCommunication(ifName string) string {
	return fmt.Sprintf("%s: ifname=%s", linkDownPrefix, ifName)
}

// ParseLinkDownCommunication checks whether a communication string was
// formatted by FormatLinkDownCommunication and extracts the interface
// name. Returns the interface name and true if the prefix matches, or
// empty string and false otherwise.
func ParseLinkDownCommunication(communication string) (string, bool) {
	prefix := linkDownPrefix + ": ifname="
	if !strings.HasPrefix(communication, prefix) {
		return "", false
	}

	return communication[len(prefix):], true
}

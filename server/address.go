package server

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidAddress is returned when a configured bind address is neither
// empty, the "any" wildcard, nor a valid IP literal.
var ErrInvalidAddress = errors.New("invalid bind address")

// ResolveBindAddress normalizes a configured bind address. An empty string
// or the token "any" (case-insensitive) selects all interfaces and resolves
// to "". Anything else must parse as an IPv4 or IPv6 literal; host names are
// not accepted.
func ResolveBindAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" || strings.EqualFold(trimmed, "any") {
		return "", nil
	}
	ip, err := netip.ParseAddr(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return ip.String(), nil
}

package util

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseIPv6 parses an IPv6 address. A trailing "/len" is accepted and
// ignored, since segment lists are sometimes written in prefix notation.
func ParseIPv6(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv6 address %q", s)
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, fmt.Errorf("%q is not an IPv6 address", s)
	}
	return addr, nil
}

// ParseIP parses an IPv4 or IPv6 address and strips any zone.
func ParseIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address %q", s)
	}
	return addr.WithZone(""), nil
}

// ParsePrefix parses a route destination. fpmsyncd may omit the mask for
// host routes, so a bare address is read as /32 or /128.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := ParseIP(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q", s)
	}
	return p.Masked(), nil
}

// IsUnspecified reports whether s is "0.0.0.0", "::" or empty. SONiC writes
// 0.0.0.0 as the nexthop of locally encapsulated SRv6 routes.
func IsUnspecified(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.IsUnspecified()
}

package types

import (
	"net/netip"
	"sort"
	"strings"
)

// PrefixOf returns the clustering key of an address: the first three octets
// of an IPv4 address, or the first three hextets of an IPv6 address.
func PrefixOf(address string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		i := strings.LastIndexByte(addr.String(), '.')
		return addr.String()[:i], true
	}
	parts := strings.Split(addr.StringExpanded(), ":")
	return strings.Join(parts[:3], ":"), true
}

// Notation renders the block form of a prefix: "a.b.c.0/24" for IPv4 and
// "x:y:z::/48" for IPv6.
func Notation(prefix string) string {
	if strings.Contains(prefix, ":") {
		return prefix + "::/48"
	}
	return prefix + ".0/24"
}

// IsNotation reports whether target is a block rather than a single address.
func IsNotation(target string) bool {
	return strings.Contains(target, "/")
}

// SortAddresses orders addresses ascending by numeric value. Unparseable
// entries sort after valid ones, lexicographically.
func SortAddresses(addrs []string) {
	sort.SliceStable(addrs, func(i, j int) bool {
		a, errA := netip.ParseAddr(addrs[i])
		b, errB := netip.ParseAddr(addrs[j])
		switch {
		case errA == nil && errB == nil:
			return a.Compare(b) < 0
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return addrs[i] < addrs[j]
	})
}

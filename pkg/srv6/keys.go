package srv6

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/newtron-network/srv6orch/pkg/util"
)

// NeighborKey identifies a neighbor adjacency. Interface may be empty when
// the configuration names only the IP.
type NeighborKey struct {
	Interface string
	IP        string
}

func (k NeighborKey) String() string {
	return k.Interface + ":" + k.IP
}

// anyInterface returns the key with the interface cleared.
func (k NeighborKey) anyInterface() NeighborKey {
	return NeighborKey{IP: k.IP}
}

// ParseNeighborKey parses a NEIGH_TABLE key of the form "ifname:ip".
func ParseNeighborKey(key string) (NeighborKey, error) {
	ifname, ip, ok := util.SplitKey(key, ':')
	if !ok || ifname == "" {
		return NeighborKey{}, util.NewValidationError(fmt.Sprintf("neighbor key %q: want ifname:ip", key))
	}
	addr, err := util.ParseIP(ip)
	if err != nil {
		return NeighborKey{}, util.NewValidationError(err.Error())
	}
	return NeighborKey{Interface: ifname, IP: addr.String()}, nil
}

// SRv6NextHopKey identifies a shared SRv6 next hop. Endpoint is empty for
// plain encapsulation through the per-source tunnel; otherwise the next hop
// uses the P2P tunnel towards Endpoint. SIDList names a segment list and may
// be empty for VPN next hops.
type SRv6NextHopKey struct {
	Source   string
	Endpoint string
	SIDList  string
}

func (k SRv6NextHopKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Source, k.Endpoint, k.SIDList)
}

// MapEntryKey identifies a tunnel map entry on an endpoint's P2P tunnel map.
type MapEntryKey struct {
	Endpoint string
	VPNSID   string
	AggID    uint32
}

func (k MapEntryKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Endpoint, k.VPNSID, k.AggID)
}

// LocalSIDKey is an SRV6_MY_SID_TABLE key: locator block, node, function
// and argument lengths in bits followed by the SID.
type LocalSIDKey struct {
	BlockLen uint8
	NodeLen  uint8
	FuncLen  uint8
	ArgLen   uint8
	SID      netip.Addr
}

func (k LocalSIDKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%s", k.BlockLen, k.NodeLen, k.FuncLen, k.ArgLen, k.SID)
}

// ParseLocalSIDKey parses "block:node:func:arg:sid". The SID itself
// contains colons, so only the first four separators split fields.
func ParseLocalSIDKey(key string) (LocalSIDKey, error) {
	parts := strings.SplitN(key, ":", 5)
	if len(parts) != 5 {
		return LocalSIDKey{}, util.NewValidationError(fmt.Sprintf("local SID key %q: want block:node:func:arg:sid", key))
	}
	var lens [4]uint8
	total := 0
	for i := 0; i < 4; i++ {
		n, err := strconv.ParseUint(parts[i], 10, 8)
		if err != nil {
			return LocalSIDKey{}, util.NewValidationError(fmt.Sprintf("local SID key %q: bad length %q", key, parts[i]))
		}
		lens[i] = uint8(n)
		total += int(n)
	}
	if total > 128 {
		return LocalSIDKey{}, util.NewValidationError(fmt.Sprintf("local SID key %q: lengths exceed 128 bits", key))
	}
	sid, err := util.ParseIPv6(parts[4])
	if err != nil {
		return LocalSIDKey{}, util.NewValidationError(err.Error())
	}
	return LocalSIDKey{BlockLen: lens[0], NodeLen: lens[1], FuncLen: lens[2], ArgLen: lens[3], SID: sid}, nil
}

// RouteKey identifies a route. VRF is empty for the default VRF.
type RouteKey struct {
	VRF    string
	Prefix netip.Prefix
}

func (k RouteKey) String() string {
	if k.VRF == "" {
		return k.Prefix.String()
	}
	return k.VRF + ":" + k.Prefix.String()
}

// ParseRouteKey parses a ROUTE_TABLE key: "<prefix>" for the default VRF or
// "<vrf>:<prefix>" where the VRF name starts with "Vrf".
func ParseRouteKey(key string) (RouteKey, error) {
	var rk RouteKey
	prefix := key
	if strings.HasPrefix(key, "Vrf") {
		vrf, rest, ok := util.SplitKey(key, ':')
		if !ok {
			return rk, util.NewValidationError(fmt.Sprintf("route key %q: missing prefix", key))
		}
		rk.VRF, prefix = vrf, rest
	}
	p, err := util.ParsePrefix(prefix)
	if err != nil {
		return rk, util.NewValidationError(err.Error())
	}
	rk.Prefix = p
	return rk, nil
}

// isDefaultVRF reports whether name selects the default virtual router.
func isDefaultVRF(name string) bool {
	return name == "" || name == "default"
}

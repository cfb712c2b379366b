// Package sai models the ASIC object space as SONiC's syncd sees it: typed
// SAI objects addressed by an opaque OID (or, for route and my-sid entries,
// by a JSON key) and carrying string attributes.
package sai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ObjectType is a SAI object type as written in ASIC_DB keys.
type ObjectType string

const (
	ObjectTypeSwitch             ObjectType = "SAI_OBJECT_TYPE_SWITCH"
	ObjectTypeVirtualRouter      ObjectType = "SAI_OBJECT_TYPE_VIRTUAL_ROUTER"
	ObjectTypeSRv6SIDList        ObjectType = "SAI_OBJECT_TYPE_SRV6_SIDLIST"
	ObjectTypeTunnel             ObjectType = "SAI_OBJECT_TYPE_TUNNEL"
	ObjectTypeTunnelMap          ObjectType = "SAI_OBJECT_TYPE_TUNNEL_MAP"
	ObjectTypeTunnelMapEntry     ObjectType = "SAI_OBJECT_TYPE_TUNNEL_MAP_ENTRY"
	ObjectTypeNextHop            ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP"
	ObjectTypeNextHopGroup       ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP_GROUP"
	ObjectTypeNextHopGroupMember ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP_GROUP_MEMBER"
	ObjectTypeRouteEntry         ObjectType = "SAI_OBJECT_TYPE_ROUTE_ENTRY"
	ObjectTypeMySIDEntry         ObjectType = "SAI_OBJECT_TYPE_MY_SID_ENTRY"
)

// ObjectTypes lists every type the SRv6 engine creates, in dependency order.
var ObjectTypes = []ObjectType{
	ObjectTypeVirtualRouter,
	ObjectTypeSRv6SIDList,
	ObjectTypeTunnelMap,
	ObjectTypeTunnel,
	ObjectTypeTunnelMapEntry,
	ObjectTypeNextHop,
	ObjectTypeNextHopGroup,
	ObjectTypeNextHopGroupMember,
	ObjectTypeRouteEntry,
	ObjectTypeMySIDEntry,
}

// IsEntry reports whether objects of this type are keyed by a structured
// entry key instead of an allocated OID.
func (t ObjectType) IsEntry() bool {
	return t == ObjectTypeRouteEntry || t == ObjectTypeMySIDEntry
}

// NullOID is SAI_NULL_OBJECT_ID.
const NullOID = "oid:0x0"

// Attributes maps SAI attribute names to their serialized values.
type Attributes map[string]string

// Clone returns a copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Switch
const (
	AttrSwitchDefaultVirtualRouter = "SAI_SWITCH_ATTR_DEFAULT_VIRTUAL_ROUTER_ID"
)

// SRv6 SID list
const (
	AttrSIDListType        = "SAI_SRV6_SIDLIST_ATTR_TYPE"
	AttrSIDListSegmentList = "SAI_SRV6_SIDLIST_ATTR_SEGMENT_LIST"

	SIDListTypeEncapsRed = "SAI_SRV6_SIDLIST_TYPE_ENCAPS_RED"
	SIDListTypeInsertRed = "SAI_SRV6_SIDLIST_TYPE_INSERT_RED"
)

// Tunnel
const (
	AttrTunnelType              = "SAI_TUNNEL_ATTR_TYPE"
	AttrTunnelEncapSrcIP        = "SAI_TUNNEL_ATTR_ENCAP_SRC_IP"
	AttrTunnelEncapDstIP        = "SAI_TUNNEL_ATTR_ENCAP_DST_IP"
	AttrTunnelUnderlayInterface = "SAI_TUNNEL_ATTR_UNDERLAY_INTERFACE"
	AttrTunnelPeerMode          = "SAI_TUNNEL_ATTR_PEER_MODE"
	AttrTunnelEncapMappers      = "SAI_TUNNEL_ATTR_ENCAP_MAPPERS"

	TunnelTypeSRv6    = "SAI_TUNNEL_TYPE_SRV6"
	TunnelPeerModeP2P = "SAI_TUNNEL_PEER_MODE_P2P"
)

// Tunnel map and tunnel map entry
const (
	AttrTunnelMapType = "SAI_TUNNEL_MAP_ATTR_TYPE"

	AttrTunnelMapEntryMapType     = "SAI_TUNNEL_MAP_ENTRY_ATTR_TUNNEL_MAP_TYPE"
	AttrTunnelMapEntryMap         = "SAI_TUNNEL_MAP_ENTRY_ATTR_TUNNEL_MAP"
	AttrTunnelMapEntryPrefixAggID = "SAI_TUNNEL_MAP_ENTRY_ATTR_PREFIX_AGG_ID_KEY"
	AttrTunnelMapEntryVPNSID      = "SAI_TUNNEL_MAP_ENTRY_ATTR_SRV6_VPN_SID_VALUE"

	TunnelMapTypePrefixAggIDToVPNSID = "SAI_TUNNEL_MAP_TYPE_PREFIX_AGG_ID_TO_SRV6_VPN_SID"
)

// Next hop
const (
	AttrNextHopType        = "SAI_NEXT_HOP_ATTR_TYPE"
	AttrNextHopIP          = "SAI_NEXT_HOP_ATTR_IP"
	AttrNextHopNeighborMAC = "SAI_NEXT_HOP_ATTR_NEIGHBOR_MAC"
	AttrNextHopSIDList     = "SAI_NEXT_HOP_ATTR_SRV6_SIDLIST_ID"
	AttrNextHopTunnel      = "SAI_NEXT_HOP_ATTR_TUNNEL_ID"

	NextHopTypeIP          = "SAI_NEXT_HOP_TYPE_IP"
	NextHopTypeSRv6SIDList = "SAI_NEXT_HOP_TYPE_SRV6_SIDLIST"
)

// Next hop group and members
const (
	AttrNextHopGroupType = "SAI_NEXT_HOP_GROUP_ATTR_TYPE"

	AttrNextHopGroupMemberGroup   = "SAI_NEXT_HOP_GROUP_MEMBER_ATTR_NEXT_HOP_GROUP_ID"
	AttrNextHopGroupMemberNextHop = "SAI_NEXT_HOP_GROUP_MEMBER_ATTR_NEXT_HOP_ID"

	NextHopGroupTypeECMP = "SAI_NEXT_HOP_GROUP_TYPE_DYNAMIC_UNORDERED_ECMP"
)

// Route entry
const (
	AttrRouteNextHop     = "SAI_ROUTE_ENTRY_ATTR_NEXT_HOP_ID"
	AttrRoutePrefixAggID = "SAI_ROUTE_ENTRY_ATTR_PREFIX_AGG_ID"
)

// My SID entry
const (
	AttrMySIDBehavior = "SAI_MY_SID_ENTRY_ATTR_ENDPOINT_BEHAVIOR"
	AttrMySIDFlavor   = "SAI_MY_SID_ENTRY_ATTR_ENDPOINT_BEHAVIOR_FLAVOR"
	AttrMySIDVRF      = "SAI_MY_SID_ENTRY_ATTR_VRF"
	AttrMySIDNextHop  = "SAI_MY_SID_ENTRY_ATTR_NEXT_HOP_ID"

	MySIDFlavorPSPAndUSP = "SAI_MY_SID_ENTRY_ENDPOINT_BEHAVIOR_FLAVOR_PSP_AND_USP"
	MySIDFlavorPSPAndUSD = "SAI_MY_SID_ENTRY_ENDPOINT_BEHAVIOR_FLAVOR_PSP_AND_USD"
)

// MySIDBehavior returns the SAI endpoint behavior value for a short code
// such as "DT46" or "UN".
func MySIDBehavior(code string) string {
	return "SAI_MY_SID_ENTRY_ENDPOINT_BEHAVIOR_" + code
}

// ObjectList serializes a SAI object list attribute ("N:oid1,oid2").
func ObjectList(ids ...string) string {
	return fmt.Sprintf("%d:%s", len(ids), strings.Join(ids, ","))
}

// RouteEntryKey identifies a SAI route entry. Fields are declared in
// alphabetical order so the marshalled JSON matches sairedis keys.
type RouteEntryKey struct {
	Dest     string `json:"dest"`
	SwitchID string `json:"switch_id"`
	VR       string `json:"vr"`
}

// String returns the canonical JSON form used as the ASIC_DB key suffix.
func (k RouteEntryKey) String() string {
	b, _ := json.Marshal(k)
	return string(b)
}

// MySIDEntryKey identifies a SAI my-sid entry. Lengths are in bits.
type MySIDEntryKey struct {
	ArgsLen         string `json:"args_len"`
	FunctionLen     string `json:"function_len"`
	LocatorBlockLen string `json:"locator_block_len"`
	LocatorNodeLen  string `json:"locator_node_len"`
	SID             string `json:"sid"`
	SwitchID        string `json:"switch_id"`
	VRID            string `json:"vr_id"`
}

// String returns the canonical JSON form used as the ASIC_DB key suffix.
func (k MySIDEntryKey) String() string {
	b, _ := json.Marshal(k)
	return string(b)
}

// ParseRouteEntryKey parses the JSON key of a route entry.
func ParseRouteEntryKey(s string) (RouteEntryKey, error) {
	var k RouteEntryKey
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return k, fmt.Errorf("parsing route entry key %q: %w", s, err)
	}
	return k, nil
}

// ParseMySIDEntryKey parses the JSON key of a my-sid entry.
func ParseMySIDEntryKey(s string) (MySIDEntryKey, error) {
	var k MySIDEntryKey
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return k, fmt.Errorf("parsing my-sid entry key %q: %w", s, err)
	}
	return k, nil
}

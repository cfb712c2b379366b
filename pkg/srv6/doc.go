// Package srv6 reconciles SRv6 configuration tables into ASIC objects.
//
// Each APPL_DB table has an owning manager: SegmentLists for
// SRV6_SID_LIST_TABLE, LocalSIDs for SRV6_MY_SID_TABLE, Routes for the SRv6
// subset of ROUTE_TABLE, and PIC for NEXTHOP_GROUP_TABLE and
// PIC_CONTEXT_TABLE. Tunnels, next hops and tunnel map entries are shared
// between owners through Resources, which reference-counts them and removes
// each object when its last owner lets go.
//
// Managers lock independently. Locks are always taken in the order
//
//	Routes > PIC > Resources > SegmentLists
//	LocalSIDs > Resources > neighbor table
//
// with the VRF registry and prefix-aggregation ID allocator as leaves.
package srv6

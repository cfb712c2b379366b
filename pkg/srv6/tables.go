package srv6

import (
	"fmt"

	"github.com/newtron-network/srv6orch/pkg/util"
)

// APPL_DB tables consumed by the engine.
const (
	TableSIDList      = "SRV6_SID_LIST_TABLE"
	TableMySID        = "SRV6_MY_SID_TABLE"
	TableRoute        = "ROUTE_TABLE"
	TableNextHopGroup = "NEXTHOP_GROUP_TABLE"
	TablePICContext   = "PIC_CONTEXT_TABLE"
	TableNeighbor     = "NEIGH_TABLE"
)

// Tables lists every table the engine consumes, in the order a consumer
// should drain them at startup.
var Tables = []string{
	TableNeighbor,
	TableSIDList,
	TableNextHopGroup,
	TablePICContext,
	TableMySID,
	TableRoute,
}

// Op is a table operation.
type Op string

const (
	OpSet Op = "SET"
	OpDel Op = "DEL"
)

// Task is one table notification.
type Task struct {
	Table  string            `json:"table" yaml:"table"`
	Op     Op                `json:"op" yaml:"op"`
	Key    string            `json:"key" yaml:"key"`
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s %s:%s", t.Op, t.Table, t.Key)
}

// parallel returns the comma-separated values of each field, requiring every
// non-empty field to have the same number of values as the first.
func parallel(fields map[string]string, names ...string) ([][]string, error) {
	out := make([][]string, len(names))
	for i, name := range names {
		out[i] = util.SplitCommaSeparated(fields[name])
	}
	n := len(out[0])
	vb := &util.ValidationBuilder{}
	for i := 1; i < len(names); i++ {
		if len(out[i]) != 0 && len(out[i]) != n {
			vb.AddErrorf("%s has %d value(s), %s has %d", names[i], len(out[i]), names[0], n)
		}
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	return out, nil
}

func at(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

func localSIDConfig(fields map[string]string) LocalSIDConfig {
	return LocalSIDConfig{
		Action: fields["action"],
		VRF:    fields["vrf"],
		Adj:    util.SplitCommaSeparated(fields["adj"]),
		Ifname: util.SplitCommaSeparated(fields["ifname"]),
	}
}

func routeConfig(fields map[string]string) RouteConfig {
	return RouteConfig{
		Source:       fields["seg_src"],
		Segment:      fields["segment"],
		Nexthop:      fields["nexthop"],
		VPNSID:       fields["vpn_sid"],
		Ifname:       fields["ifname"],
		NextHopGroup: fields["nexthop_group"],
		PICContext:   fields["pic_context_id"],
	}
}

// groupMembers reads NEXTHOP_GROUP_TABLE fields. A single seg_src applies
// to every member.
func groupMembers(fields map[string]string) ([]GroupMember, error) {
	cols, err := parallel(fields, "nexthop", "ifname", "segment")
	if err != nil {
		return nil, err
	}
	sources := util.SplitCommaSeparated(fields["seg_src"])
	if len(sources) > 1 && len(sources) != len(cols[0]) {
		return nil, util.NewValidationError(fmt.Sprintf("seg_src has %d value(s), nexthop has %d", len(sources), len(cols[0])))
	}
	members := make([]GroupMember, len(cols[0]))
	for i, nh := range cols[0] {
		src := at(sources, 0)
		if len(sources) > 1 {
			src = sources[i]
		}
		members[i] = GroupMember{Nexthop: nh, Source: src, Interface: at(cols[1], i), Segment: at(cols[2], i)}
	}
	return members, nil
}

// picEntries reads PIC_CONTEXT_TABLE fields; nexthop and vpn_sid must pair up.
func picEntries(fields map[string]string) ([]PICEntry, error) {
	nexthops := util.SplitCommaSeparated(fields["nexthop"])
	sids := util.SplitCommaSeparated(fields["vpn_sid"])
	if len(nexthops) != len(sids) {
		return nil, util.NewValidationError(fmt.Sprintf("nexthop has %d value(s), vpn_sid has %d", len(nexthops), len(sids)))
	}
	entries := make([]PICEntry, len(nexthops))
	for i := range nexthops {
		entries[i] = PICEntry{Nexthop: nexthops[i], VPNSID: sids[i]}
	}
	return entries, nil
}

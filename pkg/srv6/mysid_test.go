package srv6

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

const (
	sidKey  = "32:16:16:0:fc00:0:1:e000::"
	sidKey2 = "32:16:16:0:fc00:0:1:e001::"
	neighIP = "2001:db8:100::1"
	neighIf = "Ethernet104"
	macA    = "00:11:22:33:44:55"
)

func localSIDKey(t *testing.T, s string) LocalSIDKey {
	t.Helper()
	k, err := ParseLocalSIDKey(s)
	if err != nil {
		t.Fatalf("ParseLocalSIDKey(%q) error = %v", s, err)
	}
	return k
}

func neighborUp(ifname, ip, mac string) Task {
	return setTask(TableNeighbor, ifname+":"+ip, map[string]string{"neigh": mac, "family": "IPv6"})
}

func neighborDown(ifname, ip string) Task {
	return delTask(TableNeighbor, ifname+":"+ip)
}

func TestLocalSIDs_WithoutAdjacency(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		wantAttrs func(store *sai.MemStore) sai.Attributes
		wantVRFs  int
	}{
		{
			name:   "end",
			fields: map[string]string{"action": "end"},
			wantAttrs: func(*sai.MemStore) sai.Attributes {
				return sai.Attributes{sai.AttrMySIDBehavior: sai.MySIDBehavior("E")}
			},
			wantVRFs: 1,
		},
		{
			name:   "un has uSID flavor",
			fields: map[string]string{"action": "un"},
			wantAttrs: func(*sai.MemStore) sai.Attributes {
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("UN"),
					sai.AttrMySIDFlavor:   sai.MySIDFlavorPSPAndUSD,
				}
			},
			wantVRFs: 1,
		},
		{
			name:   "end.dt4 without vrf uses default",
			fields: map[string]string{"action": "end.dt4"},
			wantAttrs: func(s *sai.MemStore) sai.Attributes {
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("DT4"),
					sai.AttrMySIDVRF:      s.DefaultVirtualRouter(),
				}
			},
			wantVRFs: 1,
		},
		{
			name:   "end.dt6 with default vrf",
			fields: map[string]string{"action": "end.dt6", "vrf": "default"},
			wantAttrs: func(s *sai.MemStore) sai.Attributes {
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("DT6"),
					sai.AttrMySIDVRF:      s.DefaultVirtualRouter(),
				}
			},
			wantVRFs: 1,
		},
		{
			name:   "udt46 ignores adj",
			fields: map[string]string{"action": "udt46", "vrf": "default", "adj": neighIP},
			wantAttrs: func(s *sai.MemStore) sai.Attributes {
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("DT46"),
					sai.AttrMySIDVRF:      s.DefaultVirtualRouter(),
				}
			},
			wantVRFs: 1,
		},
		{
			name:   "end.dt46 in VRF creates virtual router",
			fields: map[string]string{"action": "end.dt46", "vrf": "Vrf-1"},
			wantAttrs: func(s *sai.MemStore) sai.Attributes {
				var vr string
				for id := range objects(s, sai.ObjectTypeVirtualRouter) {
					if id != s.DefaultVirtualRouter() {
						vr = id
					}
				}
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("DT46"),
					sai.AttrMySIDVRF:      vr,
				}
			},
			wantVRFs: 2,
		},
		{
			name:   "end.t needs vrf",
			fields: map[string]string{"action": "End.T"},
			wantAttrs: func(s *sai.MemStore) sai.Attributes {
				return sai.Attributes{
					sai.AttrMySIDBehavior: sai.MySIDBehavior("T"),
					sai.AttrMySIDVRF:      s.DefaultVirtualRouter(),
				}
			},
			wantVRFs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, store := newTestOrch(t, Config{})
			initial := store.Snapshot()

			mustApply(t, o, setTask(TableMySID, sidKey, tt.fields))
			if !o.LocalSIDs().Installed(localSIDKey(t, sidKey)) {
				t.Fatal("local SID not installed synchronously")
			}
			if o.Pending() != 0 {
				t.Errorf("Pending() = %d, want 0", o.Pending())
			}

			entryKey, attrs := only(t, store, sai.ObjectTypeMySIDEntry)
			if diff := cmp.Diff(tt.wantAttrs(store), attrs); diff != "" {
				t.Errorf("my-sid attributes mismatch (-want +got):\n%s", diff)
			}
			wantCount(t, store, sai.ObjectTypeVirtualRouter, tt.wantVRFs)

			k, err := sai.ParseMySIDEntryKey(entryKey)
			if err != nil {
				t.Fatal(err)
			}
			want := sai.MySIDEntryKey{
				ArgsLen: "0", FunctionLen: "16", LocatorBlockLen: "32", LocatorNodeLen: "16",
				SID: "fc00:0:1:e000::", SwitchID: store.SwitchID(), VRID: store.DefaultVirtualRouter(),
			}
			if k != want {
				t.Errorf("entry key = %+v, want %+v", k, want)
			}

			mustApply(t, o, delTask(TableMySID, sidKey))
			if diff := cmp.Diff(initial, store.Snapshot()); diff != "" {
				t.Errorf("store not restored (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocalSIDs_PendingUntilNeighbor(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		wantCode   string
		wantFlavor string
	}{
		{"end.x", map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}, "X", sai.MySIDFlavorPSPAndUSP},
		{"ua", map[string]string{"action": "ua", "adj": neighIP, "ifname": neighIf}, "UA", sai.MySIDFlavorPSPAndUSD},
		{"end.dx6", map[string]string{"action": "end.dx6", "adj": neighIP, "ifname": neighIf}, "DX6", sai.MySIDFlavorPSPAndUSD},
		{"udx6", map[string]string{"action": "udx6", "adj": neighIP, "ifname": neighIf}, "DX6", sai.MySIDFlavorPSPAndUSD},
		{"without ifname", map[string]string{"action": "end.x", "adj": neighIP}, "X", sai.MySIDFlavorPSPAndUSP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, store := newTestOrch(t, Config{})
			initial := store.Snapshot()

			mustApply(t, o, setTask(TableMySID, sidKey, tt.fields))
			wantCount(t, store, sai.ObjectTypeMySIDEntry, 0)
			wantCount(t, store, sai.ObjectTypeNextHop, 0)
			if o.Pending() != 1 {
				t.Fatalf("Pending() = %d, want 1", o.Pending())
			}

			// A different neighbor does not release it
			mustApply(t, o, neighborUp(neighIf, "2001:db8:100::9", macA))
			wantCount(t, store, sai.ObjectTypeMySIDEntry, 0)

			mustApply(t, o, neighborUp(neighIf, neighIP, macA))
			if o.Pending() != 0 {
				t.Fatalf("Pending() = %d after resolution, want 0", o.Pending())
			}

			nhID, nh := only(t, store, sai.ObjectTypeNextHop)
			wantNH := sai.Attributes{
				sai.AttrNextHopType:        sai.NextHopTypeIP,
				sai.AttrNextHopIP:          neighIP,
				sai.AttrNextHopNeighborMAC: macA,
			}
			if diff := cmp.Diff(wantNH, nh); diff != "" {
				t.Errorf("adjacency next hop mismatch (-want +got):\n%s", diff)
			}

			_, attrs := only(t, store, sai.ObjectTypeMySIDEntry)
			want := sai.Attributes{
				sai.AttrMySIDBehavior: sai.MySIDBehavior(tt.wantCode),
				sai.AttrMySIDFlavor:   tt.wantFlavor,
				sai.AttrMySIDNextHop:  nhID,
			}
			if diff := cmp.Diff(want, attrs); diff != "" {
				t.Errorf("my-sid attributes mismatch (-want +got):\n%s", diff)
			}

			mustApply(t, o, delTask(TableMySID, sidKey))
			wantCount(t, store, sai.ObjectTypeNextHop, 0)
			mustApply(t, o, neighborDown(neighIf, neighIP), neighborDown(neighIf, "2001:db8:100::9"))
			if diff := cmp.Diff(initial, store.Snapshot()); diff != "" {
				t.Errorf("store not restored (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocalSIDs_ResolvedNeighborInstallsImmediately(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o,
		neighborUp(neighIf, neighIP, macA),
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
	)
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 1)
	if o.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", o.Pending())
	}
}

func TestLocalSIDs_NeighborWithdraw(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	key := localSIDKey(t, sidKey)
	mustApply(t, o,
		neighborUp(neighIf, neighIP, macA),
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
		setTask(TableMySID, sidKey2, map[string]string{"action": "end"}),
	)
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 2)

	mustApply(t, o, neighborDown(neighIf, neighIP))
	if o.LocalSIDs().Installed(key) {
		t.Error("local SID still installed after neighbor withdrawal")
	}
	if o.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", o.Pending())
	}
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 1)
	wantCount(t, store, sai.ObjectTypeNextHop, 0)

	mustApply(t, o, neighborUp(neighIf, neighIP, "00:11:22:33:44:66"))
	if !o.LocalSIDs().Installed(key) {
		t.Fatal("local SID not reinstalled after neighbor returned")
	}
	_, nh := only(t, store, sai.ObjectTypeNextHop)
	if nh[sai.AttrNextHopNeighborMAC] != "00:11:22:33:44:66" {
		t.Errorf("neighbor MAC = %q", nh[sai.AttrNextHopNeighborMAC])
	}
}

func TestLocalSIDs_WithdrawFallsBackToOtherInterface(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	key := localSIDKey(t, sidKey)
	mustApply(t, o,
		neighborUp("Ethernet0", neighIP, macA),
		neighborUp("Ethernet8", neighIP, "00:11:22:33:44:88"),
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP}),
	)
	_, nh := only(t, store, sai.ObjectTypeNextHop)
	if nh[sai.AttrNextHopNeighborMAC] != macA {
		t.Fatalf("neighbor MAC = %q, want Ethernet0 neighbor %q", nh[sai.AttrNextHopNeighborMAC], macA)
	}

	mustApply(t, o, neighborDown("Ethernet0", neighIP))
	if !o.LocalSIDs().Installed(key) {
		t.Fatal("local SID not reinstalled through Ethernet8")
	}
	if o.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", o.Pending())
	}
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 1)
	_, nh = only(t, store, sai.ObjectTypeNextHop)
	if nh[sai.AttrNextHopNeighborMAC] != "00:11:22:33:44:88" {
		t.Errorf("neighbor MAC = %q, want Ethernet8 neighbor", nh[sai.AttrNextHopNeighborMAC])
	}

	mustApply(t, o, neighborDown("Ethernet8", neighIP))
	if o.Pending() != 1 {
		t.Errorf("Pending() = %d after last neighbor withdrawn, want 1", o.Pending())
	}
	wantCount(t, store, sai.ObjectTypeNextHop, 0)
}

func TestLocalSIDs_SharedAdjacency(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o,
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
		setTask(TableMySID, sidKey2, map[string]string{"action": "ua", "adj": neighIP}),
		neighborUp(neighIf, neighIP, macA),
	)
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 2)
	wantCount(t, store, sai.ObjectTypeNextHop, 1)

	mustApply(t, o, delTask(TableMySID, sidKey))
	wantCount(t, store, sai.ObjectTypeNextHop, 1)
	mustApply(t, o, delTask(TableMySID, sidKey2))
	wantCount(t, store, sai.ObjectTypeNextHop, 0)
}

func TestLocalSIDs_NeighborMACChange(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o,
		neighborUp(neighIf, neighIP, macA),
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
	)
	nhID, _ := only(t, store, sai.ObjectTypeNextHop)

	mustApply(t, o, neighborUp(neighIf, neighIP, "aa:bb:cc:dd:ee:ff"))
	nhID2, nh := only(t, store, sai.ObjectTypeNextHop)
	if nhID2 != nhID {
		t.Errorf("adjacency next hop re-created on MAC change")
	}
	if nh[sai.AttrNextHopNeighborMAC] != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("neighbor MAC = %q", nh[sai.AttrNextHopNeighborMAC])
	}
}

func TestLocalSIDs_UpdateVRFInPlace(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o, setTask(TableMySID, sidKey, map[string]string{"action": "end.dt46", "vrf": "Vrf-1"}))
	entryKey, before := only(t, store, sai.ObjectTypeMySIDEntry)

	mustApply(t, o, setTask(TableMySID, sidKey, map[string]string{"action": "end.dt46", "vrf": "Vrf-2"}))
	entryKey2, after := only(t, store, sai.ObjectTypeMySIDEntry)

	if entryKey2 != entryKey {
		t.Error("entry re-created for a VRF change")
	}
	if after[sai.AttrMySIDVRF] == before[sai.AttrMySIDVRF] {
		t.Error("VRF attribute not updated")
	}
	// Vrf-1 released, Vrf-2 created
	wantCount(t, store, sai.ObjectTypeVirtualRouter, 2)
	if _, ok := objects(store, sai.ObjectTypeVirtualRouter)[before[sai.AttrMySIDVRF]]; ok {
		t.Error("old virtual router not removed")
	}
}

func TestLocalSIDs_UpdateAdjacency(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	key := localSIDKey(t, sidKey)
	mustApply(t, o,
		neighborUp(neighIf, neighIP, macA),
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
	)

	t.Run("to resolved neighbor in place", func(t *testing.T) {
		mustApply(t, o,
			neighborUp("Ethernet108", "2001:db8:100::2", macA),
			setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": "2001:db8:100::2", "ifname": "Ethernet108"}),
		)
		nhID, nh := only(t, store, sai.ObjectTypeNextHop)
		if nh[sai.AttrNextHopIP] != "2001:db8:100::2" {
			t.Errorf("next hop IP = %q", nh[sai.AttrNextHopIP])
		}
		_, entry := only(t, store, sai.ObjectTypeMySIDEntry)
		if entry[sai.AttrMySIDNextHop] != nhID {
			t.Errorf("entry next hop = %q, want %s", entry[sai.AttrMySIDNextHop], nhID)
		}
	})

	t.Run("to unresolved neighbor parks", func(t *testing.T) {
		mustApply(t, o, setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": "2001:db8:100::3", "ifname": "Ethernet112"}))
		if o.LocalSIDs().Installed(key) {
			t.Error("entry still installed with unresolved adjacency")
		}
		wantCount(t, store, sai.ObjectTypeMySIDEntry, 0)
		wantCount(t, store, sai.ObjectTypeNextHop, 0)
		if o.Pending() != 1 {
			t.Errorf("Pending() = %d, want 1", o.Pending())
		}
	})
}

func TestLocalSIDs_BehaviorChangeRecreates(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o,
		setTask(TableMySID, sidKey, map[string]string{"action": "end"}),
		setTask(TableMySID, sidKey, map[string]string{"action": "un"}),
	)
	_, attrs := only(t, store, sai.ObjectTypeMySIDEntry)
	if attrs[sai.AttrMySIDBehavior] != sai.MySIDBehavior("UN") || attrs[sai.AttrMySIDFlavor] != sai.MySIDFlavorPSPAndUSD {
		t.Errorf("attributes after behavior change = %v", attrs)
	}
}

func TestLocalSIDs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		fields  map[string]string
		wantErr error
	}{
		{"unknown action", sidKey, map[string]string{"action": "end.bogus"}, util.ErrValidationFailed},
		{"b6 unsupported", sidKey, map[string]string{"action": "end.b6.encaps"}, util.ErrValidationFailed},
		{"missing adj", sidKey, map[string]string{"action": "end.x"}, util.ErrValidationFailed},
		{"ecmp adj", sidKey, map[string]string{"action": "end.x", "adj": neighIP + ",2001:db8:100::2", "ifname": neighIf + ",Ethernet108"}, util.ErrValidationFailed},
		{"ifname mismatch", sidKey, map[string]string{"action": "ua", "adj": neighIP, "ifname": neighIf + ",Ethernet108"}, util.ErrValidationFailed},
		{"bad adj", sidKey, map[string]string{"action": "ua", "adj": "nope"}, util.ErrValidationFailed},
		{"short key", "fc00:0:1:e000::", map[string]string{"action": "end"}, util.ErrValidationFailed},
		{"lengths too long", "64:64:16:0:fc00::", map[string]string{"action": "end"}, util.ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, store := newTestOrch(t, Config{})
			before := store.Snapshot()
			err := o.Apply(context.Background(), setTask(TableMySID, tt.key, tt.fields))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(before, store.Snapshot()); diff != "" {
				t.Errorf("rejected local SID changed the store:\n%s", diff)
			}
			if o.Pending() != 0 {
				t.Errorf("rejected local SID was parked")
			}
		})
	}
}

func TestLocalSIDs_RemoveUnknown(t *testing.T) {
	o, _ := newTestOrch(t, Config{})
	err := o.LocalSIDs().Remove(context.Background(), localSIDKey(t, sidKey))
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Remove() error = %v, want ErrNotFound", err)
	}
}

func TestLocalSIDs_RemovePending(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o,
		setTask(TableMySID, sidKey, map[string]string{"action": "end.x", "adj": neighIP, "ifname": neighIf}),
		delTask(TableMySID, sidKey),
		neighborUp(neighIf, neighIP, macA),
	)
	if o.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", o.Pending())
	}
	wantCount(t, store, sai.ObjectTypeMySIDEntry, 0)
	wantCount(t, store, sai.ObjectTypeNextHop, 0)
}

func TestLocalSIDs_InstallRollback(t *testing.T) {
	o, store := newTestOrch(t, Config{})
	mustApply(t, o, neighborUp(neighIf, neighIP, macA))
	before := store.Snapshot()

	injected := errors.New("injected")
	store.FailNext(sai.OpCreate, sai.ObjectTypeMySIDEntry, injected)
	err := o.Apply(context.Background(), setTask(TableMySID, sidKey, map[string]string{
		"action": "end.x", "adj": neighIP, "ifname": neighIf,
	}))
	if !errors.Is(err, injected) {
		t.Fatalf("Apply() error = %v, want injected", err)
	}
	if diff := cmp.Diff(before, store.Snapshot()); diff != "" {
		t.Errorf("adjacency next hop leaked:\n%s", diff)
	}
}

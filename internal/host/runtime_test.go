package host

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/ncp"
	"zigbee-go-gp/internal/store"
	"zigbee-go-gp/internal/zcl"
	"zigbee-go-gp/internal/zcl/clusters"
)

type testHost struct {
	rt     *Runtime
	ncp    *fakeNCP
	store  *store.BoltStore
	events chan Event
}

func newTestHost(t *testing.T, cfg Config) *testHost {
	t.Helper()
	logger := newTestLogger()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "gp.db"), logger)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := zcl.NewRegistry(logger)
	clusters.Register(reg)
	reg.AddEndpoint(1, []uint16{0x0000, 0x0004, 0x0006})

	if cfg.GP.MaxSinkEntries == 0 {
		cfg.GP = gp.DefaultConfig()
	}
	bus := NewEventBus(logger)
	events := make(chan Event, 64)
	bus.OnAll(func(e Event) { events <- e })

	f := newFakeNCP()
	rt, err := New(f, st, reg, bus, cfg, NCPConfig{Type: "nrf52840", Port: "/dev/null", Baud: 460800}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &testHost{rt: rt, ncp: f, store: st, events: events}
}

func (h *testHost) waitEvent(t *testing.T, eventType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", eventType)
			return Event{}
		}
	}
}

func (h *testHost) waitZCL(t *testing.T) ncp.ZCLRequest {
	t.Helper()
	select {
	case req := <-h.ncp.zcl:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no ZCL request sent")
		return ncp.ZCLRequest{}
	}
}

func TestParseIEEE(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"hex string no colons", "00124B001234ABCD", 0x00124B001234ABCD, false},
		{"hex string with colons", "00:12:4B:00:12:34:AB:CD", 0x00124B001234ABCD, false},
		{"0x prefix", "0x00124B001234ABCD", 0x00124B001234ABCD, false},
		{"too short", "00124B", 0, true},
		{"invalid hex", "ZZZZZZZZZZZZZZZZ", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIEEE(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseIEEE(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseIEEE(%q) = %016X, want %016X", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseGpdID(t *testing.T) {
	id, err := ParseGpdID(gp.AppIDSrcID, "0x12345678")
	if err != nil {
		t.Fatal(err)
	}
	if id != gp.SrcID(0x12345678) {
		t.Errorf("id = %s, want 0x12345678", id)
	}
	if _, err := ParseGpdID(gp.AppIDSrcID, "123456789"); err == nil {
		t.Error("expected error for 9-digit src id")
	}

	id, err = ParseAnyGpdID("00124B0001020304")
	if err != nil {
		t.Fatal(err)
	}
	if id != gp.IEEE(0x00124B0001020304) {
		t.Errorf("id = %s, want IEEE 00124B0001020304", id)
	}
	id, err = ParseAnyGpdID("ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if id != gp.SrcID(0xABCD) {
		t.Errorf("id = %s, want 0x0000ABCD", id)
	}
}

func TestStartCachesNetwork(t *testing.T) {
	h := newTestHost(t, Config{})

	if got := h.rt.NwkAddr(); got != 0x0000 {
		t.Errorf("NwkAddr = 0x%04X, want 0x0000", got)
	}
	if got := h.rt.PanID(); got != 0x1A62 {
		t.Errorf("PanID = 0x%04X, want 0x1A62", got)
	}
	if got := h.rt.Channel(); got != 15 {
		t.Errorf("Channel = %d, want 15", got)
	}
	if got := h.rt.IEEEAddr(); got != 0x00124B0001020304 {
		t.Errorf("IEEEAddr = %016X, want 00124B0001020304", got)
	}
	if got := h.rt.NwkKey(); got[0] != 0x01 || got[3] != 0x07 {
		t.Errorf("NwkKey = %X", got)
	}

	h.ncp.mu.Lock()
	started := h.ncp.started
	h.ncp.mu.Unlock()
	if len(started) != 2 {
		t.Fatalf("registered %d endpoints, want 2", len(started))
	}
	if started[0].Endpoint != gp.Endpoint || started[0].ProfileID != gp.ProfileGP {
		t.Errorf("first endpoint = %+v, want GP endpoint", started[0])
	}
	if started[1].Endpoint != 1 || started[1].ProfileID != gp.ProfileHA {
		t.Errorf("second endpoint = %+v, want HA endpoint 1", started[1])
	}

	ev := h.waitEvent(t, EventNetworkState)
	if ev.Data["channel"] != 15 {
		t.Errorf("network_state channel = %v, want 15", ev.Data["channel"])
	}
	info := h.rt.NetworkInfo()
	if info["pan_id"] != "0x1A62" || info["stack_version"] != "3.11.3.0" {
		t.Errorf("NetworkInfo = %v", info)
	}
}

func TestStartIEEEOverride(t *testing.T) {
	h := newTestHost(t, Config{IEEE: 0x1122334455667788, ResetOnStart: true})
	if got := h.rt.IEEEAddr(); got != 0x1122334455667788 {
		t.Errorf("IEEEAddr = %016X, want 1122334455667788", got)
	}
	h.ncp.mu.Lock()
	defer h.ncp.mu.Unlock()
	if h.ncp.resets != 1 {
		t.Errorf("resets = %d, want 1", h.ncp.resets)
	}
}

func TestDataIndicationEmitsNotification(t *testing.T) {
	h := newTestHost(t, Config{})
	h.ncp.onData(ncp.GPDataIndication{
		SrcID:        0x12345678,
		Endpoint:     0,
		FrameCounter: 7,
		CommandID:    0x20,
		RSSI:         -60,
		LQI:          200,
	})

	ev := h.waitEvent(t, EventNotification)
	if ev.Data["gpd"] != "0x12345678" {
		t.Errorf("gpd = %v, want 0x12345678", ev.Data["gpd"])
	}
	if ev.Data["command"] != 0x20 {
		t.Errorf("command = %v, want 32", ev.Data["command"])
	}
	if ev.Data["frame_counter"] != int64(7) {
		t.Errorf("frame_counter = %v, want 7", ev.Data["frame_counter"])
	}
}

func TestSecRequestAnswered(t *testing.T) {
	h := newTestHost(t, Config{})
	h.ncp.onSec(ncp.GPSecRequest{SrcID: 0x0BADCAFE, SecLevel: 2, KeyType: 4, FrameCounter: 3, Handle: 9})

	select {
	case rsp := <-h.ncp.secRsp:
		if rsp.Handle != 9 {
			t.Errorf("Handle = %d, want 9", rsp.Handle)
		}
		if rsp.SecLevel != 2 {
			t.Errorf("SecLevel = %d, want 2", rsp.SecLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no GP-SEC.response sent")
	}
}

func TestReadAttributes(t *testing.T) {
	h := newTestHost(t, Config{})
	req := zcl.Header{Seq: 5, CommandID: zcl.FoundationReadAttributes}
	h.ncp.onCluster(ncp.ClusterCommandEvent{
		SrcAddr:   0x2222,
		SrcEP:     gp.Endpoint,
		DstEP:     gp.Endpoint,
		ClusterID: gp.ClusterGP,
		ProfileID: gp.ProfileGP,
		Frame:     req.Encode([]byte{0x00, 0x00, 0x99, 0x99}),
	})

	rsp := h.waitZCL(t)
	if rsp.Mode != ncp.AddrShort || rsp.DstAddr != 0x2222 || rsp.DstEP != gp.Endpoint {
		t.Errorf("reply addressed to %+v", rsp)
	}
	want := []byte{
		0x18, 0x05, zcl.FoundationReadAttributesResponse,
		0x00, 0x00, zcl.ZCLStatusSuccess, zcl.TypeUint8, gp.DefaultMaxSinkEntries,
		0x99, 0x99, zcl.ZCLStatusUnsupportedAttr,
	}
	if !bytes.Equal(rsp.Frame, want) {
		t.Errorf("frame = %X, want %X", rsp.Frame, want)
	}
}

func TestUnsupportedGlobalCommand(t *testing.T) {
	h := newTestHost(t, Config{})
	req := zcl.Header{Seq: 6, CommandID: zcl.FoundationDiscoverAttributes}
	h.ncp.onCluster(ncp.ClusterCommandEvent{
		SrcAddr:   0x2222,
		SrcEP:     gp.Endpoint,
		DstEP:     gp.Endpoint,
		ClusterID: gp.ClusterGP,
		ProfileID: gp.ProfileGP,
		Frame:     req.Encode([]byte{0x00, 0x00, 0x10}),
	})

	rsp := h.waitZCL(t)
	want := []byte{0x18, 0x06, zcl.FoundationDefaultResponse, zcl.FoundationDiscoverAttributes, zcl.ZCLStatusUnsupGeneralCmd}
	if !bytes.Equal(rsp.Frame, want) {
		t.Errorf("frame = %X, want %X", rsp.Frame, want)
	}
}

func TestSinkCommissioningModeCommand(t *testing.T) {
	h := newTestHost(t, Config{})
	m := gp.SinkCommissioningMode{Enter: true, GPMAddrSecurity: 0xFFFF, GPMAddrPairing: 0xFFFF, SinkEndpoint: 0xFF}
	req := zcl.Header{ClusterSpecific: true, Seq: 9, CommandID: gp.CmdIDSinkCommissioningMode}
	h.ncp.onCluster(ncp.ClusterCommandEvent{
		SrcAddr:   0x3333,
		SrcEP:     gp.Endpoint,
		DstEP:     gp.Endpoint,
		ClusterID: gp.ClusterGP,
		ProfileID: gp.ProfileGP,
		Frame:     req.Encode(m.Encode()),
	})

	ev := h.waitEvent(t, EventCommissioningMode)
	if ev.Data["role"] != "sink" || ev.Data["active"] != true {
		t.Errorf("event data = %v", ev.Data)
	}
	rsp := h.waitZCL(t)
	want := []byte{0x18, 0x09, zcl.FoundationDefaultResponse, gp.CmdIDSinkCommissioningMode, zcl.ZCLStatusSuccess}
	if !bytes.Equal(rsp.Frame, want) {
		t.Errorf("frame = %X, want %X", rsp.Frame, want)
	}
}

func TestBroadcastCommandGetsNoDefaultResponse(t *testing.T) {
	h := newTestHost(t, Config{})
	// Sink commissioning mode naming a commissioning manager, broadcast.
	req := zcl.Header{ClusterSpecific: true, Seq: 10, CommandID: gp.CmdIDSinkCommissioningMode}
	h.ncp.onCluster(ncp.ClusterCommandEvent{
		SrcAddr:   0x3333,
		SrcEP:     gp.Endpoint,
		DstAddr:   0xFFFD,
		DstEP:     gp.Endpoint,
		Delivery:  ncp.DeliveryBroadcast,
		ClusterID: gp.ClusterGP,
		ProfileID: gp.ProfileGP,
		Frame:     req.Encode([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x01}),
	})

	select {
	case rsp := <-h.ncp.zcl:
		t.Errorf("unexpected reply %X", rsp.Frame)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFramesForOtherClustersIgnored(t *testing.T) {
	h := newTestHost(t, Config{})
	req := zcl.Header{Seq: 1, CommandID: zcl.FoundationReadAttributes}
	h.ncp.onCluster(ncp.ClusterCommandEvent{
		SrcAddr:   0x2222,
		SrcEP:     1,
		DstEP:     1,
		ClusterID: 0x0006,
		ProfileID: gp.ProfileHA,
		Frame:     req.Encode([]byte{0x00, 0x00}),
	})

	select {
	case rsp := <-h.ncp.zcl:
		t.Errorf("unexpected reply %X", rsp.Frame)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendCommandEncoding(t *testing.T) {
	h := newTestHost(t, Config{})
	err := h.rt.SendCommand(gp.Frame{
		Dst:            gp.Address{Mode: gp.AddrGroup, Addr: 0x0B84, Endpoint: gp.Endpoint},
		ServerToClient: true,
		HasSeq:         true,
		Seq:            0x42,
		CommandID:      gp.CmdIDPairing,
		Payload:        []byte{0xAA},
		Alias:          &gp.AliasTx{Addr: 0x1111, Seq: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	req := h.waitZCL(t)
	if req.Mode != ncp.AddrGroup || req.DstAddr != 0x0B84 {
		t.Errorf("addressing = %d/0x%04X, want group 0x0B84", req.Mode, req.DstAddr)
	}
	if req.ClusterID != gp.ClusterGP || req.ProfileID != gp.ProfileGP || req.SrcEP != gp.Endpoint {
		t.Errorf("request = %+v", req)
	}
	if req.Alias == nil || req.Alias.Addr != 0x1111 || req.Alias.Seq != 3 {
		t.Errorf("alias = %+v", req.Alias)
	}
	want := []byte{0x19, 0x42, gp.CmdIDPairing, 0xAA}
	if !bytes.Equal(req.Frame, want) {
		t.Errorf("frame = %X, want %X", req.Frame, want)
	}
}

func TestGroupTracking(t *testing.T) {
	h := newTestHost(t, Config{})
	for _, g := range []uint16{0x0300, 0x0100, 0x0200} {
		if err := h.rt.AddGroup(g, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.rt.RemoveGroup(0x0200, 1); err != nil {
		t.Fatal(err)
	}
	got := h.rt.Groups(1)
	if len(got) != 2 || got[0] != 0x0100 || got[1] != 0x0300 {
		t.Errorf("Groups = %v, want [256 768]", got)
	}
	if len(h.rt.Groups(2)) != 0 {
		t.Error("endpoint 2 has groups")
	}
}

func TestNewStochasticAddressUpdatesCache(t *testing.T) {
	h := newTestHost(t, Config{})
	if err := h.rt.NewStochasticAddress(); err != nil {
		t.Fatal(err)
	}
	if got := h.rt.NwkAddr(); got != 0x4321 {
		t.Errorf("NwkAddr = 0x%04X, want 0x4321", got)
	}
}

func TestHistoryRecordsEvents(t *testing.T) {
	h := newTestHost(t, Config{History: true})
	h.waitEvent(t, EventNetworkState)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.rt.SetCommissioning(ctx, true); err != nil {
		t.Fatalf("SetCommissioning: %v", err)
	}
	h.waitEvent(t, EventCommissioningMode)

	var recs []*store.EventRecord
	deadline := time.Now().Add(2 * time.Second)
	for {
		var err error
		recs, err = h.rt.History(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(recs) != 2 {
		t.Fatalf("history has %d records, want 2", len(recs))
	}
	if recs[0].Type != EventNetworkState || recs[1].Type != EventCommissioningMode {
		t.Errorf("history = %s, %s", recs[0].Type, recs[1].Type)
	}
	if recs[1].ID == "" {
		t.Error("record has no id")
	}
}

func TestCommissioningHook(t *testing.T) {
	h := newTestHost(t, Config{})
	h.rt.DeviceCommissioned(gp.SinkEntry{
		ID:       gp.SrcID(0x01020304),
		Endpoint: 1,
		DeviceID: 0x02,
		Groups:   []gp.SinkGroup{{GroupID: 0x0010, Alias: 0xFFFF}},
	})
	ev := h.waitEvent(t, EventDeviceCommissioned)
	if ev.Data["gpd"] != "0x01020304" || ev.Data["device_id"] != 2 {
		t.Errorf("event data = %v", ev.Data)
	}
	groups, _ := ev.Data["groups"].([]any)
	if len(groups) != 1 || groups[0] != 0x0010 {
		t.Errorf("groups = %v", ev.Data["groups"])
	}
}

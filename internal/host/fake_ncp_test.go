package host

import (
	"context"
	"sync"

	"zigbee-go-gp/internal/ncp"
)

// fakeNCP records what the runtime asks of the co-processor and lets tests
// inject indications through the registered callbacks.
type fakeNCP struct {
	mu sync.Mutex

	info     ncp.NetworkInfo
	ieee     [8]byte
	key      [16]byte
	resets   int
	started  []ncp.SimpleDescriptor
	groups   []uint16
	removed  []uint16
	dataReqs []ncp.GPDataRequest
	cleared  int
	permits  []uint8
	channels []uint8
	announce []uint16
	nextAddr uint16

	zcl    chan ncp.ZCLRequest
	secRsp chan ncp.GPSecResponse

	onData     func(ncp.GPDataIndication)
	onSec      func(ncp.GPSecRequest)
	onCluster  func(ncp.ClusterCommandEvent)
	onAnnounce func(ncp.DeviceAnnounceEvent)
	onReset    func()
}

func newFakeNCP() *fakeNCP {
	return &fakeNCP{
		info:     ncp.NetworkInfo{Channel: 15, PanID: 0x1A62, ShortAddr: 0x0000},
		ieee:     [8]byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x4B, 0x12, 0x00},
		key:      [16]byte{0x01, 0x03, 0x05, 0x07},
		nextAddr: 0x4321,
		zcl:      make(chan ncp.ZCLRequest, 32),
		secRsp:   make(chan ncp.GPSecResponse, 8),
	}
}

func (f *fakeNCP) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeNCP) Init(context.Context) error { return nil }

func (f *fakeNCP) StartNetwork(_ context.Context, eps []ncp.SimpleDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = eps
	return nil
}

func (f *fakeNCP) NetworkInfo(context.Context) (*ncp.NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.info
	return &info, nil
}

func (f *fakeNCP) GetLocalIEEE(context.Context) ([8]byte, error) { return f.ieee, nil }
func (f *fakeNCP) GetNwkKey(context.Context) ([16]byte, error)   { return f.key, nil }

func (f *fakeNCP) SetChannel(_ context.Context, ch uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
	return nil
}

func (f *fakeNCP) PermitJoin(_ context.Context, d uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permits = append(f.permits, d)
	return nil
}

func (f *fakeNCP) SendAddrConflict(context.Context, uint16) error { return nil }

func (f *fakeNCP) NewStochasticAddress(context.Context) (uint16, error) {
	return f.nextAddr, nil
}

func (f *fakeNCP) AddGroup(_ context.Context, group uint16, _ uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, group)
	return nil
}

func (f *fakeNCP) RemoveGroup(_ context.Context, group uint16, _ uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, group)
	return nil
}

func (f *fakeNCP) SendZCL(_ context.Context, req ncp.ZCLRequest) error {
	f.zcl <- req
	return nil
}

func (f *fakeNCP) DeviceAnnounce(_ context.Context, alias uint16, _ [8]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announce = append(f.announce, alias)
	return nil
}

func (f *fakeNCP) GPDataRequest(_ context.Context, req ncp.GPDataRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataReqs = append(f.dataReqs, req)
	return nil
}

func (f *fakeNCP) GPClearTxQueue(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeNCP) GPSecResponse(_ context.Context, rsp ncp.GPSecResponse) error {
	f.secRsp <- rsp
	return nil
}

func (f *fakeNCP) OnGPDataIndication(h func(ncp.GPDataIndication))  { f.onData = h }
func (f *fakeNCP) OnGPSecRequest(h func(ncp.GPSecRequest))          { f.onSec = h }
func (f *fakeNCP) OnClusterCommand(h func(ncp.ClusterCommandEvent)) { f.onCluster = h }
func (f *fakeNCP) OnDeviceAnnounce(h func(ncp.DeviceAnnounceEvent)) { f.onAnnounce = h }
func (f *fakeNCP) OnNCPReset(h func())                              { f.onReset = h }

func (f *fakeNCP) GetNCPInfo() *ncp.NCPInfo {
	return &ncp.NCPInfo{FWVersion: 5, StackVersion: "3.11.3.0", ProtocolVersion: 2}
}

func (f *fakeNCP) Close() error { return nil }

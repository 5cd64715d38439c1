package gp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testNwk  uint16 = 0x1234
	testIEEE uint64 = 0x00124B0001020304
	testPan  uint16 = 0xBEEF
)

type fakeStub struct {
	mu        sync.Mutex
	nwk       uint16
	channel   uint8
	frames    []Frame
	dataReqs  []DataRequest
	groups    map[uint16]bool
	appGroups []uint16
	announces []uint16
	conflicts []uint16
	newAddr   int
	cleared   int
	permit    []uint8
	channels  []uint8
}

func newFakeStub() *fakeStub {
	return &fakeStub{nwk: testNwk, channel: 15, groups: make(map[uint16]bool)}
}

func (s *fakeStub) SendCommand(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeStub) DataRequest(req DataRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataReqs = append(s.dataReqs, req)
	return nil
}

func (s *fakeStub) ClearTxQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
}

func (s *fakeStub) AddGroup(group uint16, _ uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group] = true
	return nil
}

func (s *fakeStub) RemoveGroup(group uint16, _ uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, group)
	return nil
}

func (s *fakeStub) Groups(uint8) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.appGroups...)
}

func (s *fakeStub) DeviceAnnounce(alias uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announces = append(s.announces, alias)
	return nil
}

func (s *fakeStub) AddressConflict(addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, addr)
	return nil
}

func (s *fakeStub) NewStochasticAddress() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newAddr++
	return nil
}

func (s *fakeStub) PermitJoin(seconds uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permit = append(s.permit, seconds)
	return nil
}

func (s *fakeStub) NwkAddr() uint16  { return s.nwk }
func (s *fakeStub) IEEEAddr() uint64 { return testIEEE }
func (s *fakeStub) PanID() uint16    { return testPan }

func (s *fakeStub) Channel() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *fakeStub) SetChannel(ch uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = ch
	s.channels = append(s.channels, ch)
	return nil
}

func (s *fakeStub) NwkKey() Key { return Key{0x01, 0x02, 0x03} }

// sent returns the frames carrying a GP command, on one cluster side.
func (s *fakeStub) sent(cmd uint8, serverToClient bool) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.frames {
		if f.CommandID == cmd && f.ServerToClient == serverToClient {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeStub) announced() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.announces...)
}

func (s *fakeStub) inGroup(g uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[g]
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func newMemStore() *memStore { return &memStore{blobs: make(map[string][]byte)} }

func (m *memStore) LoadTable(module, item string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[module+"/"+item], nil
}

func (m *memStore) SaveTable(module, item string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[module+"/"+item] = append([]byte(nil), blob...)
	m.saves++
	return nil
}

type fakeEndpoints map[uint16]bool

func (f fakeEndpoints) HasCluster(cluster uint16) bool { return f[cluster] }

type fakeHooks struct {
	mu           sync.Mutex
	denyChannel  bool
	modes        []string
	commissioned []SinkEntry
	removed      []GpdID
	translated   []Command
}

func (h *fakeHooks) AllowChannelRequest(GpdID) bool { return !h.denyChannel }

func (h *fakeHooks) CommissioningModeChanged(role Role, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := "off"
	if active {
		state = "on"
	}
	h.modes = append(h.modes, string(role)+":"+state)
}

func (h *fakeHooks) DeviceCommissioned(e SinkEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commissioned = append(h.commissioned, e)
}

func (h *fakeHooks) DeviceRemoved(id GpdID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, id)
}

func (h *fakeHooks) Translated(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.translated = append(h.translated, cmd)
}

func (h *fakeHooks) TableChanged(string) {}

func (h *fakeHooks) commands() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Command(nil), h.translated...)
}

type testEnv struct {
	core  *Core
	stub  *fakeStub
	store *memStore
	hooks *fakeHooks
	eps   fakeEndpoints
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCore builds a core that is not running: tests call the event
// loop handlers directly.
func newTestCore(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env := &testEnv{
		stub:  newFakeStub(),
		store: newMemStore(),
		hooks: &fakeHooks{},
		eps:   fakeEndpoints{ClusterTemperature: true, ClusterOnOff: true},
	}
	c, err := New(cfg, Deps{
		Stub:      env.stub,
		Store:     env.store,
		Endpoints: env.eps,
		Hooks:     env.hooks,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	env.core = c
	t.Cleanup(c.stopTimers)
	return env
}

// runCore starts the event loop and stops it when the test ends.
func runCore(t *testing.T, c *Core) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// drain runs queued event loop messages until none arrives within wait.
func drain(c *Core, wait time.Duration) {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-time.After(wait):
			return
		}
	}
}

// commissioningInd is a unidirectional, unsecured Commissioning GPDF.
func commissioningInd(id GpdID, p *CommissioningPayload) DataIndication {
	return DataIndication{
		ID:         id,
		Status:     IndNoSecurity,
		FrameType:  FrameTypeData,
		GpdCommand: CmdCommissioning,
		Payload:    p.Encode(),
		SeqNum:     1,
		RSSI:       -50,
		LQI:        200,
	}
}

func dataInd(id GpdID, cmd uint8, seq uint8, payload ...byte) DataIndication {
	return DataIndication{
		ID:         id,
		Status:     IndNoSecurity,
		FrameType:  FrameTypeData,
		GpdCommand: cmd,
		Payload:    payload,
		SeqNum:     seq,
		RSSI:       -50,
		LQI:        200,
	}
}

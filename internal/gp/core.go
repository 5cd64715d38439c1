package gp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AddrMode selects how an outbound frame is addressed.
type AddrMode uint8

const (
	AddrUnicast AddrMode = iota
	AddrGroup
	AddrBroadcast
)

// Address is the destination of an outbound GP cluster command.
type Address struct {
	Mode     AddrMode
	Addr     uint16
	Endpoint uint8
}

// AliasTx asks the stub to send a frame with a NWK source alias and
// sequence number instead of our own.
type AliasTx struct {
	Addr uint16
	Seq  uint8
}

// Frame is an outbound GP cluster command. ServerToClient is set for
// commands addressed to proxies (the client side of the cluster).
type Frame struct {
	Dst            Address
	ServerToClient bool
	HasSeq         bool
	Seq            uint8
	CommandID      uint8
	Payload        []byte
	Alias          *AliasTx
	Radius         uint8
}

// DataRequest is a GP-DATA.request queueing (or removing) a GPDF in the
// stub's transmit queue.
type DataRequest struct {
	Action       bool
	UseGpTxQueue bool
	ID           GpdID
	Endpoint     uint8
	GpdCommand   uint8
	Payload      []byte
}

// DataIndication is a GP-DATA.indication: a GPDF received and processed by
// the stub. Payload excludes the GPD command id.
type DataIndication struct {
	ID                GpdID
	Endpoint          uint8
	Status            DataIndStatus
	FrameType         NwkFrameType
	GpdCommand        uint8
	Payload           []byte
	FrameCounter      uint32
	SecLevel          SecLevel
	KeyType           uint8
	RxAfterTx         bool
	AutoCommissioning bool
	RSSI              int8
	LQI               uint8
	SeqNum            uint8
	MIC               uint32
}

// IncomingCommand is a GP cluster command received from the network.
// ServerToClient is set for commands addressed to our proxy (client) side.
type IncomingCommand struct {
	SrcAddr        uint16
	SrcEndpoint    uint8
	Seq            uint8
	ServerToClient bool
	Broadcast      bool
	CommandID      uint8
	Payload        []byte
}

// Stub is the radio, NWK and APS collaborator.
type Stub interface {
	SendCommand(f Frame) error
	DataRequest(req DataRequest) error
	ClearTxQueue()
	AddGroup(group uint16, endpoint uint8) error
	RemoveGroup(group uint16, endpoint uint8) error
	Groups(endpoint uint8) []uint16
	DeviceAnnounce(alias uint16) error
	AddressConflict(addr uint16) error
	NewStochasticAddress() error
	PermitJoin(seconds uint8) error
	NwkAddr() uint16
	IEEEAddr() uint64
	PanID() uint16
	Channel() uint8
	SetChannel(channel uint8) error
	NwkKey() Key
}

// TableStore persists table blobs keyed by (module, item). LoadTable
// returns a nil blob when nothing was saved.
type TableStore interface {
	LoadTable(module, item string) ([]byte, error)
	SaveTable(module, item string, blob []byte) error
}

// Endpoints answers whether a cluster is implemented on a local endpoint.
type Endpoints interface {
	HasCluster(cluster uint16) bool
}

// Role is the GP role an event refers to.
type Role string

const (
	RoleProxy Role = "proxy"
	RoleSink  Role = "sink"
)

// Command is a GPD command translated to a ZCL command, addressed to Group
// on Endpoint. Cluster 0xFFFF marks an event with no ZCL equivalent
// (generic switch contacts).
type Command struct {
	ID          GpdID
	GpdEndpoint uint8
	GpdCommand  uint8
	Group       uint16
	Endpoint    uint8
	Profile     uint16
	Cluster     uint16
	CommandID   uint8
	Global      bool
	Payload     []byte
}

// AppHooks receives application notifications from the core. All calls
// are made from the core's event loop and must not block.
type AppHooks interface {
	AllowChannelRequest(id GpdID) bool
	CommissioningModeChanged(role Role, active bool)
	DeviceCommissioned(e SinkEntry)
	DeviceRemoved(id GpdID)
	Translated(cmd Command)
	TableChanged(item string)
}

// NopHooks accepts every channel request and ignores all notifications.
type NopHooks struct{}

func (NopHooks) AllowChannelRequest(GpdID) bool      { return true }
func (NopHooks) CommissioningModeChanged(Role, bool) {}
func (NopHooks) DeviceCommissioned(SinkEntry)        {}
func (NopHooks) DeviceRemoved(GpdID)                 {}
func (NopHooks) Translated(Command)                  {}
func (NopHooks) TableChanged(string)                 {}

// KeyUnwrapper performs the CCM* operations the core needs. Without one,
// encrypted keys are rejected and failed frames cannot be recovered.
type KeyUnwrapper interface {
	UnwrapKey(id GpdID, wrapped Key, mic uint32, linkKey Key) (Key, error)
	WrapKey(id GpdID, frameCounter uint32, key Key, linkKey Key) (Key, uint32, error)
	DecryptFrame(n *CommissioningNotification, kt KeyType, key Key) (cmd uint8, payload []byte, err error)
}

// Config holds the GP attribute values and table sizes.
type Config struct {
	AppEndpoint     uint8
	ProxyEnabled    bool
	SinkEnabled     bool
	MaxProxyEntries int
	MaxSinkEntries  int
	MaxTransEntries int

	// Sink attributes.
	CommMode   CommMode
	ExitMode   uint8
	CommWindow uint16
	SecLevel   uint8

	SharedKeyType KeyType
	SharedKey     Key
	LinkKey       Key

	// DuplicateTimeout is how long a GPDF sequence number or security
	// frame counter stays in the duplicate filter.
	DuplicateTimeout   time.Duration
	// MultiSensorTimeout bounds the wait for the remaining Application
	// Description frames of a multi-sensor GPD.
	MultiSensorTimeout time.Duration

	// TranslationGroup is the group translated commands are addressed to.
	TranslationGroup uint16
	DeviceClasses    []DeviceClassRow
}

// DefaultConfig returns a combo proxy and sink configuration.
func DefaultConfig() Config {
	return Config{
		AppEndpoint:      0x01,
		ProxyEnabled:     true,
		SinkEnabled:      true,
		MaxProxyEntries:  DefaultMaxProxyEntries,
		MaxSinkEntries:   DefaultMaxSinkEntries,
		MaxTransEntries:  DefaultMaxTransEntries,
		CommMode:         CommModeDerivedGroup,
		ExitMode:         ExitOnWindowExpiration | ExitOnFirstPairing,
		CommWindow:       DefaultCommissioningWindow,
		SecLevel:         uint8(SecLevelNone),
		SharedKeyType:    KeyTypeGpdGroup,
		SharedKey:        DefaultSharedKey,
		LinkKey:          DefaultLinkKey,
		TranslationGroup: 0x0001,

		DuplicateTimeout:   DuplicateTimeout * time.Second,
		MultiSensorTimeout: MultiSensorTimeout * time.Second,
	}
}

// minSecLevel is the minimal GPD security level accepted by the sink.
func (c Config) minSecLevel() SecLevel { return SecLevel(c.SecLevel & 0x3) }

// Deps are the collaborators of a Core. Stub, Store and Endpoints are
// required.
type Deps struct {
	Stub      Stub
	Store     TableStore
	Endpoints Endpoints
	Hooks     AppHooks
	Keys      KeyUnwrapper
	Logger    *slog.Logger
	Now       func() time.Time
}

// Persistence items.
const (
	storeModule   = "gp"
	itemProxy     = "proxy_table"
	itemSink      = "sink_table"
	itemTrans     = "trans_table"
	inboxCapacity = 64
)

// Core owns the proxy, sink and translation tables and runs the GP state
// machines. Exported methods are safe for concurrent use once Run has been
// started; they post work to the event loop and wait for it.
type Core struct {
	cfg    Config
	stub   Stub
	store  TableStore
	eps    Endpoints
	hooks  AppHooks
	keys   KeyUnwrapper
	logger *slog.Logger
	now    func() time.Time

	proxy *ProxyTable
	sink  *SinkTable
	trans *TransTable
	dup   *DupFilter
	pdup  *DupFilter

	pctx     proxyState
	sctx     sinkState
	announce map[uint16]*timer
	zclSeq   uint8
	gen      uint64

	inbox   chan func()
	stopped chan struct{}

	dirty     map[string]bool
	pendingMu sync.Mutex
	pending   map[string][]byte
	kick      chan struct{}
}

// New builds a Core and loads persisted tables. A table blob that fails to
// decode is logged and replaced by an empty table.
func New(cfg Config, deps Deps) (*Core, error) {
	if deps.Stub == nil || deps.Store == nil || deps.Endpoints == nil {
		return nil, errors.New("gp: stub, store and endpoints are required")
	}
	if deps.Hooks == nil {
		deps.Hooks = NopHooks{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	for _, n := range []int{cfg.MaxProxyEntries, cfg.MaxSinkEntries, cfg.MaxTransEntries} {
		if n <= 0 || n > MaxTableEntries {
			return nil, fmt.Errorf("gp: table size %d out of range 1-%d: %w", n, MaxTableEntries, ErrInvalidField)
		}
	}
	if cfg.DuplicateTimeout <= 0 {
		cfg.DuplicateTimeout = DuplicateTimeout * time.Second
	}
	if cfg.MultiSensorTimeout <= 0 {
		cfg.MultiSensorTimeout = MultiSensorTimeout * time.Second
	}
	c := &Core{
		cfg:      cfg,
		stub:     deps.Stub,
		store:    deps.Store,
		eps:      deps.Endpoints,
		hooks:    deps.Hooks,
		keys:     deps.Keys,
		logger:   deps.Logger.With("component", "gp"),
		now:      deps.Now,
		proxy:    NewProxyTable(cfg.MaxProxyEntries),
		sink:     NewSinkTable(cfg.MaxSinkEntries),
		trans:    NewTransTable(cfg.MaxTransEntries, cfg.DeviceClasses),
		dup:      NewDupFilter(cfg.DuplicateTimeout, deps.Now),
		pdup:     NewDupFilter(cfg.DuplicateTimeout, deps.Now),
		announce: make(map[uint16]*timer),
		inbox:    make(chan func(), inboxCapacity),
		stopped:  make(chan struct{}),
		dirty:    make(map[string]bool),
		pending:  make(map[string][]byte),
		kick:     make(chan struct{}, 1),
	}
	c.pctx.reset()
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) load() error {
	type target struct {
		item string
		dec  func([]byte) error
	}
	for _, t := range []target{
		{itemProxy, c.proxy.UnmarshalBinary},
		{itemSink, c.sink.UnmarshalBinary},
		{itemTrans, c.trans.UnmarshalBinary},
	} {
		blob, err := c.store.LoadTable(storeModule, t.item)
		if err != nil {
			return fmt.Errorf("load %s: %w", t.item, err)
		}
		if blob == nil {
			continue
		}
		if err := t.dec(blob); err != nil {
			c.logger.Warn("discarding unreadable table", "item", t.item, "err", err)
		}
	}
	c.logger.Info("tables loaded", "proxy", c.proxy.Len(), "sink", c.sink.Len(), "trans", c.trans.Len())
	return nil
}

// Run processes events until ctx is cancelled, then flushes pending
// table writes.
func (c *Core) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.persistLoop(ctx)
	}()

	defer func() {
		close(c.stopped)
		c.stopTimers()
		c.flushDirty()
		wg.Wait()
		c.savePending()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.inbox:
			fn()
			c.flushDirty()
		}
	}
}

// post queues fn on the event loop. It is dropped once the loop stopped.
func (c *Core) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stopped:
	}
}

// do runs fn on the event loop and waits for it.
func (c *Core) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case <-c.stopped:
		return errors.New("gp: core stopped")
	default:
	}
	select {
	case c.inbox <- wrapped:
	case <-c.stopped:
		return errors.New("gp: core stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timer is a single-shot timer whose expiry is delivered as a message to
// the event loop. A generation number makes stale expiries no-ops.
type timer struct {
	t   *time.Timer
	gen uint64
}

func (tm *timer) running() bool { return tm.gen != 0 }

func (c *Core) schedule(tm *timer, d time.Duration, fn func()) {
	c.cancelTimer(tm)
	c.gen++
	g := c.gen
	tm.gen = g
	tm.t = time.AfterFunc(d, func() {
		c.post(func() {
			if tm.gen != g {
				return
			}
			tm.t = nil
			tm.gen = 0
			fn()
		})
	})
}

func (c *Core) cancelTimer(tm *timer) {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
	tm.gen = 0
}

func (c *Core) stopTimers() {
	c.cancelTimer(&c.pctx.window)
	c.cancelTimer(&c.pctx.channel)
	c.cancelTimer(&c.sctx.window)
	c.cancelTimer(&c.sctx.channel)
	c.cancelTimer(&c.sctx.multi.timer)
	for alias, tm := range c.announce {
		c.cancelTimer(tm)
		delete(c.announce, alias)
	}
}

// markDirty schedules a coalesced save of a table.
func (c *Core) markDirty(item string) {
	c.dirty[item] = true
}

// flushDirty snapshots dirty tables and hands them to the persister.
func (c *Core) flushDirty() {
	if len(c.dirty) == 0 {
		return
	}
	blobs := make(map[string][]byte, len(c.dirty))
	for item := range c.dirty {
		var (
			blob []byte
			err  error
		)
		switch item {
		case itemProxy:
			blob, err = c.proxy.MarshalBinary()
		case itemSink:
			blob, err = c.sink.MarshalBinary()
		case itemTrans:
			blob, err = c.trans.MarshalBinary()
		}
		if err != nil {
			c.logger.Error("encode table", "item", item, "err", err)
			continue
		}
		blobs[item] = blob
		c.hooks.TableChanged(item)
	}
	clear(c.dirty)

	c.pendingMu.Lock()
	for item, blob := range blobs {
		c.pending[item] = blob
	}
	c.pendingMu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Core) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			c.savePending()
		}
	}
}

func (c *Core) savePending() {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = make(map[string][]byte)
	c.pendingMu.Unlock()
	for item, blob := range batch {
		if err := c.store.SaveTable(storeModule, item, blob); err != nil {
			c.logger.Error("persist table", "item", item, "err", err)
		}
	}
}

func (c *Core) nextSeq() uint8 {
	c.zclSeq++
	return c.zclSeq
}

func (c *Core) send(f Frame) {
	if !f.HasSeq {
		f.Seq = c.nextSeq()
		f.HasSeq = true
	}
	if err := c.stub.SendCommand(f); err != nil {
		c.logger.Warn("send gp command failed", "cmd", fmt.Sprintf("0x%02X", f.CommandID), "err", err)
	}
}

// broadcastToProxies sends a client-side command to all rx-on-when-idle
// devices. The stub does not loop broadcasts back, so a local proxy gets
// Pairing and Proxy Commissioning Mode directly.
func (c *Core) broadcastToProxies(cmd uint8, payload []byte) {
	c.send(Frame{
		Dst:            Address{Mode: AddrBroadcast, Addr: BroadcastRxOn, Endpoint: Endpoint},
		ServerToClient: true,
		CommandID:      cmd,
		Payload:        payload,
	})
	if !c.cfg.ProxyEnabled || cmd == CmdIDResponse {
		return
	}
	in := &IncomingCommand{
		SrcAddr:        c.stub.NwkAddr(),
		SrcEndpoint:    Endpoint,
		ServerToClient: true,
		Broadcast:      true,
		CommandID:      cmd,
		Payload:        payload,
	}
	if err := c.proxyCommand(in); err != nil {
		c.logger.Debug("local proxy rejected command", "cmd", fmt.Sprintf("0x%02X", cmd), "err", err)
	}
}

// broadcastToSinks sends a server-side command to all rx-on-when-idle
// devices.
func (c *Core) broadcastToSinks(cmd uint8, payload []byte) {
	c.send(Frame{
		Dst:       Address{Mode: AddrBroadcast, Addr: BroadcastRxOn, Endpoint: Endpoint},
		CommandID: cmd,
		Payload:   payload,
	})
}

// HandleDataIndication processes a GP-DATA.indication. The sink sees the
// frame first, then the proxy.
func (c *Core) HandleDataIndication(ctx context.Context, ind DataIndication) error {
	return c.do(ctx, func() { c.dataIndication(&ind) })
}

func (c *Core) dataIndication(ind *DataIndication) {
	if c.cfg.SinkEnabled {
		c.sinkGpdf(ind)
	}
	if c.cfg.ProxyEnabled {
		c.proxyGpdf(ind)
	}
}

// HandleSecRequest answers a GP-SEC.request.
func (c *Core) HandleSecRequest(ctx context.Context, req SecRequest) (SecResponse, error) {
	var rsp SecResponse
	err := c.do(ctx, func() { rsp = c.secRequest(req) })
	return rsp, err
}

func (c *Core) secRequest(req SecRequest) SecResponse {
	shared := sharedKey{Type: c.cfg.SharedKeyType, Key: c.cfg.SharedKey}
	if shared.Type == KeyTypeNwk {
		shared.Key = c.stub.NwkKey()
	}
	var rsp SecResponse
	_, sinkOwns := c.sink.Find(req.ID)
	if c.cfg.SinkEnabled && (c.sctx.inCommMode || sinkOwns || !c.cfg.ProxyEnabled) {
		rsp = evaluateSink(c.sink, shared, req)
	} else {
		rsp = evaluateProxy(c.proxy, c.pctx.inCommMode, shared, req)
	}
	rsp.Handle = req.Handle
	c.logger.Debug("security request", "gpd", req.ID.String(), "level", req.Level, "decision", rsp.Status.String())
	return rsp
}

// HandleCommand processes a GP cluster command from the network and
// returns the error the ZCL default response is derived from.
func (c *Core) HandleCommand(ctx context.Context, in IncomingCommand) error {
	var err error
	if derr := c.do(ctx, func() { err = c.command(&in) }); derr != nil {
		return derr
	}
	return err
}

func (c *Core) command(in *IncomingCommand) error {
	if in.ServerToClient {
		if !c.cfg.ProxyEnabled {
			return ErrUnsupportedCommand
		}
		return c.proxyCommand(in)
	}
	if !c.cfg.SinkEnabled {
		return ErrUnsupportedCommand
	}
	return c.sinkCommand(in)
}

// HandleDeviceAnnounce checks a Device_annce against GPD aliases.
func (c *Core) HandleDeviceAnnounce(ctx context.Context, nwk uint16, ieee uint64) error {
	return c.do(ctx, func() { c.deviceAnnounce(nwk, ieee) })
}

// SetCommissioning enters or leaves sink commissioning mode, optionally
// involving the proxies.
func (c *Core) SetCommissioning(ctx context.Context, enter, involveProxies bool) error {
	var err error
	if derr := c.do(ctx, func() { err = c.commissionModeSet(enter, involveProxies) }); derr != nil {
		return derr
	}
	return err
}

// ToggleCommissioning flips sink commissioning mode, involving proxies.
func (c *Core) ToggleCommissioning(ctx context.Context) (bool, error) {
	var (
		active bool
		err    error
	)
	derr := c.do(ctx, func() {
		err = c.commissionModeSet(!c.sctx.inCommMode, true)
		active = c.sctx.inCommMode
	})
	if derr != nil {
		return false, derr
	}
	return active, err
}

// RemoveGPD drops a GPD from the sink and translation tables and tells
// the proxies to forget it.
func (c *Core) RemoveGPD(ctx context.Context, id GpdID, ep uint8) error {
	var err error
	derr := c.do(ctx, func() {
		e, ok := c.sink.FindEndpoint(id, ep)
		if !ok {
			err = fmt.Errorf("remove %s: %w", id, ErrNotFound)
			return
		}
		c.sinkPairingSend(&PairingConfiguration{Action: PairingRemoveGPD, ID: id, Endpoint: ep, Options: SinkOptions{CommMode: e.Options.CommMode}}, nil)
		c.removeGPD(id, ep)
	})
	if derr != nil {
		return derr
	}
	return err
}

// State is a snapshot of the commissioning state.
type State struct {
	SinkCommissioning  bool   `json:"sink_commissioning"`
	ProxyCommissioning bool   `json:"proxy_commissioning"`
	Commissioner       uint16 `json:"commissioner"`
	ProxyEntries       int    `json:"proxy_entries"`
	SinkEntries        int    `json:"sink_entries"`
	TransEntries       int    `json:"trans_entries"`
}

// Snapshot returns the commissioning state.
func (c *Core) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := c.do(ctx, func() {
		s = State{
			SinkCommissioning:  c.sctx.inCommMode,
			ProxyCommissioning: c.pctx.inCommMode,
			Commissioner:       c.pctx.commissioner,
			ProxyEntries:       c.proxy.Len(),
			SinkEntries:        c.sink.Len(),
			TransEntries:       c.trans.Len(),
		}
	})
	return s, err
}

// ProxyEntries returns copies of the proxy table entries.
func (c *Core) ProxyEntries(ctx context.Context) ([]ProxyEntry, error) {
	var out []ProxyEntry
	err := c.do(ctx, func() { out = c.proxy.Entries() })
	return out, err
}

// SinkEntries returns copies of the sink table entries.
func (c *Core) SinkEntries(ctx context.Context) ([]SinkEntry, error) {
	var out []SinkEntry
	err := c.do(ctx, func() { out = c.sink.Entries() })
	return out, err
}

// TransEntries returns copies of the translation table entries.
func (c *Core) TransEntries(ctx context.Context) ([]TransEntry, error) {
	var out []TransEntry
	err := c.do(ctx, func() { out = c.trans.Entries() })
	return out, err
}

// GP cluster attributes served from the core.
const (
	AttrMaxSinkTableEntries  uint16 = 0x0000
	AttrSinkTable            uint16 = 0x0001
	AttrSinkCommMode         uint16 = 0x0002
	AttrSinkCommExitMode     uint16 = 0x0003
	AttrSinkCommWindow       uint16 = 0x0004
	AttrSinkSecurityLevel    uint16 = 0x0005
	AttrSinkFunctionality    uint16 = 0x0006
	AttrSinkActiveFunc       uint16 = 0x0007
	AttrMaxProxyTableEntries uint16 = 0x0010
	AttrProxyTable           uint16 = 0x0011
	AttrProxyFunctionality   uint16 = 0x0016
	AttrSharedKeyType        uint16 = 0x0020
	AttrSharedKey            uint16 = 0x0021
	AttrLinkKey              uint16 = 0x0022

	sinkFunctionality  uint32 = 0x09AE2F
	proxyFunctionality uint32 = 0x09AC2F
)

// ReadAttribute returns the raw value of a GP cluster attribute.
func (c *Core) ReadAttribute(ctx context.Context, attr uint16) ([]byte, error) {
	var (
		v   []byte
		err error
	)
	if derr := c.do(ctx, func() { v, err = c.attribute(attr) }); derr != nil {
		return nil, derr
	}
	return v, err
}

func (c *Core) attribute(attr uint16) ([]byte, error) {
	switch attr {
	case AttrMaxSinkTableEntries:
		return []byte{uint8(c.sink.Cap())}, nil
	case AttrSinkTable:
		return c.sink.AttrImage(), nil
	case AttrSinkCommMode:
		return []byte{uint8(c.cfg.CommMode)}, nil
	case AttrSinkCommExitMode:
		return []byte{c.cfg.ExitMode}, nil
	case AttrSinkCommWindow:
		return putU16(nil, c.cfg.CommWindow), nil
	case AttrSinkSecurityLevel:
		return []byte{c.cfg.SecLevel}, nil
	case AttrSinkFunctionality:
		return putU24(nil, sinkFunctionality), nil
	case AttrSinkActiveFunc, 0x0017:
		return putU24(nil, 0xFFFFFF), nil
	case AttrMaxProxyTableEntries:
		return []byte{uint8(c.proxy.Cap())}, nil
	case AttrProxyTable:
		return c.proxy.AttrImage(), nil
	case AttrProxyFunctionality:
		return putU24(nil, proxyFunctionality), nil
	case AttrSharedKeyType:
		return []byte{uint8(c.cfg.SharedKeyType)}, nil
	case AttrSharedKey:
		return append([]byte(nil), c.cfg.SharedKey[:]...), nil
	case AttrLinkKey:
		return append([]byte(nil), c.cfg.LinkKey[:]...), nil
	}
	return nil, fmt.Errorf("attribute 0x%04X: %w", attr, ErrNotFound)
}

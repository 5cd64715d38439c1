// Package host runs the GP core against a real co-processor: it forwards
// NCP indications into the core, implements the core's radio collaborator
// on top of the NCP, and republishes core notifications on an event bus.
package host

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/ncp"
	"zigbee-go-gp/internal/store"
	"zigbee-go-gp/internal/zcl"
)

// Local endpoint device ids.
const (
	deviceGPComboBasic uint16 = 0x0066
	deviceHACombined   uint16 = 0x0007
)

const (
	indicationQueueSize = 128
	eventQueueSize      = 256
)

// Config holds runtime configuration.
type Config struct {
	GP gp.Config

	// Channel is the expected operational channel; 0 accepts whatever the
	// NCP reports.
	Channel uint8
	// IEEE overrides the NCP's IEEE address when non-zero.
	IEEE uint64

	ResetOnStart        bool
	InvolveProxies      bool
	AllowChannelRequest bool
	RequestTimeout      time.Duration
	History             bool
}

// NCPConfig holds NCP hardware/port configuration for display purposes.
type NCPConfig struct {
	Type string
	Port string
	Baud int
}

// ParseIEEE parses "DD:DD:DD:DD:DD:DD:DD:DD" or "DDDDDDDDDDDDDDDD", most
// significant byte first.
func ParseIEEE(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ReplaceAll(s, ":", ""), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Runtime connects a gp.Core to an NCP.
type Runtime struct {
	ncp       ncp.NCP
	store     store.Store
	registry  *zcl.Registry
	events    *EventBus
	core      *gp.Core
	logger    *slog.Logger
	cfg       Config
	ncpConfig NCPConfig

	mu      sync.RWMutex
	nwkAddr uint16
	ieee    uint64
	panID   uint16
	channel uint8
	nwkKey  gp.Key
	groups  map[uint8]map[uint16]bool

	zclSeq   atomic.Uint32
	gpHandle atomic.Uint32

	indications chan func(context.Context)
	outbox      chan Event
	dropped     atomic.Uint64
}

// New builds the runtime and its GP core. Persisted tables are loaded
// from st.
func New(backend ncp.NCP, st store.Store, registry *zcl.Registry, events *EventBus, cfg Config, ncpCfg NCPConfig, logger *slog.Logger) (*Runtime, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	r := &Runtime{
		ncp:         backend,
		store:       st,
		registry:    registry,
		events:      events,
		logger:      logger.With("component", "host"),
		cfg:         cfg,
		ncpConfig:   ncpCfg,
		groups:      make(map[uint8]map[uint16]bool),
		indications: make(chan func(context.Context), indicationQueueSize),
		outbox:      make(chan Event, eventQueueSize),
	}
	core, err := gp.New(cfg.GP, gp.Deps{
		Stub:      r,
		Store:     st,
		Endpoints: registry,
		Hooks:     r,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gp core: %w", err)
	}
	r.core = core
	if cfg.History {
		events.OnAll(r.record)
	}
	r.registerIndicationHandlers()
	return r, nil
}

// Start initializes the NCP, resumes the network and caches the local
// addressing the core asks for.
func (r *Runtime) Start(ctx context.Context) error {
	r.logger.Info("initializing NCP...")
	if r.cfg.ResetOnStart {
		if err := r.ncp.Reset(ctx); err != nil {
			return fmt.Errorf("ncp reset: %w", err)
		}
	}
	if err := r.ncp.Init(ctx); err != nil {
		return fmt.Errorf("ncp init: %w", err)
	}
	if err := r.ncp.StartNetwork(ctx, r.descriptors()); err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	if err := r.refreshNetwork(ctx); err != nil {
		return err
	}

	r.mu.RLock()
	channel, panID, nwk, ieee := r.channel, r.panID, r.nwkAddr, r.ieee
	r.mu.RUnlock()
	if r.cfg.Channel != 0 && r.cfg.Channel != channel {
		r.logger.Warn("network runs on a different channel than configured", "configured", r.cfg.Channel, "actual", channel)
	}
	r.logger.Info("network started", "channel", channel, "panID", fmt.Sprintf("0x%04X", panID),
		"nwk", fmt.Sprintf("0x%04X", nwk), "ieee", fmt.Sprintf("%016X", ieee))
	r.emit(EventNetworkState, map[string]any{"state": "started", "channel": int(channel), "pan_id": fmt.Sprintf("0x%04X", panID)})
	return nil
}

func (r *Runtime) refreshNetwork(ctx context.Context) error {
	info, err := r.ncp.NetworkInfo(ctx)
	if err != nil {
		return fmt.Errorf("network info: %w", err)
	}
	ieee := r.cfg.IEEE
	if ieee == 0 {
		raw, err := r.ncp.GetLocalIEEE(ctx)
		if err != nil {
			return fmt.Errorf("local ieee: %w", err)
		}
		ieee = binary.LittleEndian.Uint64(raw[:])
	}
	key, err := r.ncp.GetNwkKey(ctx)
	if err != nil {
		r.logger.Warn("network key unavailable, NWK-key GPDs cannot be served", "err", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = info.Channel
	r.panID = info.PanID
	r.nwkAddr = info.ShortAddr
	r.ieee = ieee
	r.nwkKey = gp.Key(key)
	return nil
}

// descriptors lists the GP endpoint followed by the application endpoints
// from the registry.
func (r *Runtime) descriptors() []ncp.SimpleDescriptor {
	descs := []ncp.SimpleDescriptor{{
		Endpoint:    gp.Endpoint,
		ProfileID:   gp.ProfileGP,
		DeviceID:    deviceGPComboBasic,
		InClusters:  []uint16{gp.ClusterGP},
		OutClusters: []uint16{gp.ClusterGP},
	}}
	for _, ep := range r.registry.Endpoints() {
		if ep == gp.Endpoint {
			continue
		}
		descs = append(descs, ncp.SimpleDescriptor{
			Endpoint:   ep,
			ProfileID:  gp.ProfileHA,
			DeviceID:   deviceHACombined,
			InClusters: r.registry.ServerClusters(ep),
		})
	}
	return descs
}

// Run runs the GP core and the indication and event pumps until ctx is
// cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.dispatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.emitLoop(ctx)
	}()
	err := r.core.Run(ctx)
	wg.Wait()
	return err
}

func (r *Runtime) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.indications:
			fn(ctx)
		}
	}
}

func (r *Runtime) emitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbox:
			r.events.Emit(ev)
		}
	}
}

// enqueue hands an indication to the dispatch loop. NCP callbacks run on
// the NCP read loop, which must keep reading for requests to complete.
func (r *Runtime) enqueue(kind string, fn func(context.Context)) {
	select {
	case r.indications <- fn:
	default:
		r.logger.Warn("indication queue full, dropping", "kind", kind)
	}
}

// emit queues an event for the bus without blocking the caller.
func (r *Runtime) emit(eventType string, data map[string]any) {
	select {
	case r.outbox <- Event{Type: eventType, Data: data}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("event queue full, dropping", "type", eventType, "dropped", n)
		}
	}
}

func (r *Runtime) record(ev Event) {
	err := r.store.AppendEvent(&store.EventRecord{ID: ev.ID, Type: ev.Type, Time: ev.Time, Data: ev.Data})
	if err != nil {
		r.logger.Warn("record event", "type", ev.Type, "err", err)
	}
}

func (r *Runtime) registerIndicationHandlers() {
	r.ncp.OnGPDataIndication(func(ind ncp.GPDataIndication) {
		r.enqueue("gp-data", func(ctx context.Context) { r.handleDataIndication(ctx, ind) })
	})
	r.ncp.OnGPSecRequest(func(req ncp.GPSecRequest) {
		r.enqueue("gp-sec", func(ctx context.Context) { r.handleSecRequest(ctx, req) })
	})
	r.ncp.OnClusterCommand(func(evt ncp.ClusterCommandEvent) {
		r.enqueue("zcl", func(ctx context.Context) { r.handleClusterCommand(ctx, evt) })
	})
	r.ncp.OnDeviceAnnounce(func(evt ncp.DeviceAnnounceEvent) {
		r.enqueue("announce", func(ctx context.Context) {
			ieee := binary.LittleEndian.Uint64(evt.IEEEAddr[:])
			if err := r.core.HandleDeviceAnnounce(ctx, evt.ShortAddr, ieee); err != nil {
				r.logger.Debug("device announce not processed", "err", err)
			}
		})
	})
	r.ncp.OnNCPReset(func() {
		r.logger.Warn("NCP reset, refreshing network state")
		r.enqueue("reset", func(ctx context.Context) {
			r.emit(EventNCPReset, nil)
			rctx, cancel := context.WithTimeout(ctx, 3*r.cfg.RequestTimeout)
			defer cancel()
			if err := r.refreshNetwork(rctx); err != nil {
				r.logger.Error("refresh network after reset", "err", err)
			}
		})
	})
}

func (r *Runtime) handleDataIndication(ctx context.Context, raw ncp.GPDataIndication) {
	ind := dataIndication(raw)
	r.emit(EventNotification, map[string]any{
		"gpd":           ind.ID.String(),
		"app_id":        int(ind.ID.App),
		"endpoint":      int(ind.Endpoint),
		"command":       int(ind.GpdCommand),
		"frame_counter": int64(ind.FrameCounter),
		"status":        int(ind.Status),
		"rssi":          int(ind.RSSI),
		"lqi":           int(ind.LQI),
		"payload":       fmt.Sprintf("%X", ind.Payload),
	})
	if err := r.core.HandleDataIndication(ctx, ind); err != nil {
		r.logger.Debug("data indication not processed", "gpd", ind.ID.String(), "err", err)
	}
}

func (r *Runtime) handleSecRequest(ctx context.Context, raw ncp.GPSecRequest) {
	req := secRequest(raw)
	rsp, err := r.core.HandleSecRequest(ctx, req)
	if err != nil {
		r.logger.Debug("security request not processed", "gpd", req.ID.String(), "err", err)
		rsp = gp.SecResponse{Status: gp.SecDrop, Handle: req.Handle}
	}
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	if err := r.ncp.GPSecResponse(rctx, secResponse(rsp, raw.SecLevel)); err != nil {
		r.logger.Warn("send GP-SEC.response", "gpd", req.ID.String(), "err", err)
	}
}

// Core returns the GP core.
func (r *Runtime) Core() *gp.Core { return r.core }

// Events returns the event bus.
func (r *Runtime) Events() *EventBus { return r.events }

// Store returns the store.
func (r *Runtime) Store() store.Store { return r.store }

// Registry returns the ZCL registry.
func (r *Runtime) Registry() *zcl.Registry { return r.registry }

// SetCommissioning enters or leaves sink commissioning mode.
func (r *Runtime) SetCommissioning(ctx context.Context, on bool) error {
	if err := r.core.SetCommissioning(ctx, on, r.cfg.InvolveProxies); err != nil {
		return fmt.Errorf("set commissioning: %w", err)
	}
	r.logger.Info("sink commissioning", "active", on)
	return nil
}

// RemoveGPD decommissions a GPD from the sink.
func (r *Runtime) RemoveGPD(ctx context.Context, id gp.GpdID, ep uint8) error {
	if err := r.core.RemoveGPD(ctx, id, ep); err != nil {
		return err
	}
	r.logger.Info("gpd removed", "gpd", id.String())
	return nil
}

// History returns up to limit recent events, oldest first.
func (r *Runtime) History(limit int) ([]*store.EventRecord, error) {
	return r.store.RecentEvents(limit)
}

// NetworkInfo returns the cached network information.
func (r *Runtime) NetworkInfo() map[string]any {
	r.mu.RLock()
	info := map[string]any{
		"channel":  r.channel,
		"pan_id":   fmt.Sprintf("0x%04X", r.panID),
		"nwk_addr": fmt.Sprintf("0x%04X", r.nwkAddr),
		"ieee":     fmt.Sprintf("%016X", r.ieee),
		"ncp_type": r.ncpConfig.Type,
		"port":     r.ncpConfig.Port,
		"baud":     r.ncpConfig.Baud,
	}
	r.mu.RUnlock()
	if ncpInfo := r.ncp.GetNCPInfo(); ncpInfo != nil {
		info["fw_version"] = ncpInfo.FWVersion
		info["stack_version"] = ncpInfo.StackVersion
		info["protocol_version"] = ncpInfo.ProtocolVersion
	}
	return info
}

// ToggleCommissioning flips sink commissioning mode and returns the new
// state.
func (r *Runtime) ToggleCommissioning(ctx context.Context) (bool, error) {
	on, err := r.core.ToggleCommissioning(ctx)
	if err != nil {
		return false, fmt.Errorf("toggle commissioning: %w", err)
	}
	r.logger.Info("sink commissioning", "active", on)
	return on, nil
}

// State returns the commissioning state and table occupancy.
func (r *Runtime) State(ctx context.Context) (gp.State, error) {
	return r.core.Snapshot(ctx)
}

// Tables is a copy of the three GP tables.
type Tables struct {
	Proxy        []gp.ProxyEntry `json:"proxy"`
	Sink         []gp.SinkEntry  `json:"sink"`
	Translations []gp.TransEntry `json:"translations"`
}

// Tables returns a copy of the proxy, sink and translation tables.
func (r *Runtime) Tables(ctx context.Context) (*Tables, error) {
	proxy, err := r.core.ProxyEntries(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := r.core.SinkEntries(ctx)
	if err != nil {
		return nil, err
	}
	trans, err := r.core.TransEntries(ctx)
	if err != nil {
		return nil, err
	}
	return &Tables{Proxy: proxy, Sink: sink, Translations: trans}, nil
}

package host

import (
	"context"
	"fmt"
	"slices"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/ncp"
	"zigbee-go-gp/internal/zcl"
)

// gpTxLifetime is how long the stub keeps a queued GPDF, in ms.
const gpTxLifetime = 5000

// announceIEEE is the IEEE address sent in alias Device_annce frames.
var announceIEEE = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// The methods below implement gp.Stub. They run on the core's event loop
// and are bounded by the request timeout.

func (r *Runtime) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
}

func (r *Runtime) SendCommand(f gp.Frame) error {
	seq := f.Seq
	if !f.HasSeq {
		seq = uint8(r.zclSeq.Add(1))
	}
	hdr := zcl.Header{
		ClusterSpecific:  true,
		ServerToClient:   f.ServerToClient,
		DisableDefaultRs: true,
		Seq:              seq,
		CommandID:        f.CommandID,
	}
	req := ncp.ZCLRequest{
		Mode:      ncp.AddrShort,
		DstAddr:   f.Dst.Addr,
		DstEP:     f.Dst.Endpoint,
		SrcEP:     gp.Endpoint,
		ProfileID: gp.ProfileGP,
		ClusterID: gp.ClusterGP,
		Radius:    f.Radius,
		Frame:     hdr.Encode(f.Payload),
	}
	switch f.Dst.Mode {
	case gp.AddrGroup:
		req.Mode = ncp.AddrGroup
	case gp.AddrBroadcast:
		req.Mode = ncp.AddrBroadcast
	}
	if f.Alias != nil {
		req.Alias = &ncp.Alias{Addr: f.Alias.Addr, Seq: f.Alias.Seq}
	}
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.SendZCL(ctx, req)
}

func (r *Runtime) DataRequest(req gp.DataRequest) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.GPDataRequest(ctx, ncp.GPDataRequest{
		Action:       req.Action,
		UseGpTxQueue: req.UseGpTxQueue,
		AppID:        uint8(req.ID.App),
		SrcID:        req.ID.SrcID,
		IEEE:         ieeeBytes(req.ID.IEEE),
		Endpoint:     req.Endpoint,
		CommandID:    req.GpdCommand,
		Payload:      req.Payload,
		Lifetime:     gpTxLifetime,
		Handle:       uint8(r.gpHandle.Add(1)),
	})
}

func (r *Runtime) ClearTxQueue() {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.ncp.GPClearTxQueue(ctx); err != nil {
		r.logger.Warn("clear GP tx queue", "err", err)
	}
}

func (r *Runtime) AddGroup(group uint16, endpoint uint8) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.ncp.AddGroup(ctx, group, endpoint); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[endpoint] == nil {
		r.groups[endpoint] = make(map[uint16]bool)
	}
	r.groups[endpoint][group] = true
	return nil
}

func (r *Runtime) RemoveGroup(group uint16, endpoint uint8) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	if err := r.ncp.RemoveGroup(ctx, group, endpoint); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[endpoint], group)
	return nil
}

// Groups lists the groups the endpoint was added to, in ascending order.
func (r *Runtime) Groups(endpoint uint8) []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint16, 0, len(r.groups[endpoint]))
	for g := range r.groups[endpoint] {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

func (r *Runtime) DeviceAnnounce(alias uint16) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.DeviceAnnounce(ctx, alias, announceIEEE)
}

func (r *Runtime) AddressConflict(addr uint16) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.SendAddrConflict(ctx, addr)
}

func (r *Runtime) NewStochasticAddress() error {
	ctx, cancel := r.requestContext()
	defer cancel()
	addr, err := r.ncp.NewStochasticAddress(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.nwkAddr
	r.nwkAddr = addr
	r.mu.Unlock()
	r.logger.Info("new short address", "old", fmt.Sprintf("0x%04X", old), "new", fmt.Sprintf("0x%04X", addr))
	return nil
}

func (r *Runtime) PermitJoin(seconds uint8) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.PermitJoin(ctx, seconds)
}

func (r *Runtime) NwkAddr() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nwkAddr
}

func (r *Runtime) IEEEAddr() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ieee
}

func (r *Runtime) PanID() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.panID
}

// Channel returns the operational channel. SetChannel moves only the GP
// transmit channel and leaves it unchanged.
func (r *Runtime) Channel() uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

func (r *Runtime) SetChannel(channel uint8) error {
	ctx, cancel := r.requestContext()
	defer cancel()
	return r.ncp.SetChannel(ctx, channel)
}

func (r *Runtime) NwkKey() gp.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nwkKey
}

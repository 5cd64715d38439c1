package host

import (
	"context"
	"errors"
	"fmt"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/ncp"
	"zigbee-go-gp/internal/zcl"
)

const endpointBroadcast uint8 = 0xFF

// handleClusterCommand serves ZCL frames addressed to the GP endpoint:
// cluster commands go to the core, Read Attributes is answered from the
// core's attribute values.
func (r *Runtime) handleClusterCommand(ctx context.Context, evt ncp.ClusterCommandEvent) {
	if evt.ClusterID != gp.ClusterGP || (evt.DstEP != gp.Endpoint && evt.DstEP != endpointBroadcast) {
		r.logger.Debug("ignoring frame", "cluster", fmt.Sprintf("0x%04X", evt.ClusterID), "ep", evt.DstEP,
			"src", fmt.Sprintf("0x%04X", evt.SrcAddr))
		return
	}
	hdr, payload, err := zcl.ParseFrame(evt.Frame)
	if err != nil {
		r.logger.Warn("bad GP cluster frame", "src", fmt.Sprintf("0x%04X", evt.SrcAddr), "err", err)
		return
	}
	def := r.registry.Get(gp.ClusterGP)
	dir := zcl.DirectionOf(hdr.ServerToClient)

	if !hdr.ClusterSpecific {
		switch hdr.CommandID {
		case zcl.FoundationReadAttributes:
			r.readAttributes(ctx, evt, hdr, payload, def)
		case zcl.FoundationDefaultResponse:
		default:
			r.defaultResponse(ctx, evt, hdr, zcl.ZCLStatusUnsupGeneralCmd)
		}
		return
	}

	name := fmt.Sprintf("0x%02X", hdr.CommandID)
	if def != nil {
		name = def.CommandName(hdr.CommandID, dir)
	}
	r.logger.Debug("GP command", "cmd", name, "src", fmt.Sprintf("0x%04X", evt.SrcAddr), "seq", hdr.Seq, "broadcast", evt.Broadcast())

	err = r.core.HandleCommand(ctx, gp.IncomingCommand{
		SrcAddr:        evt.SrcAddr,
		SrcEndpoint:    evt.SrcEP,
		Seq:            hdr.Seq,
		ServerToClient: hdr.ServerToClient,
		Broadcast:      evt.Broadcast(),
		CommandID:      hdr.CommandID,
		Payload:        payload,
	})
	status := gp.StatusOf(err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Debug("GP command rejected", "cmd", name, "status", zcl.StatusName(status), "err", err)
	}
	r.defaultResponse(ctx, evt, hdr, status)
}

// readAttributes answers Read Attributes. Attributes the cluster does not
// define as readable, or the core does not serve, are unsupported.
func (r *Runtime) readAttributes(ctx context.Context, evt ncp.ClusterCommandEvent, hdr zcl.Header, payload []byte, def *zcl.ClusterDef) {
	ids, err := zcl.ParseReadAttributes(payload)
	if err != nil {
		r.defaultResponse(ctx, evt, hdr, zcl.ZCLStatusMalformedCommand)
		return
	}
	recs := make([]zcl.Attribute, 0, len(ids))
	for _, id := range ids {
		rec := zcl.Attribute{ID: id, Status: zcl.ZCLStatusUnsupportedAttr}
		var ad *zcl.AttributeDef
		if def != nil {
			ad = def.FindAttribute(id)
		}
		if ad != nil && ad.IsReadable() {
			v, err := r.core.ReadAttribute(ctx, id)
			if err == nil {
				rec = zcl.Attribute{ID: id, Status: zcl.ZCLStatusSuccess, DataType: ad.Type, Value: v}
			} else if !errors.Is(err, gp.ErrNotFound) {
				r.logger.Warn("read GP attribute", "attr", fmt.Sprintf("0x%04X", id), "err", err)
				rec.Status = zcl.ZCLStatusFailure
			}
		}
		recs = append(recs, rec)
	}
	rsp := zcl.Header{
		ServerToClient:   !hdr.ServerToClient,
		DisableDefaultRs: true,
		Seq:              hdr.Seq,
		CommandID:        zcl.FoundationReadAttributesResponse,
	}
	r.reply(ctx, evt, rsp.Encode(zcl.EncodeReadAttributesResponse(recs)))
}

// defaultResponse sends a Default Response unless the sender disabled it
// for a successful command, or the frame was not unicast.
func (r *Runtime) defaultResponse(ctx context.Context, evt ncp.ClusterCommandEvent, hdr zcl.Header, status uint8) {
	if evt.Broadcast() || (hdr.DisableDefaultRs && status == zcl.ZCLStatusSuccess) {
		return
	}
	rsp := zcl.Header{
		ServerToClient:   !hdr.ServerToClient,
		DisableDefaultRs: true,
		Seq:              hdr.Seq,
		CommandID:        zcl.FoundationDefaultResponse,
	}
	r.reply(ctx, evt, rsp.Encode(zcl.DefaultResponse(hdr.CommandID, status)))
}

func (r *Runtime) reply(ctx context.Context, evt ncp.ClusterCommandEvent, frame []byte) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()
	err := r.ncp.SendZCL(ctx, ncp.ZCLRequest{
		Mode:      ncp.AddrShort,
		DstAddr:   evt.SrcAddr,
		DstEP:     evt.SrcEP,
		SrcEP:     gp.Endpoint,
		ProfileID: evt.ProfileID,
		ClusterID: evt.ClusterID,
		Frame:     frame,
	})
	if err != nil {
		r.logger.Warn("send ZCL reply", "dst", fmt.Sprintf("0x%04X", evt.SrcAddr), "err", err)
	}
}

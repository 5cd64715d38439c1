package gp

import (
	"fmt"

	"zigbee-go-gp/internal/zcl"
)

func (c *Core) sinkCommand(in *IncomingCommand) error {
	switch in.CommandID {
	case CmdIDNotification:
		n, err := DecodeNotification(in.Payload)
		if err != nil {
			return err
		}
		c.sinkNotification(n)
		return nil
	case CmdIDCommNotification:
		n, err := DecodeCommissioningNotification(in.Payload)
		if err != nil {
			return err
		}
		c.sinkCommNotification(n, in.SrcAddr)
		return nil
	case CmdIDSinkCommissioningMode:
		m, err := DecodeSinkCommissioningMode(in.Payload)
		if err != nil {
			return err
		}
		return c.sinkCommissioningMode(m)
	case CmdIDPairingConfiguration:
		cfg, err := DecodePairingConfiguration(in.Payload)
		if err != nil {
			return err
		}
		return c.sinkPairingConfiguration(cfg)
	case CmdIDSinkTableReq:
		q, err := DecodeTableRequest(in.Payload)
		if err != nil {
			return err
		}
		c.sinkTableRequest(q, in)
		return nil
	case CmdIDTranslationTableReq:
		if len(in.Payload) < 1 {
			return fmt.Errorf("translation table request: %w", ErrMalformed)
		}
		c.transTableRequest(int(in.Payload[0]), in)
		return nil
	case CmdIDTranslationTableUpdate:
		u, err := DecodeTranslationTableUpdate(in.Payload)
		if err != nil {
			return err
		}
		return c.transTableUpdate(u)
	case CmdIDPairingSearch, CmdIDTunnelingStop, CmdIDProxyTableRsp:
		c.logger.Debug("ignoring gp command", "cmd", fmt.Sprintf("0x%02X", in.CommandID), "src", fmt.Sprintf("0x%04X", in.SrcAddr))
		return nil
	}
	return fmt.Errorf("server command 0x%02X: %w", in.CommandID, ErrUnsupportedCommand)
}

// sinkNotification handles a tunneled operational GPDF.
func (c *Core) sinkNotification(n *Notification) {
	if c.sctx.inCommMode || !n.ID.Valid() {
		return
	}
	if c.dup.Check(n.ID, n.FrameCounter) {
		return
	}
	f := &gpdFrame{
		ID:         n.ID,
		Endpoint:   n.Endpoint,
		SecLevel:   n.SecLevel,
		KeyType:    n.KeyType,
		Counter:    n.FrameCounter,
		Cmd:        n.GpdCommand,
		Payload:    n.Payload,
		RxAfterTx:  n.RxAfterTx,
		tunneled:   true,
		bidir:      n.BidirectionalCap,
		tempMaster: n.GppShortAddr,
		link:       n.GppGpdLink >> 6,
	}
	switch n.GpdCommand {
	case CmdCommissioning:
	case CmdDecommissioning:
		c.sinkDecommissioning(f)
	default:
		c.sinkData(f)
	}
}

func (c *Core) sinkCommissioningMode(m *SinkCommissioningMode) error {
	if m.SinkEndpoint != 0xFF && m.SinkEndpoint != c.cfg.AppEndpoint {
		return fmt.Errorf("sink endpoint %d: %w", m.SinkEndpoint, ErrNotFound)
	}
	if m.InvolveGPMSec || m.InvolveGPMPairing || m.GPMAddrSecurity != 0xFFFF || m.GPMAddrPairing != 0xFFFF {
		return fmt.Errorf("gp commissioning manager: %w", ErrInvalidField)
	}
	return c.commissionModeSet(m.Enter, m.InvolveProxies)
}

// sinkPairingConfiguration applies a Pairing Configuration to the sink
// table and, when asked, relays the resulting pairing to the proxies.
func (c *Core) sinkPairingConfiguration(cfg *PairingConfiguration) error {
	if cfg.ID.App != AppIDSrcID && cfg.ID.App != AppIDGPD {
		return fmt.Errorf("pairing configuration app id %d: %w", cfg.ID.App, ErrInvalidField)
	}
	if cfg.Options.SecUse && cfg.SecLevel == SecLevelReserved {
		return fmt.Errorf("pairing configuration security level %d: %w", cfg.SecLevel, ErrInvalidField)
	}
	c.logger.Info("pairing configuration", "gpd", cfg.ID.String(), "action", cfg.Action.String(), "mode", cfg.Options.CommMode.String())

	var (
		e   *SinkEntry
		err error
	)
	switch cfg.Action {
	case PairingNoAction:
		e, _ = c.sink.FindEndpoint(cfg.ID, cfg.Endpoint)
	case PairingExtend, PairingReplace:
		e, err = c.pairingConfigApply(cfg)
	case PairingRemove:
		err = c.pairingConfigRemove(cfg)
	case PairingRemoveGPD:
		if _, ok := c.sink.FindEndpoint(cfg.ID, cfg.Endpoint); !ok {
			err = fmt.Errorf("remove %s: %w", cfg.ID, ErrNotFound)
			break
		}
		c.removeGPD(cfg.ID, cfg.Endpoint)
	case PairingAppDesc:
		e, err = c.pairingConfigAppDescription(cfg)
	default:
		err = fmt.Errorf("pairing configuration action %d: %w", cfg.Action, ErrInvalidField)
	}
	if err != nil {
		return err
	}
	if cfg.SendPairing {
		c.sinkPairingSend(cfg, e)
	}
	return nil
}

func (c *Core) pairingConfigApply(cfg *PairingConfiguration) (*SinkEntry, error) {
	if cfg.Options.CommMode == CommModeFullUnicast {
		return nil, fmt.Errorf("pairing configuration comm mode %s: %w", cfg.Options.CommMode, ErrInvalidField)
	}
	e, ok := c.sink.FindEndpoint(cfg.ID, cfg.Endpoint)
	if ok && cfg.Action == PairingReplace {
		old := e.clone()
		c.sink.RemoveMatching(cfg.ID, cfg.Endpoint)
		c.leaveGroups(&old)
		ok = false
	}
	if !ok {
		var err error
		if e, err = c.sink.Allocate(); err != nil {
			return nil, err
		}
		e.ID = cfg.ID
		e.Endpoint = cfg.Endpoint
	}
	e.Options = cfg.Options
	e.DeviceID = cfg.DeviceID
	e.AssignedAlias = cfg.AssignedAlias
	e.GroupcastRadius = cfg.GroupcastRadius
	e.SecLevel = cfg.SecLevel
	e.KeyType = cfg.KeyType
	e.Key = cfg.Key
	e.FrameCounter = cfg.FrameCounter
	e.Complete = true
	c.markDirty(itemSink)

	var full bool
	for _, g := range cfg.Groups {
		if listsGroup(e.Groups, g.GroupID) {
			continue
		}
		if !e.addGroup(g.GroupID, g.Alias) {
			full = true
		}
	}
	c.joinGroups(e)

	if cfg.AppInfo != nil {
		if _, err := c.trans.UpdateFromDeviceClass(e.ID, e.Endpoint, e.DeviceID, cfg.AppInfo.Commands, cfg.AppInfo.Clusters(), c.cfg.AppEndpoint); err != nil {
			c.logger.Warn("seeding translations failed", "gpd", e.ID.String(), "err", err)
		}
		if cfg.AppInfo.Switch != nil {
			if _, err := c.trans.UpdateGenericSwitch(e.ID, e.Endpoint, *cfg.AppInfo.Switch); err != nil {
				c.logger.Warn("switch translation failed", "gpd", e.ID.String(), "err", err)
			}
		}
		c.markDirty(itemTrans)
	} else if !c.trans.References(e.ID) {
		if _, err := c.trans.UpdateFromDeviceClass(e.ID, e.Endpoint, e.DeviceID, nil, nil, c.cfg.AppEndpoint); err == nil {
			c.markDirty(itemTrans)
		}
	}
	if full {
		return e, fmt.Errorf("groups of %s: %w", e.ID, ErrInsufficientSpace)
	}
	return e, nil
}

func (c *Core) joinGroups(e *SinkEntry) {
	var groups []uint16
	switch e.Options.CommMode {
	case CommModeDerivedGroup:
		groups = append(groups, AliasDerived(e.ID))
	case CommModePrecommGroup:
		for _, g := range e.Groups {
			groups = append(groups, g.GroupID)
		}
	}
	for _, g := range groups {
		if err := c.stub.AddGroup(g, Endpoint); err != nil {
			c.logger.Warn("join group failed", "group", fmt.Sprintf("0x%04X", g), "err", err)
		}
	}
}

// pairingConfigRemove drops the listed groups of a pre-commissioned group
// pairing, or the whole pairing for the other modes.
func (c *Core) pairingConfigRemove(cfg *PairingConfiguration) error {
	e, ok := c.sink.FindMode(cfg.ID, cfg.Endpoint, cfg.Options.CommMode)
	if !ok {
		return fmt.Errorf("remove pairing of %s: %w", cfg.ID, ErrNotFound)
	}
	if cfg.Options.CommMode == CommModePrecommGroup && len(cfg.Groups) > 0 {
		removed := SinkEntry{ID: e.ID, Options: e.Options}
		kept := e.Groups[:0]
		for _, g := range e.Groups {
			if listsGroup(cfg.Groups, g.GroupID) {
				removed.Groups = append(removed.Groups, g)
				continue
			}
			kept = append(kept, g)
		}
		e.Groups = kept
		c.leaveGroups(&removed)
		if len(e.Groups) > 0 {
			c.markDirty(itemSink)
			return nil
		}
	}
	c.removeGPD(cfg.ID, cfg.Endpoint)
	return nil
}

func listsGroup(groups []SinkGroup, id uint16) bool {
	for _, g := range groups {
		if g.GroupID == id {
			return true
		}
	}
	return false
}

func (c *Core) pairingConfigAppDescription(cfg *PairingConfiguration) (*SinkEntry, error) {
	e, ok := c.sink.FindEndpoint(cfg.ID, cfg.Endpoint)
	if !ok {
		return nil, fmt.Errorf("application description for %s: %w", cfg.ID, ErrNotFound)
	}
	d, err := DecodeAppDescription(cfg.ReportDescriptor)
	if err != nil {
		return nil, err
	}
	for _, rep := range d.Reports {
		for _, dp := range rep.DataPoints {
			for _, rec := range dp.Records {
				if _, err := c.trans.UpdateFromReportDescriptor(e.ID, e.Endpoint, rep.ReportID, dp.ClientSide, dp.Cluster, dp.ManuID, rec, c.eps.HasCluster); err != nil {
					return e, err
				}
			}
		}
	}
	c.markDirty(itemTrans)
	return e, nil
}

func (c *Core) sinkTableRequest(q *TableRequest, in *IncomingCommand) {
	find := func(id GpdID, ep uint8) ([]byte, bool) {
		if id.App != q.App {
			return nil, false
		}
		e, ok := c.sink.FindEndpoint(id, ep)
		if !ok {
			return nil, false
		}
		return e.AppendWire(nil), true
	}
	rsp := tableResponse(q, c.sink.records(), find, MaxSinkTableAttrLength)
	c.send(Frame{
		Dst:            Address{Mode: AddrUnicast, Addr: in.SrcAddr, Endpoint: in.SrcEndpoint},
		ServerToClient: true,
		HasSeq:         true,
		Seq:            in.Seq,
		CommandID:      CmdIDSinkTableRsp,
		Payload:        rsp.Encode(),
	})
}

func (c *Core) transTableRequest(start int, in *IncomingCommand) {
	p := c.trans.Page(start)
	rsp := &TranslationTableResponse{
		Status:     zcl.ZCLStatusSuccess,
		App:        p.App,
		AddInfo:    p.AddInfo,
		Total:      uint8(c.trans.Len()),
		StartIndex: uint8(start),
		Count:      uint8(p.Count),
		Entries:    p.Body,
	}
	if p.Count == 0 {
		rsp.Status = zcl.ZCLStatusNotFound
	}
	c.send(Frame{
		Dst:            Address{Mode: AddrUnicast, Addr: in.SrcAddr, Endpoint: in.SrcEndpoint},
		ServerToClient: true,
		HasSeq:         true,
		Seq:            in.Seq,
		CommandID:      CmdIDTranslationTableRsp,
		Payload:        rsp.Encode(),
	})
}

// transTableUpdate applies every translation of an update and returns the
// first failure.
func (c *Core) transTableUpdate(u *TranslationTableUpdate) error {
	var first error
	changed := false
	for i := range u.Translations {
		err := c.trans.Upsert(u.ID, u.Endpoint, u.Action, &u.Translations[i])
		if err != nil {
			c.logger.Warn("translation update failed", "gpd", u.ID.String(), "index", i, "err", err)
			if first == nil {
				first = err
			}
			continue
		}
		changed = true
	}
	if changed {
		c.markDirty(itemTrans)
	}
	return first
}

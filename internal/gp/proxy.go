package gp

import (
	"fmt"
	"time"

	"zigbee-go-gp/internal/zcl"
)

// proxyState is the commissioning-mode relay state of the proxy.
type proxyState struct {
	inCommMode   bool
	commissioner uint16
	opts         ProxyCommissioningMode
	window       timer

	channel      timer
	savedChannel uint8
}

func (p *proxyState) reset() {
	p.inCommMode = false
	p.commissioner = AddrUnspecified
	p.opts = ProxyCommissioningMode{Window: DefaultCommissioningWindow}
}

func (c *Core) proxyCommand(in *IncomingCommand) error {
	switch in.CommandID {
	case CmdIDPairing:
		p, err := DecodePairing(in.Payload)
		if err != nil {
			return err
		}
		return c.proxyPairing(p)
	case CmdIDProxyCommissioningMode:
		m, err := DecodeProxyCommissioningMode(in.Payload)
		if err != nil {
			return err
		}
		c.proxyCommissioningMode(m, in.SrcAddr)
		return nil
	case CmdIDResponse:
		m, err := DecodeResponse(in.Payload)
		if err != nil {
			return err
		}
		c.proxyResponse(m)
		return nil
	case CmdIDProxyTableReq:
		q, err := DecodeTableRequest(in.Payload)
		if err != nil {
			return err
		}
		c.proxyTableRequest(q, in)
		return nil
	case CmdIDNotificationRsp, CmdIDTranslationTableRsp, CmdIDSinkTableRsp:
		c.logger.Debug("ignoring gp response", "cmd", fmt.Sprintf("0x%02X", in.CommandID), "src", fmt.Sprintf("0x%04X", in.SrcAddr))
		return nil
	}
	return fmt.Errorf("client command 0x%02X: %w", in.CommandID, ErrUnsupportedCommand)
}

func (c *Core) proxyPairing(p *Pairing) error {
	if err := c.proxy.ApplyPairing(p); err != nil {
		c.logger.Warn("pairing rejected", "gpd", p.ID.String(), "add", p.AddSink, "mode", p.CommMode.String(), "err", err)
		return err
	}
	c.markDirty(itemProxy)
	c.logger.Info("pairing applied", "gpd", p.ID.String(), "add", p.AddSink, "remove_gpd", p.RemoveGPD, "mode", p.CommMode.String())

	if c.pctx.inCommMode && c.pctx.opts.ExitMode&ProxyExitOnFirstPairing != 0 {
		c.proxyCommModeExit()
		c.commModeChanged(RoleProxy, false)
	}

	if p.AddSink && !p.RemoveGPD {
		alias := entryAlias(p.ID, p.AssignedAliasPresent, p.AssignedAlias)
		if own := c.stub.NwkAddr(); own == alias {
			c.logger.Warn("gpd alias collides with own address", "alias", fmt.Sprintf("0x%04X", alias))
			if err := c.stub.AddressConflict(own); err != nil {
				c.logger.Warn("address conflict report failed", "err", err)
			}
			if err := c.stub.NewStochasticAddress(); err != nil {
				c.logger.Warn("new network address failed", "err", err)
			}
		}
	}
	return nil
}

func (c *Core) proxyCommissioningMode(m *ProxyCommissioningMode, src uint16) {
	if c.pctx.inCommMode && src != c.pctx.commissioner {
		c.logger.Debug("commissioning mode from foreign commissioner ignored", "src", fmt.Sprintf("0x%04X", src))
		return
	}
	if m.Enter {
		c.pctx.inCommMode = true
		c.pctx.opts = *m
		c.pctx.commissioner = src
		if m.WindowPresent && m.Window != 0 {
			c.schedule(&c.pctx.window, time.Duration(m.Window)*time.Second, func() {
				c.logger.Info("proxy commissioning window expired")
				c.proxyCommModeExit()
				c.commModeChanged(RoleProxy, false)
			})
		}
	} else {
		c.proxyCommModeExit()
	}
	c.logger.Info("proxy commissioning mode", "active", c.pctx.inCommMode, "commissioner", fmt.Sprintf("0x%04X", src))
	c.commModeChanged(RoleProxy, c.pctx.inCommMode)
}

func (c *Core) proxyCommModeExit() {
	c.cancelTimer(&c.pctx.window)
	c.pctx.reset()
	c.stub.ClearTxQueue()
}

// commModeChanged notifies the application. Leaving commissioning mode
// also closes the network for joining.
func (c *Core) commModeChanged(role Role, active bool) {
	c.hooks.CommissioningModeChanged(role, active)
	if !active {
		if err := c.stub.PermitJoin(0); err != nil {
			c.logger.Debug("permit join off failed", "err", err)
		}
	}
}

func (c *Core) proxyResponse(m *Response) {
	action := m.TempMaster == c.stub.NwkAddr()
	err := c.stub.DataRequest(DataRequest{
		Action:       action,
		UseGpTxQueue: true,
		ID:           m.ID,
		Endpoint:     m.Endpoint,
		GpdCommand:   m.GpdCommand,
		Payload:      m.Payload,
	})
	if err != nil {
		c.logger.Warn("gp data request failed", "gpd", m.ID.String(), "err", err)
		return
	}
	if m.GpdCommand == CmdChannelConfiguration && action {
		c.switchTxChannel(m.TempMasterChannel + 11)
	}
}

// switchTxChannel moves to a GPD's channel and comes back after
// TransmitChannelTimeout.
func (c *Core) switchTxChannel(ch uint8) {
	if !c.pctx.channel.running() {
		c.pctx.savedChannel = c.stub.Channel()
	}
	if ch == c.pctx.savedChannel {
		return
	}
	if err := c.stub.SetChannel(ch); err != nil {
		c.logger.Warn("switch to transmit channel failed", "channel", ch, "err", err)
		return
	}
	c.schedule(&c.pctx.channel, TransmitChannelTimeout*time.Second, func() {
		if err := c.stub.SetChannel(c.pctx.savedChannel); err != nil {
			c.logger.Warn("restore operational channel failed", "channel", c.pctx.savedChannel, "err", err)
		}
	})
}

// proxyGpdf handles a GPDF on the proxy side.
func (c *Core) proxyGpdf(ind *DataIndication) {
	if c.pctx.inCommMode {
		c.proxyCommissioningGpdf(ind)
		return
	}
	c.proxyOperationalGpdf(ind)
}

func gpdfCounter(ind *DataIndication) uint32 {
	if ind.SecLevel == SecLevelNone {
		return uint32(ind.SeqNum)
	}
	return ind.FrameCounter
}

func (c *Core) proxyOperationalGpdf(ind *DataIndication) {
	if ind.Status != IndSecuritySuccess && ind.Status != IndNoSecurity {
		return
	}
	if !ind.ID.Valid() {
		return
	}
	switch ind.GpdCommand {
	case CmdChannelRequest, CmdSuccess:
		return
	}
	e, ok := c.proxy.Find(ind.ID)
	if !ok || !e.Options.EntryActive {
		return
	}
	counter := gpdfCounter(ind)
	if ind.SecLevel != SecLevelNone && counter <= e.FrameCounter && e.FrameCounter != 0xFFFFFFFF {
		c.logger.Debug("replayed gpdf dropped", "gpd", ind.ID.String(), "counter", counter, "stored", e.FrameCounter)
		return
	}
	if c.pdup.Check(ind.ID, counter) {
		return
	}

	e.Options.InRange = true
	if ind.SecLevel != SecLevelNone || e.Options.SeqNumCap {
		e.FrameCounter = counter
	}

	rxAfterTx := ind.RxAfterTx
	if ind.GpdCommand == CmdCommissioning || ind.GpdCommand == CmdDecommissioning {
		rxAfterTx = false
	}
	n := &Notification{
		ID:               ind.ID,
		Endpoint:         ind.Endpoint,
		AlsoUnicast:      e.Options.LightweightUnicast,
		AlsoDerivedGroup: e.Options.DerivedGroup,
		AlsoCommGroup:    e.Options.CommGroup,
		SecLevel:         ind.SecLevel,
		KeyType:          e.KeyType,
		RxAfterTx:        rxAfterTx,
		TxQueueFull:      true,
		ProxyInfoPresent: true,
		FrameCounter:     counter,
		GpdCommand:       ind.GpdCommand,
		Payload:          ind.Payload,
		GppShortAddr:     c.stub.NwkAddr(),
		GppGpdLink:       linkQuality(ind.RSSI, ind.LQI),
	}
	payload := n.Encode()

	radius := e.GroupcastRadius
	if radius == 0xFF {
		radius = 0
	}
	if e.Options.LightweightUnicast {
		for _, s := range e.LightweightSinks {
			c.send(Frame{
				Dst:       Address{Mode: AddrUnicast, Addr: s.Nwk, Endpoint: Endpoint},
				CommandID: CmdIDNotification,
				Payload:   payload,
				Radius:    radius,
			})
		}
	}
	derived := AliasDerived(ind.ID)
	if e.Options.DerivedGroup {
		c.send(Frame{
			Dst:       Address{Mode: AddrGroup, Addr: derived, Endpoint: Endpoint},
			CommandID: CmdIDNotification,
			Payload:   payload,
			Alias:     &AliasTx{Addr: entryAlias(e.ID, e.Options.AssignedAlias, e.AssignedAlias), Seq: ind.SeqNum},
			Radius:    radius,
		})
	}
	if e.Options.CommGroup {
		for _, g := range e.SinkGroups {
			alias := g.Alias
			if alias == 0xFFFF {
				alias = derived
			}
			c.send(Frame{
				Dst:       Address{Mode: AddrGroup, Addr: g.GroupID, Endpoint: Endpoint},
				CommandID: CmdIDNotification,
				Payload:   payload,
				Alias:     &AliasTx{Addr: alias, Seq: ind.SeqNum - 9},
				Radius:    radius,
			})
		}
	}
	c.markDirty(itemProxy)
}

// tunneledKeyTypeOf widens the one-bit GPDF key type for a tunneled
// command.
func (c *Core) tunneledKeyTypeOf(ind *DataIndication) KeyType {
	switch {
	case ind.SecLevel == SecLevelNone:
		return KeyTypeNone
	case ind.KeyType != 0:
		return KeyTypeOutOfBox
	}
	return c.cfg.SharedKeyType
}

func (c *Core) proxyCommissioningGpdf(ind *DataIndication) {
	cmd := ind.GpdCommand
	switch cmd {
	case CmdChannelRequest:
		if ind.FrameType == FrameTypeData || !c.hooks.AllowChannelRequest(ind.ID) {
			return
		}
	case CmdChannelConfiguration, CmdCommissioningReply:
		return
	case CmdCommissioning, CmdSuccess:
		if ind.AutoCommissioning {
			return
		}
	}
	if ind.FrameType == FrameTypeData && !ind.ID.Valid() {
		return
	}

	failed := ind.Status == IndAuthFailure || ind.Status == IndUnprocessed
	n := &CommissioningNotification{
		ID:                  ind.ID,
		Endpoint:            ind.Endpoint,
		RxAfterTx:           ind.RxAfterTx || cmd == CmdChannelRequest,
		SecLevel:            ind.SecLevel,
		KeyType:             c.tunneledKeyTypeOf(ind),
		SecProcessingFailed: failed,
		ProxyInfoPresent:    true,
		FrameCounter:        gpdfCounter(ind),
		GpdCommand:          cmd,
		Payload:             ind.Payload,
		GppShortAddr:        c.stub.NwkAddr(),
		GppGpdLink:          linkQuality(ind.RSSI, ind.LQI),
		MIC:                 0xFFFFFFFF,
	}
	if failed {
		n.MIC = ind.MIC
	}

	f := Frame{CommandID: CmdIDCommNotification, Payload: n.Encode()}
	broadcast := !c.pctx.opts.Unicast
	if broadcast {
		f.Dst = Address{Mode: AddrBroadcast, Addr: BroadcastRxOn, Endpoint: Endpoint}
		f.Alias = &AliasTx{Addr: AliasDerived(ind.ID), Seq: ind.SeqNum - 12}
	} else {
		f.Dst = Address{Mode: AddrUnicast, Addr: c.pctx.commissioner, Endpoint: Endpoint}
	}

	delay := TunnelingDelay(n.RxAfterTx, n.GppGpdLink>>6, false, false)
	time.AfterFunc(delay, func() {
		c.post(func() { c.send(f) })
	})
}

// tableResponse builds a Proxy or Sink Table Response. find returns the
// record of one GPD.
func tableResponse(q *TableRequest, recs [][]byte, find func(GpdID, uint8) ([]byte, bool), limit int) *TableResponse {
	rsp := &TableResponse{Status: zcl.ZCLStatusSuccess, Total: uint8(len(recs))}
	switch q.ReqType {
	case TableReqByID:
		rsp.StartIndex = 0xFF
		rec, ok := find(q.ID, q.Endpoint)
		if !ok {
			rsp.Status = zcl.ZCLStatusNotFound
			return rsp
		}
		rsp.Count = 1
		rsp.Entries = rec
	default:
		rsp.StartIndex = q.Index
		if len(recs) == 0 || int(q.Index) >= len(recs) {
			rsp.Status = zcl.ZCLStatusNotFound
			return rsp
		}
		n, body := pageRecords(recs, int(q.Index), limit)
		rsp.Count = uint8(n)
		rsp.Entries = body
	}
	return rsp
}

func (c *Core) proxyTableRequest(q *TableRequest, in *IncomingCommand) {
	find := func(id GpdID, ep uint8) ([]byte, bool) {
		if id.App != q.App {
			return nil, false
		}
		e, ok := c.proxy.Find(id)
		if !ok || endpointMismatch(id.App, e.Endpoint, ep) {
			return nil, false
		}
		return e.AppendWire(nil), true
	}
	rsp := tableResponse(q, c.proxy.records(), find, MaxProxyTableAttrLength)
	c.send(Frame{
		Dst:       Address{Mode: AddrUnicast, Addr: in.SrcAddr, Endpoint: in.SrcEndpoint},
		HasSeq:    true,
		Seq:       in.Seq,
		CommandID: CmdIDProxyTableRsp,
		Payload:   rsp.Encode(),
	})
}

package gp

import (
	"fmt"
	"time"
)

// maxAppDescBuffers bounds the Application Description frames cached for
// relaying to other sinks.
const maxAppDescBuffers = 3

// gpdFrame is a GPDF as seen by the sink, received directly or tunneled in
// a Notification or Commissioning Notification.
type gpdFrame struct {
	ID          GpdID
	Endpoint    uint8
	SecLevel    SecLevel
	KeyType     KeyType
	Counter     uint32
	Cmd         uint8
	Payload     []byte
	RxAfterTx   bool
	Maintenance bool

	tunneled   bool
	bidir      bool
	tempMaster uint16
	link       uint8
}

// multiSensor aggregates the Application Description frames a GPD sends
// after a Commissioning frame that announced them.
type multiSensor struct {
	timer     timer
	active    bool
	id        GpdID
	endpoint  uint8
	bufs      [][]byte
	total     uint8
	received  uint8
	completed bool
	matched   bool

	// The commissioning frame the session was opened by, for the reply.
	commissioning gpdFrame
	panIDRequest  bool
}

func (m *multiSensor) owns(id GpdID) bool { return m.active && m.id.Equal(id) }

// sinkState is the sink commissioning state.
type sinkState struct {
	inCommMode bool
	window     timer
	channel    timer // delayed switch to the GPD's channel
	multi      multiSensor
}

// commissionModeSet enters or leaves sink commissioning mode.
func (c *Core) commissionModeSet(enter, involveProxies bool) error {
	if c.cfg.SecLevel&SecInvolveTC != 0 {
		return fmt.Errorf("commissioning with trust center involvement is not supported")
	}
	if enter {
		c.sctx.inCommMode = true
		if c.cfg.ExitMode&ExitOnWindowExpiration != 0 && c.cfg.CommWindow != 0 {
			c.schedule(&c.sctx.window, time.Duration(c.cfg.CommWindow)*time.Second, c.sinkWindowTimeout)
		}
	} else {
		c.cancelTimer(&c.sctx.window)
		c.sinkCommModeExit()
		c.freeIncomplete()
	}
	if involveProxies {
		c.proxyCommissioningModeSend(enter)
	}
	c.logger.Info("sink commissioning mode", "active", enter, "involve_proxies", involveProxies)
	c.commModeChanged(RoleSink, enter)
	return nil
}

func (c *Core) sinkWindowTimeout() {
	c.logger.Info("sink commissioning window expired")
	c.sinkCommModeExit()
	c.freeIncomplete()
	c.proxyCommissioningModeSend(false)
	c.commModeChanged(RoleSink, false)
}

func (c *Core) sinkCommModeExit() {
	c.multiSensorStop()
	c.sctx.inCommMode = false
	c.stub.ClearTxQueue()
}

func (c *Core) proxyCommissioningModeSend(enter bool) {
	m := &ProxyCommissioningMode{Enter: enter, ExitMode: ProxyExitOnFirstPairing}
	if enter && c.cfg.ExitMode&ExitOnWindowExpiration != 0 && c.cfg.CommWindow != 0 {
		m.WindowPresent = true
		m.ExitMode |= ProxyExitOnWindowExpiration
		m.Window = c.cfg.CommWindow
	}
	c.broadcastToProxies(CmdIDProxyCommissioningMode, m.Encode())
}

// freeIncomplete rolls back every candidate entry: its translations and
// group memberships go, and proxies are told to forget the GPD.
func (c *Core) freeIncomplete() {
	for _, e := range c.sink.Incomplete() {
		c.logger.Info("purging incomplete gpd", "gpd", e.ID.String())
		c.sendPairingRemoveGPD(e.ID, e.Endpoint, e.Options.CommMode)
		c.removeGPD(e.ID, e.Endpoint)
	}
}

// removeGPD drops a GPD from the sink and translation tables and leaves
// the groups no other entry needs.
func (c *Core) removeGPD(id GpdID, ep uint8) {
	removed := c.sink.RemoveMatching(id, ep)
	if n := c.trans.RemoveGPD(id, ep); n > 0 {
		c.markDirty(itemTrans)
	}
	if c.sctx.multi.owns(id) {
		c.multiSensorStop()
	}
	for i := range removed {
		c.leaveGroups(&removed[i])
	}
	if len(removed) == 0 {
		return
	}
	c.markDirty(itemSink)
	c.logger.Info("gpd removed", "gpd", id.String(), "entries", len(removed))
	c.hooks.DeviceRemoved(id)
}

func (c *Core) leaveGroups(e *SinkEntry) {
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
		if c.groupInUse(g) {
			continue
		}
		if err := c.stub.RemoveGroup(g, Endpoint); err != nil {
			c.logger.Warn("leave group failed", "group", fmt.Sprintf("0x%04X", g), "err", err)
		}
	}
}

func (c *Core) groupInUse(group uint16) bool {
	used := false
	c.sink.Each(func(e *SinkEntry) {
		switch e.Options.CommMode {
		case CommModeDerivedGroup:
			used = used || AliasDerived(e.ID) == group
		case CommModePrecommGroup:
			for _, g := range e.Groups {
				used = used || g.GroupID == group
			}
		}
	})
	return used
}

func (c *Core) multiSensorStart(e *SinkEntry, f *gpdFrame, panIDRequest bool) {
	s := &c.sctx.multi
	if !s.owns(e.ID) {
		c.multiSensorStop()
		s.active = true
		s.id = e.ID
		s.endpoint = e.Endpoint
	}
	s.commissioning = *f
	s.panIDRequest = panIDRequest
	c.schedule(&s.timer, c.cfg.MultiSensorTimeout, c.multiSensorTimeout)
}

func (c *Core) multiSensorStop() {
	s := &c.sctx.multi
	c.cancelTimer(&s.timer)
	*s = multiSensor{}
}

func (c *Core) multiSensorTimeout() {
	s := c.sctx.multi
	c.multiSensorStop()
	e, ok := c.sink.FindEndpoint(s.id, s.endpoint)
	if !ok || e.Complete {
		return
	}
	c.logger.Info("application description timed out", "gpd", s.id.String(), "received", s.received, "total", s.total)
	c.sendPairingRemoveGPD(s.id, s.endpoint, e.Options.CommMode)
	c.removeGPD(s.id, s.endpoint)
}

// sinkDispatch routes a GPDF to its handler.
func (c *Core) sinkDispatch(f *gpdFrame) {
	switch f.Cmd {
	case CmdCommissioning:
		c.sinkCommissioning(f)
	case CmdDecommissioning:
		c.sinkDecommissioning(f)
	case CmdSuccess:
		c.sinkSuccess(f)
	case CmdChannelRequest:
		c.sinkChannelRequest(f)
	case CmdApplicationDesc:
		c.sinkAppDescription(f)
	case CmdCommissioningReply, CmdChannelConfiguration:
	default:
		c.sinkData(f)
	}
}

// sinkGpdf handles a GPDF the stub received directly.
func (c *Core) sinkGpdf(ind *DataIndication) {
	if ind.Status != IndSecuritySuccess && ind.Status != IndNoSecurity {
		return
	}
	maintenance := ind.FrameType == FrameTypeMaintenance
	if !maintenance && !ind.ID.Valid() {
		return
	}
	counter := gpdfCounter(ind)
	if !maintenance && c.dup.Check(ind.ID, counter) {
		return
	}
	own := c.stub.NwkAddr()
	c.sinkDispatch(&gpdFrame{
		ID:          ind.ID,
		Endpoint:    ind.Endpoint,
		SecLevel:    ind.SecLevel,
		KeyType:     c.tunneledKeyTypeOf(ind),
		Counter:     counter,
		Cmd:         ind.GpdCommand,
		Payload:     ind.Payload,
		RxAfterTx:   ind.RxAfterTx,
		Maintenance: maintenance,
		tempMaster:  own,
		link:        linkQuality(ind.RSSI, ind.LQI) >> 6,
	})
}

// sinkCommNotification handles a Commissioning Notification. src is the
// sender, used when the notification carries no proxy information.
func (c *Core) sinkCommNotification(n *CommissioningNotification, src uint16) {
	maintenance := n.GpdCommand == CmdChannelRequest && !n.ID.Valid()
	if !maintenance && !n.ID.Valid() {
		return
	}
	cmd, payload := n.GpdCommand, n.Payload
	if n.SecProcessingFailed {
		var err error
		if cmd, payload, err = c.decryptTunneled(n); err != nil {
			c.logger.Debug("tunneled gpdf dropped", "gpd", n.ID.String(), "err", err)
			return
		}
	}
	if !maintenance && c.dup.Check(n.ID, n.FrameCounter) {
		return
	}
	f := &gpdFrame{
		ID:          n.ID,
		Endpoint:    n.Endpoint,
		SecLevel:    n.SecLevel,
		KeyType:     n.KeyType,
		Counter:     n.FrameCounter,
		Cmd:         cmd,
		Payload:     payload,
		RxAfterTx:   n.RxAfterTx,
		Maintenance: maintenance,
		tunneled:    true,
		bidir:       n.BidirectionalCap,
		tempMaster:  src,
	}
	if n.ProxyInfoPresent {
		f.tempMaster = n.GppShortAddr
		f.link = n.GppGpdLink >> 6
	}
	c.sinkDispatch(f)
}

// decryptTunneled recovers a frame the proxy could not authenticate, with
// the candidate entry's key or the shared key.
func (c *Core) decryptTunneled(n *CommissioningNotification) (uint8, []byte, error) {
	if c.keys == nil {
		return 0, nil, fmt.Errorf("no key collaborator: %w", ErrDecryptFailed)
	}
	kt, key := c.cfg.SharedKeyType, c.cfg.SharedKey
	if kt == KeyTypeNwk {
		key = c.stub.NwkKey()
	}
	if e, ok := c.sink.FindEndpoint(n.ID, n.Endpoint); ok && e.Options.SecUse {
		kt, key = e.KeyType, e.Key
	}
	cmd, payload, err := c.keys.DecryptFrame(n, kt, key)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return cmd, payload, nil
}

func (c *Core) sinkCommissioning(f *gpdFrame) {
	if !c.sctx.inCommMode || !f.ID.Valid() {
		return
	}
	if f.SecLevel != SecLevelNone || f.KeyType != KeyTypeNone {
		c.logger.Debug("secured commissioning frame ignored", "gpd", f.ID.String())
		return
	}
	p, err := DecodeCommissioningPayload(f.Payload)
	if err != nil {
		c.logger.Warn("bad commissioning frame", "gpd", f.ID.String(), "err", err)
		return
	}
	e, err := c.commUpdate(f, p)
	if err != nil {
		c.logger.Warn("commissioning rejected", "gpd", f.ID.String(), "err", err)
		return
	}
	c.markDirty(itemSink)

	var (
		cmds     []uint8
		clusters []uint16
	)
	if p.AppInfo != nil {
		cmds = p.AppInfo.Commands
		clusters = p.AppInfo.Clusters()
	}
	if _, err := c.trans.UpdateFromDeviceClass(e.ID, e.Endpoint, p.DeviceID, cmds, clusters, c.cfg.AppEndpoint); err != nil {
		c.logger.Warn("seeding translations failed", "gpd", e.ID.String(), "err", err)
	}
	if p.AppInfo != nil && p.AppInfo.Switch != nil {
		if _, err := c.trans.UpdateGenericSwitch(e.ID, e.Endpoint, *p.AppInfo.Switch); err != nil {
			c.logger.Warn("switch translation failed", "gpd", e.ID.String(), "err", err)
		}
	}
	c.markDirty(itemTrans)

	c.logger.Info("gpd commissioning", "gpd", e.ID.String(), "device", fmt.Sprintf("0x%02X", p.DeviceID),
		"sec_level", e.SecLevel, "key_type", e.KeyType, "rx_after_tx", f.RxAfterTx)

	if p.AppInfo != nil && p.AppInfo.AppDescFollows {
		c.multiSensorStart(e, f, p.Options.PanIDRequest)
		return
	}
	c.commissioningResume(e, f, p.Options.PanIDRequest)
}

// commissioningResume answers a bidirectional GPD or finalizes a
// unidirectional one.
func (c *Core) commissioningResume(e *SinkEntry, f *gpdFrame, panIDRequest bool) {
	if f.RxAfterTx {
		c.sinkCommReply(e, f, panIDRequest)
		return
	}
	c.sinkFinalize(e)
}

// commUpdate validates a Commissioning frame against the security policy
// and creates or refreshes the candidate entry.
func (c *Core) commUpdate(f *gpdFrame, p *CommissioningPayload) (*SinkEntry, error) {
	x := p.Ext
	if p.Options.ExtOptPresent && (x.SecLevelCap == SecLevelReserved || x.SecLevelCap < c.cfg.minSecLevel()) {
		return nil, fmt.Errorf("security level %d below minimum %d: %w", x.SecLevelCap, c.cfg.minSecLevel(), ErrSecurityCheckFailed)
	}
	if c.cfg.SecLevel&SecProtectWithLinkKey != 0 && x.KeyPresent && !x.KeyEncrypt {
		return nil, fmt.Errorf("plain key offered while link key protection is required: %w", ErrSecurityCheckFailed)
	}
	if x.SecLevelCap != SecLevelNone && !x.KeyPresent && (!f.RxAfterTx || !p.Options.GpSecKeyRequest) {
		return nil, fmt.Errorf("secured gpd neither offers nor can receive a key: %w", ErrSecurityCheckFailed)
	}
	key := p.Key
	if x.KeyPresent && x.KeyEncrypt {
		if c.keys == nil {
			return nil, fmt.Errorf("encrypted key without key collaborator: %w", ErrDecryptFailed)
		}
		k, err := c.keys.UnwrapKey(f.ID, p.Key, p.KeyMIC, c.cfg.LinkKey)
		if err != nil {
			return nil, fmt.Errorf("unwrap gpd key: %w: %v", ErrDecryptFailed, err)
		}
		key = k
	}

	e, ok := c.sink.FindEndpoint(f.ID, f.Endpoint)
	if !ok {
		var err error
		if e, err = c.sink.Allocate(); err != nil {
			return nil, err
		}
		e.ID = f.ID
		e.Endpoint = f.Endpoint
	}

	mode := c.cfg.CommMode & 0x3
	if mode == CommModeFullUnicast {
		mode = CommModeLightweightUni
	}
	e.DeviceID = p.DeviceID
	e.Options = SinkOptions{
		CommMode:      mode,
		SeqNumCap:     p.Options.MacSeqNumCap,
		RxOnCap:       p.Options.RxOnCap,
		FixedLocation: p.Options.FixedLocation,
		AssignedAlias: e.Options.AssignedAlias,
	}
	e.SecLevel = x.SecLevelCap
	e.ReplyIncludeKey = false
	e.ReplyEncrypt = false
	switch {
	case x.KeyPresent:
		e.KeyType = x.KeyType
		e.Key = key
	case x.SecLevelCap != SecLevelNone:
		e.KeyType, e.Key = c.offeredKey()
		e.ReplyIncludeKey = true
		e.ReplyEncrypt = x.KeyEncrypt
	default:
		e.KeyType = KeyTypeNone
		e.Key = Key{}
	}
	// An out-of-box key is swapped for the shared key when the GPD asks
	// for one and can still receive it.
	descFollows := p.AppInfo != nil && p.AppInfo.AppDescFollows
	if x.KeyType == KeyTypeOutOfBox && p.Options.GpSecKeyRequest && (f.RxAfterTx || descFollows) {
		if kt, k, ok := c.sharedKey(); ok && (x.KeyType != kt || key != k) {
			e.KeyType, e.Key = kt, k
			e.ReplyIncludeKey = true
			e.ReplyEncrypt = x.KeyEncrypt
		}
	}
	e.Options.SecUse = x.KeyPresent || e.ReplyIncludeKey
	if x.OutCounterPresent {
		e.FrameCounter = p.OutCounter
	} else {
		e.FrameCounter = f.Counter
	}
	return e, nil
}

// offeredKey is the key handed to a GPD that asked for one.
func (c *Core) offeredKey() (KeyType, Key) {
	if c.cfg.SharedKeyType == KeyTypeNwk {
		return KeyTypeNwk, c.stub.NwkKey()
	}
	return KeyTypeGpdGroup, c.cfg.SharedKey
}

// sharedKey is the configured shared key when it can replace a GPD key.
func (c *Core) sharedKey() (KeyType, Key, bool) {
	if c.cfg.SharedKey.IsZero() {
		return KeyTypeNone, Key{}, false
	}
	switch c.cfg.SharedKeyType {
	case KeyTypeNwk:
		return KeyTypeNwk, c.stub.NwkKey(), true
	case KeyTypeGpdGroup:
		return KeyTypeGpdGroup, c.cfg.SharedKey, true
	}
	return KeyTypeNone, Key{}, false
}

func (c *Core) sinkCommReply(e *SinkEntry, f *gpdFrame, panIDRequest bool) {
	reply := &CommissioningReply{SecLevel: e.SecLevel, KeyType: e.KeyType}
	if panIDRequest {
		reply.PanIDPresent = true
		reply.PanID = c.stub.PanID()
	}
	if e.ReplyIncludeKey {
		reply.KeyPresent = true
		reply.Key = e.Key
		if e.ReplyEncrypt {
			if c.keys == nil {
				c.logger.Warn("cannot protect offered key", "gpd", e.ID.String())
				return
			}
			reply.KeyEncrypt = true
			reply.FrameCounter = e.FrameCounter + 1
			wrapped, mic, err := c.keys.WrapKey(e.ID, reply.FrameCounter, e.Key, c.cfg.LinkKey)
			if err != nil {
				c.logger.Warn("wrap offered key failed", "gpd", e.ID.String(), "err", err)
				return
			}
			reply.Key, reply.KeyMIC = wrapped, mic
		}
	}
	c.sinkResponseSend(&Response{
		ID:                e.ID,
		Endpoint:          e.Endpoint,
		TempMaster:        f.tempMaster,
		TempMasterChannel: (c.stub.Channel() - 11) & 0x0F,
		GpdCommand:        CmdCommissioningReply,
		Payload:           reply.Encode(),
	})
}

// sinkResponseSend broadcasts a GP Response. When we are the temp master
// the GPDF is also queued locally.
func (c *Core) sinkResponseSend(rsp *Response) {
	c.broadcastToProxies(CmdIDResponse, rsp.Encode())
	if rsp.TempMaster != c.stub.NwkAddr() {
		return
	}
	if rsp.GpdCommand == CmdCommissioningReply {
		c.stub.ClearTxQueue()
	}
	err := c.stub.DataRequest(DataRequest{
		Action:       true,
		UseGpTxQueue: true,
		ID:           rsp.ID,
		Endpoint:     rsp.Endpoint,
		GpdCommand:   rsp.GpdCommand,
		Payload:      rsp.Payload,
	})
	if err != nil {
		c.logger.Warn("gp data request failed", "gpd", rsp.ID.String(), "err", err)
	}
}

func (c *Core) sinkChannelRequest(f *gpdFrame) {
	if !c.sctx.inCommMode {
		return
	}
	basic := true
	if f.tunneled {
		if !f.RxAfterTx {
			return
		}
		basic = !f.bidir
	} else if !f.Maintenance {
		return
	}
	if !c.hooks.AllowChannelRequest(f.ID) {
		return
	}
	next, ok := channelRequestNext(f.Payload)
	if !ok {
		return
	}
	c.sinkResponseSend(&Response{
		ID:                f.ID,
		Endpoint:          f.Endpoint,
		TempMaster:        f.tempMaster,
		TempMasterChannel: next,
		GpdCommand:        CmdChannelConfiguration,
		Payload:           channelConfiguration(c.stub.Channel(), basic),
	})
	if f.tempMaster != c.stub.NwkAddr() {
		return
	}
	delay := TunnelingDelay(true, f.link, true, false)
	c.schedule(&c.sctx.channel, delay, func() { c.switchTxChannel(next + 11) })
}

func (c *Core) sinkSuccess(f *gpdFrame) {
	if !c.sctx.inCommMode {
		return
	}
	e, ok := c.sink.FindEndpoint(f.ID, f.Endpoint)
	if !ok {
		return
	}
	if f.SecLevel != e.SecLevel {
		c.logger.Debug("success with wrong security level", "gpd", f.ID.String(), "level", f.SecLevel, "want", e.SecLevel)
		return
	}
	if f.SecLevel != SecLevelNone && !keyTypeMapped(e.KeyType, tunneledKeyType(f.KeyType)) {
		c.logger.Debug("success with wrong key type", "gpd", f.ID.String(), "key_type", f.KeyType)
		return
	}
	e.FrameCounter = f.Counter
	c.markDirty(itemSink)

	s := &c.sctx.multi
	if !s.owns(e.ID) || s.completed {
		c.sinkFinalize(e)
	}
}

func (c *Core) sinkAppDescription(f *gpdFrame) {
	s := &c.sctx.multi
	if !c.sctx.inCommMode || !s.owns(f.ID) {
		return
	}
	e, ok := c.sink.FindEndpoint(f.ID, f.Endpoint)
	if !ok {
		return
	}
	d, err := DecodeAppDescription(f.Payload)
	if err != nil {
		c.logger.Warn("bad application description", "gpd", f.ID.String(), "err", err)
		return
	}
	if len(s.bufs) < maxAppDescBuffers {
		s.bufs = append(s.bufs, append([]byte(nil), f.Payload...))
	}
	s.total = d.TotalReports
	for _, rep := range d.Reports {
		s.received++
		for _, dp := range rep.DataPoints {
			for _, rec := range dp.Records {
				te, err := c.trans.UpdateFromReportDescriptor(e.ID, e.Endpoint, rep.ReportID, dp.ClientSide, dp.Cluster, dp.ManuID, rec, c.eps.HasCluster)
				if err != nil {
					c.logger.Warn("report translation failed", "gpd", e.ID.String(), "report", rep.ReportID, "err", err)
					continue
				}
				if te != nil {
					s.matched = true
				}
			}
		}
	}
	c.markDirty(itemTrans)
	c.logger.Debug("application description", "gpd", e.ID.String(), "received", s.received, "total", s.total, "matched", s.matched)

	if s.received < s.total {
		c.schedule(&s.timer, c.cfg.MultiSensorTimeout, c.multiSensorTimeout)
		return
	}
	s.completed = true
	c.cancelTimer(&s.timer)
	if !s.matched {
		c.logger.Info("no reported cluster is served locally", "gpd", e.ID.String())
		id, ep, mode := e.ID, e.Endpoint, e.Options.CommMode
		c.multiSensorStop()
		if !e.Complete {
			c.sendPairingRemoveGPD(id, ep, mode)
			c.removeGPD(id, ep)
		}
		return
	}
	cf := s.commissioning
	c.commissioningResume(e, &cf, s.panIDRequest)
}

// sinkDecommissioning removes a GPD on its own request. It is processed
// in and out of commissioning mode.
func (c *Core) sinkDecommissioning(f *gpdFrame) {
	e, ok := c.sink.FindEndpoint(f.ID, f.Endpoint)
	if !ok {
		return
	}
	id, ep, mode := e.ID, e.Endpoint, e.Options.CommMode
	c.logger.Info("gpd decommissioning", "gpd", id.String())
	c.sendPairingRemoveGPD(id, ep, mode)
	if c.sctx.inCommMode && mode == CommModePrecommGroup {
		cfg := &PairingConfiguration{
			Action:             PairingRemoveGPD,
			ID:                 id,
			Endpoint:           ep,
			Options:            SinkOptions{CommMode: mode},
			AssignedAlias:      0xFFFF,
			GroupcastRadius:    0xFF,
			NumPairedEndpoints: PairedEndpointsAll,
		}
		c.broadcastToSinks(CmdIDPairingConfiguration, cfg.Encode())
	}
	c.removeGPD(id, ep)
}

// sinkData handles an operational GPDF of a commissioned GPD.
func (c *Core) sinkData(f *gpdFrame) {
	e, ok := c.sink.FindEndpoint(f.ID, f.Endpoint)
	if !ok || !e.Complete {
		return
	}
	if f.Cmd < CmdCommissioning {
		if f.SecLevel != e.SecLevel {
			c.logger.Debug("gpdf security level mismatch", "gpd", f.ID.String(), "level", f.SecLevel, "want", e.SecLevel)
			return
		}
		if f.SecLevel != SecLevelNone && !keyTypeMapped(e.KeyType, tunneledKeyType(f.KeyType)) {
			c.logger.Debug("gpdf key type mismatch", "gpd", f.ID.String(), "key_type", f.KeyType)
			return
		}
	}
	if e.Options.SecUse {
		if f.Counter <= e.FrameCounter {
			c.logger.Debug("replayed gpdf dropped", "gpd", f.ID.String(), "counter", f.Counter, "stored", e.FrameCounter)
			return
		}
		e.FrameCounter = f.Counter
		c.markDirty(itemSink)
	}
	c.translate(f)
}

// sinkFinalize completes a candidate entry: groups are joined, the alias
// is announced and proxies (and for pre-commissioned groups, other sinks)
// learn the pairing.
func (c *Core) sinkFinalize(e *SinkEntry) {
	wasComplete := e.Complete
	switch e.Options.CommMode {
	case CommModeDerivedGroup:
		g := AliasDerived(e.ID)
		if err := c.stub.AddGroup(g, Endpoint); err != nil {
			c.logger.Warn("join derived group failed", "group", fmt.Sprintf("0x%04X", g), "err", err)
		}
	case CommModePrecommGroup:
		for _, g := range c.stub.Groups(c.cfg.AppEndpoint) {
			if !e.addGroup(g, 0xFFFF) {
				continue
			}
			if err := c.stub.AddGroup(g, Endpoint); err != nil {
				c.logger.Warn("join group failed", "group", fmt.Sprintf("0x%04X", g), "err", err)
			}
		}
	}
	e.Complete = true
	c.markDirty(itemSink)
	c.markDirty(itemTrans)

	if e.Options.CommMode != CommModeLightweightUni && !wasComplete {
		if err := c.stub.DeviceAnnounce(e.Alias()); err != nil {
			c.logger.Warn("alias announce failed", "alias", fmt.Sprintf("0x%04X", e.Alias()), "err", err)
		}
	}
	c.pairingAddSink(e)
	if e.Options.CommMode == CommModePrecommGroup {
		c.pairingConfigAddSink(e)
		c.pairingConfigAppDesc(e)
	}
	c.multiSensorStop()

	c.logger.Info("gpd commissioned", "gpd", e.ID.String(), "mode", e.Options.CommMode.String(), "alias", fmt.Sprintf("0x%04X", e.Alias()))
	c.hooks.DeviceCommissioned(e.clone())

	if c.sctx.inCommMode && c.cfg.ExitMode&ExitOnFirstPairing != 0 {
		if err := c.commissionModeSet(false, true); err != nil {
			c.logger.Warn("leave commissioning mode failed", "err", err)
		}
	}
}

// pairingFor returns the Pairing adding this sink for an entry, without
// the destination fields.
func (c *Core) pairingFor(e *SinkEntry) *Pairing {
	p := &Pairing{
		ID:                     e.ID,
		Endpoint:               e.Endpoint,
		AddSink:                true,
		CommMode:               e.Options.CommMode,
		GpdFixed:               e.Options.FixedLocation,
		SeqNumCap:              e.Options.SeqNumCap,
		SecLevel:               e.SecLevel,
		KeyType:                e.KeyType,
		FrameCounterPresent:    e.SecLevel != SecLevelNone || e.Options.SeqNumCap,
		AssignedAliasPresent:   e.Options.AssignedAlias,
		GroupcastRadiusPresent: e.GroupcastRadius != 0xFF,
		DeviceID:               e.DeviceID,
		FrameCounter:           e.FrameCounter,
		AssignedAlias:          e.AssignedAlias,
		GroupcastRadius:        e.GroupcastRadius,
	}
	if e.SecLevel >= SecLevelMIC {
		p.KeyPresent = true
		p.Key = e.Key
	}
	return p
}

func (c *Core) pairingAddSink(e *SinkEntry) {
	p := c.pairingFor(e)
	switch e.Options.CommMode {
	case CommModeFullUnicast, CommModeLightweightUni:
		p.SinkIEEE = c.stub.IEEEAddr()
		p.SinkNwk = c.stub.NwkAddr()
		c.broadcastToProxies(CmdIDPairing, p.Encode())
	case CommModeDerivedGroup:
		p.SinkGroupID = AliasDerived(e.ID)
		c.broadcastToProxies(CmdIDPairing, p.Encode())
	case CommModePrecommGroup:
		for _, g := range e.Groups {
			p.SinkGroupID = g.GroupID
			c.broadcastToProxies(CmdIDPairing, p.Encode())
		}
	}
}

// sendPairingRemoveGPD tells every proxy to drop a GPD.
func (c *Core) sendPairingRemoveGPD(id GpdID, ep uint8, mode CommMode) {
	p := &Pairing{ID: id, Endpoint: ep, RemoveGPD: true, CommMode: mode}
	c.broadcastToProxies(CmdIDPairing, p.Encode())
}

// pairingRemoveSink tells proxies to stop forwarding a GPD to this sink.
func (c *Core) pairingRemoveSink(e *SinkEntry) {
	p := &Pairing{ID: e.ID, Endpoint: e.Endpoint, CommMode: e.Options.CommMode}
	switch e.Options.CommMode {
	case CommModeFullUnicast, CommModeLightweightUni:
		p.SinkIEEE = c.stub.IEEEAddr()
		p.SinkNwk = c.stub.NwkAddr()
		c.broadcastToProxies(CmdIDPairing, p.Encode())
	case CommModeDerivedGroup:
		p.SinkGroupID = AliasDerived(e.ID)
		c.broadcastToProxies(CmdIDPairing, p.Encode())
	case CommModePrecommGroup:
		for _, g := range e.Groups {
			p.SinkGroupID = g.GroupID
			c.broadcastToProxies(CmdIDPairing, p.Encode())
		}
	}
}

// pairingConfigFor returns a Pairing Configuration describing an entry.
func pairingConfigFor(action PairingConfigAction, e *SinkEntry) *PairingConfiguration {
	return &PairingConfiguration{
		Action:             action,
		ID:                 e.ID,
		Endpoint:           e.Endpoint,
		Options:            e.Options,
		DeviceID:           e.DeviceID,
		Groups:             append([]SinkGroup(nil), e.Groups...),
		AssignedAlias:      e.AssignedAlias,
		GroupcastRadius:    e.GroupcastRadius,
		SecLevel:           e.SecLevel,
		KeyType:            e.KeyType,
		FrameCounter:       e.FrameCounter,
		Key:                e.Key,
		NumPairedEndpoints: PairedEndpointsAll,
	}
}

// pairingConfigAddSink propagates a pre-commissioned group pairing to the
// other sinks.
func (c *Core) pairingConfigAddSink(e *SinkEntry) {
	cfg := pairingConfigFor(PairingExtend, e)
	info := &AppInfo{AppDescFollows: c.sctx.multi.owns(e.ID) && len(c.sctx.multi.bufs) > 0}
	if e.DeviceID == DevGeneric8Contact {
		q := AnyTarget(e.ID, e.Endpoint, CmdVectorPress)
		if te, ok := c.trans.Find(q); ok && te.Switch != nil {
			info.Switch = &SwitchInfo{Config: te.Switch.Config, ContactStatus: te.Switch.ContactStatus}
		}
	}
	if info.Switch != nil || info.AppDescFollows {
		cfg.AppInfo = info
	}
	c.broadcastToSinks(CmdIDPairingConfiguration, cfg.Encode())
}

func (c *Core) pairingConfigAppDesc(e *SinkEntry) {
	s := &c.sctx.multi
	if !s.owns(e.ID) {
		return
	}
	for _, buf := range s.bufs {
		cfg := pairingConfigFor(PairingAppDesc, e)
		cfg.ReportDescriptor = buf
		c.broadcastToSinks(CmdIDPairingConfiguration, cfg.Encode())
	}
}

// sinkPairingSend broadcasts the Pairing matching a Pairing Configuration
// action. e is the resulting entry and may be nil for removals.
func (c *Core) sinkPairingSend(cfg *PairingConfiguration, e *SinkEntry) {
	switch cfg.Action {
	case PairingRemoveGPD:
		c.sendPairingRemoveGPD(cfg.ID, cfg.Endpoint, cfg.Options.CommMode)
	case PairingRemove:
		if e != nil {
			c.pairingRemoveSink(e)
			return
		}
		tmp := SinkEntry{ID: cfg.ID, Endpoint: cfg.Endpoint, Options: cfg.Options, Groups: cfg.Groups}
		c.pairingRemoveSink(&tmp)
	default:
		if e != nil {
			c.pairingAddSink(e)
		}
	}
}

package gp

import (
	"fmt"
)

// deviceAnnounce checks a Device_annce against the aliases of our GPDs.
// An announce carrying an invalid IEEE address is another sink announcing
// a GPD alias, which makes our own pending announce for it redundant.
func (c *Core) deviceAnnounce(nwk uint16, ieee uint64) {
	if ieee == 0 || ieee == IEEEWildcard {
		if tm, ok := c.announce[nwk]; ok {
			c.cancelTimer(tm)
			delete(c.announce, nwk)
			c.logger.Debug("alias announced elsewhere", "alias", fmt.Sprintf("0x%04X", nwk))
		}
		return
	}
	if ieee == c.stub.IEEEAddr() {
		return
	}

	sinkHit := false
	c.sink.Each(func(e *SinkEntry) {
		if e.Complete && e.Options.CommMode != CommModeLightweightUni && e.Alias() == nwk {
			sinkHit = true
		}
	})
	proxyHit := false
	updated := false
	c.proxy.Each(func(e *ProxyEntry) {
		if e.Options.EntryActive && entryAlias(e.ID, e.Options.AssignedAlias, e.AssignedAlias) == nwk {
			proxyHit = true
		}
		for i := range e.LightweightSinks {
			s := &e.LightweightSinks[i]
			if s.IEEE == ieee && s.Nwk != nwk {
				s.Nwk = nwk
				updated = true
			}
		}
	})
	if updated {
		c.logger.Info("lightweight sink address changed", "ieee", fmt.Sprintf("0x%016X", ieee), "nwk", fmt.Sprintf("0x%04X", nwk))
		c.markDirty(itemProxy)
	}
	if !sinkHit && !proxyHit {
		return
	}

	tm, pending := c.announce[nwk]
	// A sink-side collision only re-announces the alias.
	if proxyHit && !sinkHit && !pending {
		if err := c.stub.AddressConflict(nwk); err != nil {
			c.logger.Warn("address conflict report failed", "alias", fmt.Sprintf("0x%04X", nwk), "err", err)
		}
	}
	c.logger.Warn("device address collides with gpd alias", "alias", fmt.Sprintf("0x%04X", nwk), "ieee", fmt.Sprintf("0x%016X", ieee))
	if !pending {
		tm = &timer{}
		c.announce[nwk] = tm
	}
	c.schedule(tm, aliasAnnounceDelay(), func() {
		delete(c.announce, nwk)
		if err := c.stub.DeviceAnnounce(nwk); err != nil {
			c.logger.Warn("alias announce failed", "alias", fmt.Sprintf("0x%04X", nwk), "err", err)
		}
	})
}

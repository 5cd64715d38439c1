package gp

import (
	"fmt"

	"zigbee-go-gp/internal/zcl"
)

// translate maps an operational GPD command to the ZCL command(s) of its
// translation entries and hands them to the application. Commands without
// a translation are dropped.
func (c *Core) translate(f *gpdFrame) {
	switch {
	case f.Cmd == CmdCompactAttrReport:
		c.translateCompactReport(f)
		return
	case isVectorCmd(f.Cmd):
		c.translateSwitch(f)
		return
	}

	e, ok := c.trans.Find(AnyTarget(f.ID, f.Endpoint, f.Cmd))
	if !ok {
		c.logger.Debug("untranslated gpd command", "gpd", f.ID.String(), "cmd", fmt.Sprintf("0x%02X", f.Cmd))
		return
	}
	cmd := c.commandFor(e, f)
	switch {
	case payloadInline(e.PayloadLen):
		cmd.Payload = append([]byte(nil), e.Payload...)
	case e.PayloadLen == PayloadFromGPD, e.PayloadLen == PayloadUnparsed:
		cmd.Payload = append([]byte(nil), f.Payload...)
	}
	c.dispatch(cmd)
}

func (c *Core) commandFor(e *TransEntry, f *gpdFrame) Command {
	return Command{
		ID:          f.ID,
		GpdEndpoint: f.Endpoint,
		GpdCommand:  f.Cmd,
		Group:       c.cfg.TranslationGroup,
		Endpoint:    e.Endpoint,
		Profile:     e.Profile,
		Cluster:     e.Cluster,
		CommandID:   e.ZbCommand,
	}
}

func (c *Core) dispatch(cmd Command) {
	c.logger.Debug("translated gpd command", "gpd", cmd.ID.String(), "gpd_cmd", fmt.Sprintf("0x%02X", cmd.GpdCommand),
		"cluster", fmt.Sprintf("0x%04X", cmd.Cluster), "cmd", fmt.Sprintf("0x%02X", cmd.CommandID), "global", cmd.Global)
	c.hooks.Translated(cmd)
}

// translateCompactReport turns each attribute of a compact report into a
// ZCL Report Attributes command. The first payload byte is the report id;
// attribute offsets count from the byte after it.
func (c *Core) translateCompactReport(f *gpdFrame) {
	if len(f.Payload) < 1 {
		return
	}
	q := AnyTarget(f.ID, f.Endpoint, f.Cmd)
	q.ReportID = f.Payload[0]
	data := f.Payload[1:]
	for _, e := range c.trans.FindAll(q) {
		rep := e.Report
		if rep == nil {
			continue
		}
		size := zcl.TypeSize(rep.DataType)
		off := int(rep.AttrOffset)
		if size <= 0 || off+size > len(data) {
			c.logger.Debug("compact report attribute out of range", "gpd", f.ID.String(), "attr", fmt.Sprintf("0x%04X", rep.AttrID))
			continue
		}
		cmd := c.commandFor(e, f)
		cmd.Cluster = rep.Cluster
		cmd.CommandID = zcl.FoundationReportAttributes
		cmd.Global = true
		cmd.Payload = zcl.EncodeReportAttributes([]zcl.Attribute{{
			ID:       rep.AttrID,
			DataType: rep.DataType,
			Value:    data[off : off+size],
		}})
		c.dispatch(cmd)
	}
}

// translateSwitch reports a generic switch contact change as a cluster
// 0xFFFF event carrying the masked contact status.
func (c *Core) translateSwitch(f *gpdFrame) {
	e, ok := c.trans.Find(AnyTarget(f.ID, f.Endpoint, CmdVectorPress))
	if !ok {
		return
	}
	cmd := c.commandFor(e, f)
	cmd.Cluster = 0xFFFF
	cmd.CommandID = f.Cmd
	if len(f.Payload) > 0 {
		status := f.Payload[0]
		if e.Switch != nil {
			status &= e.Switch.ContactBitmask
		}
		cmd.Payload = []byte{status}
	}
	c.dispatch(cmd)
}

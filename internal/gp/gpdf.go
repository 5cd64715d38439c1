package gp

import (
	"fmt"
)

// CommissioningOptions is the options byte of a Commissioning GPDF.
type CommissioningOptions struct {
	MacSeqNumCap    bool
	RxOnCap         bool
	AppInfoPresent  bool
	PanIDRequest    bool
	GpSecKeyRequest bool
	FixedLocation   bool
	ExtOptPresent   bool
}

func (o CommissioningOptions) encode() uint8 {
	return uint8(boolBit(o.MacSeqNumCap, 0) | boolBit(o.RxOnCap, 1) | boolBit(o.AppInfoPresent, 2) |
		boolBit(o.PanIDRequest, 4) | boolBit(o.GpSecKeyRequest, 5) | boolBit(o.FixedLocation, 6) |
		boolBit(o.ExtOptPresent, 7))
}

// CommissioningExtOptions is the extended options byte of a Commissioning
// GPDF.
type CommissioningExtOptions struct {
	SecLevelCap       SecLevel
	KeyType           KeyType
	KeyPresent        bool
	KeyEncrypt        bool
	OutCounterPresent bool
}

func (o CommissioningExtOptions) encode() uint8 {
	v := uint32(o.SecLevelCap)&0x3 | (uint32(o.KeyType)&0x7)<<2
	v |= boolBit(o.KeyPresent, 5) | boolBit(o.KeyEncrypt, 6) | boolBit(o.OutCounterPresent, 7)
	return uint8(v)
}

// CommissioningPayload is the payload of a Commissioning GPDF (0xE0).
type CommissioningPayload struct {
	DeviceID   uint8
	Options    CommissioningOptions
	Ext        CommissioningExtOptions
	Key        Key
	KeyMIC     uint32
	OutCounter uint32
	AppInfo    *AppInfo
}

// Encode returns the GPDF payload without the command id.
func (p *CommissioningPayload) Encode() []byte {
	o := p.Options
	o.ExtOptPresent = o.ExtOptPresent || p.Ext != (CommissioningExtOptions{})
	o.AppInfoPresent = p.AppInfo != nil
	b := []byte{p.DeviceID, o.encode()}
	if o.ExtOptPresent {
		b = append(b, p.Ext.encode())
		if p.Ext.KeyPresent {
			b = append(b, p.Key[:]...)
		}
		if p.Ext.KeyEncrypt {
			b = putU32(b, p.KeyMIC)
		}
		if p.Ext.OutCounterPresent {
			b = putU32(b, p.OutCounter)
		}
	}
	if p.AppInfo != nil {
		b = p.AppInfo.appendTo(b)
	}
	return b
}

// DecodeCommissioningPayload parses a Commissioning GPDF payload.
func DecodeCommissioningPayload(buf []byte) (*CommissioningPayload, error) {
	r := newReader(buf)
	p := &CommissioningPayload{DeviceID: r.u8()}
	v := uint32(r.u8())
	p.Options = CommissioningOptions{
		MacSeqNumCap:    bit(v, 0),
		RxOnCap:         bit(v, 1),
		AppInfoPresent:  bit(v, 2),
		PanIDRequest:    bit(v, 4),
		GpSecKeyRequest: bit(v, 5),
		FixedLocation:   bit(v, 6),
		ExtOptPresent:   bit(v, 7),
	}
	if p.Options.ExtOptPresent {
		x := uint32(r.u8())
		p.Ext = CommissioningExtOptions{
			SecLevelCap:       SecLevel(x & 0x3),
			KeyType:           KeyType(x >> 2 & 0x7),
			KeyPresent:        bit(x, 5),
			KeyEncrypt:        bit(x, 6),
			OutCounterPresent: bit(x, 7),
		}
		if p.Ext.KeyPresent {
			p.Key = r.key()
		}
		if p.Ext.KeyEncrypt {
			p.KeyMIC = r.u32()
		}
		if p.Ext.OutCounterPresent {
			p.OutCounter = r.u32()
		}
	}
	if p.Options.AppInfoPresent {
		p.AppInfo = readAppInfo(r)
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode commissioning payload: %w", r.err)
	}
	return p, nil
}

// DataPoint is one cluster section of an Application Description report.
type DataPoint struct {
	ClientSide    bool
	ManuIDPresent bool
	Cluster       uint16
	ManuID        uint16
	Records       []AttrRecord
}

// ReportDescriptor is one report of an Application Description.
type ReportDescriptor struct {
	ReportID       uint8
	TimeoutPresent bool
	Timeout        uint16
	DataPoints     []DataPoint
}

// AppDescription is the payload of an Application Description GPDF
// (0xE4).
type AppDescription struct {
	TotalReports uint8
	NumReports   uint8
	Reports      []ReportDescriptor
}

// DecodeAppDescription parses an Application Description payload.
func DecodeAppDescription(buf []byte) (*AppDescription, error) {
	r := newReader(buf)
	d := &AppDescription{TotalReports: r.u8(), NumReports: r.u8()}
	if r.err == nil && (d.TotalReports == 0 || d.NumReports == 0) {
		return nil, fmt.Errorf("decode application description: zero report count: %w", ErrMalformed)
	}
	for i := 0; i < int(d.NumReports) && r.err == nil; i++ {
		d.Reports = append(d.Reports, readReport(r))
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode application description: %w", r.err)
	}
	return d, nil
}

func readReport(r *reader) ReportDescriptor {
	rep := ReportDescriptor{ReportID: r.u8()}
	opts := r.u8()
	rep.TimeoutPresent = opts&0x01 != 0
	if rep.TimeoutPresent {
		rep.Timeout = r.u16()
	}
	remaining := int(r.u8())
	end := r.off + remaining
	for r.err == nil && r.off < end {
		rep.DataPoints = append(rep.DataPoints, readDataPoint(r))
	}
	if r.err == nil && r.off != end {
		r.fail(fmt.Errorf("report 0x%02X overruns its length: %w", rep.ReportID, ErrMalformed))
	}
	return rep
}

func readDataPoint(r *reader) DataPoint {
	opts := r.u8()
	dp := DataPoint{
		ClientSide:    opts&0x08 != 0,
		ManuIDPresent: opts&0x10 != 0,
	}
	dp.Cluster = r.u16()
	if dp.ManuIDPresent {
		dp.ManuID = r.u16()
	}
	n := int(opts&0x07) + 1
	for i := 0; i < n && r.err == nil; i++ {
		rec := AttrRecord{AttrID: r.u16(), DataType: r.u8()}
		ao := r.u8()
		remLen := int(ao&0x0F) + 1
		rec.Reported = ao&0x10 != 0
		valuePresent := ao&0x20 != 0
		if rec.Reported {
			rec.AttrOffset = r.u8()
			remLen--
		}
		if valuePresent && remLen > 0 {
			rec.Value = r.bytes(remLen)
		}
		dp.Records = append(dp.Records, rec)
	}
	return dp
}

// CommissioningReply is the payload of a Commissioning Reply GPDF (0xF0).
type CommissioningReply struct {
	PanIDPresent bool
	PanID        uint16
	KeyPresent   bool
	KeyEncrypt   bool
	SecLevel     SecLevel
	KeyType      KeyType
	Key          Key
	KeyMIC       uint32
	FrameCounter uint32
}

// Encode returns the GPDF payload without the command id.
func (c *CommissioningReply) Encode() []byte {
	v := boolBit(c.PanIDPresent, 0) | boolBit(c.KeyPresent, 1) | boolBit(c.KeyEncrypt, 2)
	v |= (uint32(c.SecLevel) & 0x3) << 3
	v |= (uint32(c.KeyType) & 0x7) << 5
	b := []byte{uint8(v)}
	if c.PanIDPresent {
		b = putU16(b, c.PanID)
	}
	if c.KeyPresent {
		b = append(b, c.Key[:]...)
	}
	if c.KeyPresent && c.KeyEncrypt {
		b = putU32(b, c.KeyMIC)
		if c.SecLevel >= SecLevelMIC {
			b = putU32(b, c.FrameCounter)
		}
	}
	return b
}

// DecodeCommissioningReply parses a Commissioning Reply payload.
func DecodeCommissioningReply(buf []byte) (*CommissioningReply, error) {
	r := newReader(buf)
	v := uint32(r.u8())
	c := &CommissioningReply{
		PanIDPresent: bit(v, 0),
		KeyPresent:   bit(v, 1),
		KeyEncrypt:   bit(v, 2),
		SecLevel:     SecLevel(v >> 3 & 0x3),
		KeyType:      KeyType(v >> 5 & 0x7),
	}
	if c.PanIDPresent {
		c.PanID = r.u16()
	}
	if c.KeyPresent {
		c.Key = r.key()
	}
	if c.KeyPresent && c.KeyEncrypt {
		c.KeyMIC = r.u32()
		if c.SecLevel >= SecLevelMIC {
			c.FrameCounter = r.u32()
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode commissioning reply: %w", r.err)
	}
	return c, nil
}

// channelRequestNext returns the channel a GPD listens on next, from a
// Channel Request payload. Channels are encoded as an offset from 11.
func channelRequestNext(payload []byte) (uint8, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return payload[0] & 0x0F, true
}

// channelConfiguration encodes a Channel Configuration payload for the
// operational channel (11..26).
func channelConfiguration(channel uint8, basic bool) []byte {
	v := (channel - 11) & 0x0F
	if basic {
		v |= 1 << 4
	}
	return []byte{v}
}

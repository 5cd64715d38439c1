package gp

import (
	"fmt"
)

// MaxTableEntries bounds every GP table: the table size attributes and
// the stored blobs carry the entry count in one octet.
const MaxTableEntries = 0xFF

// Proxy table limits.
const (
	DefaultMaxProxyEntries  = 5
	MaxLightweightSinks     = 2
	MaxProxySinkGroups      = 2
	MaxProxyTableAttrLength = 75
)

// LightweightSink is a sink reached by lightweight unicast.
type LightweightSink struct {
	IEEE uint64 `json:"ieee"`
	Nwk  uint16 `json:"nwk"`
}

// SinkGroup is a groupcast destination with the alias used to send to it.
// Alias 0xFFFF means "use the derived alias".
type SinkGroup struct {
	GroupID uint16 `json:"group_id"`
	Alias   uint16 `json:"alias"`
}

// ProxyOptions is the proxy entry options bitmap without the app id.
type ProxyOptions struct {
	EntryActive         bool `json:"entry_active"`
	EntryValid          bool `json:"entry_valid"`
	SeqNumCap           bool `json:"seq_num_cap"`
	LightweightUnicast  bool `json:"lightweight_unicast"`
	DerivedGroup        bool `json:"derived_group"`
	CommGroup           bool `json:"comm_group"`
	FirstToForward      bool `json:"first_to_forward"`
	InRange             bool `json:"in_range"`
	GpdFixed            bool `json:"gpd_fixed"`
	HasAllUnicastRoutes bool `json:"has_all_unicast_routes"`
	AssignedAlias       bool `json:"assigned_alias"`
	SecUse              bool `json:"sec_use"`
}

func (o ProxyOptions) encode(app AppID) uint16 {
	v := uint32(app) & 0x7
	v |= boolBit(o.EntryActive, 3)
	v |= boolBit(o.EntryValid, 4)
	v |= boolBit(o.SeqNumCap, 5)
	v |= boolBit(o.LightweightUnicast, 6)
	v |= boolBit(o.DerivedGroup, 7)
	v |= boolBit(o.CommGroup, 8)
	v |= boolBit(o.FirstToForward, 9)
	v |= boolBit(o.InRange, 10)
	v |= boolBit(o.GpdFixed, 11)
	v |= boolBit(o.HasAllUnicastRoutes, 12)
	v |= boolBit(o.AssignedAlias, 13)
	v |= boolBit(o.SecUse, 14)
	return uint16(v)
}

func decodeProxyOptions(raw uint16) (AppID, ProxyOptions) {
	v := uint32(raw)
	return AppID(v & 0x7), ProxyOptions{
		EntryActive:         bit(v, 3),
		EntryValid:          bit(v, 4),
		SeqNumCap:           bit(v, 5),
		LightweightUnicast:  bit(v, 6),
		DerivedGroup:        bit(v, 7),
		CommGroup:           bit(v, 8),
		FirstToForward:      bit(v, 9),
		InRange:             bit(v, 10),
		GpdFixed:            bit(v, 11),
		HasAllUnicastRoutes: bit(v, 12),
		AssignedAlias:       bit(v, 13),
		SecUse:              bit(v, 14),
	}
}

// ProxyEntry is one proxy table entry.
type ProxyEntry struct {
	ID               GpdID             `json:"gpd_id"`
	Endpoint         uint8             `json:"endpoint"`
	Options          ProxyOptions      `json:"options"`
	SecLevel         SecLevel          `json:"sec_level"`
	KeyType          KeyType           `json:"key_type"`
	FrameCounter     uint32            `json:"frame_counter"`
	Key              Key               `json:"-"`
	AssignedAlias    uint16            `json:"assigned_alias"`
	GroupcastRadius  uint8             `json:"groupcast_radius"`
	SearchCount      uint8             `json:"search_count"`
	LightweightSinks []LightweightSink `json:"lightweight_sinks,omitempty"`
	SinkGroups       []SinkGroup       `json:"sink_groups,omitempty"`
}

func newProxyEntry() *ProxyEntry {
	return &ProxyEntry{FrameCounter: 0xFFFFFFFF, GroupcastRadius: 0xFF}
}

func (e *ProxyEntry) clone() ProxyEntry {
	c := *e
	c.LightweightSinks = append([]LightweightSink(nil), e.LightweightSinks...)
	c.SinkGroups = append([]SinkGroup(nil), e.SinkGroups...)
	return c
}

func (e *ProxyEntry) addLightweightSink(ieee uint64, nwk uint16) error {
	for _, s := range e.LightweightSinks {
		if s.IEEE == ieee && s.Nwk == nwk {
			return nil
		}
	}
	if len(e.LightweightSinks) >= MaxLightweightSinks {
		return fmt.Errorf("lightweight sink list of %s: %w", e.ID, ErrInsufficientSpace)
	}
	e.LightweightSinks = append(e.LightweightSinks, LightweightSink{IEEE: ieee, Nwk: nwk})
	return nil
}

func (e *ProxyEntry) removeLightweightSink(ieee uint64, nwk uint16) error {
	for i, s := range e.LightweightSinks {
		if s.IEEE == ieee && s.Nwk == nwk {
			last := len(e.LightweightSinks) - 1
			e.LightweightSinks[i] = e.LightweightSinks[last]
			e.LightweightSinks = e.LightweightSinks[:last]
			return nil
		}
	}
	return fmt.Errorf("lightweight sink 0x%016X of %s: %w", ieee, e.ID, ErrNotFound)
}

func (e *ProxyEntry) addSinkGroup(group, alias uint16) error {
	for i := range e.SinkGroups {
		if e.SinkGroups[i].GroupID == group {
			e.SinkGroups[i].Alias = alias
			return nil
		}
	}
	if len(e.SinkGroups) >= MaxProxySinkGroups {
		return fmt.Errorf("sink group list of %s: %w", e.ID, ErrInsufficientSpace)
	}
	e.SinkGroups = append(e.SinkGroups, SinkGroup{GroupID: group, Alias: alias})
	return nil
}

func (e *ProxyEntry) removeSinkGroup(group uint16) error {
	for i, g := range e.SinkGroups {
		if g.GroupID == group {
			last := len(e.SinkGroups) - 1
			e.SinkGroups[i] = e.SinkGroups[last]
			e.SinkGroups = e.SinkGroups[:last]
			return nil
		}
	}
	return fmt.Errorf("sink group 0x%04X of %s: %w", group, e.ID, ErrNotFound)
}

func (e *ProxyEntry) hasForwardingMode() bool {
	return e.Options.LightweightUnicast || e.Options.CommGroup || e.Options.DerivedGroup
}

// SerializedLen returns the length of the entry in the proxy table
// attribute and Proxy Table Response format.
func (e *ProxyEntry) SerializedLen() int {
	return len(e.AppendWire(nil))
}

// AppendWire appends the entry in proxy table attribute format.
func (e *ProxyEntry) AppendWire(b []byte) []byte {
	o := e.Options
	b = putU16(b, o.encode(e.ID.App))
	b = e.ID.appendTo(b, e.Endpoint)
	if o.AssignedAlias {
		b = putU16(b, e.AssignedAlias)
	}
	if o.SecUse {
		b = append(b, secOptions(e.SecLevel, e.KeyType))
	}
	if o.SecUse || o.SeqNumCap {
		b = putU32(b, e.FrameCounter)
	}
	if o.SecUse {
		b = append(b, e.Key[:]...)
	}
	if o.LightweightUnicast {
		b = append(b, uint8(len(e.LightweightSinks)))
		for _, s := range e.LightweightSinks {
			b = putU64(b, s.IEEE)
			b = putU16(b, s.Nwk)
		}
	}
	if o.CommGroup {
		b = append(b, uint8(len(e.SinkGroups)))
		for _, g := range e.SinkGroups {
			b = putU16(b, g.GroupID)
			b = putU16(b, g.Alias)
		}
	}
	b = append(b, e.GroupcastRadius)
	if !o.EntryActive || !o.EntryValid {
		b = append(b, e.SearchCount)
	}
	return b
}

// DecodeProxyEntry parses one entry in proxy table attribute format and
// returns it with the number of bytes consumed.
func DecodeProxyEntry(buf []byte) (ProxyEntry, int, error) {
	r := newReader(buf)
	e := decodeProxyEntry(r)
	if r.err != nil {
		return ProxyEntry{}, 0, fmt.Errorf("decode proxy entry: %w", r.err)
	}
	return e, r.off, nil
}

func decodeProxyEntry(r *reader) ProxyEntry {
	var e ProxyEntry
	app, o := decodeProxyOptions(r.u16())
	e.Options = o
	e.ID, e.Endpoint = readGpdID(r, app)
	if o.AssignedAlias {
		e.AssignedAlias = r.u16()
	}
	if o.SecUse {
		e.SecLevel, e.KeyType = splitSecOptions(r.u8())
	}
	if o.SecUse || o.SeqNumCap {
		e.FrameCounter = r.u32()
	}
	if o.SecUse {
		e.Key = r.key()
	}
	if o.LightweightUnicast {
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			e.LightweightSinks = append(e.LightweightSinks, LightweightSink{IEEE: r.u64(), Nwk: r.u16()})
		}
	}
	if o.CommGroup {
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			e.SinkGroups = append(e.SinkGroups, SinkGroup{GroupID: r.u16(), Alias: r.u16()})
		}
	}
	e.GroupcastRadius = r.u8()
	if !o.EntryActive || !o.EntryValid {
		e.SearchCount = r.u8()
	}
	return e
}

func secOptions(level SecLevel, kt KeyType) uint8 {
	return uint8(level)&0x3 | (uint8(kt)&0x7)<<2
}

func splitSecOptions(v uint8) (SecLevel, KeyType) {
	return SecLevel(v & 0x3), KeyType(v >> 2 & 0x7)
}

// ProxyTable is a fixed-capacity arena of proxy entries addressed by slot
// index. Free slots are nil.
type ProxyTable struct {
	slots []*ProxyEntry
	n     int
}

// NewProxyTable creates an empty table with the given capacity.
func NewProxyTable(capacity int) *ProxyTable {
	if capacity <= 0 {
		capacity = DefaultMaxProxyEntries
	}
	return &ProxyTable{slots: make([]*ProxyEntry, capacity)}
}

// Cap returns the table capacity.
func (t *ProxyTable) Cap() int { return len(t.slots) }

// Len returns the number of used entries.
func (t *ProxyTable) Len() int { return t.n }

// Find returns the entry for a GPD, matched exactly on app id and identifier.
func (t *ProxyTable) Find(id GpdID) (*ProxyEntry, bool) {
	if t.n == 0 {
		return nil, false
	}
	for _, e := range t.slots {
		if e != nil && e.ID.Equal(id) {
			return e, true
		}
	}
	return nil, false
}

// Allocate places a fresh entry in a free slot.
func (t *ProxyTable) Allocate() (*ProxyEntry, error) {
	if t.n >= len(t.slots) {
		return nil, fmt.Errorf("proxy table (%d entries): %w", len(t.slots), ErrCapacityExceeded)
	}
	for i, e := range t.slots {
		if e == nil {
			ne := newProxyEntry()
			t.slots[i] = ne
			t.n++
			return ne, nil
		}
	}
	return nil, fmt.Errorf("proxy table: %w", ErrCapacityExceeded)
}

// Remove clears the entry for a GPD.
func (t *ProxyTable) Remove(id GpdID) bool {
	for i, e := range t.slots {
		if e != nil && e.ID.Equal(id) {
			t.slots[i] = nil
			t.n--
			return true
		}
	}
	return false
}

func (t *ProxyTable) removeEntry(target *ProxyEntry) {
	for i, e := range t.slots {
		if e == target {
			t.slots[i] = nil
			t.n--
			return
		}
	}
}

// Each calls fn for every used entry in slot order.
func (t *ProxyTable) Each(fn func(e *ProxyEntry)) {
	for _, e := range t.slots {
		if e != nil {
			fn(e)
		}
	}
}

// Entries returns copies of all used entries in slot order.
func (t *ProxyTable) Entries() []ProxyEntry {
	out := make([]ProxyEntry, 0, t.n)
	t.Each(func(e *ProxyEntry) { out = append(out, e.clone()) })
	return out
}

// ApplyPairing updates the table from a GP Pairing command received by the
// proxy. Adds merge the forwarding mode into the entry; removes drop only
// the referenced sub-list item and clear the entry once no forwarding mode
// remains.
func (t *ProxyTable) ApplyPairing(p *Pairing) error {
	entry, found := t.Find(p.ID)

	if p.RemoveGPD {
		if !found {
			return fmt.Errorf("remove gpd %s: %w", p.ID, ErrNotFound)
		}
		t.removeEntry(entry)
		return nil
	}
	if p.CommMode == CommModeFullUnicast {
		return fmt.Errorf("pairing comm mode %s: %w", p.CommMode, ErrInvalidField)
	}
	if p.SecLevel == SecLevelReserved {
		return fmt.Errorf("pairing security level %d: %w", p.SecLevel, ErrInvalidField)
	}

	if !found {
		if !p.AddSink {
			return fmt.Errorf("remove sink for %s: %w", p.ID, ErrNotFound)
		}
		var err error
		if entry, err = t.Allocate(); err != nil {
			return err
		}
		if err := t.pairingAdd(entry, p); err != nil {
			t.removeEntry(entry)
			return err
		}
		return nil
	}
	if p.AddSink {
		return t.pairingAdd(entry, p)
	}
	return t.pairingRemove(entry, p)
}

func (t *ProxyTable) pairingAdd(e *ProxyEntry, p *Pairing) error {
	switch p.CommMode {
	case CommModeLightweightUni:
		if err := e.addLightweightSink(p.SinkIEEE, p.SinkNwk); err != nil {
			return err
		}
	case CommModePrecommGroup:
		alias := uint16(0xFFFF)
		if p.AssignedAliasPresent {
			alias = p.AssignedAlias
		}
		if err := e.addSinkGroup(p.SinkGroupID, alias); err != nil {
			return err
		}
	case CommModeDerivedGroup:
		e.Options.AssignedAlias = p.AssignedAliasPresent
		e.AssignedAlias = p.AssignedAlias
	}

	o := &e.Options
	o.EntryActive = true
	o.EntryValid = true
	o.SeqNumCap = o.SeqNumCap || p.SeqNumCap
	o.LightweightUnicast = o.LightweightUnicast || p.CommMode == CommModeLightweightUni
	o.DerivedGroup = o.DerivedGroup || p.CommMode == CommModeDerivedGroup
	o.CommGroup = o.CommGroup || p.CommMode == CommModePrecommGroup
	o.FirstToForward = false
	o.InRange = false
	o.GpdFixed = o.GpdFixed || p.GpdFixed
	o.SecUse = p.SecLevel > SecLevelReserved

	e.ID = p.ID
	e.Endpoint = p.Endpoint
	e.SecLevel = p.SecLevel
	e.KeyType = p.KeyType
	e.FrameCounter = p.FrameCounter
	e.Key = p.Key
	if p.GroupcastRadiusPresent {
		e.GroupcastRadius = p.GroupcastRadius
	}
	e.SearchCount = 0
	return nil
}

func (t *ProxyTable) pairingRemove(e *ProxyEntry, p *Pairing) error {
	switch p.CommMode {
	case CommModeLightweightUni:
		if err := e.removeLightweightSink(p.SinkIEEE, p.SinkNwk); err != nil {
			return err
		}
		if len(e.LightweightSinks) == 0 {
			e.Options.LightweightUnicast = false
		}
	case CommModePrecommGroup:
		if err := e.removeSinkGroup(p.SinkGroupID); err != nil {
			return err
		}
		if len(e.SinkGroups) == 0 {
			e.Options.CommGroup = false
		}
	case CommModeDerivedGroup:
		e.Options.DerivedGroup = false
	}
	if !e.hasForwardingMode() {
		t.removeEntry(e)
	}
	return nil
}

// AttrImage returns the proxy table attribute value: a 2-byte length
// followed by as many whole entries as fit in MaxProxyTableAttrLength.
func (t *ProxyTable) AttrImage() []byte {
	_, body := pageRecords(t.records(), 0, MaxProxyTableAttrLength)
	return append(putU16(nil, uint16(len(body))), body...)
}

func (t *ProxyTable) records() [][]byte {
	var recs [][]byte
	t.Each(func(e *ProxyEntry) { recs = append(recs, e.AppendWire(nil)) })
	return recs
}

// TotalSerializedLen is the length of all entries in wire format.
func (t *ProxyTable) TotalSerializedLen() int {
	total := 0
	t.Each(func(e *ProxyEntry) { total += e.SerializedLen() })
	return total
}

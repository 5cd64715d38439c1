package gp

import (
	"fmt"
)

// Sink table limits.
const (
	DefaultMaxSinkEntries  = 5
	MaxSinkGroups          = 2
	MaxSinkTableAttrLength = 90
)

// SinkOptions is the sink entry options bitmap without the app id.
type SinkOptions struct {
	CommMode      CommMode `json:"comm_mode"`
	SeqNumCap     bool     `json:"seq_num_cap"`
	RxOnCap       bool     `json:"rx_on_cap"`
	FixedLocation bool     `json:"fixed_location"`
	AssignedAlias bool     `json:"assigned_alias"`
	SecUse        bool     `json:"sec_use"`
}

func (o SinkOptions) encode(app AppID) uint16 {
	v := uint32(app) & 0x7
	v |= (uint32(o.CommMode) & 0x3) << 3
	v |= boolBit(o.SeqNumCap, 5)
	v |= boolBit(o.RxOnCap, 6)
	v |= boolBit(o.FixedLocation, 7)
	v |= boolBit(o.AssignedAlias, 8)
	v |= boolBit(o.SecUse, 9)
	return uint16(v)
}

func decodeSinkOptions(raw uint16) (AppID, SinkOptions) {
	v := uint32(raw)
	return AppID(v & 0x7), SinkOptions{
		CommMode:      CommMode(v >> 3 & 0x3),
		SeqNumCap:     bit(v, 5),
		RxOnCap:       bit(v, 6),
		FixedLocation: bit(v, 7),
		AssignedAlias: bit(v, 8),
		SecUse:        bit(v, 9),
	}
}

// SinkEntry is one sink table entry. Complete is false while the GPD is a
// commissioning candidate.
type SinkEntry struct {
	ID              GpdID       `json:"gpd_id"`
	Endpoint        uint8       `json:"endpoint"`
	Options         SinkOptions `json:"options"`
	DeviceID        uint8       `json:"device_id"`
	SecLevel        SecLevel    `json:"sec_level"`
	KeyType         KeyType     `json:"key_type"`
	FrameCounter    uint32      `json:"frame_counter"`
	Key             Key         `json:"-"`
	GroupcastRadius uint8       `json:"groupcast_radius"`
	AssignedAlias   uint16      `json:"assigned_alias"`
	Groups          []SinkGroup `json:"groups,omitempty"`
	Complete        bool        `json:"complete"`

	// Commissioning Reply material decided during commissioning.
	ReplyIncludeKey bool `json:"-"`
	ReplyEncrypt    bool `json:"-"`
}

func newSinkEntry() *SinkEntry {
	return &SinkEntry{FrameCounter: 0xFFFFFFFF, GroupcastRadius: 0xFF, AssignedAlias: 0xFFFF}
}

func (e *SinkEntry) clone() SinkEntry {
	c := *e
	c.Groups = append([]SinkGroup(nil), e.Groups...)
	return c
}

// Alias returns the NWK alias the GPD is represented by.
func (e *SinkEntry) Alias() uint16 {
	return entryAlias(e.ID, e.Options.AssignedAlias, e.AssignedAlias)
}

// addGroup appends a group unless present or the list is full.
func (e *SinkEntry) addGroup(group, alias uint16) bool {
	for _, g := range e.Groups {
		if g.GroupID == group {
			return false
		}
	}
	if len(e.Groups) >= MaxSinkGroups {
		return false
	}
	e.Groups = append(e.Groups, SinkGroup{GroupID: group, Alias: alias})
	return true
}

// SerializedLen returns the entry length in sink table attribute format.
func (e *SinkEntry) SerializedLen() int {
	return len(e.AppendWire(nil))
}

// AppendWire appends the entry in sink table attribute format.
func (e *SinkEntry) AppendWire(b []byte) []byte {
	o := e.Options
	b = putU16(b, o.encode(e.ID.App))
	b = e.ID.appendTo(b, e.Endpoint)
	b = append(b, e.DeviceID)
	if o.CommMode == CommModePrecommGroup {
		b = append(b, uint8(len(e.Groups)))
		for _, g := range e.Groups {
			b = putU16(b, g.GroupID)
			b = putU16(b, g.Alias)
		}
	}
	if o.AssignedAlias {
		b = putU16(b, e.AssignedAlias)
	}
	b = append(b, e.GroupcastRadius)
	if o.SecUse {
		b = append(b, secOptions(e.SecLevel, e.KeyType))
	}
	if o.SecUse || o.SeqNumCap {
		b = putU32(b, e.FrameCounter)
	}
	if o.SecUse {
		b = append(b, e.Key[:]...)
	}
	return b
}

// DecodeSinkEntry parses one entry in sink table attribute format and
// returns it with the number of bytes consumed. Decoded entries are
// complete.
func DecodeSinkEntry(buf []byte) (SinkEntry, int, error) {
	r := newReader(buf)
	e := decodeSinkEntry(r)
	if r.err != nil {
		return SinkEntry{}, 0, fmt.Errorf("decode sink entry: %w", r.err)
	}
	return e, r.off, nil
}

func decodeSinkEntry(r *reader) SinkEntry {
	e := SinkEntry{Complete: true, AssignedAlias: 0xFFFF, FrameCounter: 0xFFFFFFFF}
	app, o := decodeSinkOptions(r.u16())
	e.Options = o
	e.ID, e.Endpoint = readGpdID(r, app)
	e.DeviceID = r.u8()
	if o.CommMode == CommModePrecommGroup {
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			e.Groups = append(e.Groups, SinkGroup{GroupID: r.u16(), Alias: r.u16()})
		}
	}
	if o.AssignedAlias {
		e.AssignedAlias = r.u16()
	}
	e.GroupcastRadius = r.u8()
	if o.SecUse {
		e.SecLevel, e.KeyType = splitSecOptions(r.u8())
	}
	if o.SecUse || o.SeqNumCap {
		e.FrameCounter = r.u32()
	}
	if o.SecUse {
		e.Key = r.key()
	}
	return e
}

// SinkTable is a fixed-capacity arena of sink entries addressed by slot
// index. Free slots are nil.
type SinkTable struct {
	slots []*SinkEntry
	n     int
}

// NewSinkTable creates an empty table with the given capacity.
func NewSinkTable(capacity int) *SinkTable {
	if capacity <= 0 {
		capacity = DefaultMaxSinkEntries
	}
	return &SinkTable{slots: make([]*SinkEntry, capacity)}
}

// Cap returns the table capacity.
func (t *SinkTable) Cap() int { return len(t.slots) }

// Len returns the number of used entries.
func (t *SinkTable) Len() int { return t.n }

// Find returns the entry for a GPD, matched on app id and identifier.
func (t *SinkTable) Find(id GpdID) (*SinkEntry, bool) {
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

// FindEndpoint is Find with the IEEE endpoint check applied: an entry whose
// endpoint differs from a concrete ep is not returned.
func (t *SinkTable) FindEndpoint(id GpdID, ep uint8) (*SinkEntry, bool) {
	e, ok := t.Find(id)
	if !ok {
		return nil, false
	}
	if id.App == AppIDGPD && ep != e.Endpoint && ep != 0x00 && ep != 0xFF {
		return nil, false
	}
	return e, true
}

// FindMode is FindEndpoint restricted to one communication mode.
func (t *SinkTable) FindMode(id GpdID, ep uint8, mode CommMode) (*SinkEntry, bool) {
	e, ok := t.FindEndpoint(id, ep)
	if !ok || e.Options.CommMode != mode {
		return nil, false
	}
	return e, true
}

// Allocate places a fresh incomplete entry in a free slot.
func (t *SinkTable) Allocate() (*SinkEntry, error) {
	if t.n >= len(t.slots) {
		return nil, fmt.Errorf("sink table (%d entries): %w", len(t.slots), ErrCapacityExceeded)
	}
	for i, e := range t.slots {
		if e == nil {
			ne := newSinkEntry()
			t.slots[i] = ne
			t.n++
			return ne, nil
		}
	}
	return nil, fmt.Errorf("sink table: %w", ErrCapacityExceeded)
}

// RemoveMatching removes every entry for the GPD whose endpoint matches ep
// (0x00 and 0xFF are wildcards) and returns copies of what was removed.
func (t *SinkTable) RemoveMatching(id GpdID, ep uint8) []SinkEntry {
	var removed []SinkEntry
	for i, e := range t.slots {
		if e == nil || !e.ID.Equal(id) || !endpointMatches(id.App, e.Endpoint, ep) {
			continue
		}
		removed = append(removed, e.clone())
		t.slots[i] = nil
		t.n--
	}
	return removed
}

// Incomplete returns copies of the entries still being commissioned.
func (t *SinkTable) Incomplete() []SinkEntry {
	var out []SinkEntry
	t.Each(func(e *SinkEntry) {
		if !e.Complete {
			out = append(out, e.clone())
		}
	})
	return out
}

// Each calls fn for every used entry in slot order.
func (t *SinkTable) Each(fn func(e *SinkEntry)) {
	for _, e := range t.slots {
		if e != nil {
			fn(e)
		}
	}
}

// Entries returns copies of all used entries in slot order.
func (t *SinkTable) Entries() []SinkEntry {
	out := make([]SinkEntry, 0, t.n)
	t.Each(func(e *SinkEntry) { out = append(out, e.clone()) })
	return out
}

// AttrImage returns the sink table attribute value: a 2-byte length
// followed by as many whole entries as fit in MaxSinkTableAttrLength.
func (t *SinkTable) AttrImage() []byte {
	_, body := pageRecords(t.records(), 0, MaxSinkTableAttrLength)
	return append(putU16(nil, uint16(len(body))), body...)
}

func (t *SinkTable) records() [][]byte {
	var recs [][]byte
	t.Each(func(e *SinkEntry) { recs = append(recs, e.AppendWire(nil)) })
	return recs
}

// pageRecords concatenates records from index start on while the total
// stays below limit, and returns how many were taken.
func pageRecords(recs [][]byte, start, limit int) (int, []byte) {
	var body []byte
	n := 0
	for i := start; i < len(recs); i++ {
		if len(body)+len(recs[i]) >= limit {
			break
		}
		body = append(body, recs[i]...)
		n++
	}
	return n, body
}

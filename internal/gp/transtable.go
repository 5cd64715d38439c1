package gp

import (
	"fmt"
)

// Translation table limits.
const (
	DefaultMaxTransEntries   = 5
	MaxTransPayload          = 8
	MaxTransTableAttrLength  = 50
	MaxTranslationsPerUpdate = 7
)

// Outbound payload length markers.
const (
	PayloadFromGPD   uint8 = 0xFE // forward the GPD command payload
	PayloadUnparsed  uint8 = 0xFF // forward the GPD command payload unparsed
	zclCmdReportAttr uint8 = 0x0A
	zclCmdNone       uint8 = 0xFF
	addInfoCompact   uint8 = 0x0
	addInfoVector    uint8 = 0x1
	compactReportLen       = 10 // reportId..manuId
)

// CompactReport describes where one attribute lives inside a compact
// attribute report (GPD command 0xA8).
type CompactReport struct {
	ReportID      uint8  `json:"report_id"`
	AttrOffset    uint8  `json:"attr_offset"`
	Cluster       uint16 `json:"cluster"`
	AttrID        uint16 `json:"attr_id"`
	DataType      uint8  `json:"data_type"`
	ClientSide    bool   `json:"client_side"`
	ManuIDPresent bool   `json:"manu_id_present"`
	ManuID        uint16 `json:"manu_id,omitempty"`
}

// SwitchRecord describes a generic switch (8-bit vector commands).
type SwitchRecord struct {
	ContactStatus  uint8 `json:"contact_status"`
	ContactBitmask uint8 `json:"contact_bitmask"`
	Config         uint8 `json:"config"`
}

// TransEntry is one translation table entry.
type TransEntry struct {
	ID          GpdID  `json:"gpd_id"`
	GpdEndpoint uint8  `json:"gpd_endpoint"`
	GpdCommand  uint8  `json:"gpd_command"`
	Endpoint    uint8  `json:"endpoint"`
	Profile     uint16 `json:"profile"`
	Cluster     uint16 `json:"cluster"`
	ZbCommand   uint8  `json:"zb_command"`
	PayloadLen  uint8  `json:"payload_len"`
	Payload     []byte `json:"payload,omitempty"`

	AddInfoPresent bool           `json:"add_info_present"`
	Report         *CompactReport `json:"report,omitempty"`
	Switch         *SwitchRecord  `json:"switch,omitempty"`
}

func (e *TransEntry) clone() TransEntry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.Report != nil {
		r := *e.Report
		c.Report = &r
	}
	if e.Switch != nil {
		s := *e.Switch
		c.Switch = &s
	}
	return c
}

func payloadInline(n uint8) bool {
	return n != 0 && n != PayloadFromGPD && n != PayloadUnparsed
}

func isVectorCmd(cmd uint8) bool {
	return cmd == CmdVectorPress || cmd == CmdVectorRelease
}

func usesReportRecord(cmd uint8) bool {
	return cmd == CmdAnySensorReport || isReportCmd(cmd)
}

// appendAddInfo appends the option record, selector first.
func (e *TransEntry) appendAddInfo(b []byte) []byte {
	switch {
	case usesReportRecord(e.GpdCommand) && e.Report != nil:
		r := e.Report
		optLen := uint8(compactReportLen - 1)
		if !r.ManuIDPresent {
			optLen -= 2
		}
		b = append(b, optLen&0x0F|addInfoCompact<<4, r.ReportID, r.AttrOffset)
		b = putU16(b, r.Cluster)
		b = putU16(b, r.AttrID)
		b = append(b, r.DataType, uint8(boolBit(r.ClientSide, 0)|boolBit(r.ManuIDPresent, 1)))
		if r.ManuIDPresent {
			b = putU16(b, r.ManuID)
		}
	case isVectorCmd(e.GpdCommand) && e.Switch != nil:
		b = append(b, 1|addInfoVector<<4, e.Switch.ContactStatus, e.Switch.ContactBitmask)
	}
	return b
}

// parseAddInfo reads an option record for a GPD command. Unknown records
// are ignored.
func parseAddInfo(e *TransEntry, info []byte) error {
	if len(info) == 0 {
		e.Report, e.Switch = nil, nil
		return nil
	}
	r := newReader(info)
	r.u8() // selector
	switch {
	case usesReportRecord(e.GpdCommand):
		rep := CompactReport{ReportID: r.u8(), AttrOffset: r.u8(), Cluster: r.u16(), AttrID: r.u16(), DataType: r.u8()}
		opt := uint32(r.u8())
		rep.ClientSide = bit(opt, 0)
		rep.ManuIDPresent = bit(opt, 1)
		if rep.ManuIDPresent {
			rep.ManuID = r.u16()
		}
		e.Report = &rep
	case isVectorCmd(e.GpdCommand):
		e.Switch = &SwitchRecord{ContactStatus: r.u8(), ContactBitmask: r.u8()}
	}
	if r.err != nil {
		return fmt.Errorf("translation additional info: %w", r.err)
	}
	return nil
}

// AppendWire appends the entry in translation table response format.
func (e *TransEntry) AppendWire(b []byte) []byte {
	return e.appendWire(b, e.AddInfoPresent)
}

// appendWire encodes the entry; with addInfo set a length-prefixed option
// record follows, empty when the entry carries none.
func (e *TransEntry) appendWire(b []byte, addInfo bool) []byte {
	b = e.ID.appendTo(b, e.GpdEndpoint)
	b = append(b, e.GpdCommand, e.Endpoint)
	b = putU16(b, e.Profile)
	b = putU16(b, e.Cluster)
	b = append(b, e.ZbCommand, e.PayloadLen)
	if payloadInline(e.PayloadLen) {
		b = append(b, e.Payload...)
	}
	if addInfo {
		at := len(b)
		b = append(b, 0)
		if e.AddInfoPresent {
			b = e.appendAddInfo(b)
		}
		b[at] = uint8(len(b) - at - 1)
	}
	return b
}

// SerializedLen returns the entry length in translation table format.
func (e *TransEntry) SerializedLen() int {
	return len(e.AppendWire(nil))
}

// DecodeTransEntry parses one translation table entry. The app id and the
// additional-info flag are carried once per response.
func DecodeTransEntry(buf []byte, app AppID, addInfo bool) (TransEntry, int, error) {
	r := newReader(buf)
	e := decodeTransEntry(r, app, addInfo)
	if r.err != nil {
		return TransEntry{}, 0, fmt.Errorf("decode translation entry: %w", r.err)
	}
	return e, r.off, nil
}

func decodeTransEntry(r *reader, app AppID, addInfo bool) TransEntry {
	var e TransEntry
	e.ID, e.GpdEndpoint = readGpdID(r, app)
	e.GpdCommand = r.u8()
	e.Endpoint = r.u8()
	e.Profile = r.u16()
	e.Cluster = r.u16()
	e.ZbCommand = r.u8()
	e.PayloadLen = r.u8()
	if payloadInline(e.PayloadLen) {
		e.Payload = r.bytes(int(e.PayloadLen))
	}
	if addInfo {
		n := int(r.u8())
		if n > 0 {
			e.AddInfoPresent = true
			if err := parseAddInfo(&e, r.bytes(n)); err != nil {
				r.fail(err)
			}
		}
	}
	return e
}

// TransQuery selects translation entries. Wildcards: GpdEndpoint 0x00 or
// 0xFF, Endpoint 0xFD..0xFF, Cluster and Profile 0xFFFF, ReportID 0xFF and
// AttrID 0xFFFF.
type TransQuery struct {
	ID          GpdID
	GpdEndpoint uint8
	GpdCommand  uint8
	Endpoint    uint8
	Cluster     uint16
	Profile     uint16
	ReportID    uint8
	AttrID      uint16
}

// AnyTarget returns a query for a GPD command with every target field
// wildcarded.
func AnyTarget(id GpdID, ep, cmd uint8) TransQuery {
	return TransQuery{ID: id, GpdEndpoint: ep, GpdCommand: cmd, Endpoint: 0xFF, Cluster: 0xFFFF, Profile: 0xFFFF, ReportID: 0xFF, AttrID: 0xFFFF}
}

func (e *TransEntry) gpdMatches(q TransQuery) bool {
	if e.ID.App != q.ID.App {
		return false
	}
	switch q.ID.App {
	case AppIDSrcID:
		return e.ID.SrcID == q.ID.SrcID || e.ID.SrcID == SrcIDWildcard
	case AppIDGPD:
		if !endpointMatches(AppIDGPD, e.GpdEndpoint, q.GpdEndpoint) {
			return false
		}
		return e.ID.IEEE == q.ID.IEEE || e.ID.IEEE == IEEEWildcard
	}
	return false
}

func (e *TransEntry) matches(q TransQuery) bool {
	if !e.gpdMatches(q) {
		return false
	}
	if e.Profile != q.Profile && q.Profile != 0xFFFF {
		return false
	}
	if e.Endpoint != q.Endpoint && q.Endpoint < 0xFD {
		return false
	}
	if e.Cluster != q.Cluster && e.Cluster != 0xFFFF && q.Cluster != 0xFFFF {
		return false
	}
	if !isReportCmd(q.GpdCommand) {
		return e.GpdCommand == q.GpdCommand
	}
	if e.GpdCommand != q.GpdCommand && e.GpdCommand != CmdAnySensorReport {
		return false
	}
	var rep CompactReport
	if e.Report != nil {
		rep = *e.Report
	}
	return (rep.ReportID == q.ReportID || q.ReportID == 0xFF) &&
		(rep.Cluster == q.Cluster || q.Cluster == 0xFFFF) &&
		(rep.AttrID == q.AttrID || q.AttrID == 0xFFFF)
}

// TransAction is the Translation Table Update action.
type TransAction uint8

const (
	TransAdd     TransAction = 0
	TransReplace TransAction = 1
	TransRemove  TransAction = 2
)

// Translation is one translation carried by a Translation Table Update.
type Translation struct {
	Index      uint8
	GpdCommand uint8
	Endpoint   uint8
	Profile    uint16
	Cluster    uint16
	ZbCommand  uint8
	PayloadLen uint8
	Payload    []byte
	AddInfo    []byte
}

func (tr *Translation) query(id GpdID, ep uint8) TransQuery {
	return TransQuery{
		ID: id, GpdEndpoint: ep, GpdCommand: tr.GpdCommand, Endpoint: tr.Endpoint,
		Cluster: tr.Cluster, Profile: tr.Profile, ReportID: 0xFF, AttrID: 0xFFFF,
	}
}

// TransTable is a fixed-capacity arena of translation entries.
type TransTable struct {
	slots   []*TransEntry
	n       int
	classes []DeviceClassRow
}

// NewTransTable creates an empty table. A nil classes slice selects the
// built-in device classes.
func NewTransTable(capacity int, classes []DeviceClassRow) *TransTable {
	if capacity <= 0 {
		capacity = DefaultMaxTransEntries
	}
	if classes == nil {
		classes = DefaultDeviceClasses()
	}
	return &TransTable{slots: make([]*TransEntry, capacity), classes: classes}
}

// Cap returns the table capacity.
func (t *TransTable) Cap() int { return len(t.slots) }

// Len returns the number of used entries.
func (t *TransTable) Len() int { return t.n }

// Find returns the first entry matching q in slot order.
func (t *TransTable) Find(q TransQuery) (*TransEntry, bool) {
	if t.n == 0 {
		return nil, false
	}
	for _, e := range t.slots {
		if e != nil && e.matches(q) {
			return e, true
		}
	}
	return nil, false
}

// FindAll returns every entry matching q in slot order.
func (t *TransTable) FindAll(q TransQuery) []*TransEntry {
	var out []*TransEntry
	for _, e := range t.slots {
		if e != nil && e.matches(q) {
			out = append(out, e)
		}
	}
	return out
}

func (t *TransTable) allocate(id GpdID, ep uint8) (*TransEntry, error) {
	if t.n >= len(t.slots) {
		return nil, fmt.Errorf("translation table (%d entries): %w", len(t.slots), ErrCapacityExceeded)
	}
	for i, e := range t.slots {
		if e == nil {
			ne := &TransEntry{ID: id}
			if id.App == AppIDGPD {
				ne.GpdEndpoint = ep
			}
			t.slots[i] = ne
			t.n++
			return ne, nil
		}
	}
	return nil, fmt.Errorf("translation table: %w", ErrCapacityExceeded)
}

func (t *TransTable) clear(target *TransEntry) {
	for i, e := range t.slots {
		if e == target {
			t.slots[i] = nil
			t.n--
			return
		}
	}
}

// RemoveGPD removes every entry belonging to a GPD (exact identifier, with
// endpoint wildcards) and returns how many were removed.
func (t *TransTable) RemoveGPD(id GpdID, ep uint8) int {
	removed := 0
	for i, e := range t.slots {
		if e == nil || !e.ID.Equal(id) || !endpointMatches(id.App, e.GpdEndpoint, ep) {
			continue
		}
		t.slots[i] = nil
		t.n--
		removed++
	}
	return removed
}

// References reports whether any entry belongs to the GPD.
func (t *TransTable) References(id GpdID) bool {
	for _, e := range t.slots {
		if e != nil && e.ID.Equal(id) {
			return true
		}
	}
	return false
}

// Upsert applies one translation. Remove deletes every entry matching the
// translation key; Add always allocates; Replace overwrites the first match
// or allocates.
func (t *TransTable) Upsert(id GpdID, ep uint8, action TransAction, tr *Translation) error {
	q := tr.query(id, ep)
	var e *TransEntry
	switch action {
	case TransRemove:
		matches := t.FindAll(q)
		if len(matches) == 0 {
			return fmt.Errorf("translation %s cmd 0x%02X: %w", id, tr.GpdCommand, ErrNotFound)
		}
		for _, m := range matches {
			t.clear(m)
		}
		return nil
	case TransAdd:
	case TransReplace:
		e, _ = t.Find(q)
	default:
		return fmt.Errorf("translation action %d: %w", action, ErrInvalidField)
	}
	if e == nil {
		var err error
		if e, err = t.allocate(id, ep); err != nil {
			return err
		}
	}
	return e.apply(tr)
}

func (e *TransEntry) apply(tr *Translation) error {
	e.AddInfoPresent = len(tr.AddInfo) > 0
	e.GpdCommand = tr.GpdCommand
	e.Endpoint = tr.Endpoint
	e.Profile = tr.Profile
	e.Cluster = tr.Cluster
	e.ZbCommand = tr.ZbCommand
	e.PayloadLen = tr.PayloadLen
	e.Payload = nil
	if payloadInline(tr.PayloadLen) {
		n := int(tr.PayloadLen)
		if n > MaxTransPayload {
			n = MaxTransPayload
			e.PayloadLen = MaxTransPayload
		}
		if n > len(tr.Payload) {
			n = len(tr.Payload)
			e.PayloadLen = uint8(n)
		}
		e.Payload = append([]byte(nil), tr.Payload[:n]...)
	}
	return parseAddInfo(e, tr.AddInfo)
}

// UpdateFromDeviceClass seeds entries for a newly commissioned GPD from
// the device-class rows. When the GPD listed its commands (and optionally
// clusters) only those are seeded; otherwise every row of the device class
// is. Commands that already translate are left alone.
func (t *TransTable) UpdateFromDeviceClass(id GpdID, ep, deviceID uint8, cmds []uint8, clusters []uint16, appEndpoint uint8) (int, error) {
	added := 0
	seed := func(row DeviceClassRow, cluster uint16) error {
		q := TransQuery{
			ID: id, GpdEndpoint: ep, GpdCommand: row.GpdCommand, Endpoint: 0xFF,
			Cluster: cluster, Profile: ProfileHA, ReportID: 0xFF, AttrID: 0xFFFF,
		}
		if _, ok := t.Find(q); ok {
			return nil
		}
		e, err := t.allocate(id, ep)
		if err != nil {
			return err
		}
		added++
		return e.apply(&Translation{
			Index:      0xFF,
			GpdCommand: row.GpdCommand,
			Endpoint:   appEndpoint,
			Profile:    ProfileHA,
			Cluster:    row.Cluster,
			ZbCommand:  row.ZbCommand,
			PayloadLen: row.payloadLen(),
			Payload:    row.Payload,
		})
	}

	if len(cmds) == 0 && len(clusters) == 0 {
		for _, row := range t.classes {
			if row.DeviceID != deviceID {
				continue
			}
			if err := seed(row, row.Cluster); err != nil {
				return added, err
			}
		}
		return added, nil
	}

	if len(clusters) == 0 {
		clusters = []uint16{0xFFFF}
	}
	for _, cluster := range clusters {
		for _, cmd := range cmds {
			for _, row := range t.classes {
				if !row.accepts(deviceID, cluster, cmd) {
					continue
				}
				if err := seed(row, cluster); err != nil {
					return added, err
				}
				break
			}
		}
	}
	return added, nil
}

// AttrRecord is one attribute record of an Application Description data
// point.
type AttrRecord struct {
	AttrID     uint16
	DataType   uint8
	Reported   bool
	AttrOffset uint8
	Value      []byte
}

// UpdateFromReportDescriptor builds or refreshes the compact attribute
// report translation for one reported attribute. It is a no-op unless the
// cluster exists on a local endpoint.
func (t *TransTable) UpdateFromReportDescriptor(id GpdID, ep, reportID uint8, clientSide bool, cluster, manuID uint16, rec AttrRecord, hasCluster func(uint16) bool) (*TransEntry, error) {
	if hasCluster == nil || !hasCluster(cluster) || !rec.Reported {
		return nil, nil
	}
	q := TransQuery{
		ID: id, GpdEndpoint: ep, GpdCommand: CmdCompactAttrReport, Endpoint: 0xFF,
		Cluster: cluster, Profile: ProfileHA, ReportID: reportID, AttrID: rec.AttrID,
	}
	e, ok := t.Find(q)
	if !ok {
		var err error
		if e, err = t.allocate(id, ep); err != nil {
			return nil, err
		}
		e.AddInfoPresent = true
		e.GpdCommand = CmdCompactAttrReport
		e.Endpoint = 0xFF
		e.Profile = ProfileHA
		e.Cluster = 0xFFFF
		e.ZbCommand = zclCmdReportAttr
		e.PayloadLen = 0
	}
	e.Report = &CompactReport{
		ReportID:      reportID,
		AttrOffset:    rec.AttrOffset,
		Cluster:       cluster,
		AttrID:        rec.AttrID,
		DataType:      rec.DataType,
		ClientSide:    clientSide,
		ManuIDPresent: manuID != 0,
		ManuID:        manuID,
	}
	return e, nil
}

// SwitchInfo is the generic switch information of a commissioning frame.
type SwitchInfo struct {
	Config        uint8
	ContactStatus uint8
}

// contacts is the number of contacts encoded in the switch configuration.
func (s SwitchInfo) contacts() int { return int(s.Config & 0x0F) }

// UpdateGenericSwitch records the generic switch descriptor of a GPD on its
// 8-bit vector press translation.
func (t *TransTable) UpdateGenericSwitch(id GpdID, ep uint8, sw SwitchInfo) (*TransEntry, error) {
	if sw.contacts() == 0 {
		return nil, nil
	}
	q := TransQuery{
		ID: id, GpdEndpoint: ep, GpdCommand: CmdVectorPress, Endpoint: 0xFF,
		Cluster: 0xFFFF, Profile: ProfileHA, ReportID: 0xFF, AttrID: 0xFFFF,
	}
	e, ok := t.Find(q)
	if !ok {
		var err error
		if e, err = t.allocate(id, ep); err != nil {
			return nil, err
		}
		e.AddInfoPresent = true
		e.GpdCommand = CmdVectorPress
		e.Endpoint = 0xFF
		e.Profile = ProfileHA
		e.Cluster = 0xFFFF
		e.ZbCommand = zclCmdNone
	}
	rec := SwitchRecord{Config: sw.Config, ContactStatus: sw.ContactStatus}
	if e.Switch != nil {
		rec.ContactBitmask = e.Switch.ContactBitmask
	}
	for i := 0; i < sw.contacts() && i < 8; i++ {
		rec.ContactBitmask |= 1 << i
	}
	e.Switch = &rec
	return e, nil
}

// Each calls fn for every used entry in slot order.
func (t *TransTable) Each(fn func(e *TransEntry)) {
	for _, e := range t.slots {
		if e != nil {
			fn(e)
		}
	}
}

// Entries returns copies of all used entries in slot order.
func (t *TransTable) Entries() []TransEntry {
	out := make([]TransEntry, 0, t.n)
	t.Each(func(e *TransEntry) { out = append(out, e.clone()) })
	return out
}

// TransPage is one page of a Translation Table Response.
type TransPage struct {
	App     AppID
	AddInfo bool
	Count   int
	Body    []byte
}

// Page lists entries from start on. Every listed entry shares the app id
// of the first one and the body stays within MaxTransTableAttrLength. When
// any listed entry carries an option record, every entry is encoded with
// a record length byte.
func (t *TransTable) Page(start int) TransPage {
	var (
		p    TransPage
		list []*TransEntry
		size int
	)
	idx := 0
	for _, e := range t.slots {
		if e == nil {
			continue
		}
		idx++
		if idx-1 < start {
			continue
		}
		if len(list) > 0 && e.ID.App != p.App {
			break
		}
		withInfo := p.AddInfo || e.AddInfoPresent
		n := len(e.appendWire(nil, withInfo))
		if withInfo && !p.AddInfo {
			size += len(list) // length bytes of entries already listed
		}
		if size+n > MaxTransTableAttrLength {
			break
		}
		if len(list) == 0 {
			p.App = e.ID.App
		}
		p.AddInfo = withInfo
		size += n
		list = append(list, e)
	}
	for _, e := range list {
		p.Body = e.appendWire(p.Body, p.AddInfo)
	}
	p.Count = len(list)
	return p
}

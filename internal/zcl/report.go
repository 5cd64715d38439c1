package zcl

import (
	"encoding/binary"
	"fmt"
)

// Attribute is one attribute record of a Report Attributes command or a
// successful Read Attributes Response. Value holds the raw encoded bytes,
// including the length prefix of string types.
type Attribute struct {
	ID       uint16
	Status   uint8
	DataType uint8
	Value    []byte
}

// ParseReportAttributes parses Report Attributes records:
// [attrID(2) dataType(1) value(N)]...
func ParseReportAttributes(data []byte) ([]Attribute, error) {
	var out []Attribute
	for len(data) > 0 {
		if len(data) < 3 {
			return out, fmt.Errorf("zcl: report record truncated at %d bytes", len(data))
		}
		a := Attribute{ID: binary.LittleEndian.Uint16(data), DataType: data[2]}
		n, err := ValueLen(a.DataType, data[3:])
		if err != nil {
			return out, fmt.Errorf("attribute 0x%04X: %w", a.ID, err)
		}
		a.Value = append([]byte(nil), data[3:3+n]...)
		out = append(out, a)
		data = data[3+n:]
	}
	return out, nil
}

// ParseReadAttributes returns the attribute ids of a Read Attributes
// request. A trailing odd byte is malformed.
func ParseReadAttributes(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("zcl: read attributes payload has odd length %d", len(data))
	}
	ids := make([]uint16, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(data[i:]))
	}
	return ids, nil
}

// EncodeReadAttributesResponse builds a Read Attributes Response payload.
// Records with a non-success status carry no type or value.
func EncodeReadAttributesResponse(recs []Attribute) []byte {
	var buf []byte
	for _, r := range recs {
		buf = binary.LittleEndian.AppendUint16(buf, r.ID)
		buf = append(buf, r.Status)
		if r.Status != ZCLStatusSuccess {
			continue
		}
		buf = append(buf, r.DataType)
		buf = append(buf, r.Value...)
	}
	return buf
}

// EncodeReportAttributes builds a Report Attributes payload.
func EncodeReportAttributes(recs []Attribute) []byte {
	var buf []byte
	for _, r := range recs {
		buf = binary.LittleEndian.AppendUint16(buf, r.ID)
		buf = append(buf, r.DataType)
		buf = append(buf, r.Value...)
	}
	return buf
}

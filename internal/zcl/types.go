package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData     uint8 = 0x00
	TypeData8      uint8 = 0x08
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeFloat16    uint8 = 0x38
	TypeFloat32    uint8 = 0x39
	TypeFloat64    uint8 = 0x3A
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
	TypeToD        uint8 = 0xE0
	TypeDate       uint8 = 0xE1
	TypeUTC        uint8 = 0xE2
	TypeClusterID  uint8 = 0xE8
	TypeAttrID     uint8 = 0xE9
	TypeEUI64      uint8 = 0xF0
	TypeKey128     uint8 = 0xF1
)

type typeInfo struct {
	name string
	size int // -1: 1-byte length prefix, -2: 2-byte length prefix
}

var types = map[uint8]typeInfo{
	TypeNoData:     {"nodata", 0},
	TypeData8:      {"data8", 1},
	TypeBool:       {"bool", 1},
	TypeBitmap8:    {"map8", 1},
	TypeBitmap16:   {"map16", 2},
	TypeBitmap24:   {"map24", 3},
	TypeBitmap32:   {"map32", 4},
	TypeUint8:      {"uint8", 1},
	TypeUint16:     {"uint16", 2},
	TypeUint24:     {"uint24", 3},
	TypeUint32:     {"uint32", 4},
	TypeUint40:     {"uint40", 5},
	TypeUint48:     {"uint48", 6},
	TypeInt8:       {"int8", 1},
	TypeInt16:      {"int16", 2},
	TypeInt24:      {"int24", 3},
	TypeInt32:      {"int32", 4},
	TypeEnum8:      {"enum8", 1},
	TypeEnum16:     {"enum16", 2},
	TypeFloat16:    {"semi", 2},
	TypeFloat32:    {"single", 4},
	TypeFloat64:    {"double", 8},
	TypeOctetStr:   {"octstr", -1},
	TypeCharStr:    {"string", -1},
	TypeOctetStr16: {"octstr16", -2},
	TypeCharStr16:  {"string16", -2},
	TypeToD:        {"ToD", 4},
	TypeDate:       {"date", 4},
	TypeUTC:        {"UTC", 4},
	TypeClusterID:  {"clusterId", 2},
	TypeAttrID:     {"attribId", 2},
	TypeEUI64:      {"EUI64", 8},
	TypeKey128:     {"key128", 16},
}

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// variable-length and unknown types.
func TypeSize(typeID uint8) int {
	ti, ok := types[typeID]
	if !ok || ti.size < 0 {
		return -1
	}
	return ti.size
}

// lengthPrefix returns the length prefix size of a string type, or 0.
func lengthPrefix(typeID uint8) int {
	ti, ok := types[typeID]
	if !ok || ti.size >= 0 {
		return 0
	}
	return -ti.size
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	if ti, ok := types[typeID]; ok {
		return ti.name
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// ValueLen returns how many bytes the value of typeID occupies at the
// start of data, including any length prefix.
func ValueLen(typeID uint8, data []byte) (int, error) {
	if size := TypeSize(typeID); size >= 0 {
		if len(data) < size {
			return 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", TypeName(typeID), size, len(data))
		}
		return size, nil
	}
	var n int
	switch lengthPrefix(typeID) {
	case 1:
		if len(data) < 1 {
			return 0, fmt.Errorf("zcl: no length byte for %s", TypeName(typeID))
		}
		n = 1
		if data[0] != 0xFF {
			n += int(data[0])
		}
	case 2:
		if len(data) < 2 {
			return 0, fmt.Errorf("zcl: no length bytes for %s", TypeName(typeID))
		}
		n = 2
		if l := binary.LittleEndian.Uint16(data); l != 0xFFFF {
			n += int(l)
		}
	default:
		return 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if len(data) < n {
		return 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), n, len(data))
	}
	return n, nil
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go
// value and the bytes consumed. Strings decode to string, octet strings
// to []byte; an invalid (0xFF or 0xFFFF length) string decodes to nil.
func DecodeValue(typeID uint8, data []byte) (any, int, error) {
	n, err := ValueLen(typeID, data)
	if err != nil {
		return nil, 0, err
	}
	v := data[:n]

	switch typeID {
	case TypeNoData:
		return nil, 0, nil
	case TypeBool:
		return v[0] != 0, n, nil
	case TypeUint8, TypeEnum8, TypeBitmap8, TypeData8:
		return v[0], n, nil
	case TypeUint16, TypeEnum16, TypeBitmap16, TypeClusterID, TypeAttrID, TypeFloat16:
		return binary.LittleEndian.Uint16(v), n, nil
	case TypeUint24, TypeBitmap24:
		return uint32(leUint(v)), n, nil
	case TypeUint32, TypeBitmap32, TypeUTC, TypeToD, TypeDate:
		return binary.LittleEndian.Uint32(v), n, nil
	case TypeUint40, TypeUint48:
		return leUint(v), n, nil
	case TypeInt8:
		return int8(v[0]), n, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(v)), n, nil
	case TypeInt24:
		return int32(signExtend(leUint(v), 24)), n, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(v)), n, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(v)), n, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(v)), n, nil
	case TypeEUI64:
		var addr [8]byte
		copy(addr[:], v)
		return addr, n, nil
	case TypeCharStr, TypeCharStr16:
		p := lengthPrefix(typeID)
		if invalidLength(v[:p]) {
			return nil, n, nil
		}
		return string(v[p:]), n, nil
	case TypeOctetStr, TypeOctetStr16:
		p := lengthPrefix(typeID)
		if invalidLength(v[:p]) {
			return nil, n, nil
		}
		return append([]byte{}, v[p:]...), n, nil
	}
	return append([]byte(nil), v...), n, nil
}

// invalidLength reports whether a string length prefix is the
// all-ones invalid marker.
func invalidLength(prefix []byte) bool {
	for _, b := range prefix {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

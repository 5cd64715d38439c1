package gp

import (
	"fmt"
)

// Table blobs are versioned:
//
//	[version][count] { [len] [wire entry] [trailer] } * count
//
// The wire entry is the attribute format; the trailer carries the fields
// the wire format omits for some option combinations.
const tableBlobVersion = 1

const (
	sinkFlagComplete = 1 << iota
	sinkFlagReplyIncludeKey
	sinkFlagReplyEncrypt
)

func appendRecord(b, rec []byte) ([]byte, error) {
	if len(rec) > 0xFF {
		return nil, fmt.Errorf("table record of %d bytes: %w", len(rec), ErrInvalidField)
	}
	b = append(b, uint8(len(rec)))
	return append(b, rec...), nil
}

func blobHeader(kind string, n int) ([]byte, error) {
	if n > MaxTableEntries {
		return nil, fmt.Errorf("%s table holds %d entries: %w", kind, n, ErrCapacityExceeded)
	}
	return []byte{tableBlobVersion, uint8(n)}, nil
}

func readBlobHeader(r *reader, kind string) int {
	if v := r.u8(); r.err == nil && v != tableBlobVersion {
		r.fail(fmt.Errorf("%s blob version %d: %w", kind, v, ErrInvalidField))
	}
	return int(r.u8())
}

// MarshalBinary encodes the proxy table for storage.
func (t *ProxyTable) MarshalBinary() ([]byte, error) {
	b, err := blobHeader("proxy", t.n)
	if err != nil {
		return nil, err
	}
	t.Each(func(e *ProxyEntry) {
		if err != nil {
			return
		}
		rec := e.AppendWire(nil)
		rec = append(rec, secOptions(e.SecLevel, e.KeyType))
		rec = putU32(rec, e.FrameCounter)
		rec = append(rec, e.Key[:]...)
		rec = putU16(rec, e.AssignedAlias)
		rec = append(rec, e.SearchCount)
		b, err = appendRecord(b, rec)
	})
	return b, err
}

// UnmarshalBinary replaces the table content with a stored blob.
func (t *ProxyTable) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	n := readBlobHeader(r, "proxy")
	if n > len(t.slots) {
		return fmt.Errorf("proxy blob holds %d entries, capacity %d: %w", n, len(t.slots), ErrCapacityExceeded)
	}
	entries := make([]*ProxyEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		rr := newReader(r.bytes(int(r.u8())))
		e := decodeProxyEntry(rr)
		e.SecLevel, e.KeyType = splitSecOptions(rr.u8())
		e.FrameCounter = rr.u32()
		e.Key = rr.key()
		e.AssignedAlias = rr.u16()
		e.SearchCount = rr.u8()
		if rr.err != nil {
			r.fail(rr.err)
		}
		entries = append(entries, &e)
	}
	if r.err != nil {
		return fmt.Errorf("decode proxy table: %w", r.err)
	}
	clear(t.slots)
	copy(t.slots, entries)
	t.n = len(entries)
	return nil
}

// MarshalBinary encodes the sink table for storage.
func (t *SinkTable) MarshalBinary() ([]byte, error) {
	b, err := blobHeader("sink", t.n)
	if err != nil {
		return nil, err
	}
	t.Each(func(e *SinkEntry) {
		if err != nil {
			return
		}
		rec := e.AppendWire(nil)
		rec = append(rec, secOptions(e.SecLevel, e.KeyType))
		rec = putU32(rec, e.FrameCounter)
		rec = append(rec, e.Key[:]...)
		rec = putU16(rec, e.AssignedAlias)
		var flags uint8
		if e.Complete {
			flags |= sinkFlagComplete
		}
		if e.ReplyIncludeKey {
			flags |= sinkFlagReplyIncludeKey
		}
		if e.ReplyEncrypt {
			flags |= sinkFlagReplyEncrypt
		}
		rec = append(rec, flags)
		b, err = appendRecord(b, rec)
	})
	return b, err
}

// UnmarshalBinary replaces the table content with a stored blob.
func (t *SinkTable) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	n := readBlobHeader(r, "sink")
	if n > len(t.slots) {
		return fmt.Errorf("sink blob holds %d entries, capacity %d: %w", n, len(t.slots), ErrCapacityExceeded)
	}
	entries := make([]*SinkEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		rr := newReader(r.bytes(int(r.u8())))
		e := decodeSinkEntry(rr)
		e.SecLevel, e.KeyType = splitSecOptions(rr.u8())
		e.FrameCounter = rr.u32()
		e.Key = rr.key()
		e.AssignedAlias = rr.u16()
		flags := rr.u8()
		e.Complete = flags&sinkFlagComplete != 0
		e.ReplyIncludeKey = flags&sinkFlagReplyIncludeKey != 0
		e.ReplyEncrypt = flags&sinkFlagReplyEncrypt != 0
		if rr.err != nil {
			r.fail(rr.err)
		}
		entries = append(entries, &e)
	}
	if r.err != nil {
		return fmt.Errorf("decode sink table: %w", r.err)
	}
	clear(t.slots)
	copy(t.slots, entries)
	t.n = len(entries)
	return nil
}

// MarshalBinary encodes the translation table for storage. Each record is
// prefixed by its app id and the additional-info flag, and the generic
// switch configuration follows the wire entry.
func (t *TransTable) MarshalBinary() ([]byte, error) {
	b, err := blobHeader("translation", t.n)
	if err != nil {
		return nil, err
	}
	t.Each(func(e *TransEntry) {
		if err != nil {
			return
		}
		rec := []byte{uint8(e.ID.App), uint8(boolBit(e.AddInfoPresent, 0))}
		rec = e.appendWire(rec, true)
		var cfg uint8
		if e.Switch != nil {
			cfg = e.Switch.Config
		}
		rec = append(rec, cfg)
		b, err = appendRecord(b, rec)
	})
	return b, err
}

// UnmarshalBinary replaces the table content with a stored blob.
func (t *TransTable) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	n := readBlobHeader(r, "translation")
	if n > len(t.slots) {
		return fmt.Errorf("translation blob holds %d entries, capacity %d: %w", n, len(t.slots), ErrCapacityExceeded)
	}
	entries := make([]*TransEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		rr := newReader(r.bytes(int(r.u8())))
		app := AppID(rr.u8())
		addInfo := rr.u8()&0x01 != 0
		e := decodeTransEntry(rr, app, true)
		e.AddInfoPresent = addInfo
		cfg := rr.u8()
		if e.Switch != nil {
			e.Switch.Config = cfg
		}
		if rr.err != nil {
			r.fail(rr.err)
		}
		entries = append(entries, &e)
	}
	if r.err != nil {
		return fmt.Errorf("decode translation table: %w", r.err)
	}
	clear(t.slots)
	copy(t.slots, entries)
	t.n = len(entries)
	return nil
}

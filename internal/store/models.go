package store

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// envelopeVersion is bumped when the envelope layout changes. The table
// blob inside carries its own version.
const envelopeVersion = 1

// tableEnvelope wraps a table blob on disk.
type tableEnvelope struct {
	V       int    `cbor:"v"`
	Module  string `cbor:"module"`
	Item    string `cbor:"item"`
	Entries []byte `cbor:"entries"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor enc mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor dec mode: %v", err))
	}
}

func encodeEnvelope(module, item string, blob []byte) ([]byte, error) {
	return encMode.Marshal(tableEnvelope{V: envelopeVersion, Module: module, Item: item, Entries: blob})
}

func decodeEnvelope(module, item string, data []byte) ([]byte, error) {
	var env tableEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", module, item, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("decode %s/%s: envelope version %d", module, item, env.V)
	}
	if env.Module != module || env.Item != item {
		return nil, fmt.Errorf("decode %s/%s: envelope holds %s/%s", module, item, env.Module, env.Item)
	}
	if env.Entries == nil {
		env.Entries = []byte{}
	}
	return env.Entries, nil
}

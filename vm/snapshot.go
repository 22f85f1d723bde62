package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so equal global tables produce equal
// snapshots.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireValue is the serialized form of a Value.
type wireValue struct {
	Kind   ValueKind `cbor:"1,keyasint"`
	Number float64   `cbor:"2,keyasint,omitempty"`
	Text   string    `cbor:"3,keyasint,omitempty"`
}

// globalsSnapshot is the serialized form of a VM's global table.
type globalsSnapshot struct {
	Version int                  `cbor:"1,keyasint"`
	Globals map[string]wireValue `cbor:"2,keyasint"`
}

const snapshotVersion = 1

func toWire(v Value) wireValue {
	return wireValue{Kind: v.kind, Number: v.num, Text: v.str}
}

func fromWire(w wireValue) (Value, error) {
	switch w.Kind {
	case KindNil:
		return Nil, nil
	case KindBool:
		return FromBool(w.Number != 0), nil
	case KindNumber:
		return FromFloat64(w.Number), nil
	case KindString:
		return FromString(w.Text), nil
	}
	return Nil, fmt.Errorf("unknown value kind %d", w.Kind)
}

// MarshalGlobals serializes the global table to CBOR.
func (vm *VM) MarshalGlobals() ([]byte, error) {
	snap := globalsSnapshot{
		Version: snapshotVersion,
		Globals: make(map[string]wireValue, len(vm.global)),
	}
	for name, v := range vm.global {
		snap.Globals[name] = toWire(v)
	}
	return cborEncMode.Marshal(snap)
}

// RestoreGlobals replaces the global table with the one encoded in data.
// On error the existing table is left unchanged.
func (vm *VM) RestoreGlobals(data []byte) error {
	var snap globalsSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("vm: unmarshal globals: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("vm: unsupported globals snapshot version %d", snap.Version)
	}
	globals := make(map[string]Value, len(snap.Globals))
	for name, w := range snap.Globals {
		v, err := fromWire(w)
		if err != nil {
			return fmt.Errorf("vm: global %q: %w", name, err)
		}
		globals[name] = v
	}
	vm.global = globals
	return nil
}

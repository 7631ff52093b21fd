package cell

import (
	"encoding/binary"
	"fmt"
)

// Uint64Codec stores a uint64 as 8 little-endian bytes.
type Uint64Codec struct{}

// Encode implements Codec.
func (Uint64Codec) Encode(v uint64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, v), nil
}

// Decode implements Codec.
func (Uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

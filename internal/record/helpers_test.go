package record_test

import (
	"encoding/binary"
	"hash/crc32"
)

func appendChecksum(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
}

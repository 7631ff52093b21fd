package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxSize is the largest encoded ticket, checksum included.
	MaxSize = 1024

	// KeySize is the length of a map key produced by Key.
	KeySize = 8

	checksumSize = 4

	// Worst case framing: six one-byte tags, four ten-byte varints, two
	// two-byte length prefixes and the checksum.
	maxOverhead = 6 + 4*binary.MaxVarintLen64 + 2*2 + checksumSize

	// MaxTextSize bounds the combined length of the text fields.
	MaxTextSize = MaxSize - maxOverhead
)

const (
	fieldID        protowire.Number = 1
	fieldEvent     protowire.Number = 2
	fieldPrice     protowire.Number = 3
	fieldSeat      protowire.Number = 4
	fieldCreatedAt protowire.Number = 5
	fieldUpdatedAt protowire.Number = 6
)

// ErrCorruptRecord is returned when stored bytes do not decode to a ticket.
var ErrCorruptRecord = errors.New("record: corrupt record")

// Key returns the map key for id. Big-endian so byte order is numeric order.
func Key(id uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, KeySize), id)
}

// IDFromKey is the inverse of Key.
func IDFromKey(key []byte) (uint64, error) {
	if len(key) != KeySize {
		return 0, fmt.Errorf("%w: key has %d bytes", ErrCorruptRecord, len(key))
	}
	return binary.BigEndian.Uint64(key), nil
}

// Encode serialises t as protobuf wire fields followed by a CRC32 of them.
func Encode(t Ticket) ([]byte, error) {
	b := make([]byte, 0, 64+len(t.Event)+len(t.Seat))
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, t.ID)
	b = protowire.AppendTag(b, fieldEvent, protowire.BytesType)
	b = protowire.AppendString(b, t.Event)
	b = protowire.AppendTag(b, fieldPrice, protowire.VarintType)
	b = protowire.AppendVarint(b, t.Price)
	b = protowire.AppendTag(b, fieldSeat, protowire.BytesType)
	b = protowire.AppendString(b, t.Seat)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, t.CreatedAt)
	if t.UpdatedAt != nil {
		b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, *t.UpdatedAt)
	}
	b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b))

	if len(b) > MaxSize {
		return nil, fmt.Errorf("%w: ticket %d encodes to %d bytes, limit is %d", ErrCapacityExceeded, t.ID, len(b), MaxSize)
	}
	return b, nil
}

// Decode parses bytes produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (Ticket, error) {
	if len(b) < checksumSize {
		return Ticket{}, fmt.Errorf("%w: %d bytes is too short", ErrCorruptRecord, len(b))
	}
	body, sum := b[:len(b)-checksumSize], binary.LittleEndian.Uint32(b[len(b)-checksumSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return Ticket{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}

	var t Ticket
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return Ticket{}, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldEvent && typ == protowire.BytesType,
			num == fieldSeat && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(body)
			if n < 0 {
				return Ticket{}, fmt.Errorf("%w: field %d: %v", ErrCorruptRecord, num, protowire.ParseError(n))
			}
			if num == fieldEvent {
				t.Event = s
			} else {
				t.Seat = s
			}
			body = body[n:]
		case typ == protowire.VarintType && num >= fieldID && num <= fieldUpdatedAt:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return Ticket{}, fmt.Errorf("%w: field %d: %v", ErrCorruptRecord, num, protowire.ParseError(n))
			}
			switch num {
			case fieldID:
				t.ID = v
			case fieldPrice:
				t.Price = v
			case fieldCreatedAt:
				t.CreatedAt = v
			case fieldUpdatedAt:
				t.UpdatedAt = &v
			default:
				return Ticket{}, fmt.Errorf("%w: field %d has wire type %d", ErrCorruptRecord, num, typ)
			}
			body = body[n:]
		case num >= fieldID && num <= fieldUpdatedAt:
			return Ticket{}, fmt.Errorf("%w: field %d has wire type %d", ErrCorruptRecord, num, typ)
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return Ticket{}, fmt.Errorf("%w: field %d: %v", ErrCorruptRecord, num, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}
	return t, nil
}

// Package record defines the ticket record and its on-disk encoding.
package record

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrCapacityExceeded is returned when a record cannot fit in MaxSize bytes.
	ErrCapacityExceeded = errors.New("record: encoded size exceeds capacity")
	// ErrInvalidPayload is returned for payloads with malformed text fields.
	ErrInvalidPayload = errors.New("record: invalid payload")
)

// Ticket is the persisted record.
type Ticket struct {
	ID        uint64  `json:"id"`
	Event     string  `json:"event"`
	Price     uint64  `json:"price"`
	Seat      string  `json:"seat"`
	CreatedAt uint64  `json:"created_at"`
	UpdatedAt *uint64 `json:"updated_at"`
}

// Payload carries the mutable business fields of a ticket.
type Payload struct {
	Event string `json:"event" yaml:"event"`
	Price uint64 `json:"price" yaml:"price"`
	Seat  string `json:"seat" yaml:"seat"`
}

// Validate checks that a ticket built from p is guaranteed to encode within
// MaxSize, whatever id and timestamps it is later given.
func (p Payload) Validate() error {
	if !utf8.ValidString(p.Event) || !utf8.ValidString(p.Seat) {
		return fmt.Errorf("%w: text fields must be valid UTF-8", ErrInvalidPayload)
	}
	if n := len(p.Event) + len(p.Seat); n > MaxTextSize {
		return fmt.Errorf("%w: event and seat take %d bytes, limit is %d", ErrCapacityExceeded, n, MaxTextSize)
	}
	return nil
}

// Apply returns t with its business fields replaced by those of p.
func (p Payload) Apply(t Ticket) Ticket {
	t.Event = p.Event
	t.Price = p.Price
	t.Seat = p.Seat
	return t
}

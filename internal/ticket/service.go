// Package ticket implements the ticket CRUD operations on top of the engine.
package ticket

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/record"
)

const (
	// DefaultListLimit is used when a list request sets no limit.
	DefaultListLimit = 100
	// MaxListLimit caps a single list request.
	MaxListLimit = 1000
)

// ErrNotFound matches every *NotFoundError with errors.Is.
var ErrNotFound = errors.New("ticket not found")

// NotFoundError reports an operation on an id with no ticket.
type NotFoundError struct {
	ID  uint64
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Store is the persistence the service runs on. *engine.Engine implements it.
type Store interface {
	Create(build func(id uint64) record.Ticket) (record.Ticket, error)
	Get(id uint64) (record.Ticket, bool, error)
	Update(id uint64, mutate func(record.Ticket) record.Ticket) (record.Ticket, bool, error)
	Delete(id uint64) (record.Ticket, bool, error)
	Scan(start uint64, limit int) ([]record.Ticket, error)
	Stats() (engine.Stats, error)
}

var _ Store = (*engine.Engine)(nil)

// Clock returns the current time as a timestamp.
type Clock func() uint64

// SystemClock returns nanoseconds since the Unix epoch.
func SystemClock() uint64 { return uint64(time.Now().UnixNano()) }

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the clock used to stamp created_at and updated_at.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// Service exposes the ticket operations.
type Service struct {
	store Store
	clock Clock
	log   *slog.Logger
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: SystemClock,
		log:   logging.WithComponent("ticket"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTicket returns the ticket with the given id.
func (s *Service) GetTicket(id uint64) (record.Ticket, error) {
	t, ok, err := s.store.Get(id)
	if err != nil {
		return record.Ticket{}, err
	}
	if !ok {
		return record.Ticket{}, &NotFoundError{ID: id, Msg: fmt.Sprintf("a ticket with id=%d not found", id)}
	}
	return t, nil
}

// AddTicket stores a new ticket built from p and returns it.
func (s *Service) AddTicket(p record.Payload) (record.Ticket, error) {
	p = normalize(p)
	if err := p.Validate(); err != nil {
		return record.Ticket{}, err
	}

	t, err := s.store.Create(func(id uint64) record.Ticket {
		return p.Apply(record.Ticket{ID: id, CreatedAt: s.clock()})
	})
	if err != nil {
		return record.Ticket{}, err
	}
	logging.WithTicket(s.log, t.ID).Info("ticket added", "event", t.Event)
	return t, nil
}

// UpdateTicket replaces the business fields of a ticket and stamps
// updated_at. The id and created_at are kept.
func (s *Service) UpdateTicket(id uint64, p record.Payload) (record.Ticket, error) {
	p = normalize(p)
	if err := p.Validate(); err != nil {
		return record.Ticket{}, err
	}

	t, ok, err := s.store.Update(id, func(cur record.Ticket) record.Ticket {
		now := s.clock()
		cur = p.Apply(cur)
		cur.UpdatedAt = &now
		return cur
	})
	if err != nil {
		return record.Ticket{}, err
	}
	if !ok {
		return record.Ticket{}, &NotFoundError{ID: id, Msg: fmt.Sprintf("couldn't update a ticket with id=%d. ticket not found", id)}
	}
	logging.WithTicket(s.log, id).Info("ticket updated")
	return t, nil
}

// DeleteTicket removes a ticket and returns its last state.
func (s *Service) DeleteTicket(id uint64) (record.Ticket, error) {
	t, ok, err := s.store.Delete(id)
	if err != nil {
		return record.Ticket{}, err
	}
	if !ok {
		return record.Ticket{}, &NotFoundError{ID: id, Msg: fmt.Sprintf("couldn't delete a ticket with id=%d. ticket not found.", id)}
	}
	logging.WithTicket(s.log, id).Info("ticket deleted")
	return t, nil
}

// ListTickets returns tickets with id >= from in id order. limit is clamped
// to (0, MaxListLimit]; zero or less selects DefaultListLimit.
func (s *Service) ListTickets(from uint64, limit int) ([]record.Ticket, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	tickets, err := s.store.Scan(from, limit)
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []record.Ticket{}
	}
	return tickets, nil
}

// Stats reports store statistics.
func (s *Service) Stats() (engine.Stats, error) {
	return s.store.Stats()
}

func normalize(p record.Payload) record.Payload {
	p.Event = norm.NFC.String(p.Event)
	p.Seat = norm.NFC.String(p.Seat)
	return p
}

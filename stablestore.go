// Package stablestore is a persistent ticket record store.
//
// Tickets live in a single memory region split into partitions: one holds a
// durable id counter, the other an ordered map from id to encoded ticket.
// The region can be backed by a file, so tickets and the counter survive a
// restart, or kept on the heap for tests and ephemeral use.
//
// Example usage:
//
//	db, err := stablestore.Open("/path/to/tickets.db", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	t, err := db.AddTicket(stablestore.Payload{Event: "Gig", Price: 50, Seat: "A1"})
//	if err != nil {
//		log.Printf("AddTicket failed: %v", err)
//	}
//
//	t, err = db.GetTicket(t.ID)
//	if errors.Is(err, stablestore.ErrNotFound) {
//		fmt.Println("gone")
//	}
package stablestore

import (
	"github.com/MikhailWahib/stablestore/internal/config"
	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/record"
	"github.com/MikhailWahib/stablestore/internal/ticket"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

type (
	// Ticket is a stored ticket record.
	Ticket = record.Ticket
	// Payload holds the fields a caller supplies on create and update.
	Payload = record.Payload
	// Stats describes the region and its partitions.
	Stats = engine.Stats
	// NotFoundError reports an operation on an id with no ticket.
	NotFoundError = ticket.NotFoundError
	// Clock returns the timestamp stamped on created_at and updated_at.
	Clock = ticket.Clock
)

var (
	// ErrNotFound matches every NotFoundError with errors.Is.
	ErrNotFound = ticket.ErrNotFound
	// ErrCapacityExceeded is returned when a ticket would not fit a record.
	ErrCapacityExceeded = record.ErrCapacityExceeded
	// ErrStorage marks failures of the region itself. The store should not
	// be used after one.
	ErrStorage = engine.ErrStorage
)

// DB represents a thread-safe ticket store.
type DB struct {
	engine  *engine.Engine
	service *ticket.Service
}

// Option configures a DB.
type Option = ticket.Option

// WithClock replaces the clock used to stamp tickets.
var WithClock = ticket.WithClock

// Open opens or creates a store in the region file at path.
//
// Logging is configured from cfg. Parent directories are created if needed.
// An existing region keeps its bucket size; cfg.BucketSizeInPages only
// applies to a new file.
func Open(path string, cfg *Config, opts ...Option) (*DB, error) {
	c := config.DefaultConfig()
	if cfg != nil {
		copied := *cfg
		c = &copied
	}
	c.DataPath = path
	c.InMemory = false
	return open(c, opts)
}

// OpenMemory creates a store whose region lives on the heap.
func OpenMemory(cfg *Config, opts ...Option) (*DB, error) {
	c := config.DefaultConfig()
	if cfg != nil {
		copied := *cfg
		c = &copied
	}
	c.InMemory = true
	return open(c, opts)
}

func open(cfg *config.Config, opts []Option) (*DB, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		return nil, err
	}
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e, service: ticket.NewService(e, opts...)}, nil
}

// GetTicket returns the ticket with the given id, or a *NotFoundError.
func (db *DB) GetTicket(id uint64) (Ticket, error) {
	return db.service.GetTicket(id)
}

// AddTicket stores a new ticket under the next id and returns it.
func (db *DB) AddTicket(p Payload) (Ticket, error) {
	return db.service.AddTicket(p)
}

// UpdateTicket replaces the business fields of a ticket and stamps
// updated_at. The id and created_at never change.
func (db *DB) UpdateTicket(id uint64, p Payload) (Ticket, error) {
	return db.service.UpdateTicket(id, p)
}

// DeleteTicket removes a ticket and returns its last state. The id is never
// reused.
func (db *DB) DeleteTicket(id uint64) (Ticket, error) {
	return db.service.DeleteTicket(id)
}

// ListTickets returns up to limit tickets in id order, starting at from.
func (db *DB) ListTickets(from uint64, limit int) ([]Ticket, error) {
	return db.service.ListTickets(from, limit)
}

// Stats reports the state of the region.
func (db *DB) Stats() (Stats, error) {
	return db.service.Stats()
}

// Close flushes the region file and releases it. After calling Close, every
// operation fails.
//
// It's recommended to call Close when you're done with the store,
// typically using defer:
//
//	db, err := stablestore.Open("/path/to/tickets.db", nil)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
func (db *DB) Close() error {
	return db.engine.Close()
}

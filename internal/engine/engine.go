// Package engine composes the persistent structures behind the ticket store:
// one memory region split into a counter partition and a ticket map
// partition. All access is serialised by a single read/write lock.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/MikhailWahib/stablestore/internal/btree"
	"github.com/MikhailWahib/stablestore/internal/cell"
	"github.com/MikhailWahib/stablestore/internal/config"
	"github.com/MikhailWahib/stablestore/internal/diskmanager"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/memory"
	"github.com/MikhailWahib/stablestore/internal/memorymanager"
	"github.com/MikhailWahib/stablestore/internal/record"
)

const (
	// CounterMemoryID is the partition holding the next ticket id.
	CounterMemoryID memorymanager.MemoryID = 0
	// TicketsMemoryID is the partition holding the ticket map.
	TicketsMemoryID memorymanager.MemoryID = 1
)

var (
	// ErrStorage marks failures of the underlying structures. They are not
	// recoverable by the caller.
	ErrStorage = errors.New("storage failure")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine closed")
	// ErrIDsExhausted is returned when the id counter cannot advance.
	ErrIDsExhausted = errors.New("ticket ids exhausted")
)

// Engine owns the region and the structures laid out in it.
type Engine struct {
	mu sync.RWMutex

	dm      diskmanager.DiskManager
	region  memory.Memory
	manager *memorymanager.MemoryManager
	counter *cell.Cell[uint64]
	tickets *btree.BTreeMap
	log     *slog.Logger
	closed  bool
}

// Stats describes the state of the store.
type Stats struct {
	Tickets           uint64 `json:"tickets"`
	NextID            uint64 `json:"next_id"`
	RegionPages       uint64 `json:"region_pages"`
	BucketSizeInPages uint64 `json:"bucket_size_in_pages"`
	AllocatedBuckets  int    `json:"allocated_buckets"`
	CounterPages      uint64 `json:"counter_pages"`
	TicketPages       uint64 `json:"ticket_pages"`
	TicketNodes       uint64 `json:"ticket_nodes"`
}

// Open opens or creates the store described by cfg.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.InMemory {
		return OpenMemory(cfg)
	}
	return OpenWithDiskManager(diskmanager.NewDiskManager(), cfg)
}

// OpenWithDiskManager opens the region file at cfg.DataPath through dm.
func OpenWithDiskManager(dm diskmanager.DiskManager, cfg *config.Config) (*Engine, error) {
	cfg.FillDefaults()
	if dir := filepath.Dir(cfg.DataPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	fh, err := dm.Open(cfg.DataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file: %w", err)
	}
	region, err := memory.NewFileMemory(fh, memory.FileOptions{
		MaxPages:   cfg.MaxPages,
		SyncWrites: cfg.SyncWrites,
	})
	if err != nil {
		_ = dm.CloseAll()
		return nil, err
	}

	e, err := New(region, cfg)
	if err != nil {
		_ = dm.CloseAll()
		return nil, err
	}
	e.dm = dm
	e.log.Info("region file opened", "path", cfg.DataPath, "sync_writes", cfg.SyncWrites)
	return e, nil
}

// OpenMemory creates a store held entirely on the heap.
func OpenMemory(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.FillDefaults()
	return New(memory.NewVectorMemory(cfg.MaxPages), cfg)
}

// New lays the store out in region, or reopens the layout already there.
func New(region memory.Memory, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.FillDefaults()
	log := logging.WithComponent("engine")
	fresh := region.Size() == 0

	manager, err := memorymanager.InitWithBucketSize(region, cfg.BucketSizeInPages)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init memory manager: %w", ErrStorage, err)
	}
	counter, err := cell.Init[uint64](manager.Get(CounterMemoryID), cell.Uint64Codec{}, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init id counter: %w", ErrStorage, err)
	}
	tickets, err := btree.Init(manager.Get(TicketsMemoryID), record.KeySize, record.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init ticket map: %w", ErrStorage, err)
	}

	e := &Engine{
		region:  region,
		manager: manager,
		counter: counter,
		tickets: tickets,
		log:     log,
	}
	msg := "region opened"
	if fresh {
		msg = "region created"
	}
	log.Info(msg,
		"pages", region.Size(),
		"bucket_size_in_pages", manager.BucketSizeInPages(),
		"tickets", tickets.Len(),
		"next_id", counter.Get())
	return e, nil
}

// Create assigns the next id, builds the ticket with build and stores it.
// build runs under the write lock and must not call back into the engine.
// Nothing is persisted, and the id is not consumed, if the ticket does not fit.
func (e *Engine) Create(build func(id uint64) record.Ticket) (record.Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return record.Ticket{}, ErrClosed
	}

	id := e.counter.Get()
	if id == math.MaxUint64 {
		return record.Ticket{}, ErrIDsExhausted
	}
	t := build(id)
	t.ID = id
	enc, err := record.Encode(t)
	if err != nil {
		return record.Ticket{}, err
	}

	if _, err := e.counter.Set(id + 1); err != nil {
		return record.Ticket{}, fmt.Errorf("%w: failed to advance id counter: %w", ErrStorage, err)
	}
	if _, _, err := e.tickets.Insert(record.Key(id), enc); err != nil {
		return record.Ticket{}, fmt.Errorf("%w: failed to insert ticket %d: %w", ErrStorage, id, err)
	}
	logging.WithTicket(e.log, id).Debug("ticket inserted", "bytes", len(enc))
	return t, nil
}

// Get returns the ticket stored under id.
func (e *Engine) Get(id uint64) (record.Ticket, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return record.Ticket{}, false, ErrClosed
	}
	return e.get(id)
}

func (e *Engine) get(id uint64) (record.Ticket, bool, error) {
	b, ok, err := e.tickets.Get(record.Key(id))
	if err != nil {
		return record.Ticket{}, false, fmt.Errorf("%w: failed to read ticket %d: %w", ErrStorage, id, err)
	}
	if !ok {
		return record.Ticket{}, false, nil
	}
	t, err := record.Decode(b)
	if err != nil {
		return record.Ticket{}, false, fmt.Errorf("%w: ticket %d: %w", ErrStorage, id, err)
	}
	return t, true, nil
}

// Update replaces the ticket stored under id with mutate's result. The id
// always survives the update. It reports false when no ticket exists.
func (e *Engine) Update(id uint64, mutate func(record.Ticket) record.Ticket) (record.Ticket, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return record.Ticket{}, false, ErrClosed
	}

	current, ok, err := e.get(id)
	if err != nil || !ok {
		return record.Ticket{}, ok, err
	}
	t := mutate(current)
	t.ID = id
	enc, err := record.Encode(t)
	if err != nil {
		return record.Ticket{}, true, err
	}
	if _, _, err := e.tickets.Insert(record.Key(id), enc); err != nil {
		return record.Ticket{}, true, fmt.Errorf("%w: failed to replace ticket %d: %w", ErrStorage, id, err)
	}
	logging.WithTicket(e.log, id).Debug("ticket replaced", "bytes", len(enc))
	return t, true, nil
}

// Delete removes the ticket stored under id and returns it.
func (e *Engine) Delete(id uint64) (record.Ticket, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return record.Ticket{}, false, ErrClosed
	}

	b, ok, err := e.tickets.Remove(record.Key(id))
	if err != nil {
		return record.Ticket{}, false, fmt.Errorf("%w: failed to remove ticket %d: %w", ErrStorage, id, err)
	}
	if !ok {
		return record.Ticket{}, false, nil
	}
	t, err := record.Decode(b)
	if err != nil {
		return record.Ticket{}, true, fmt.Errorf("%w: removed ticket %d: %w", ErrStorage, id, err)
	}
	logging.WithTicket(e.log, id).Debug("ticket removed")
	return t, true, nil
}

// Scan returns up to limit tickets with id >= start in id order. A limit of
// zero or less means no limit.
func (e *Engine) Scan(start uint64, limit int) ([]record.Ticket, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	var (
		out     []record.Ticket
		scanErr error
	)
	err := e.tickets.AscendRange(record.Key(start), nil, func(_, value []byte) bool {
		t, err := record.Decode(value)
		if err != nil {
			scanErr = err
			return false
		}
		out = append(out, t)
		return limit <= 0 || len(out) < limit
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan tickets: %w", ErrStorage, err)
	}
	return out, nil
}

// Stats reports counts and partition sizes.
func (e *Engine) Stats() (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return Stats{}, ErrClosed
	}
	return Stats{
		Tickets:           e.tickets.Len(),
		NextID:            e.counter.Get(),
		RegionPages:       e.region.Size(),
		BucketSizeInPages: e.manager.BucketSizeInPages(),
		AllocatedBuckets:  e.manager.NumAllocatedBuckets(),
		CounterPages:      e.manager.Get(CounterMemoryID).Size(),
		TicketPages:       e.manager.Get(TicketsMemoryID).Size(),
		TicketNodes:       e.tickets.NodeCount(),
	}, nil
}

// Close flushes the region file and releases it. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if fm, ok := e.region.(*memory.FileMemory); ok {
		if err := fm.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync region file: %w", err))
		}
	}
	if e.dm != nil {
		if err := e.dm.CloseAll(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close region file: %w", err))
		}
	}
	e.log.Info("engine closed")
	return errors.Join(errs...)
}

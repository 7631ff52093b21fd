package engine_test

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MikhailWahib/stablestore/internal/config"
	"github.com/MikhailWahib/stablestore/internal/diskmanager/mockdm"
	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/memory"
	"github.com/MikhailWahib/stablestore/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gig(seat string) func(uint64) record.Ticket {
	return func(uint64) record.Ticket {
		return record.Ticket{Event: "Gig", Price: 50, Seat: seat, CreatedAt: 1000}
	}
}

func openMemory(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.OpenMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_BasicCreateGetDelete(t *testing.T) {
	e := openMemory(t)

	created, err := e.Create(gig("A1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), created.ID, "the counter starts at zero")

	got, ok, err := e.Get(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created, got)

	removed, ok, err := e.Delete(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created, removed)

	_, ok, err = e.Get(created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = e.Delete(created.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_IDsStrictlyIncrease(t *testing.T) {
	e := openMemory(t)

	var last uint64
	for i := 0; i < 100; i++ {
		created, err := e.Create(gig("B2"))
		require.NoError(t, err)
		if i > 0 {
			require.Greater(t, created.ID, last)
		}
		last = created.ID

		// Deleting must never let an id be handed out again
		if i%3 == 0 {
			_, _, err := e.Delete(created.ID)
			require.NoError(t, err)
		}
	}

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stats.NextID)
	assert.Equal(t, uint64(66), stats.Tickets)
}

func TestEngine_Update(t *testing.T) {
	e := openMemory(t)

	created, err := e.Create(gig("C3"))
	require.NoError(t, err)

	updated, ok, err := e.Update(created.ID, func(cur record.Ticket) record.Ticket {
		cur.Seat = "C4"
		cur.ID = 999
		return cur
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, updated.ID, "update must keep the id")
	assert.Equal(t, "C4", updated.Seat)

	got, _, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, ok, err = e.Update(12345, func(cur record.Ticket) record.Ticket { return cur })
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_CapacityExceededConsumesNothing(t *testing.T) {
	e := openMemory(t)

	_, err := e.Create(func(uint64) record.Ticket {
		return record.Ticket{Event: strings.Repeat("x", record.MaxSize)}
	})
	require.ErrorIs(t, err, record.ErrCapacityExceeded)
	require.NotErrorIs(t, err, engine.ErrStorage)

	created, err := e.Create(gig("D4"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), created.ID)

	_, _, err = e.Update(created.ID, func(cur record.Ticket) record.Ticket {
		cur.Seat = strings.Repeat("y", record.MaxSize)
		return cur
	})
	require.ErrorIs(t, err, record.ErrCapacityExceeded)

	got, _, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "D4", got.Seat, "a rejected update leaves the ticket untouched")
}

func TestEngine_Scan(t *testing.T) {
	e := openMemory(t)
	for iter := 0; iter < 20; iter++ {
		_, err := e.Create(gig("E5"))
		require.NoError(t, err)
	}
	_, _, err := e.Delete(5)
	require.NoError(t, err)

	page, err := e.Scan(3, 4)
	require.NoError(t, err)
	ids := make([]uint64, 0, len(page))
	for _, tk := range page {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []uint64{3, 4, 6, 7}, ids)

	all, err := e.Scan(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 19)
}

func TestEngine_RestartOverSameRegion(t *testing.T) {
	region := memory.NewVectorMemory(0)
	cfg := &config.Config{BucketSizeInPages: 1}

	e, err := engine.New(region, cfg)
	require.NoError(t, err)
	var kept []record.Ticket
	for i := 0; i < 200; i++ {
		created, err := e.Create(gig("F6"))
		require.NoError(t, err)
		if i%4 == 0 {
			_, _, err := e.Delete(created.ID)
			require.NoError(t, err)
			continue
		}
		kept = append(kept, created)
	}
	before, err := e.Stats()
	require.NoError(t, err)
	require.Greater(t, before.AllocatedBuckets, 2, "the map should span several buckets")

	// The bucket size given on reopen is ignored in favour of the persisted one
	reopened, err := engine.New(region, &config.Config{BucketSizeInPages: 64})
	require.NoError(t, err)

	after, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	all, err := reopened.Scan(0, 0)
	require.NoError(t, err)
	assert.Equal(t, kept, all)

	next, err := reopened.Create(gig("F7"))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), next.ID)
}

func TestEngine_ReopenThroughDiskManager(t *testing.T) {
	dm := mockdm.NewMockDiskManager()
	cfg := &config.Config{DataPath: "region.db", SyncWrites: true}

	e, err := engine.OpenWithDiskManager(dm, cfg)
	require.NoError(t, err)
	created, err := e.Create(gig("G7"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.Positive(t, dm.File("region.db").Syncs())

	reopened, err := engine.OpenWithDiskManager(dm, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created, got)
}

func TestEngine_FileRestart(t *testing.T) {
	cfg := &config.Config{DataPath: filepath.Join(t.TempDir(), "data", "tickets.db")}

	e, err := engine.Open(cfg)
	require.NoError(t, err)
	for iter := 0; iter < 30; iter++ {
		_, err := e.Create(gig("H8"))
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	reopened, err := engine.Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(30), stats.Tickets)
	assert.Equal(t, uint64(30), stats.NextID)
}

func TestEngine_GrowthFailureIsStorageError(t *testing.T) {
	// Header page plus one single-page bucket per partition
	region := memory.NewVectorMemory(3)
	e, err := engine.New(region, &config.Config{BucketSizeInPages: 1})
	require.NoError(t, err)

	var createErr error
	for iter := 0; iter < 1000; iter++ {
		if _, createErr = e.Create(gig("I9")); createErr != nil {
			break
		}
	}
	require.Error(t, createErr)
	assert.ErrorIs(t, createErr, engine.ErrStorage)
	assert.ErrorIs(t, createErr, memory.ErrGrowFailed)
}

func TestEngine_ConcurrentCreates(t *testing.T) {
	e := openMemory(t)

	const workers, perWorker = 8, 50
	ids := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for iter := 0; iter < workers; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < perWorker; iter++ {
				created, err := e.Create(gig("J1"))
				if !assert.NoError(t, err) {
					return
				}
				ids <- created.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestEngine_Closed(t *testing.T) {
	e, err := engine.OpenMemory(nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "closing twice is a no-op")

	_, _, err = e.Get(0)
	require.ErrorIs(t, err, engine.ErrClosed)
	_, err = e.Create(gig("K2"))
	require.ErrorIs(t, err, engine.ErrClosed)
}

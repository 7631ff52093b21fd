package memory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/stablestore/internal/diskmanager"
	"github.com/MikhailWahib/stablestore/internal/diskmanager/mockdm"
	"github.com/MikhailWahib/stablestore/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMemories = map[string]func(t *testing.T, maxPages uint64) memory.Memory{
	"vector": func(_ *testing.T, maxPages uint64) memory.Memory {
		return memory.NewVectorMemory(maxPages)
	},
	"file": func(t *testing.T, maxPages uint64) memory.Memory {
		dm := mockdm.NewMockDiskManager()
		fh, err := dm.Open("region.db", os.O_CREATE|os.O_RDWR, 0644)
		require.NoError(t, err)
		m, err := memory.NewFileMemory(fh, memory.FileOptions{MaxPages: maxPages})
		require.NoError(t, err)
		return m
	},
}

func TestMemory_GrowReadWrite(t *testing.T) {
	for name, newMem := range testMemories {
		t.Run(name, func(t *testing.T) {
			m := newMem(t, 0)
			assert.Equal(t, uint64(0), m.Size())

			// Any access on an empty memory is out of bounds
			err := m.WriteAt([]byte{1}, 0)
			require.ErrorIs(t, err, memory.ErrOutOfBounds)

			prev, err := m.Grow(2)
			require.NoError(t, err)
			assert.Equal(t, int64(0), prev)
			assert.Equal(t, uint64(2), m.Size())

			data := []byte("stable bytes")
			off := uint64(memory.PageSize - 4) // straddles the page boundary
			require.NoError(t, m.WriteAt(data, off))

			got := make([]byte, len(data))
			require.NoError(t, m.ReadAt(got, off))
			assert.Equal(t, data, got)

			err = m.ReadAt(make([]byte, 8), 2*memory.PageSize-4)
			require.ErrorIs(t, err, memory.ErrOutOfBounds)

			prev, err = m.Grow(1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), prev)

			// Growth keeps existing contents
			require.NoError(t, m.ReadAt(got, off))
			assert.Equal(t, data, got)
		})
	}
}

func TestMemory_GrowLimit(t *testing.T) {
	for name, newMem := range testMemories {
		t.Run(name, func(t *testing.T) {
			m := newMem(t, 3)

			_, err := m.Grow(3)
			require.NoError(t, err)

			prev, err := m.Grow(1)
			require.ErrorIs(t, err, memory.ErrGrowFailed)
			assert.Equal(t, int64(-1), prev)
			assert.Equal(t, uint64(3), m.Size(), "failed grow must not change size")
		})
	}
}

func TestSafeWriteAndIntegers(t *testing.T) {
	m := memory.NewVectorMemory(0)

	require.NoError(t, memory.WriteUint64(m, 10, 0xdeadbeefcafe))
	assert.Equal(t, uint64(1), m.Size(), "SafeWrite should grow an empty memory")

	v, err := memory.ReadUint64(m, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeefcafe), v)

	require.NoError(t, memory.WriteUint32(m, 3*memory.PageSize+1, 42))
	assert.Equal(t, uint64(4), m.Size())

	u, err := memory.ReadUint32(m, 3*memory.PageSize+1)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u)
}

func TestFileMemory_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.db")
	dm := diskmanager.NewDiskManager()

	fh, err := dm.Open(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	m, err := memory.NewFileMemory(fh, memory.FileOptions{SyncWrites: true})
	require.NoError(t, err)

	require.NoError(t, memory.SafeWrite(m, memory.PageSize+7, []byte("persisted")))
	require.NoError(t, dm.Close(path))

	// Simulate restart
	fh, err = dm.Open(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer func() {
		_ = dm.Close(path)
	}()

	reopened, err := memory.NewFileMemory(fh, memory.FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reopened.Size())

	got := make([]byte, len("persisted"))
	require.NoError(t, reopened.ReadAt(got, memory.PageSize+7))
	assert.Equal(t, "persisted", string(got))
}

func TestFileMemory_SyncWrites(t *testing.T) {
	dm := mockdm.NewMockDiskManager()
	fh, err := dm.Open("region.db", os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	m, err := memory.NewFileMemory(fh, memory.FileOptions{SyncWrites: true})
	require.NoError(t, err)

	_, err = m.Grow(1)
	require.NoError(t, err)
	require.NoError(t, m.WriteAt([]byte{1, 2, 3}, 0))

	assert.Equal(t, 2, dm.File("region.db").Syncs())
}

package cell_test

import (
	"testing"

	"github.com/MikhailWahib/stablestore/internal/cell"
	"github.com/MikhailWahib/stablestore/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_InitPersistsInitialValue(t *testing.T) {
	mem := memory.NewVectorMemory(0)

	c, err := cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Get())
	assert.Equal(t, uint64(1), mem.Size())

	raw := make([]byte, 16)
	require.NoError(t, mem.ReadAt(raw, 0))
	assert.Equal(t, []byte{'S', 'C', 'L', 1, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, raw)
}

func TestCell_SetReturnsPrevious(t *testing.T) {
	c, err := cell.Init[uint64](memory.NewVectorMemory(0), cell.Uint64Codec{}, 0)
	require.NoError(t, err)

	// Read-modify-write: the returned value is the pre-increment value
	for want := uint64(0); want < 5; want++ {
		old, err := c.Set(c.Get() + 1)
		require.NoError(t, err)
		assert.Equal(t, want, old)
	}
	assert.Equal(t, uint64(5), c.Get())
}

func TestCell_Reload(t *testing.T) {
	mem := memory.NewVectorMemory(0)

	c, err := cell.Init[uint64](mem, cell.Uint64Codec{}, 10)
	require.NoError(t, err)
	_, err = c.Set(42)
	require.NoError(t, err)

	// The initial value is ignored once a value exists
	reloaded, err := cell.Init[uint64](mem, cell.Uint64Codec{}, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), reloaded.Get())
}

func TestCell_BadMagic(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	_, err := mem.Grow(1)
	require.NoError(t, err)
	require.NoError(t, mem.WriteAt([]byte("BTR"), 0))

	_, err = cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.ErrorIs(t, err, cell.ErrBadMagic)
}

func TestCell_UnsupportedVersion(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	_, err := cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.NoError(t, err)
	require.NoError(t, mem.WriteAt([]byte{2}, 3))

	_, err = cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.ErrorIs(t, err, cell.ErrUnsupportedVersion)
}

func TestCell_CorruptLength(t *testing.T) {
	mem := memory.NewVectorMemory(0)
	_, err := cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.NoError(t, err)

	// A length that does not match the codec
	require.NoError(t, mem.WriteAt([]byte{3, 0, 0, 0}, 4))
	_, err = cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.ErrorIs(t, err, cell.ErrCorruptValue)

	// A length past the end of the memory
	require.NoError(t, mem.WriteAt([]byte{0xff, 0xff, 0xff, 0x7f}, 4))
	_, err = cell.Init[uint64](mem, cell.Uint64Codec{}, 0)
	require.ErrorIs(t, err, cell.ErrCorruptValue)
}

func TestCell_SetFailsWhenMemoryExhausted(t *testing.T) {
	mem := memory.NewVectorMemory(1)
	c, err := cell.Init[[]byte](mem, bytesCodec{}, []byte("small"))
	require.NoError(t, err)

	_, err = c.Set(make([]byte, memory.PageSize))
	require.ErrorIs(t, err, memory.ErrGrowFailed)
	assert.Equal(t, []byte("small"), c.Get(), "failed set keeps the old value")
}

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }

func (bytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }

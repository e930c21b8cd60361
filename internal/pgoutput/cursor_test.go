package pgoutput

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_ReadFixedWidth(t *testing.T) {
	cur := NewCursor([]byte{0x01, 0x02, 0x03, 0x00, 0x00, 0x00, 0x10, 0xFF, 0xFF, 0xFF, 0xFF})

	v8, err := cur.ReadUint8()
	require.NoError(t, err)
	assert.EqualValues(t, 0x01, v8)

	v16, err := cur.ReadUint16()
	require.NoError(t, err)
	assert.EqualValues(t, 0x0203, v16)

	v32, err := cur.ReadUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0x10, v32)

	i32, err := cur.ReadInt32()
	require.NoError(t, err)
	assert.EqualValues(t, -1, i32)
}

func TestCursor_ReadCString(t *testing.T) {
	cur := NewCursor([]byte("public\x00users\x00rest"))

	s, err := cur.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "public", s)

	s, err = cur.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "users", s)

	assert.Equal(t, 4, cur.Remaining())
}

func TestCursor_ReadCString_Unterminated(t *testing.T) {
	cur := NewCursor([]byte("no-nul-here"))
	_, err := cur.ReadCString()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncatedFrame))
}

func TestCursor_ReadBytes(t *testing.T) {
	cur := NewCursor([]byte{1, 2, 3, 4, 5})
	b, err := cur.ReadBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	assert.Equal(t, 2, cur.Remaining())

	// Zero-length reads are valid and yield an empty slice.
	b, err = cur.ReadBytes(0)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestCursor_TruncatedReads(t *testing.T) {
	cur := NewCursor([]byte{0x01})
	_, err := cur.ReadUint16()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncatedFrame))

	cur = NewCursor([]byte{})
	_, err = cur.ReadUint8()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncatedFrame))

	cur = NewCursor([]byte{1, 2})
	_, err = cur.ReadBytes(5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncatedFrame))
}

func TestCursor_MonotonicPosition(t *testing.T) {
	cur := NewCursor([]byte{1, 2, 3, 4})
	start := cur.Remaining()
	_, _ = cur.ReadUint8()
	assert.Less(t, cur.Remaining(), start)
	_, _ = cur.ReadUint8()
	_, _ = cur.ReadUint8()
	_, _ = cur.ReadUint8()
	assert.Equal(t, 0, cur.Remaining())
}

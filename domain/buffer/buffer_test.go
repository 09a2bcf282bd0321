package buffer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWindow(t *testing.T) {
	b := New(1, make([]byte, 32), "test", Atomic)
	require.NoError(t, b.Reserve(8))
	assert.Equal(t, 8, b.Headroom())
	assert.Equal(t, 24, b.Tailroom())
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Append([]byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())

	hdr, err := b.Push(2)
	require.NoError(t, err)
	copy(hdr, []byte{9, 9})
	assert.Equal(t, []byte{9, 9, 1, 2, 3, 4}, b.Bytes())

	front, err := b.Pull(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 1}, front)
	assert.Equal(t, []byte{2, 3, 4}, b.Bytes())

	b.Trim(1)
	assert.Equal(t, []byte{2}, b.Bytes())
}

func TestBufferBounds(t *testing.T) {
	b := New(2, make([]byte, 4), "test", Kernel)

	_, err := b.Push(1)
	assert.True(t, errors.Is(err, ErrHeadroom))

	_, err = b.Pull(1)
	assert.True(t, errors.Is(err, ErrUnderflow))

	_, err = b.Put(5)
	assert.True(t, errors.Is(err, ErrTailroom))

	assert.True(t, errors.Is(b.Reserve(5), ErrTailroom))
}

func TestBufferShadow(t *testing.T) {
	owner := New(3, make([]byte, 8), "owner", Atomic)
	b := New(4, make([]byte, 8), "alias", Atomic)
	assert.Equal(t, ID(0), b.ShadowID())

	b.SetShadow(owner, true)
	assert.Equal(t, ID(3), b.ShadowID())
	assert.True(t, b.ShadowNoFree)
}

func TestBufferBytesCannotGrow(t *testing.T) {
	b := New(5, make([]byte, 16), "test", Atomic)
	require.NoError(t, b.Append([]byte{1, 2}))
	data := b.Bytes()
	assert.Equal(t, 2, cap(data))
}

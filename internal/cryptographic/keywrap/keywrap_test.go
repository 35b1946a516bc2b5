package keywrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapper_RoundTrip(t *testing.T) {
	w, err := New([]byte("deployment secret"), "invitation")
	require.NoError(t, err)

	sealed, err := w.Wrap([]byte("join key"), []byte("inv-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "join key")

	plain, err := w.Unwrap(sealed, []byte("inv-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("join key"), plain)
}

func TestWrapper_RejectsTampering(t *testing.T) {
	w, err := New([]byte("deployment secret"), "invitation")
	require.NoError(t, err)
	sealed, err := w.Wrap([]byte("join key"), []byte("inv-1"))
	require.NoError(t, err)

	_, err = w.Unwrap(sealed, []byte("inv-2"))
	assert.ErrorIs(t, err, ErrUnwrap, "bound to its aad")

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0x01
	_, err = w.Unwrap(flipped, []byte("inv-1"))
	assert.ErrorIs(t, err, ErrUnwrap)

	_, err = w.Unwrap(sealed[:4], []byte("inv-1"))
	assert.ErrorIs(t, err, ErrUnwrap)

	other, err := New([]byte("deployment secret"), "journal")
	require.NoError(t, err)
	_, err = other.Unwrap(sealed, []byte("inv-1"))
	assert.ErrorIs(t, err, ErrUnwrap, "purposes derive distinct keys")
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New(nil, "invitation")
	assert.Error(t, err)
}

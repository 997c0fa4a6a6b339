package handshake_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoImpersonate/handshake"
)

func TestBIO(t *testing.T) {
	var b handshake.BIO
	buf := make([]byte, 4)

	_, err := b.Read(buf)
	assert.ErrorIs(t, err, handshake.ErrBIOEmpty)

	_, err = b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, b.Pending())

	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hell", string(buf[:n]))

	b.WriteEOF()
	assert.False(t, b.EOF())
	_, err = b.Write([]byte("x"))
	assert.ErrorIs(t, err, handshake.ErrBIOClosed)

	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "o", string(buf[:n]))

	_, err = b.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, b.EOF())
}

func TestBIO_Drain(t *testing.T) {
	var b handshake.BIO
	assert.Nil(t, b.Drain())

	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	assert.Equal(t, "abcdef", string(b.Drain()))
	assert.Zero(t, b.Pending())
}

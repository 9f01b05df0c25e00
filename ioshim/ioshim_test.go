package ioshim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelos/ext2fs/backend/memory"
	"github.com/kestrelos/ext2fs/ioshim"
)

func TestWriteBytesPreservesSurroundingSectorData(t *testing.T) {
	dev, err := memory.New(backendSize)
	require.NoError(t, err)

	full := make([]byte, 512)
	for i := range full {
		full[i] = 0xAA
	}
	require.NoError(t, ioshim.WriteBytes(dev, 0, uint64(len(full)), full))

	// a short write landing in the middle of that sector must not disturb
	// the bytes on either side of it.
	middle := []byte{1, 2, 3, 4}
	require.NoError(t, ioshim.WriteBytes(dev, 100, uint64(len(middle)), middle))

	back := make([]byte, 512)
	require.NoError(t, ioshim.ReadBytes(dev, 0, uint64(len(back)), back))

	require.Equal(t, byte(0xAA), back[99])
	require.Equal(t, []byte{1, 2, 3, 4}, back[100:104])
	require.Equal(t, byte(0xAA), back[104])
}

func TestReadWriteAcrossSectorBoundary(t *testing.T) {
	dev, err := memory.New(backendSize)
	require.NoError(t, err)

	payload := make([]byte, 700)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	require.NoError(t, ioshim.WriteBytes(dev, 300, uint64(len(payload)), payload))

	back := make([]byte, len(payload))
	require.NoError(t, ioshim.ReadBytes(dev, 300, uint64(len(back)), back))
	require.Equal(t, payload, back)
}

const backendSize = 4096

package backend_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/backend/memory"
)

func TestSubDeviceWindowsUnderlying(t *testing.T) {
	underlying, err := memory.New(8 * backend.SectorSize)
	require.NoError(t, err)

	sub := backend.Sub(underlying, 4, 2)
	require.Equal(t, uint64(2), sub.SectorCount())

	payload := bytes.Repeat([]byte{0x11}, int(backend.SectorSize))
	require.NoError(t, sub.WriteSectors(0, 1, payload))

	// the write through the sub-device must land at sector 4 of the
	// underlying device, not sector 0.
	back := make([]byte, backend.SectorSize)
	require.NoError(t, underlying.ReadSectors(4, 1, back))
	require.Equal(t, payload, back)

	untouched := make([]byte, backend.SectorSize)
	require.NoError(t, underlying.ReadSectors(0, 1, untouched))
	for _, b := range untouched {
		require.Equal(t, byte(0), b)
	}
}

func TestSubDeviceRejectsOutOfRange(t *testing.T) {
	underlying, err := memory.New(8 * backend.SectorSize)
	require.NoError(t, err)
	sub := backend.Sub(underlying, 0, 2)

	err = sub.ReadSectors(1, 2, make([]byte, 2*backend.SectorSize))
	require.ErrorIs(t, err, backend.ErrOutOfRange)
}

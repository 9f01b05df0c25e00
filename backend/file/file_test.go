package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/backend/file"
)

func TestCreateOpenReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")

	dev, err := file.CreateFromPath(path, 4*backend.SectorSize)
	require.NoError(t, err)
	require.Equal(t, uint64(4), dev.SectorCount())

	payload := []byte("0123456789abcdef")
	buf := make([]byte, backend.SectorSize)
	copy(buf, payload)
	require.NoError(t, dev.WriteSectors(1, 1, buf))
	require.NoError(t, dev.Flush())

	reopened, err := file.OpenFromPath(path, true)
	require.NoError(t, err)

	back := make([]byte, backend.SectorSize)
	require.NoError(t, reopened.ReadSectors(1, 1, back))
	require.Equal(t, buf, back)
}

func TestReadOnlyDeviceRefusesWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	dev, err := file.CreateFromPath(path, 2*backend.SectorSize)
	require.NoError(t, err)
	_ = dev

	ro, err := file.OpenFromPath(path, true)
	require.NoError(t, err)

	err = ro.WriteSectors(0, 1, make([]byte, backend.SectorSize))
	require.ErrorIs(t, err, backend.ErrIncorrectOpenMode)
}

func TestCreateFromPathRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := file.CreateFromPath(path, backend.SectorSize)
	require.Error(t, err)
}

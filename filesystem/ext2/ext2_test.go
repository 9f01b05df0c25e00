package ext2_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelos/ext2fs/backend/memory"
	"github.com/kestrelos/ext2fs/filesystem"
	"github.com/kestrelos/ext2fs/filesystem/ext2"
	"github.com/kestrelos/ext2fs/util/timestamp"
)

func freshDevice(t *testing.T, mib int64) *memory.Device {
	t.Helper()
	dev, err := memory.New(mib * 1024 * 1024)
	require.NoError(t, err)
	require.NoError(t, ext2.Format(dev, ext2.FormatOptions{
		BlockSize:   1024,
		VolumeLabel: "testvol",
		Clock:       &timestamp.TickClock{Epoch: 1000},
	}))
	return dev
}

func readdirAll(t *testing.T, node filesystem.NodeHandle) []string {
	t.Helper()
	var names []string
	for i := 0; ; i++ {
		entry, err := node.Readdir(i)
		require.NoError(t, err)
		if entry == nil {
			break
		}
		names = append(names, entry.Name)
	}
	return names
}

// Mounting a freshly formatted 8 MiB, 1024-byte-block image yields a root
// directory whose readdir exposes at least "." and "..".
func TestMountFreshImage(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), root.InodeNumber())
	require.True(t, root.Flags()&filesystem.FlagDirectory != 0)
	require.True(t, root.Flags()&filesystem.FlagMountpoint != 0)

	names := readdirAll(t, root)
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")

	require.Equal(t, uint32(1024), fs.BlockSize())
	require.NoError(t, fs.Validate())
}

// A file written through and read back returns exactly what was written
// (the round-trip law).
func TestCreateWriteReadRoundTrip(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	fh, err := fs.CreateFile(root, "hello.txt")
	require.NoError(t, err)

	payload := []byte("this block device speaks ext2")
	n, err := fh.Write(0, uint64(len(payload)), payload)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)

	back := make([]byte, len(payload))
	n, err = fh.Read(0, uint64(len(back)), back)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, back)

	found, err := root.Finddir("hello.txt")
	require.NoError(t, err)
	require.Equal(t, fh.InodeNumber(), found.InodeNumber())
	require.NoError(t, fs.Validate())
}

// Writing past the current end of file, then reading the gap, returns
// zero bytes: a sparse hole is never garbage.
func TestSparseHoleReadsAsZero(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	fh, err := fs.CreateFile(root, "sparse")
	require.NoError(t, err)

	tail := []byte("tail")
	offset := uint64(3000)
	_, err = fh.Write(offset, uint64(len(tail)), tail)
	require.NoError(t, err)

	hole := make([]byte, offset)
	n, err := fh.Read(0, offset, hole)
	require.NoError(t, err)
	require.Equal(t, int64(offset), n)
	for i, b := range hole {
		require.Equalf(t, byte(0), b, "hole byte %d not zero", i)
	}

	back := make([]byte, len(tail))
	_, err = fh.Read(offset, uint64(len(tail)), back)
	require.NoError(t, err)
	require.Equal(t, tail, back)
}

// A directory created under root is discoverable by name and seeded with
// "." and "..".
func TestCreateDirSeedsDotEntries(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	sub, err := fs.CreateDir(root, "sub")
	require.NoError(t, err)
	require.True(t, sub.Flags()&filesystem.FlagDirectory != 0)

	names := readdirAll(t, sub)
	require.ElementsMatch(t, []string{".", ".."}, names)

	found, err := root.Finddir("sub")
	require.NoError(t, err)
	require.Equal(t, sub.InodeNumber(), found.InodeNumber())
	require.NoError(t, fs.Validate())
}

// Unlinking a file's only name frees its inode: a second lookup fails, and
// Validate finds nothing corrupt.
func TestUnlinkRemovesLastLink(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	_, err = fs.CreateFile(root, "doomed")
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(root, "doomed"))

	_, err = root.Finddir("doomed")
	require.ErrorIs(t, err, filesystem.ErrNotFound)
	require.NoError(t, fs.Validate())
}

// Unlinking a directory is refused; rmdir is out of scope for this driver.
func TestUnlinkRefusesDirectory(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	_, err = fs.CreateDir(root, "adir")
	require.NoError(t, err)

	err = fs.Unlink(root, "adir")
	require.ErrorIs(t, err, filesystem.ErrNotSupported)
}

// State survives a remount: files created before unmounting are still
// found, with the same content, after mounting the device fresh again.
func TestRemountStability(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	fh, err := fs.CreateFile(root, "persisted")
	require.NoError(t, err)
	payload := []byte("still here")
	_, err = fh.Write(0, uint64(len(payload)), payload)
	require.NoError(t, err)

	root2, fs2, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)
	found, err := root2.Finddir("persisted")
	require.NoError(t, err)

	back := make([]byte, len(payload))
	_, err = found.Read(0, uint64(len(back)), back)
	require.NoError(t, err)
	require.Equal(t, payload, back)
	require.NoError(t, fs2.Validate())
}

// Stats reports an unchanged block size, the formatted volume label, and a
// free inode count that shrinks after an allocation.
func TestStatsReflectsAllocation(t *testing.T) {
	dev := freshDevice(t, 8)
	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	before, err := fs.Stats()
	require.NoError(t, err)

	_, err = fs.CreateFile(root, "consumes-an-inode")
	require.NoError(t, err)

	after, err := fs.Stats()
	require.NoError(t, err)

	require.Equal(t, before.BlockSize, after.BlockSize)
	require.Less(t, after.FreeInodes, before.FreeInodes)
	require.Equal(t, "testvol", after.VolumeLabel)
}

// Exhausting every free inode on a small image makes CreateFile fail with
// ErrOutOfSpace, and the volume's free counters stay internally consistent
// afterward.
func TestCreateFileFailsWhenInodesExhausted(t *testing.T) {
	dev, err := memory.New(1 * 1024 * 1024)
	require.NoError(t, err)
	require.NoError(t, ext2.Format(dev, ext2.FormatOptions{
		BlockSize:  1024,
		InodeCount: 16, // single group on a 1 MiB image: 16 inodes total
	}))

	root, fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)

	stats, err := fs.Stats()
	require.NoError(t, err)
	free := stats.FreeInodes // inode 1 (reserved) and inode 2 (root) already spoken for

	for i := uint32(0); i < free; i++ {
		_, err := fs.CreateFile(root, fmt.Sprintf("f%d", i))
		require.NoError(t, err, "unexpected failure creating file %d of %d", i, free)
	}

	_, err = fs.CreateFile(root, "one-too-many")
	require.ErrorIs(t, err, filesystem.ErrOutOfSpace)

	require.NoError(t, fs.Validate())
}

// A volume formatted and mounted at a sector offset within a larger image
// behaves exactly like one that owns the whole device: the bytes before
// StartSector are left untouched, and Format/Mount both honor the offset
// consistently.
func TestStartSectorMountsVolumeWithinLargerImage(t *testing.T) {
	dev, err := memory.New(16 * 1024 * 1024)
	require.NoError(t, err)

	const startSector = 2048 // 1 MiB in, as if after a partition table

	require.NoError(t, ext2.Format(dev, ext2.FormatOptions{
		BlockSize:   1024,
		VolumeLabel: "offsetvol",
		StartSector: startSector,
	}))

	root, fs, err := ext2.Mount(dev, ext2.MountOptions{StartSector: startSector})
	require.NoError(t, err)

	fh, err := fs.CreateFile(root, "inside-the-window")
	require.NoError(t, err)
	payload := []byte("lives past the offset")
	_, err = fh.Write(0, uint64(len(payload)), payload)
	require.NoError(t, err)
	require.NoError(t, fs.Validate())

	leadingSectors := make([]byte, startSector*512)
	require.NoError(t, dev.ReadSectors(0, startSector, leadingSectors))
	for i, b := range leadingSectors {
		require.Equalf(t, byte(0), b, "byte %d before StartSector was touched by Format/Mount", i)
	}
}

// A read-only mount refuses creates and unlinks.
func TestReadOnlyMountRefusesMutation(t *testing.T) {
	dev := freshDevice(t, 8)

	roRoot, roFS, err := ext2.Mount(dev, ext2.MountOptions{ReadOnly: true})
	require.NoError(t, err)

	_, err = roFS.CreateFile(roRoot, "nope")
	require.ErrorIs(t, err, filesystem.ErrNotSupported)

	err = roFS.Unlink(roRoot, "nope")
	require.ErrorIs(t, err, filesystem.ErrNotSupported)
}

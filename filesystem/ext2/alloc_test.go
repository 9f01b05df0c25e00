package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelos/ext2fs/backend/memory"
	"github.com/kestrelos/ext2fs/filesystem"
)

func mustMount(t *testing.T) (*Node, *FileSystem) {
	t.Helper()
	dev, err := memory.New(8 * 1024 * 1024)
	require.NoError(t, err)
	require.NoError(t, Format(dev, FormatOptions{BlockSize: 1024}))
	root, fs, err := Mount(dev, MountOptions{})
	require.NoError(t, err)
	return root.(*Node), fs
}

// Freeing a block clears its bit and bumps the group's and superblock's
// free counters; freeing the same block again is flagged as corruption
// rather than silently succeeding.
func TestFreeBlockDoubleFreeDetected(t *testing.T) {
	root, fs := mustMount(t)

	fh, err := fs.CreateFile(root, "takes-a-block")
	require.NoError(t, err)
	_, err = fh.Write(0, 4, []byte("data"))
	require.NoError(t, err)

	ino, err := fs.readInode(fh.InodeNumber())
	require.NoError(t, err)
	blk := ino.Block[0]
	require.NotZero(t, blk)

	require.NoError(t, fs.freeBlock(blk))

	err = fs.freeBlock(blk)
	require.ErrorIs(t, err, filesystem.ErrCorruption)
}

// allocateBlock never hands out the same block twice in a row without an
// intervening free.
func TestAllocateBlockDistinctAcrossCalls(t *testing.T) {
	_, fs := mustMount(t)

	seen := map[uint32]bool{}
	for i := 0; i < 20; i++ {
		blk, err := fs.allocateBlock()
		require.NoError(t, err)
		require.False(t, seen[blk], "block %d allocated twice", blk)
		seen[blk] = true
	}
}

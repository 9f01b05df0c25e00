package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// locate is a pure function of (logical index, pointers per block): it must
// place every logical index into exactly the region it belongs to, with no
// allocation or I/O involved.
func TestLocateRegions(t *testing.T) {
	const pointersPerBlock = 256 // 1024-byte block / 4-byte pointers

	cases := []struct {
		name    string
		logical int
		want    blockLocator
	}{
		{"first direct block", 0, blockLocator{kind: locatorDirect, index: 0}},
		{"last direct block", directCount - 1, blockLocator{kind: locatorDirect, index: directCount - 1}},
		{"first single-indirect block", directCount, blockLocator{kind: locatorSingleIndirect, index: 0}},
		{"last single-indirect block", directCount + pointersPerBlock - 1, blockLocator{kind: locatorSingleIndirect, index: pointersPerBlock - 1}},
		{"first double-indirect block", directCount + pointersPerBlock, blockLocator{kind: locatorDoubleIndirect, outer: 0, inner: 0}},
		{"double-indirect, second outer slot", directCount + pointersPerBlock + pointersPerBlock, blockLocator{kind: locatorDoubleIndirect, outer: 1, inner: 0}},
		{"double-indirect, mid inner slot", directCount + pointersPerBlock + 5*pointersPerBlock + 3, blockLocator{kind: locatorDoubleIndirect, outer: 5, inner: 3}},
		{"triple-indirect range", directCount + pointersPerBlock + pointersPerBlock*pointersPerBlock, blockLocator{kind: locatorTripleIndirect}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := locate(tc.logical, pointersPerBlock)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestBumpBlockCountAccumulates(t *testing.T) {
	fs := &FileSystem{blockSz: 1024}
	ino := &onDiskInode{}

	fs.bumpBlockCount(ino)
	fs.bumpBlockCount(ino)

	require.Equal(t, uint32(4), ino.Blocks512)
}

// With 1024-byte blocks pointersPerBlock is 256, so logical block 12 is the
// first single-indirect block and logical block 12+256=268 is the first
// double-indirect block. Writing at those offsets must drive mapBlock and
// setBlock through both indirect regions, allocate the pointer blocks they
// need, and read back exactly what was written.
func TestWriteForcesSingleAndDoubleIndirectAllocation(t *testing.T) {
	root, fs := mustMount(t)

	fh, err := fs.CreateFile(root, "indirect")
	require.NoError(t, err)

	const pointersPerBlock = 256
	singleIndirectOffset := uint64(directCount) * 1024
	doubleIndirectOffset := uint64(directCount+pointersPerBlock) * 1024

	single := []byte("single-indirect")
	_, err = fh.Write(singleIndirectOffset, uint64(len(single)), single)
	require.NoError(t, err)

	double := []byte("double-indirect")
	_, err = fh.Write(doubleIndirectOffset, uint64(len(double)), double)
	require.NoError(t, err)

	ino, err := fs.readInode(fh.InodeNumber())
	require.NoError(t, err)
	require.NotZero(t, ino.Block[singleIndirectSlot], "single-indirect pointer block never allocated")
	require.NotZero(t, ino.Block[doubleIndirectSlot], "double-indirect pointer block never allocated")

	backSingle := make([]byte, len(single))
	_, err = fh.Read(singleIndirectOffset, uint64(len(backSingle)), backSingle)
	require.NoError(t, err)
	require.Equal(t, single, backSingle)

	backDouble := make([]byte, len(double))
	_, err = fh.Read(doubleIndirectOffset, uint64(len(backDouble)), backDouble)
	require.NoError(t, err)
	require.Equal(t, double, backDouble)

	require.NoError(t, fs.Validate())
}

// Writing a single byte at logical block 15 (inside the single-indirect
// region, three blocks past its first block) must zero-fill every
// byte before it, write exactly the one requested byte, and extend the
// inode's size to offset+1.
func TestSparseWriteForcesIndirectTail(t *testing.T) {
	root, fs := mustMount(t)

	fh, err := fs.CreateFile(root, "sparse-tail")
	require.NoError(t, err)

	offset := uint64(1024 * 15)
	_, err = fh.Write(offset, 1, []byte{0x7A})
	require.NoError(t, err)
	require.Equal(t, offset+1, fh.Size())

	ino, err := fs.readInode(fh.InodeNumber())
	require.NoError(t, err)
	require.NotZero(t, ino.Block[singleIndirectSlot])

	leading := make([]byte, offset)
	n, err := fh.Read(0, offset, leading)
	require.NoError(t, err)
	require.Equal(t, int64(offset), n)
	for i, b := range leading {
		require.Equalf(t, byte(0), b, "leading byte %d not zero", i)
	}

	tail := make([]byte, 1)
	_, err = fh.Read(offset, 1, tail)
	require.NoError(t, err)
	require.Equal(t, byte(0x7A), tail[0])

	require.NoError(t, fs.Validate())
}

package ext2

import (
	"fmt"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/filesystem"
	"github.com/kestrelos/ext2fs/ioshim"
)

// readBytesAt and writeBytesAt wrap ioshim's byte-granularity calls, used
// directly by the metadata readers/writers (superblock, GDT, bitmaps,
// inode table) that address the device at byte granularity rather than
// whole filesystem blocks.
func readBytesAt(dev backend.BlockDevice, offset uint64, dst []byte) error {
	return ioshim.ReadBytes(dev, offset, uint64(len(dst)), dst)
}

func writeBytesAt(dev backend.BlockDevice, offset uint64, src []byte) error {
	return ioshim.WriteBytes(dev, offset, uint64(len(src)), src)
}

// readBlock reads exactly one filesystem block. Callers above this layer
// are responsible for rejecting block 0 and out-of-range block numbers;
// this layer does not validate.
func (fs *FileSystem) readBlock(blk uint32, dst []byte) error {
	offset := uint64(blk) * uint64(fs.blockSz)
	if err := readBytesAt(fs.dev, offset, dst); err != nil {
		return fmt.Errorf("read block %d: %w", blk, errWrap(filesystem.ErrIO, err))
	}
	return nil
}

// writeBlock writes exactly one filesystem block and then requests a
// device flush, keeping every write synchronous.
func (fs *FileSystem) writeBlock(blk uint32, src []byte) error {
	offset := uint64(blk) * uint64(fs.blockSz)
	if err := writeBytesAt(fs.dev, offset, src); err != nil {
		return fmt.Errorf("write block %d: %w", blk, errWrap(filesystem.ErrIO, err))
	}
	if err := fs.dev.Flush(); err != nil {
		return fmt.Errorf("flush after writing block %d: %w", blk, errWrap(filesystem.ErrIO, err))
	}
	return nil
}

// zeroBlock writes a block size's worth of zero bytes to blk.
func (fs *FileSystem) zeroBlock(blk uint32) error {
	zeros := make([]byte, fs.blockSz)
	return fs.writeBlock(blk, zeros)
}

package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/filesystem"
)

// groupDescriptorSize is the on-disk size of one group descriptor record;
// the trailing bytes are reserved/unused by this driver.
const groupDescriptorSize = 32

// groupDescriptor is one entry of the group descriptor table (GDT).
// Stored contiguously on disk starting at the block returned by
// superblock.gdtStartBlock.
type groupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

func readGroupDescriptors(dev backend.BlockDevice, sb *superblock, groups int) ([]groupDescriptor, error) {
	bs := sb.BlockSize()
	startByte := uint64(sb.gdtStartBlock()) * uint64(bs)
	size := uint64(groups) * groupDescriptorSize

	raw := make([]byte, roundUpToSector(size))
	if err := readBytesAt(dev, startByte, raw); err != nil {
		return nil, fmt.Errorf("read group descriptor table: %w", err)
	}

	gdt := make([]groupDescriptor, groups)
	r := bytes.NewReader(raw)
	for i := 0; i < groups; i++ {
		if err := binary.Read(r, binary.LittleEndian, &gdt[i]); err != nil {
			return nil, fmt.Errorf("decode group descriptor %d: %w", i, err)
		}
	}
	return gdt, nil
}

// persistGroupDescriptor writes back the single modified group descriptor
// at its exact byte offset.
func (fs *FileSystem) persistGroupDescriptor(group int) error {
	offset := uint64(fs.sb.gdtStartBlock())*uint64(fs.blockSz) + uint64(group)*groupDescriptorSize

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &fs.gdt[group]); err != nil {
		return fmt.Errorf("encode group descriptor %d: %w", group, err)
	}

	if err := writeBytesAt(fs.dev, offset, buf.Bytes()); err != nil {
		return fmt.Errorf("persist group descriptor %d: %w", group, errWrap(filesystem.ErrIO, err))
	}
	return fs.dev.Flush()
}

func roundUpToSector(n uint64) uint64 {
	if n%backend.SectorSize == 0 {
		return n
	}
	return (n/backend.SectorSize + 1) * backend.SectorSize
}

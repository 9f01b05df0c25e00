package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/filesystem"
)

// superblockOffset is the fixed byte offset of the superblock from the
// start of the device, independent of block size.
const superblockOffset = 1024

// onDiskSuperblock mirrors the subset of the ext2 superblock this driver
// reads and writes. Field order and widths are load-bearing: they are the
// on-disk layout, not a convenience struct.
type onDiskSuperblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      uint32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	MTime            uint32
	WTime            uint32
	MntCount         uint16
	MaxMntCount      uint16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	LastCheck        uint32
	CheckInterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResUID        uint16
	DefResGID        uint16
	FirstIno         uint32
	InodeSize        uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureRoCompat  uint32
	UUID             [16]byte
	VolumeNameRaw    [16]byte
	LastMountedRaw   [64]byte
	AlgoBitmap       uint32
	PreallocBlocks   uint8
	PreallocDirBlock uint8
	Alignment        uint16
	Reserved         [816]byte
}

// superblock is the in-memory, process-wide snapshot loaded once at mount.
// It is the authoritative copy; every mutating allocator path updates it
// and persists the change before returning.
type superblock struct {
	onDiskSuperblock
}

func readSuperblock(dev backend.BlockDevice) (*superblock, error) {
	raw := make([]byte, 1024)
	firstSector := uint64(superblockOffset) / backend.SectorSize
	sectorCount := uint64(len(raw)) / backend.SectorSize
	if err := dev.ReadSectors(firstSector, sectorCount, raw); err != nil {
		return nil, fmt.Errorf("read superblock: %w", errWrap(filesystem.ErrIO, err))
	}

	sb := &superblock{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &sb.onDiskSuperblock); err != nil {
		return nil, fmt.Errorf("decode superblock: %w", err)
	}
	return sb, nil
}

func (sb *superblock) validate() error {
	if sb.Magic != Magic {
		return fmt.Errorf("superblock magic %#x != %#x: %w", sb.Magic, Magic, filesystem.ErrInvalidFormat)
	}
	bs := sb.BlockSize()
	if bs != 1024 && bs != 2048 && bs != 4096 {
		return fmt.Errorf("unsupported block size %d: %w", bs, filesystem.ErrInvalidFormat)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return fmt.Errorf("zero blocks/inodes per group: %w", filesystem.ErrInvalidFormat)
	}
	return nil
}

// BlockSize computes the filesystem block size from LogBlockSize.
func (sb *superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// InodeRecordSize returns the on-disk inode record size, defaulting to the
// 128-byte contract this driver always reads/writes when InodeSize is
// unset (revision 0 filesystems never set it).
func (sb *superblock) InodeRecordSize() uint16 {
	if sb.InodeSize == 0 {
		return 128
	}
	return sb.InodeSize
}

// gdtStartBlock returns the block holding the start of the group
// descriptor table: block 2 when the block size is 1024, block 1 otherwise
// (when blocks are larger than 1024, the superblock at byte 1024 lies inside
// block 0, so the table can start at block 1).
func (sb *superblock) gdtStartBlock() uint32 {
	if sb.BlockSize() == 1024 {
		return 2
	}
	return 1
}

func (sb *superblock) volumeLabel() string {
	return trimCString(sb.VolumeNameRaw[:])
}

func (sb *superblock) lastMounted() string {
	return trimCString(sb.LastMountedRaw[:])
}

func (sb *superblock) setUUID(id uuid.UUID) {
	copy(sb.UUID[:], id[:])
}

func trimCString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// persist writes the superblock back to its fixed byte offset. Called by
// every allocator path after a counter changes; never batched.
func (sb *superblock) persist(dev backend.BlockDevice) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &sb.onDiskSuperblock); err != nil {
		return fmt.Errorf("encode superblock: %w", err)
	}
	padded := make([]byte, 1024)
	copy(padded, buf.Bytes())

	firstSector := uint64(superblockOffset) / backend.SectorSize
	sectorCount := uint64(len(padded)) / backend.SectorSize
	if err := dev.WriteSectors(firstSector, sectorCount, padded); err != nil {
		return fmt.Errorf("persist superblock: %w", errWrap(filesystem.ErrIO, err))
	}
	return dev.Flush()
}

func (fs *FileSystem) persistSuperblock() error {
	return fs.sb.persist(fs.dev)
}

package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kestrelos/ext2fs/filesystem"
)

// inodeRecordSize is the fixed size this driver reads/writes regardless of
// the on-disk inode_size field: 128 bytes by contract, tail left untouched
// on write when the real record is larger.
const inodeRecordSize = 128

const blockPointerCount = 15

// onDiskInode is the 128-byte inode record.
type onDiskInode struct {
	Mode        uint16
	UID         uint16
	Size        uint32
	ATime       uint32
	CTime       uint32
	MTime       uint32
	DTime       uint32
	GID         uint16
	LinksCount  uint16
	Blocks512   uint32
	Flags       uint32
	OSD1        uint32
	Block       [blockPointerCount]uint32
	Generation  uint32
	FileACL     uint32
	DirACLOrHi  uint32
	FragAddr    uint32
	OSD2        [12]byte
}

// inodeOffset computes the on-disk byte offset of inode number n.
// n is 1-based; n == 0 is invalid.
func (fs *FileSystem) inodeOffset(n uint32) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("inode 0 is invalid: %w", filesystem.ErrInvalidFormat)
	}
	group := int((n - 1) / fs.sb.InodesPerGroup)
	index := uint64((n - 1) % fs.sb.InodesPerGroup)
	if group < 0 || group >= fs.groups {
		return 0, fmt.Errorf("inode %d maps to out-of-range group %d: %w", n, group, filesystem.ErrInvalidFormat)
	}
	tableBlock := uint64(fs.gdt[group].InodeTable)
	return tableBlock*uint64(fs.blockSz) + index*uint64(fs.sb.InodeRecordSize()), nil
}

// readInode reads exactly the 128-byte inode structure at n's computed
// offset, even when the on-disk inode_size is larger.
func (fs *FileSystem) readInode(n uint32) (*onDiskInode, error) {
	offset, err := fs.inodeOffset(n)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, inodeRecordSize)
	if err := readBytesAt(fs.dev, offset, raw); err != nil {
		return nil, fmt.Errorf("read inode %d: %w", n, errWrap(filesystem.ErrIO, err))
	}
	ino := &onDiskInode{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, ino); err != nil {
		return nil, fmt.Errorf("decode inode %d: %w", n, err)
	}
	return ino, nil
}

// writeInode writes exactly the 128-byte inode structure at n's computed
// offset. The tail of a larger on-disk record is left untouched.
func (fs *FileSystem) writeInode(n uint32, ino *onDiskInode) error {
	offset, err := fs.inodeOffset(n)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, ino); err != nil {
		return fmt.Errorf("encode inode %d: %w", n, err)
	}
	if err := writeBytesAt(fs.dev, offset, buf.Bytes()); err != nil {
		return fmt.Errorf("write inode %d: %w", n, errWrap(filesystem.ErrIO, err))
	}
	return fs.dev.Flush()
}

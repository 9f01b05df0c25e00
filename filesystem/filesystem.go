// Package filesystem defines the error kinds and node-handle contract shared
// by filesystem drivers mounted by this kernel. The only implementation
// today is github.com/kestrelos/ext2fs/filesystem/ext2.
package filesystem

import "errors"

// Error kinds observable at the driver boundary (see the ext2 package for
// where each is raised). Callers should compare with errors.Is.
var (
	// ErrIO means the underlying block device read, write, or flush failed.
	ErrIO = errors.New("block device i/o failed")
	// ErrInvalidFormat means the on-disk structure is not a filesystem this
	// driver recognizes: bad magic, unsupported block size, inode 0, or a
	// block number out of range.
	ErrInvalidFormat = errors.New("invalid on-disk format")
	// ErrOutOfSpace means no free block or inode was available.
	ErrOutOfSpace = errors.New("no space left on device")
	// ErrOutOfMemory means a scratch buffer could not be acquired.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNotFound means a directory lookup found no matching entry.
	ErrNotFound = errors.New("not found")
	// ErrNotSupported means the operation is outside this driver's scope:
	// directory removal, triple-indirect traversal, or a write past the
	// double-indirect ceiling.
	ErrNotSupported = errors.New("not supported")
	// ErrCorruption means an invariant violation was detected on disk, such
	// as a double-free against a bitmap. The caller should treat the volume
	// as suspect; the driver does not panic on it.
	ErrCorruption = errors.New("on-disk corruption detected")
)

// Type identifies the on-disk layout a mounted filesystem implements.
type Type int

const (
	// TypeExt2 is the second extended filesystem layout.
	TypeExt2 Type = iota
)

// NodeFlags describes what kind of node a handle refers to.
type NodeFlags uint8

const (
	FlagFile NodeFlags = 1 << iota
	FlagDirectory
	FlagMountpoint
)

// NodeOps is the vtable the virtual filesystem layer above drives a mounted
// node through. Readdir signals "no more entries" with a nil *DirEntry and
// a nil error; Finddir signals a miss with a non-nil error wrapping
// ErrNotFound, checked with errors.Is.
type NodeOps interface {
	Read(offset, size uint64, dst []byte) (int64, error)
	Write(offset, size uint64, src []byte) (int64, error)
	Readdir(index int) (*DirEntry, error)
	Finddir(name string) (NodeHandle, error)
}

// DirEntry is the record returned by Readdir. It is only valid until the
// next Readdir call on the same node.
type DirEntry struct {
	Name  string
	Inode uint32
}

// NodeHandle is the opaque handle delivered to the consumer above the
// driver. The consumer owns it and is responsible for releasing it; Parent
// is a non-owning back-reference used only for path composition.
type NodeHandle interface {
	NodeOps
	Name() string
	InodeNumber() uint32
	Size() uint64
	Flags() NodeFlags
	Mode() uint16
	UID() uint16
	GID() uint16
	Parent() NodeHandle
}

// Stats summarizes a mounted volume for the consumer's statfs-style calls.
type Stats struct {
	BlockSize       uint32
	TotalBlocks     uint32
	FreeBlocks      uint32
	TotalInodes     uint32
	FreeInodes      uint32
	GroupCount      int
	VolumeLabel     string
	LastMountedPath string
	StateFlag       uint16
	RevisionLevel   uint32
	TotalKB         uint64
	FreeKB          uint64
}

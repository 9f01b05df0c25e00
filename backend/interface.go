// Package backend defines the block device boundary the ext2 driver is built on.
//
// The driver never assumes anything about the medium beneath it beyond this
// contract: fixed 512-byte sectors, synchronous reads and writes, and an
// explicit flush. Everything above this line (byte-range splicing, block
// caching policy, bitmap semantics) belongs to the driver, not the device.
package backend

import "errors"

// SectorSize is the fixed I/O granularity of the block device boundary.
// The filesystem block size (1024..4096) is a multiple of this and is
// negotiated entirely above this package.
const SectorSize = 512

var (
	// ErrIncorrectOpenMode is returned when a write is attempted against a
	// device opened read-only.
	ErrIncorrectOpenMode = errors.New("block device not open for write")
	// ErrOutOfRange is returned when a read or write addresses sectors
	// beyond the device's extent.
	ErrOutOfRange = errors.New("sector range is out of bounds for this device")
)

// BlockDevice is the reliable sector-addressed read/write/flush surface the
// driver mounts on top of. Implementations are free to be a raw disk, a
// plain file, or a sector-range view into a larger device (see Sub); none of
// that is visible above this interface.
type BlockDevice interface {
	// ReadSectors reads sectorCount sectors starting at startSector into dst.
	// len(dst) must be at least sectorCount*SectorSize.
	ReadSectors(startSector, sectorCount uint64, dst []byte) error
	// WriteSectors writes sectorCount sectors starting at startSector from src.
	// len(src) must be at least sectorCount*SectorSize.
	WriteSectors(startSector, sectorCount uint64, src []byte) error
	// Flush requests that all previously written sectors reach stable
	// storage before it returns.
	Flush() error
	// SectorCount reports the total number of addressable sectors.
	SectorCount() uint64
}

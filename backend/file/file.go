// Package file implements backend.BlockDevice over a plain os.File, so a
// disk image or raw device node can be mounted without any real hardware.
package file

import (
	"errors"
	"fmt"
	"os"

	"github.com/kestrelos/ext2fs/backend"
)

type fileDevice struct {
	f           *os.File
	readOnly    bool
	sectorCount uint64
}

// New wraps an already-open file as a backend.BlockDevice. size is the
// device extent in bytes; it must be a multiple of backend.SectorSize.
func New(f *os.File, readOnly bool, size int64) (backend.BlockDevice, error) {
	if size <= 0 || size%backend.SectorSize != 0 {
		return nil, fmt.Errorf("device size %d is not a positive multiple of sector size %d", size, backend.SectorSize)
	}
	return &fileDevice{f: f, readOnly: readOnly, sectorCount: uint64(size) / backend.SectorSize}, nil
}

// OpenFromPath opens an existing file or device node at pathName.
// The provided device/file must exist at the time you call OpenFromPath().
func OpenFromPath(pathName string, readOnly bool) (backend.BlockDevice, error) {
	if pathName == "" {
		return nil, errors.New("must pass device or file name")
	}
	info, err := os.Stat(pathName)
	if err != nil {
		return nil, fmt.Errorf("provided device/file %s does not exist: %w", pathName, err)
	}

	openMode := os.O_RDONLY
	if !readOnly {
		openMode |= os.O_RDWR
	}
	f, err := os.OpenFile(pathName, openMode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s with mode %v: %w", pathName, openMode, err)
	}

	return &fileDevice{f: f, readOnly: readOnly, sectorCount: uint64(info.Size()) / backend.SectorSize}, nil
}

// CreateFromPath creates a new zero-filled image file of size bytes.
// The provided file must not exist at the time you call CreateFromPath().
func CreateFromPath(pathName string, size int64) (backend.BlockDevice, error) {
	if pathName == "" {
		return nil, errors.New("must pass device name")
	}
	if size <= 0 || size%backend.SectorSize != 0 {
		return nil, fmt.Errorf("must pass device size that is a positive multiple of %d", backend.SectorSize)
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not create device %s: %w", pathName, err)
	}
	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("could not expand device %s to size %d: %w", pathName, size, err)
	}

	return &fileDevice{f: f, readOnly: false, sectorCount: uint64(size) / backend.SectorSize}, nil
}

// backend.BlockDevice interface guard
var _ backend.BlockDevice = (*fileDevice)(nil)

func (d *fileDevice) SectorCount() uint64 {
	return d.sectorCount
}

func (d *fileDevice) checkRange(startSector, sectorCount uint64, bufLen int) error {
	if startSector+sectorCount > d.sectorCount {
		return backend.ErrOutOfRange
	}
	if uint64(bufLen) < sectorCount*backend.SectorSize {
		return fmt.Errorf("buffer of %d bytes too small for %d sectors", bufLen, sectorCount)
	}
	return nil
}

func (d *fileDevice) ReadSectors(startSector, sectorCount uint64, dst []byte) error {
	if err := d.checkRange(startSector, sectorCount, len(dst)); err != nil {
		return err
	}
	n, err := d.f.ReadAt(dst[:sectorCount*backend.SectorSize], int64(startSector*backend.SectorSize))
	if err != nil {
		return fmt.Errorf("failed to read sectors %d..%d: %w", startSector, startSector+sectorCount, err)
	}
	if uint64(n) != sectorCount*backend.SectorSize {
		return fmt.Errorf("short read: got %d bytes, wanted %d", n, sectorCount*backend.SectorSize)
	}
	return nil
}

func (d *fileDevice) WriteSectors(startSector, sectorCount uint64, src []byte) error {
	if d.readOnly {
		return backend.ErrIncorrectOpenMode
	}
	if err := d.checkRange(startSector, sectorCount, len(src)); err != nil {
		return err
	}
	n, err := d.f.WriteAt(src[:sectorCount*backend.SectorSize], int64(startSector*backend.SectorSize))
	if err != nil {
		return fmt.Errorf("failed to write sectors %d..%d: %w", startSector, startSector+sectorCount, err)
	}
	if uint64(n) != sectorCount*backend.SectorSize {
		return fmt.Errorf("short write: wrote %d bytes, wanted %d", n, sectorCount*backend.SectorSize)
	}
	return nil
}

func (d *fileDevice) Flush() error {
	if d.readOnly {
		return nil
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("failed to flush device: %w", err)
	}
	if err := flushBlockDevice(d.f); err != nil {
		return fmt.Errorf("failed to flush block device buffer cache: %w", err)
	}
	return nil
}

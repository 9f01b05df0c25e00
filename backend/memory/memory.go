// Package memory implements backend.BlockDevice purely in RAM, for tests
// and scratch images that never need to survive a process exit.
package memory

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/kestrelos/ext2fs/backend"
)

// Device is an in-memory backend.BlockDevice. The zero value is not usable;
// construct one with New.
type Device struct {
	size       int64
	stream     io.ReadWriteSeeker
	flushCount int
}

// New creates a zero-filled block device of size bytes, which must be a
// positive multiple of backend.SectorSize. The backing slice is wrapped in
// an io.ReadWriteSeeker the same way this pack's own in-memory test images
// are built, rather than indexed by hand.
func New(size int64) (*Device, error) {
	if size <= 0 || size%backend.SectorSize != 0 {
		return nil, fmt.Errorf("device size %d is not a positive multiple of sector size %d", size, backend.SectorSize)
	}
	return &Device{size: size, stream: bytesextra.NewReadWriteSeeker(make([]byte, size))}, nil
}

func (d *Device) SectorCount() uint64 {
	return uint64(d.size) / backend.SectorSize
}

func (d *Device) checkRange(start, count uint64) error {
	if start+count > d.SectorCount() {
		return backend.ErrOutOfRange
	}
	return nil
}

func (d *Device) ReadSectors(startSector, sectorCount uint64, dst []byte) error {
	if err := d.checkRange(startSector, sectorCount); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(startSector*backend.SectorSize), io.SeekStart); err != nil {
		return fmt.Errorf("seek to sector %d: %w", startSector, err)
	}
	want := sectorCount * backend.SectorSize
	n, err := io.ReadFull(d.stream, dst[:want])
	if err != nil {
		return fmt.Errorf("read %d sectors at %d: %w", sectorCount, startSector, err)
	}
	if uint64(n) != want {
		return fmt.Errorf("short read: destination buffer too small")
	}
	return nil
}

func (d *Device) WriteSectors(startSector, sectorCount uint64, src []byte) error {
	if err := d.checkRange(startSector, sectorCount); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(startSector*backend.SectorSize), io.SeekStart); err != nil {
		return fmt.Errorf("seek to sector %d: %w", startSector, err)
	}
	want := sectorCount * backend.SectorSize
	n, err := d.stream.Write(src[:want])
	if err != nil {
		return fmt.Errorf("write %d sectors at %d: %w", sectorCount, startSector, err)
	}
	if uint64(n) != want {
		return fmt.Errorf("short write: source buffer too small")
	}
	return nil
}

// FlushCount reports how many times Flush has been called, for tests that
// assert the driver flushes after every block write.
func (d *Device) FlushCount() int {
	return d.flushCount
}

func (d *Device) Flush() error {
	d.flushCount++
	return nil
}

var _ backend.BlockDevice = (*Device)(nil)

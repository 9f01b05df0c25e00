// Package ioshim splices arbitrary byte ranges onto a sector-only
// backend.BlockDevice. Every read and write in this package touches the
// device directly; caching, if any, belongs above this layer.
package ioshim

import (
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/sirupsen/logrus"

	"github.com/kestrelos/ext2fs/backend"
)

var log = logrus.WithField("component", "ioshim")

// ReadBytes reads size bytes starting at byte offset into dst[:size],
// splicing across whatever sectors the range spans.
func ReadBytes(dev backend.BlockDevice, offset, size uint64, dst []byte) error {
	if size == 0 {
		return nil
	}
	if uint64(len(dst)) < size {
		return fmt.Errorf("destination buffer of %d bytes too small for %d byte read", len(dst), size)
	}

	firstSector := offset / backend.SectorSize
	lastSector := (offset + size - 1) / backend.SectorSize
	sectorCount := lastSector - firstSector + 1

	scratch := make([]byte, sectorCount*backend.SectorSize)
	if err := dev.ReadSectors(firstSector, sectorCount, scratch); err != nil {
		log.WithError(err).WithField("offset", offset).Error("read_bytes: device read failed")
		return fmt.Errorf("read_bytes at offset %d: %w", offset, err)
	}

	skip := offset - firstSector*backend.SectorSize
	copy(dst[:size], scratch[skip:skip+size])
	return nil
}

// WriteBytes writes size bytes from src[:size] to byte offset. Any sector
// only partially covered by the write is first read so the untouched
// portion of that sector survives (read-modify-write).
func WriteBytes(dev backend.BlockDevice, offset, size uint64, src []byte) error {
	if size == 0 {
		return nil
	}
	if uint64(len(src)) < size {
		return fmt.Errorf("source buffer of %d bytes too small for %d byte write", len(src), size)
	}

	firstSector := offset / backend.SectorSize
	lastSector := (offset + size - 1) / backend.SectorSize
	sectorCount := lastSector - firstSector + 1

	scratch := make([]byte, sectorCount*backend.SectorSize)
	startOffset := offset - firstSector*backend.SectorSize
	endOffset := startOffset + size
	partialHead := startOffset != 0
	partialTail := endOffset != uint64(len(scratch))

	if partialHead || partialTail {
		if err := dev.ReadSectors(firstSector, sectorCount, scratch); err != nil {
			log.WithError(err).WithField("offset", offset).Error("write_bytes: read-modify-write fetch failed")
			return fmt.Errorf("write_bytes read-modify-write at offset %d: %w", offset, err)
		}
	}

	w := bytewriter.New(scratch[startOffset:])
	if _, err := w.Write(src[:size]); err != nil {
		return fmt.Errorf("write_bytes splice at offset %d: %w", offset, err)
	}

	if err := dev.WriteSectors(firstSector, sectorCount, scratch); err != nil {
		log.WithError(err).WithField("offset", offset).Error("write_bytes: device write failed")
		return fmt.Errorf("write_bytes at offset %d: %w", offset, err)
	}
	return nil
}

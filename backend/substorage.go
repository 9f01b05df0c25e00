package backend

import "fmt"

// subDevice exposes a sector-range window of an underlying BlockDevice as a
// BlockDevice in its own right. It lets the driver mount a volume that
// starts partway through a larger disk image without knowing about
// partition tables; the partitioning scheme above this package decides the
// offset.
type subDevice struct {
	underlying  BlockDevice
	startSector uint64
	sectorCount uint64
}

// Sub returns a BlockDevice representing sectorCount sectors of underlying
// starting at startSector.
func Sub(underlying BlockDevice, startSector, sectorCount uint64) BlockDevice {
	return &subDevice{underlying: underlying, startSector: startSector, sectorCount: sectorCount}
}

func (s *subDevice) SectorCount() uint64 {
	return s.sectorCount
}

func (s *subDevice) checkRange(start, count uint64) error {
	if start+count > s.sectorCount {
		return ErrOutOfRange
	}
	return nil
}

func (s *subDevice) ReadSectors(startSector, sectorCount uint64, dst []byte) error {
	if err := s.checkRange(startSector, sectorCount); err != nil {
		return fmt.Errorf("sub-device read: %w", err)
	}
	return s.underlying.ReadSectors(s.startSector+startSector, sectorCount, dst)
}

func (s *subDevice) WriteSectors(startSector, sectorCount uint64, src []byte) error {
	if err := s.checkRange(startSector, sectorCount); err != nil {
		return fmt.Errorf("sub-device write: %w", err)
	}
	return s.underlying.WriteSectors(s.startSector+startSector, sectorCount, src)
}

func (s *subDevice) Flush() error {
	return s.underlying.Flush()
}

var _ BlockDevice = (*subDevice)(nil)

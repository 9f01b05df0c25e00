package ext2

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/filesystem"
	"github.com/kestrelos/ext2fs/util/bitmap"
	"github.com/kestrelos/ext2fs/util/timestamp"
)

// defaultInodeRatio is bytes-per-inode used to size the inode table when
// FormatOptions.InodeCount is left at 0: roughly one inode per 8 blocks at
// a 1024-byte block size, generous enough for the small images this driver
// targets.
const defaultInodeRatio = 8192

// FormatOptions configures Format.
type FormatOptions struct {
	// BlockSize must be 1024, 2048, or 4096; 0 defaults to 1024.
	BlockSize uint32
	// VolumeLabel is copied into the superblock, truncated to 16 bytes.
	VolumeLabel string
	// InodeCount overrides the computed per-group inode count when nonzero;
	// the volume's total is InodeCount times the number of groups.
	InodeCount uint32
	// Clock stamps the superblock's creation/last-write time. Defaults to
	// timestamp.RealClock{}.
	Clock timestamp.Clock
	// StartSector offsets the volume onto a window of dev starting at this
	// sector, for formatting a volume that lives partway through a larger
	// disk image rather than owning the whole device. Zero means dev is the
	// whole volume.
	StartSector uint64
}

// Format writes a fresh, single-mount-ready ext2 layout onto dev: a
// superblock, a group descriptor table, and, for every group, a block
// bitmap, an inode bitmap, and an inode table, with the root directory
// (inode 2) seeded with "." and "..". It is this driver's mkfs; every
// image Mount reads in this module's tests was produced by it.
func Format(dev backend.BlockDevice, opts FormatOptions) error {
	if opts.StartSector != 0 {
		dev = backend.Sub(dev, opts.StartSector, dev.SectorCount()-opts.StartSector)
	}

	bs := opts.BlockSize
	if bs == 0 {
		bs = 1024
	}
	if bs != 1024 && bs != 2048 && bs != 4096 {
		return fmt.Errorf("format: unsupported block size %d: %w", bs, filesystem.ErrInvalidFormat)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timestamp.RealClock{}
	}

	totalBytes := dev.SectorCount() * backend.SectorSize
	totalBlocks := uint32(totalBytes / uint64(bs))
	if totalBlocks < 64 {
		return fmt.Errorf("format: device too small (%d blocks) for a usable filesystem", totalBlocks)
	}

	firstDataBlock := uint32(1)
	if bs != 1024 {
		firstDataBlock = 0
	}

	blocksPerGroup := bs * 8 // one bitmap block's worth of bits
	dataBlockSpan := totalBlocks - firstDataBlock
	groups := int((dataBlockSpan + blocksPerGroup - 1) / blocksPerGroup)
	if groups < 1 {
		groups = 1
	}

	inodesPerGroup := opts.InodeCount
	if inodesPerGroup == 0 {
		inodesPerGroup = (uint32(uint64(totalBlocks)*uint64(bs)/defaultInodeRatio) + uint32(groups) - 1) / uint32(groups)
	}
	if inodesPerGroup < 8 {
		inodesPerGroup = 8
	}
	// round up to a byte boundary so the inode bitmap has a whole number
	// of bytes; it still occupies one full block on disk, trailing bytes
	// left zero (free) but never addressed by a real inode number.
	inodesPerGroup = (inodesPerGroup + 7) &^ 7

	inodeRecSize := uint16(inodeRecordSize)
	inodeTableBlocksPerGroup := uint32((uint64(inodesPerGroup)*uint64(inodeRecSize) + uint64(bs) - 1) / uint64(bs))

	sb := &superblock{}
	sb.InodesCount = inodesPerGroup * uint32(groups)
	sb.BlocksCount = totalBlocks
	sb.FirstDataBlock = firstDataBlock
	sb.LogBlockSize = logBlockSizeFor(bs)
	sb.BlocksPerGroup = blocksPerGroup
	sb.FragsPerGroup = blocksPerGroup
	sb.InodesPerGroup = inodesPerGroup
	sb.Magic = Magic
	sb.RevLevel = 1
	sb.FirstIno = 11
	sb.InodeSize = inodeRecSize
	now := clock.Now()
	sb.MTime = now
	sb.WTime = now
	copy(sb.VolumeNameRaw[:], opts.VolumeLabel)
	sb.setUUID(uuid.New())

	fs := &FileSystem{dev: dev, sb: sb, blockSz: bs, groups: groups, clock: clock}
	fs.gdt = make([]groupDescriptor, groups)

	gdtStart := sb.gdtStartBlock()
	gdtBlocks := uint32((groups*groupDescriptorSize + int(bs) - 1) / int(bs))
	nextFree := gdtStart + gdtBlocks

	var totalFreeBlocks uint32
	for g := 0; g < groups; g++ {
		groupStart := firstDataBlock + uint32(g)*blocksPerGroup
		groupBlocks := blocksPerGroup
		if g == groups-1 {
			groupBlocks = totalBlocks - groupStart
		}

		var reservedHere uint32
		if g == 0 {
			reservedHere = nextFree - groupStart
		}

		blockBitmapBlk := groupStart + reservedHere
		inodeBitmapBlk := blockBitmapBlk + 1
		inodeTableBlk := inodeBitmapBlk + 1
		dataStart := inodeTableBlk + inodeTableBlocksPerGroup

		fs.gdt[g] = groupDescriptor{
			BlockBitmap: blockBitmapBlk,
			InodeBitmap: inodeBitmapBlk,
			InodeTable:  inodeTableBlk,
		}

		blockBM := bitmap.NewBits(int(blocksPerGroup))
		usedInGroup := dataStart - groupStart
		for i := uint32(0); i < usedInGroup; i++ {
			if err := blockBM.Set(int(i)); err != nil {
				return err
			}
		}

		var rootBlk uint32
		if g == 0 {
			rootBlk = dataStart
			if err := blockBM.Set(int(rootBlk - groupStart)); err != nil {
				return err
			}
			usedInGroup++
		}

		freeHere := groupBlocks - usedInGroup
		fs.gdt[g].FreeBlocksCount = uint16(freeHere)
		totalFreeBlocks += freeHere

		if err := writeBytesAt(dev, uint64(blockBitmapBlk)*uint64(bs), blockBM.ToBytes()); err != nil {
			return fmt.Errorf("format: write block bitmap for group %d: %w", g, err)
		}

		inodeBM := bitmap.NewBits(int(inodesPerGroup))
		var reservedInodes uint32
		if g == 0 {
			reservedInodes = 2 // inode 1 (reserved) and inode 2 (root)
			if err := inodeBM.Set(0); err != nil {
				return err
			}
			if err := inodeBM.Set(1); err != nil {
				return err
			}
		}
		fs.gdt[g].FreeInodesCount = uint16(inodesPerGroup - reservedInodes)
		if g == 0 {
			fs.gdt[g].UsedDirsCount = 1
		}
		if err := writeBytesAt(dev, uint64(inodeBitmapBlk)*uint64(bs), inodeBM.ToBytes()); err != nil {
			return fmt.Errorf("format: write inode bitmap for group %d: %w", g, err)
		}

		emptyTable := make([]byte, uint64(inodeTableBlocksPerGroup)*uint64(bs))
		if err := writeBytesAt(dev, uint64(inodeTableBlk)*uint64(bs), emptyTable); err != nil {
			return fmt.Errorf("format: write inode table for group %d: %w", g, err)
		}

		if g == 0 {
			rootDirData := make([]byte, bs)
			writeDirRecord(rootDirData, 0, RootInode, 12, ".", fileTypeDir)
			writeDirRecord(rootDirData, 12, RootInode, uint16(bs)-12, "..", fileTypeDir)
			if err := writeBytesAt(dev, uint64(rootBlk)*uint64(bs), rootDirData); err != nil {
				return fmt.Errorf("format: write root directory block: %w", err)
			}

			rootInode := &onDiskInode{
				Mode:       modeDir,
				LinksCount: 2,
				Size:       bs,
				Blocks512:  bs / 512,
				ATime:      now,
				CTime:      now,
				MTime:      now,
			}
			rootInode.Block[0] = rootBlk
			if err := fs.writeInode(RootInode, rootInode); err != nil {
				return fmt.Errorf("format: write root inode: %w", err)
			}
		}
	}

	sb.FreeBlocksCount = totalFreeBlocks
	var totalFreeInodes uint32
	for g := range fs.gdt {
		totalFreeInodes += uint32(fs.gdt[g].FreeInodesCount)
	}
	sb.FreeInodesCount = totalFreeInodes

	for g := 0; g < groups; g++ {
		if err := fs.persistGroupDescriptor(g); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	if err := fs.persistSuperblock(); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	return nil
}

func logBlockSizeFor(bs uint32) uint32 {
	switch bs {
	case 1024:
		return 0
	case 2048:
		return 1
	case 4096:
		return 2
	default:
		return 0
	}
}

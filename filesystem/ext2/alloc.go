package ext2

import (
	"fmt"

	"github.com/kestrelos/ext2fs/filesystem"
	"github.com/kestrelos/ext2fs/util/bitmap"
)

// readBlockBitmap loads group g's block bitmap into memory.
func (fs *FileSystem) readBlockBitmap(g int) (*bitmap.Bitmap, error) {
	raw := make([]byte, fs.blockSz)
	if err := fs.readBlock(fs.gdt[g].BlockBitmap, raw); err != nil {
		return nil, fmt.Errorf("read block bitmap for group %d: %w", g, err)
	}
	return bitmap.FromBytes(raw), nil
}

// readInodeBitmap loads group g's inode bitmap into memory.
func (fs *FileSystem) readInodeBitmap(g int) (*bitmap.Bitmap, error) {
	raw := make([]byte, fs.blockSz)
	if err := fs.readBlock(fs.gdt[g].InodeBitmap, raw); err != nil {
		return nil, fmt.Errorf("read inode bitmap for group %d: %w", g, err)
	}
	return bitmap.FromBytes(raw), nil
}

// allocateBlock does a first-fit scan: lowest group first, lowest bit
// first within the group. Returns 0 (the "no block" sentinel) when every
// group is full.
func (fs *FileSystem) allocateBlock() (uint32, error) {
	for g := 0; g < fs.groups; g++ {
		if fs.gdt[g].FreeBlocksCount == 0 {
			continue
		}
		bm, err := fs.readBlockBitmap(g)
		if err != nil {
			return 0, err
		}
		bit := bm.FirstFree(0)
		limit := fs.blocksInGroup(g)
		if bit < 0 || bit >= limit {
			continue
		}

		if err := bm.Set(bit); err != nil {
			return 0, fmt.Errorf("allocate block: %w", err)
		}
		if err := fs.writeBlock(fs.gdt[g].BlockBitmap, bm.ToBytes()); err != nil {
			return 0, fmt.Errorf("persist block bitmap for group %d: %w", g, err)
		}

		fs.gdt[g].FreeBlocksCount--
		fs.sb.FreeBlocksCount--
		if err := fs.persistGroupDescriptor(g); err != nil {
			return 0, err
		}
		if err := fs.persistSuperblock(); err != nil {
			return 0, err
		}

		phys := uint32(g)*fs.sb.BlocksPerGroup + uint32(bit) + fs.sb.FirstDataBlock
		return phys, nil
	}
	log.Warn("allocate block: no group has free space")
	return 0, fmt.Errorf("allocate block: %w", filesystem.ErrOutOfSpace)
}

// allocateInode does the same first-fit scan over the inode bitmap. isDir
// tells the allocator whether to bump the owning group's directory count.
func (fs *FileSystem) allocateInode(isDir bool) (uint32, error) {
	for g := 0; g < fs.groups; g++ {
		if fs.gdt[g].FreeInodesCount == 0 {
			continue
		}
		bm, err := fs.readInodeBitmap(g)
		if err != nil {
			return 0, err
		}
		bit := bm.FirstFree(0)
		if bit < 0 || bit >= int(fs.sb.InodesPerGroup) {
			continue
		}

		if err := bm.Set(bit); err != nil {
			return 0, fmt.Errorf("allocate inode: %w", err)
		}
		if err := fs.writeBlock(fs.gdt[g].InodeBitmap, bm.ToBytes()); err != nil {
			return 0, fmt.Errorf("persist inode bitmap for group %d: %w", g, err)
		}

		fs.gdt[g].FreeInodesCount--
		fs.sb.FreeInodesCount--
		if isDir {
			fs.gdt[g].UsedDirsCount++
		}
		if err := fs.persistGroupDescriptor(g); err != nil {
			return 0, err
		}
		if err := fs.persistSuperblock(); err != nil {
			return 0, err
		}

		return uint32(g)*fs.sb.InodesPerGroup + uint32(bit) + 1, nil
	}
	log.Warn("allocate inode: no group has free space")
	return 0, fmt.Errorf("allocate inode: %w", filesystem.ErrOutOfSpace)
}

// freeBlock clears a block's bitmap bit and bumps free counts. Freeing an
// already-free block is a detected corruption, not a silent success.
func (fs *FileSystem) freeBlock(blk uint32) error {
	if blk < fs.sb.FirstDataBlock || blk >= fs.sb.BlocksCount {
		return fmt.Errorf("free block %d out of range: %w", blk, filesystem.ErrInvalidFormat)
	}
	rel := blk - fs.sb.FirstDataBlock
	g := int(rel / fs.sb.BlocksPerGroup)
	bit := int(rel % fs.sb.BlocksPerGroup)

	bm, err := fs.readBlockBitmap(g)
	if err != nil {
		return err
	}
	set, err := bm.IsSet(bit)
	if err != nil {
		return fmt.Errorf("free block %d: %w", blk, err)
	}
	if !set {
		log.WithField("block", blk).Warn("free block: double-free detected")
		return fmt.Errorf("free block %d: already free: %w", blk, filesystem.ErrCorruption)
	}

	if err := bm.Clear(bit); err != nil {
		return fmt.Errorf("free block %d: %w", blk, err)
	}
	if err := fs.writeBlock(fs.gdt[g].BlockBitmap, bm.ToBytes()); err != nil {
		return fmt.Errorf("persist block bitmap for group %d: %w", g, err)
	}

	fs.gdt[g].FreeBlocksCount++
	fs.sb.FreeBlocksCount++
	if err := fs.persistGroupDescriptor(g); err != nil {
		return err
	}
	return fs.persistSuperblock()
}

// freeInode clears an inode's bitmap bit and bumps free counts.
func (fs *FileSystem) freeInode(ino uint32, wasDir bool) error {
	if ino == 0 {
		return fmt.Errorf("free inode 0: %w", filesystem.ErrInvalidFormat)
	}
	g := int((ino - 1) / fs.sb.InodesPerGroup)
	bit := int((ino - 1) % fs.sb.InodesPerGroup)

	bm, err := fs.readInodeBitmap(g)
	if err != nil {
		return err
	}
	set, err := bm.IsSet(bit)
	if err != nil {
		return fmt.Errorf("free inode %d: %w", ino, err)
	}
	if !set {
		log.WithField("inode", ino).Warn("free inode: double-free detected")
		return fmt.Errorf("free inode %d: already free: %w", ino, filesystem.ErrCorruption)
	}

	if err := bm.Clear(bit); err != nil {
		return fmt.Errorf("free inode %d: %w", ino, err)
	}
	if err := fs.writeBlock(fs.gdt[g].InodeBitmap, bm.ToBytes()); err != nil {
		return fmt.Errorf("persist inode bitmap for group %d: %w", g, err)
	}

	fs.gdt[g].FreeInodesCount++
	fs.sb.FreeInodesCount++
	if wasDir && fs.gdt[g].UsedDirsCount > 0 {
		fs.gdt[g].UsedDirsCount--
	}
	if err := fs.persistGroupDescriptor(g); err != nil {
		return err
	}
	return fs.persistSuperblock()
}

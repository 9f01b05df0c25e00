// Package ext2 implements an ext2-compatible on-disk filesystem driver:
// mount, directory traversal, file read/write over a direct/indirect block
// tree, and bitmap-backed block/inode allocation. See SPEC_FULL.md at the
// module root for the full design.
package ext2

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/kestrelos/ext2fs/backend"
	"github.com/kestrelos/ext2fs/filesystem"
	"github.com/kestrelos/ext2fs/util/timestamp"
)

const (
	// Magic is the required ext2 superblock magic number.
	Magic uint16 = 0xEF53

	// RootInode is the fixed inode number of the filesystem root.
	RootInode uint32 = 2
	// reservedInode is inode 1, reserved and never allocated.
	reservedInode uint32 = 1

	modeDir     uint16 = 0x4000
	modeRegular uint16 = 0x8000

	fileTypeUnknown uint8 = 0
	fileTypeRegular uint8 = 1
	fileTypeDir     uint8 = 2
)

var log = logrus.WithField("component", "ext2")

// MountOptions configures a Mount call.
type MountOptions struct {
	// ReadOnly refuses any operation that would mutate the volume.
	ReadOnly bool
	// Clock supplies inode timestamps. Defaults to timestamp.RealClock{}.
	Clock timestamp.Clock
	// StartSector mounts the volume that begins at this sector of dev,
	// rather than treating dev as the whole volume. Zero means dev is the
	// whole volume.
	StartSector uint64
}

// FileSystem is the process-wide state for one mounted ext2 volume. It is
// shared, read-only after construction except through the allocator and
// directory/file mutation paths, by every live Node of that volume.
type FileSystem struct {
	dev     backend.BlockDevice
	sb      *superblock
	gdt     []groupDescriptor
	opts    MountOptions
	clock   timestamp.Clock
	blockSz uint32
	groups  int
}

// Mount loads the superblock and group descriptor table from dev and
// returns the root node handle together with the filesystem state.
func Mount(dev backend.BlockDevice, opts MountOptions) (filesystem.NodeHandle, *FileSystem, error) {
	if opts.StartSector != 0 {
		dev = backend.Sub(dev, opts.StartSector, dev.SectorCount()-opts.StartSector)
	}

	sb, err := readSuperblock(dev)
	if err != nil {
		return nil, nil, err
	}
	if err := sb.validate(); err != nil {
		return nil, nil, err
	}

	groups := int((sb.BlocksCount + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup)
	gdt, err := readGroupDescriptors(dev, sb, groups)
	if err != nil {
		return nil, nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = timestamp.RealClock{}
	}

	fs := &FileSystem{
		dev:     dev,
		sb:      sb,
		gdt:     gdt,
		opts:    opts,
		clock:   clock,
		blockSz: sb.BlockSize(),
		groups:  groups,
	}

	rootIno, err := fs.readInode(RootInode)
	if err != nil {
		return nil, nil, fmt.Errorf("mount: failed to read root inode: %w", err)
	}
	if rootIno.Mode&modeDir == 0 {
		return nil, nil, fmt.Errorf("mount: root inode is not a directory: %w", filesystem.ErrInvalidFormat)
	}

	root := fs.newNode(RootInode, rootIno, "/", nil)
	return root, fs, nil
}

// BlockSize returns the negotiated filesystem block size in bytes.
func (fs *FileSystem) BlockSize() uint32 {
	return fs.blockSz
}

// CreateFile creates an empty regular file named name inside parent and
// returns its node handle.
func (fs *FileSystem) CreateFile(parent filesystem.NodeHandle, name string) (filesystem.NodeHandle, error) {
	return fs.create(parent, name, modeRegular, fileTypeRegular)
}

// CreateDir creates an empty directory named name inside parent (seeded
// with "." and "..") and returns its node handle.
func (fs *FileSystem) CreateDir(parent filesystem.NodeHandle, name string) (filesystem.NodeHandle, error) {
	return fs.create(parent, name, modeDir, fileTypeDir)
}

func (fs *FileSystem) create(parent filesystem.NodeHandle, name string, mode uint16, fileType uint8) (filesystem.NodeHandle, error) {
	if fs.opts.ReadOnly {
		return nil, fmt.Errorf("create %q: %w", name, filesystem.ErrNotSupported)
	}
	parentIno := parent.InodeNumber()

	// expected() tells abandonCreate whether a failure is a normal capacity
	// or support boundary (no room left, feature not offered) versus an
	// I/O or corruption failure worth a warning log.
	expected := func(err error) bool {
		return errIs(err, filesystem.ErrOutOfSpace, filesystem.ErrNotSupported)
	}
	abandonCreate := func(newIno uint32, isDir bool, cause error) {
		if !expected(cause) {
			log.WithError(cause).WithField("name", name).Warn("create: abandoning partially allocated inode")
		}
		_ = fs.freeInode(newIno, isDir)
	}

	newIno, err := fs.allocateInode(fileType == fileTypeDir)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	now := fs.clock.Now()
	inode := &onDiskInode{
		Mode:       mode,
		LinksCount: 1,
		ATime:      now,
		CTime:      now,
		MTime:      now,
	}

	if fileType == fileTypeDir {
		if err := fs.seedDirectory(newIno, inode, parentIno); err != nil {
			abandonCreate(newIno, true, err)
			return nil, fmt.Errorf("create dir %q: %w", name, err)
		}
		inode.LinksCount = 2
	}

	if err := fs.writeInode(newIno, inode); err != nil {
		abandonCreate(newIno, fileType == fileTypeDir, err)
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	if err := fs.addDirEntry(parentIno, newIno, name, fileType); err != nil {
		abandonCreate(newIno, fileType == fileTypeDir, err)
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	if fileType == fileTypeDir {
		parentInode, err := fs.readInode(parentIno)
		if err == nil {
			parentInode.LinksCount++
			_ = fs.writeInode(parentIno, parentInode)
		}
	}

	return fs.newNode(newIno, inode, name, parent), nil
}

// Unlink removes the directory entry name from parent and, when the last
// link to its target drops, frees its data blocks and its inode.
// Directories cannot be unlinked through this call (rmdir is not offered).
func (fs *FileSystem) Unlink(parent filesystem.NodeHandle, name string) error {
	if fs.opts.ReadOnly {
		return fmt.Errorf("unlink %q: %w", name, filesystem.ErrNotSupported)
	}
	parentIno := parent.InodeNumber()

	childNum, _, err := fs.findDirEntry(parentIno, name)
	if err != nil {
		return fmt.Errorf("unlink %q: %w", name, err)
	}

	childInode, err := fs.readInode(childNum)
	if err != nil {
		return fmt.Errorf("unlink %q: %w", name, err)
	}
	if childInode.Mode&modeDir != 0 {
		return fmt.Errorf("unlink %q: directories are not removable through Unlink: %w", name, filesystem.ErrNotSupported)
	}

	if childInode.LinksCount > 0 {
		childInode.LinksCount--
	}
	if childInode.LinksCount == 0 {
		childInode.DTime = fs.clock.Now()
		if err := fs.freeInodeBlocks(childNum, childInode); err != nil {
			log.WithError(err).WithField("inode", childNum).Warn("unlink: failed to free all data blocks")
		}
		if err := fs.writeInode(childNum, childInode); err != nil {
			return fmt.Errorf("unlink %q: %w", name, err)
		}
		if err := fs.freeInode(childNum, false); err != nil {
			return fmt.Errorf("unlink %q: %w", name, err)
		}
	} else {
		if err := fs.writeInode(childNum, childInode); err != nil {
			return fmt.Errorf("unlink %q: %w", name, err)
		}
	}

	if err := fs.removeDirEntry(parentIno, name); err != nil {
		return fmt.Errorf("unlink %q: %w", name, err)
	}
	return nil
}

// Stats reports the volume's aggregate counters.
func (fs *FileSystem) Stats() (filesystem.Stats, error) {
	bs := fs.blockSz
	return filesystem.Stats{
		BlockSize:       bs,
		TotalBlocks:     fs.sb.BlocksCount,
		FreeBlocks:      fs.sb.FreeBlocksCount,
		TotalInodes:     fs.sb.InodesCount,
		FreeInodes:      fs.sb.FreeInodesCount,
		GroupCount:      fs.groups,
		VolumeLabel:     fs.sb.volumeLabel(),
		LastMountedPath: fs.sb.lastMounted(),
		StateFlag:       fs.sb.State,
		RevisionLevel:   fs.sb.RevLevel,
		TotalKB:         uint64(fs.sb.BlocksCount) * uint64(bs) / 1024,
		FreeKB:          uint64(fs.sb.FreeBlocksCount) * uint64(bs) / 1024,
	}, nil
}

// Validate sweeps the mounted volume and checks its consistency
// invariants: per-group free counts against bitmap popcount, superblock
// totals against the sum of group counts, directory record spans, and live
// directory entries pointing at live inodes. It aggregates every violation
// found rather than stopping at the first.
func (fs *FileSystem) Validate() error {
	var result *multierror.Error

	var totalFreeBlocks, totalFreeInodes uint32
	for g := 0; g < fs.groups; g++ {
		gd := fs.gdt[g]
		blockBM, err := fs.readBlockBitmap(g)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("group %d: %w", g, err))
			continue
		}
		freeBlocks := uint32(blockBM.CountFree(fs.blocksInGroup(g)))
		if freeBlocks != gd.FreeBlocksCount {
			result = multierror.Append(result, fmt.Errorf("group %d: block bitmap has %d free but descriptor says %d: %w", g, freeBlocks, gd.FreeBlocksCount, filesystem.ErrCorruption))
		}

		inodeBM, err := fs.readInodeBitmap(g)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("group %d: %w", g, err))
			continue
		}
		freeInodes := uint32(inodeBM.CountFree(int(fs.sb.InodesPerGroup)))
		if freeInodes != gd.FreeInodesCount {
			result = multierror.Append(result, fmt.Errorf("group %d: inode bitmap has %d free but descriptor says %d: %w", g, freeInodes, gd.FreeInodesCount, filesystem.ErrCorruption))
		}

		totalFreeBlocks += gd.FreeBlocksCount
		totalFreeInodes += gd.FreeInodesCount
	}

	if totalFreeBlocks != fs.sb.FreeBlocksCount {
		result = multierror.Append(result, fmt.Errorf("superblock free blocks %d does not match group sum %d: %w", fs.sb.FreeBlocksCount, totalFreeBlocks, filesystem.ErrCorruption))
	}
	if totalFreeInodes != fs.sb.FreeInodesCount {
		result = multierror.Append(result, fmt.Errorf("superblock free inodes %d does not match group sum %d: %w", fs.sb.FreeInodesCount, totalFreeInodes, filesystem.ErrCorruption))
	}

	if err := fs.validateDirectory(RootInode); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (fs *FileSystem) blocksInGroup(group int) int {
	if group < fs.groups-1 {
		return int(fs.sb.BlocksPerGroup)
	}
	last := fs.sb.BlocksCount - fs.sb.FirstDataBlock - uint32(group)*fs.sb.BlocksPerGroup
	return int(last)
}

// errIs reports whether err matches any of targets, for call sites that
// need to compare against multiple sentinel kinds at once.
func errIs(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

package ext2

import (
	"fmt"
)

// readFile never extends the file, honors sparse holes by zero-filling,
// and returns the number of bytes actually copied (clamped to the file's
// current size).
func (fs *FileSystem) readFile(inoNum uint32, ino *onDiskInode, offset uint64, size uint64, dst []byte) (int64, error) {
	fileSize := uint64(ino.Size)
	if offset >= fileSize {
		return 0, nil
	}
	if size > fileSize-offset {
		size = fileSize - offset
	}
	if size == 0 {
		return 0, nil
	}

	bs := uint64(fs.blockSz)
	var copied uint64
	for copied < size {
		absOffset := offset + copied
		logical := int(absOffset / bs)
		intraOffset := absOffset % bs
		chunk := bs - intraOffset
		if remaining := size - copied; chunk > remaining {
			chunk = remaining
		}

		phys, err := fs.mapBlock(ino, inoNum, logical, false)
		if err != nil {
			return int64(copied), fmt.Errorf("read file: %w", err)
		}

		if phys == 0 {
			for i := uint64(0); i < chunk; i++ {
				dst[copied+i] = 0
			}
		} else {
			blockBuf := make([]byte, bs)
			if err := fs.readBlock(phys, blockBuf); err != nil {
				return int64(copied), fmt.Errorf("read file: %w", err)
			}
			copy(dst[copied:copied+chunk], blockBuf[intraOffset:intraOffset+chunk])
		}

		copied += chunk
	}

	return int64(copied), nil
}

// writeFile allocates blocks on demand, read-modify-writes any partially
// covered block, extends the inode's size when the write reaches past it,
// and updates mtime/ctime. inoNum is needed because mapBlock/setBlock
// persist the inode as they allocate indirect blocks.
func (fs *FileSystem) writeFile(inoNum uint32, ino *onDiskInode, offset uint64, size uint64, src []byte) (int64, error) {
	if size == 0 {
		return 0, nil
	}

	bs := uint64(fs.blockSz)
	var written uint64
	var writeErr error

	for written < size {
		absOffset := offset + written
		logical := int(absOffset / bs)
		intraOffset := absOffset % bs
		chunk := bs - intraOffset
		if remaining := size - written; chunk > remaining {
			chunk = remaining
		}

		phys, err := fs.mapBlock(ino, inoNum, logical, false)
		if err != nil {
			writeErr = fmt.Errorf("write file: %w", err)
			break
		}

		blockBuf := make([]byte, bs)
		if phys == 0 {
			phys, err = fs.allocateBlock()
			if err != nil {
				writeErr = fmt.Errorf("write file: %w", err)
				break
			}
			if phys == 0 {
				writeErr = fmt.Errorf("write file: out of space")
				break
			}
			if err := fs.setBlock(ino, inoNum, logical, phys); err != nil {
				writeErr = fmt.Errorf("write file: %w", err)
				break
			}
			fs.bumpBlockCount(ino)
			// new block: buffer starts zeroed, which blockBuf already is.
		} else if chunk < bs {
			if err := fs.readBlock(phys, blockBuf); err != nil {
				writeErr = fmt.Errorf("write file: %w", err)
				break
			}
		}

		copy(blockBuf[intraOffset:intraOffset+chunk], src[written:written+chunk])
		if err := fs.writeBlock(phys, blockBuf); err != nil {
			writeErr = fmt.Errorf("write file: %w", err)
			break
		}

		written += chunk
	}

	if written > 0 {
		if offset+written > uint64(ino.Size) {
			ino.Size = uint32(offset + written)
		}
		now := fs.clock.Now()
		ino.MTime = now
		ino.CTime = now
		if err := fs.writeInode(inoNum, ino); err != nil {
			if writeErr == nil {
				writeErr = err
			}
		}
	}

	return int64(written), writeErr
}

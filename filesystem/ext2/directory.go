package ext2

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrelos/ext2fs/filesystem"
)

// dirEntryHeader is the fixed 8-byte head of an on-disk directory record.
// The name follows immediately, padded so the whole record is 4-byte
// aligned.
type dirEntryHeader struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
}

const dirEntryHeaderSize = 8

func alignUp4(n int) int {
	return (n + 3) &^ 3
}

// addDirEntry scans the parent's direct data blocks looking for either an
// unallocated slot or enough slack in an existing record to split a new
// one out of; it does not extend into indirect blocks for directory
// growth.
func (fs *FileSystem) addDirEntry(parentIno uint32, childIno uint32, name string, fileType uint8) error {
	need := alignUp4(dirEntryHeaderSize + len(name))
	if need > int(fs.blockSz) {
		return fmt.Errorf("name %q too long for one block: %w", name, filesystem.ErrNotSupported)
	}

	parent, err := fs.readInode(parentIno)
	if err != nil {
		return err
	}

	for slot := 0; slot < directCount; slot++ {
		if parent.Block[slot] == 0 {
			blk, err := fs.allocateBlock()
			if err != nil {
				return err
			}
			if blk == 0 {
				return fmt.Errorf("add dir entry: %w", filesystem.ErrOutOfSpace)
			}

			buf := make([]byte, fs.blockSz)
			writeDirRecord(buf, 0, childIno, uint16(fs.blockSz), name, fileType)
			if err := fs.writeBlock(blk, buf); err != nil {
				return err
			}

			parent.Block[slot] = blk
			parent.Size += fs.blockSz
			fs.bumpBlockCount(parent)
			if err := fs.writeInode(parentIno, parent); err != nil {
				return err
			}
			return nil
		}

		buf := make([]byte, fs.blockSz)
		if err := fs.readBlock(parent.Block[slot], buf); err != nil {
			return err
		}

		pos := 0
		for pos+dirEntryHeaderSize <= len(buf) {
			hdr, nameLen := readDirHeader(buf, pos)
			if hdr.RecLen == 0 {
				break
			}
			actual := alignUp4(dirEntryHeaderSize + int(nameLen))
			slack := int(hdr.RecLen) - actual
			if hdr.Inode != 0 && slack >= need {
				binary.LittleEndian.PutUint16(buf[pos+4:pos+6], uint16(actual))
				newPos := pos + actual
				writeDirRecord(buf, newPos, childIno, uint16(slack), name, fileType)
				if err := fs.writeBlock(parent.Block[slot], buf); err != nil {
					return err
				}
				return nil
			}
			pos += int(hdr.RecLen)
		}
	}

	return fmt.Errorf("add dir entry %q: no room in any direct block: %w", name, filesystem.ErrOutOfSpace)
}

// removeDirEntry tombstones the first matching record: absorbed into the
// previous record's rec_len, or (if it is the block's first record)
// zeroed out in place.
func (fs *FileSystem) removeDirEntry(parentIno uint32, name string) error {
	parent, err := fs.readInode(parentIno)
	if err != nil {
		return err
	}

	for slot := 0; slot < directCount; slot++ {
		if parent.Block[slot] == 0 {
			continue
		}
		buf := make([]byte, fs.blockSz)
		if err := fs.readBlock(parent.Block[slot], buf); err != nil {
			return err
		}

		pos := 0
		prevPos := -1
		for pos+dirEntryHeaderSize <= len(buf) {
			hdr, nameLen := readDirHeader(buf, pos)
			if hdr.RecLen == 0 {
				break
			}
			entryName := string(buf[pos+dirEntryHeaderSize : pos+dirEntryHeaderSize+int(nameLen)])
			if hdr.Inode != 0 && entryName == name {
				if prevPos == -1 {
					binary.LittleEndian.PutUint32(buf[pos:pos+4], 0)
				} else {
					prevHdr, _ := readDirHeader(buf, prevPos)
					newLen := prevHdr.RecLen + hdr.RecLen
					binary.LittleEndian.PutUint16(buf[prevPos+4:prevPos+6], newLen)
				}
				return fs.writeBlock(parent.Block[slot], buf)
			}
			prevPos = pos
			pos += int(hdr.RecLen)
		}
	}

	return fmt.Errorf("remove dir entry %q: %w", name, filesystem.ErrNotFound)
}

// findDirEntry is the shared lookup path used by Finddir and Unlink.
func (fs *FileSystem) findDirEntry(parentIno uint32, name string) (uint32, uint8, error) {
	parent, err := fs.readInode(parentIno)
	if err != nil {
		return 0, 0, err
	}

	for slot := 0; slot < directCount; slot++ {
		if parent.Block[slot] == 0 {
			continue
		}
		buf := make([]byte, fs.blockSz)
		if err := fs.readBlock(parent.Block[slot], buf); err != nil {
			return 0, 0, err
		}

		pos := 0
		for pos+dirEntryHeaderSize <= len(buf) {
			hdr, nameLen := readDirHeader(buf, pos)
			if hdr.RecLen == 0 {
				break
			}
			if hdr.Inode != 0 && nameLen > 0 {
				entryName := string(buf[pos+dirEntryHeaderSize : pos+dirEntryHeaderSize+int(nameLen)])
				if entryName == name {
					return hdr.Inode, hdr.FileType, nil
				}
			}
			pos += int(hdr.RecLen)
		}
	}

	return 0, 0, fmt.Errorf("finddir %q: %w", name, filesystem.ErrNotFound)
}

// readdirEntry implements Readdir: the index-th live record (inode != 0,
// name_len > 0) across all of the directory's direct data blocks.
func (fs *FileSystem) readdirEntry(parentIno uint32, index int) (*filesystem.DirEntry, error) {
	parent, err := fs.readInode(parentIno)
	if err != nil {
		return nil, err
	}

	seen := 0
	for slot := 0; slot < directCount; slot++ {
		if parent.Block[slot] == 0 {
			continue
		}
		buf := make([]byte, fs.blockSz)
		if err := fs.readBlock(parent.Block[slot], buf); err != nil {
			return nil, err
		}

		pos := 0
		for pos+dirEntryHeaderSize <= len(buf) {
			hdr, nameLen := readDirHeader(buf, pos)
			if hdr.RecLen == 0 {
				break
			}
			if hdr.Inode != 0 && nameLen > 0 {
				if seen == index {
					name := string(buf[pos+dirEntryHeaderSize : pos+dirEntryHeaderSize+int(nameLen)])
					return &filesystem.DirEntry{Name: name, Inode: hdr.Inode}, nil
				}
				seen++
			}
			pos += int(hdr.RecLen)
		}
	}

	return nil, nil
}

// seedDirectory allocates the new directory's single data block and
// populates it with "." (self) and ".." (parent).
func (fs *FileSystem) seedDirectory(selfIno uint32, inode *onDiskInode, parentIno uint32) error {
	blk, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	if blk == 0 {
		return fmt.Errorf("seed directory: %w", filesystem.ErrOutOfSpace)
	}

	buf := make([]byte, fs.blockSz)
	writeDirRecord(buf, 0, selfIno, 12, ".", fileTypeDir)
	writeDirRecord(buf, 12, parentIno, uint16(fs.blockSz)-12, "..", fileTypeDir)
	if err := fs.writeBlock(blk, buf); err != nil {
		return err
	}

	inode.Block[0] = blk
	inode.Size = fs.blockSz
	fs.bumpBlockCount(inode)
	return nil
}

func writeDirRecord(buf []byte, pos int, inode uint32, recLen uint16, name string, fileType uint8) {
	binary.LittleEndian.PutUint32(buf[pos:pos+4], inode)
	binary.LittleEndian.PutUint16(buf[pos+4:pos+6], recLen)
	buf[pos+6] = byte(len(name))
	buf[pos+7] = fileType
	copy(buf[pos+8:pos+8+len(name)], name)
}

func readDirHeader(buf []byte, pos int) (dirEntryHeader, uint8) {
	hdr := dirEntryHeader{
		Inode:    binary.LittleEndian.Uint32(buf[pos : pos+4]),
		RecLen:   binary.LittleEndian.Uint16(buf[pos+4 : pos+6]),
		NameLen:  buf[pos+6],
		FileType: buf[pos+7],
	}
	return hdr, hdr.NameLen
}

// validateDirectory recursively checks two invariants: every direct data
// block's records sum their rec_len to exactly the block size, and every
// live entry references a live inode. Results are returned to the caller
// (Validate) to aggregate, not returned individually.
func (fs *FileSystem) validateDirectory(dirIno uint32) error {
	dir, err := fs.readInode(dirIno)
	if err != nil {
		return err
	}

	var bad []error
	for slot := 0; slot < directCount; slot++ {
		if dir.Block[slot] == 0 {
			continue
		}
		buf := make([]byte, fs.blockSz)
		if err := fs.readBlock(dir.Block[slot], buf); err != nil {
			bad = append(bad, err)
			continue
		}

		pos := 0
		total := 0
		for pos+dirEntryHeaderSize <= len(buf) {
			hdr, nameLen := readDirHeader(buf, pos)
			if hdr.RecLen == 0 {
				break
			}
			total += int(hdr.RecLen)
			if hdr.Inode != 0 {
				if nameLen == 0 {
					bad = append(bad, fmt.Errorf("dir %d block %d: live entry with zero name length: %w", dirIno, dir.Block[slot], filesystem.ErrCorruption))
				}
				child, err := fs.readInode(hdr.Inode)
				if err != nil || child.LinksCount == 0 {
					bad = append(bad, fmt.Errorf("dir %d block %d: entry references dead inode %d: %w", dirIno, dir.Block[slot], hdr.Inode, filesystem.ErrCorruption))
				} else if child.Mode&modeDir != 0 {
					entryName := string(buf[pos+dirEntryHeaderSize : pos+dirEntryHeaderSize+int(nameLen)])
					if entryName != "." && entryName != ".." {
						if err := fs.validateDirectory(hdr.Inode); err != nil {
							bad = append(bad, err)
						}
					}
				}
			}
			pos += int(hdr.RecLen)
		}
		if total != int(fs.blockSz) {
			bad = append(bad, fmt.Errorf("dir %d block %d: record lengths sum to %d, want %d: %w", dirIno, dir.Block[slot], total, fs.blockSz, filesystem.ErrCorruption))
		}
	}

	if len(bad) == 0 {
		return nil
	}
	msg := fmt.Sprintf("directory %d: %d invariant violations", dirIno, len(bad))
	for _, e := range bad {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

package ext2

import (
	"fmt"

	"github.com/kestrelos/ext2fs/filesystem"
)

// Node is the opaque handle delivered to the consumer above the driver.
// The consumer owns it; fs and parent are non-owning back-references used
// only for dispatch and path composition.
type Node struct {
	fs     *FileSystem
	inum   uint32
	name   string
	parent filesystem.NodeHandle

	mode  uint16
	size  uint32
	uid   uint16
	gid   uint16
	flags filesystem.NodeFlags
}

var _ filesystem.NodeHandle = (*Node)(nil)

func (fs *FileSystem) newNode(inum uint32, ino *onDiskInode, name string, parent filesystem.NodeHandle) *Node {
	flags := filesystem.NodeFlags(0)
	if ino.Mode&modeDir != 0 {
		flags |= filesystem.FlagDirectory
	} else {
		flags |= filesystem.FlagFile
	}
	if inum == RootInode {
		flags |= filesystem.FlagMountpoint
	}
	return &Node{
		fs:     fs,
		inum:   inum,
		name:   name,
		parent: parent,
		mode:   ino.Mode,
		size:   ino.Size,
		uid:    ino.UID,
		gid:    ino.GID,
		flags:  flags,
	}
}

func (n *Node) Name() string                  { return n.name }
func (n *Node) InodeNumber() uint32           { return n.inum }
func (n *Node) Size() uint64                  { return uint64(n.size) }
func (n *Node) Flags() filesystem.NodeFlags   { return n.flags }
func (n *Node) Mode() uint16                  { return n.mode }
func (n *Node) UID() uint16                   { return n.uid }
func (n *Node) GID() uint16                   { return n.gid }
func (n *Node) Parent() filesystem.NodeHandle { return n.parent }

// Read implements the vtable's read(node, offset, size, dst) entry. It
// returns the byte count (0 at EOF); a failure is reported through the
// error, which callers compare with errors.Is against the filesystem.Err*
// kinds. The count that accompanies an error is -1 when the inode cannot be
// loaded, and the number of bytes already copied when a later block read
// fails.
func (n *Node) Read(offset, size uint64, dst []byte) (int64, error) {
	ino, err := n.fs.readInode(n.inum)
	if err != nil {
		return -1, fmt.Errorf("read: %w", err)
	}
	return n.fs.readFile(n.inum, ino, offset, size, dst)
}

// Write implements the vtable's write(node, offset, size, src) entry.
func (n *Node) Write(offset, size uint64, src []byte) (int64, error) {
	if n.fs.opts.ReadOnly {
		return -1, fmt.Errorf("write: %w", filesystem.ErrNotSupported)
	}
	ino, err := n.fs.readInode(n.inum)
	if err != nil {
		return -1, fmt.Errorf("write: %w", err)
	}
	written, err := n.fs.writeFile(n.inum, ino, offset, size, src)
	n.size = ino.Size
	return written, err
}

// Readdir implements the vtable's readdir(node, index) entry.
func (n *Node) Readdir(index int) (*filesystem.DirEntry, error) {
	return n.fs.readdirEntry(n.inum, index)
}

// Finddir implements the vtable's finddir(node, name) entry: on a match it
// loads the child inode and returns a freshly populated node handle with
// parent set to n.
func (n *Node) Finddir(name string) (filesystem.NodeHandle, error) {
	childNum, _, err := n.fs.findDirEntry(n.inum, name)
	if err != nil {
		return nil, err
	}
	childIno, err := n.fs.readInode(childNum)
	if err != nil {
		return nil, fmt.Errorf("finddir %q: %w", name, err)
	}
	return n.fs.newNode(childNum, childIno, name, n), nil
}

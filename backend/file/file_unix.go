//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// blkflsbuf is Linux's BLKFLSBUF ioctl request: flush the kernel's buffer
// cache for a block device so a subsequent read observes what was just
// written, not a stale page-cache copy.
const blkflsbuf = 0x1261

// flushBlockDevice issues BLKFLSBUF when f is backed by an actual block
// device node; a regular file (the common case for a disk image) has no
// buffer cache of its own to flush, so this is a best-effort no-op there.
func flushBlockDevice(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeDevice == 0 {
		return nil
	}
	_, err = unix.IoctlGetInt(int(f.Fd()), blkflsbuf)
	return err
}

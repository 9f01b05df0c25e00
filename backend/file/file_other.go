//go:build windows

package file

import "os"

// flushBlockDevice is a no-op on platforms with no BLKFLSBUF-style ioctl;
// f.Sync() in Flush already covers the common case of a disk image backed
// by a regular file.
func flushBlockDevice(f *os.File) error {
	return nil
}

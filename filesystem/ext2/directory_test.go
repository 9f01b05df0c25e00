package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReadDirRecordRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	writeDirRecord(buf, 0, 7, 24, "etc", fileTypeDir)

	hdr, nameLen := readDirHeader(buf, 0)
	require.Equal(t, uint32(7), hdr.Inode)
	require.Equal(t, uint16(24), hdr.RecLen)
	require.Equal(t, uint8(3), nameLen)
	require.Equal(t, fileTypeDir, hdr.FileType)
	require.Equal(t, "etc", string(buf[dirEntryHeaderSize:dirEntryHeaderSize+int(nameLen)]))
}

func TestAlignUp4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 12: 12, 13: 16}
	for in, want := range cases {
		require.Equalf(t, want, alignUp4(in), "alignUp4(%d)", in)
	}
}

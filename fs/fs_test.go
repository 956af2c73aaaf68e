package fs

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T, totalBlocks, inodeBitmapBlocks uint32) *FileSystem {
	t.Helper()
	return Create(newMemBlockDevice(), totalBlocks, inodeBitmapBlocks)
}

// TestFormatAndHello is scenario S1: format an empty image, create two
// files, and round-trip a short write through read_at.
func TestFormatAndHello(t *testing.T) {
	fsys := newTestFS(t, 4096, 1)
	root := fsys.RootInode()
	require.Empty(t, root.Ls())

	_, ok := root.Create("filea")
	require.True(t, ok)
	_, ok = root.Create("fileb")
	require.True(t, ok)
	require.Equal(t, []string{"filea", "fileb"}, root.Ls())

	filea, ok := root.FindName("filea")
	require.True(t, ok)

	n := filea.WriteAt(0, []byte("Hello, world!"))
	require.Equal(t, 13, n)

	buf := make([]byte, 233)
	got := filea.ReadAt(0, buf)
	require.Equal(t, 13, got)
	require.Equal(t, "Hello, world!", string(buf[:13]))
}

// TestOpenRebuildsFromSuperblock formats a device, reopens it cold, and
// checks the remounted filesystem sees the same contents.
func TestOpenRebuildsFromSuperblock(t *testing.T) {
	device := newMemBlockDevice()
	fsys := Create(device, 4096, 1)
	root := fsys.RootInode()
	filea, ok := root.Create("filea")
	require.True(t, ok)
	filea.WriteAt(0, []byte("persisted"))

	mounted := Open(device)
	root2 := mounted.RootInode()
	require.Equal(t, []string{"filea"}, root2.Ls())

	again, ok := root2.FindName("filea")
	require.True(t, ok)
	buf := make([]byte, 16)
	n := again.ReadAt(0, buf)
	require.Equal(t, "persisted", string(buf[:n]))
}

// TestOpenRejectsBadMagic ensures a device with no valid superblock is
// refused.
func TestOpenRejectsBadMagic(t *testing.T) {
	require.Panics(t, func() { Open(newMemBlockDevice()) })
}

// TestCreateDuplicateNameFails ensures Create refuses to clobber an
// existing entry.
func TestCreateDuplicateNameFails(t *testing.T) {
	fsys := newTestFS(t, 4096, 1)
	root := fsys.RootInode()
	_, ok := root.Create("filea")
	require.True(t, ok)
	_, ok = root.Create("filea")
	require.False(t, ok)
}

// digits concatenates the decimal ASCII forms of 0, 1, 2, ... and cuts
// the result to exactly length bytes, the same fill pattern scenario S2
// exercises.
func digits(length int) []byte {
	buf := make([]byte, 0, length)
	for i := 0; len(buf) < length; i++ {
		buf = append(buf, []byte(strconv.Itoa(i))...)
	}
	return buf[:length]
}

// TestRandomGrowth is scenario S2: repeatedly clear and rewrite filea at
// a sequence of lengths, reading it back in 127-byte chunks each time.
func TestRandomGrowth(t *testing.T) {
	fsys := newTestFS(t, 8192, 4)
	root := fsys.RootInode()
	filea, ok := root.Create("filea")
	require.True(t, ok)

	lengths := []int{
		4 * 512, 8*512 + 256, 100 * 512, 70*512 + 73,
		140 * 512, 400 * 512, 1000 * 512, 2000 * 512,
	}
	for _, length := range lengths {
		filea.Clear()
		content := digits(length)
		n := filea.WriteAt(0, content)
		require.Equal(t, length, n)

		var got []byte
		chunk := make([]byte, 127)
		offset := 0
		for {
			r := filea.ReadAt(offset, chunk)
			if r == 0 {
				break
			}
			got = append(got, chunk[:r]...)
			offset += r
		}
		require.Equal(t, content, got, "length=%d", length)
	}
}

// TestDoubleIndirectStressConservesBitmap is scenario S3: after writing
// 1 MiB (spanning the double-indirect range) and clearing it, the data
// bitmap must report exactly as many free bits as before the write.
func TestDoubleIndirectStressConservesBitmap(t *testing.T) {
	fsys := newTestFS(t, 8192, 4)
	root := fsys.RootInode()
	filea, ok := root.Create("filea")
	require.True(t, ok)

	freeBefore := countFreeDataBits(fsys)

	content := digits(2048 * BSIZE)
	n := filea.WriteAt(0, content)
	require.Equal(t, len(content), n)

	filea.Clear()
	freeAfter := countFreeDataBits(fsys)
	require.Equal(t, freeBefore, freeAfter, "clearing a file must return every data block it held")
}

func countFreeDataBits(fsys *FileSystem) int {
	free := 0
	for bit := 0; bit < fsys.DataBitmap.Maximum(); bit++ {
		blockOff, word, bitIdx := decompose(bit)
		set := false
		readView(fsys.Cache, fsys.Device, fsys.DataBitmap.startBlockID+blockOff, 0, func(blk *bitmapBlock) {
			set = blk[word]>>uint(bitIdx)&1 == 1
		})
		if !set {
			free++
		}
	}
	return free
}

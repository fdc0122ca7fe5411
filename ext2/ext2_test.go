package ext2

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-test/deep"

	"github.com/go-ext2/ext2view/testhelper"
	"github.com/go-ext2/ext2view/util"
)

// putU16/putU32 write little-endian integers into img at an absolute byte
// offset, the same encoding parseSuperblock/parseInode expect.
func putU16(img []byte, off int, v uint16) { binary.LittleEndian.PutUint16(img[off:], v) }
func putU32(img []byte, off int, v uint32) { binary.LittleEndian.PutUint32(img[off:], v) }

// rawInode field byte offsets within the 128-byte prefix, mirrored from the
// rawInode struct tag order in inode.go.
const (
	ioffMode            = 0
	ioffUID              = 2
	ioffSizeLower         = 4
	ioffAccessTime        = 8
	ioffCreateTime        = 12
	ioffModifyTime        = 16
	ioffDeleteTime        = 20
	ioffGID               = 24
	ioffLinksCount        = 26
	ioffDiskSectorCount   = 28
	ioffFlags             = 32
	ioffOSD1              = 36
	ioffBlockPointers     = 40
	ioffUpperSizeOrDirACL = 108
)

// writeDirent appends a single directory-entry record to buf at off, using
// the 16-bit name_len encoding (no DirType required-feature bit set), and
// returns the offset just past the record.
func writeDirent(buf []byte, off int, inodeID uint32, name string, recLen uint16) int {
	putU32(buf, off, inodeID)
	putU16(buf, off+4, recLen)
	nameLen := uint16(len(name))
	buf[off+6] = byte(nameLen)
	buf[off+7] = byte(nameLen >> 8)
	copy(buf[off+8:], name)
	return off + int(recLen)
}

// syntheticImage is a hand-built, single-block-group ext2 image at
// block_size 1024 (major version 0, no extended superblock): a root
// directory containing "." ".." and one regular file, "hello.txt".
type syntheticImage struct {
	bytes       []byte
	fileContent []byte
	fileName    string
}

func buildSyntheticImageV0() syntheticImage {
	const blockSize = 1024
	img := make([]byte, 8*blockSize)

	// Primary superblock at offset 1024.
	const sb = 1024
	putU32(img, sb+0, 8)           // InodesCount
	putU32(img, sb+4, 8)           // BlocksCount
	putU32(img, sb+20, 1)          // FirstDataBlock
	putU32(img, sb+24, 0)          // LogBlockSize -> 1024<<0
	putU32(img, sb+32, 8)          // BlocksPerGroup
	putU32(img, sb+40, 8)          // InodesPerGroup
	putU16(img, sb+56, 0xEF53)     // Signature
	putU16(img, sb+58, 1)          // State: Clean
	putU32(img, sb+76, 0)          // RevLevel / version major (0)

	// Block-group descriptor table at (sbBlockNumber=1 + 1) * 1024 = 2048.
	const bgd = 2048
	putU32(img, bgd+8, 2) // InodeTableBlock (resolves to absolute block 3)

	// Inode table: absolute offset (1+2)*1024 = 3072, 8 inodes * 128 bytes.
	const inodeTable = 3072

	// Root inode, id 2: index (2-1)%8=1 -> offset 3072+128=3200.
	root := inodeTable + 1*128
	putU16(img, root+ioffMode, modeDirectory|0o755)
	putU16(img, root+ioffLinksCount, 2)
	putU32(img, root+ioffSizeLower, blockSize)
	putU32(img, root+ioffDiskSectorCount, 1*(blockSize/512))
	putU32(img, root+ioffBlockPointers, 3) // root dir data at absolute block 4

	// File inode, id 7: index (7-1)%8=6 -> offset 3072+768=3840.
	fileInode := inodeTable + 6*128
	content := []byte("hello world")
	putU16(img, fileInode+ioffMode, modeRegular|0o644)
	putU16(img, fileInode+ioffLinksCount, 1)
	putU32(img, fileInode+ioffSizeLower, uint32(len(content)))
	putU32(img, fileInode+ioffDiskSectorCount, 1*(blockSize/512))
	putU32(img, fileInode+ioffBlockPointers, 4) // file data at absolute block 5

	// Root directory data: absolute block 4, offset 4096.
	const rootData = 4096
	off := rootData
	off = writeDirent(img, off, 2, ".", 12)
	off = writeDirent(img, off, 2, "..", 12)
	writeDirent(img, off, 7, "hello.txt", 20)
	// Remaining bytes of the block stay zero, which the directory decoder
	// reads as the inode==0, rec_len==0 end marker.

	// File data: absolute block 5, offset 5120.
	copy(img[5120:], content)

	return syntheticImage{bytes: img, fileContent: content, fileName: "hello.txt"}
}

// openImage wires the in-memory image through testhelper.FileImpl, the
// stub backend.File implementation, so Open exercises the same seam a real
// on-disk image does.
func openImage(t *testing.T, img []byte, policy Policy) *Reader {
	t.Helper()
	f := &testhelper.FileImpl{
		Reader: func(b []byte, offset int64) (int, error) {
			return copy(b, img[offset:]), nil
		},
	}
	r, err := Open(f, policy)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestOpenAndListDirectory(t *testing.T) {
	si := buildSyntheticImageV0()
	r := openImage(t, si.bytes, StrictPolicy())

	entries, err := r.ListDirectory("/")
	if err != nil {
		t.Fatalf("ListDirectory(/): %v", err)
	}

	want := []DirEntry{
		{InodeID: 2, Name: "."},
		{InodeID: 2, Name: ".."},
		{InodeID: 7, Name: "hello.txt"},
	}
	if diff := deep.Equal(entries, want); diff != nil {
		t.Errorf("ListDirectory(/) mismatch: %v", diff)
	}
}

func TestReadFileRoundTrip(t *testing.T) {
	si := buildSyntheticImageV0()
	r := openImage(t, si.bytes, StrictPolicy())

	got, err := r.ReadFile("/" + si.fileName)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, si.fileContent) {
		_, dump := util.DumpByteSlicesWithDiffs(got, si.fileContent, 16, true, true, false)
		t.Errorf("ReadFile round-trip mismatch:\n%s", dump)
	}
}

func TestWriteFileTo(t *testing.T) {
	si := buildSyntheticImageV0()
	r := openImage(t, si.bytes, StrictPolicy())

	var buf bytes.Buffer
	n, err := r.WriteFileTo(&buf, "/"+si.fileName)
	if err != nil {
		t.Fatalf("WriteFileTo: %v", err)
	}
	if n != int64(len(si.fileContent)) {
		t.Errorf("WriteFileTo wrote %d bytes, want %d", n, len(si.fileContent))
	}
	if !bytes.Equal(buf.Bytes(), si.fileContent) {
		t.Errorf("WriteFileTo wrote %q, want %q", buf.Bytes(), si.fileContent)
	}
}

func TestResolvePathNotFound(t *testing.T) {
	si := buildSyntheticImageV0()
	r := openImage(t, si.bytes, StrictPolicy())

	if _, _, err := r.ResolvePath("/does-not-exist"); err == nil {
		t.Fatalf("ResolvePath(/does-not-exist) succeeded, want NotFound")
	} else if e, ok := err.(*Error); !ok || e.Kind != NotFound {
		t.Errorf("ResolvePath(/does-not-exist) error = %v, want a NotFound *Error", err)
	}
}

func TestListDirectoryOnRegularFileIsApiMisuse(t *testing.T) {
	si := buildSyntheticImageV0()
	r := openImage(t, si.bytes, StrictPolicy())

	if _, err := r.ListDirectory("/" + si.fileName); err == nil {
		t.Fatalf("ListDirectory(/%s) succeeded, want ApiMisuse", si.fileName)
	} else if e, ok := err.(*Error); !ok || e.Kind != ApiMisuse {
		t.Errorf("ListDirectory(/%s) error = %v, want an ApiMisuse *Error", si.fileName, err)
	}
}

// buildMinimalV1Image lays out just enough of a major-1 image (block_size
// 4096, so the extended superblock at offset 2048-2300 can't collide with
// the block-group descriptor table at offset 4096) to exercise feature-mask
// validation; it carries no inode table or data blocks.
func buildMinimalV1Image(extraOptionalBit uint32) []byte {
	const blockSize = 4096
	img := make([]byte, 2*blockSize)

	const sb = 1024
	putU32(img, sb+4, 1)       // BlocksCount
	putU32(img, sb+20, 0)      // FirstDataBlock
	putU32(img, sb+24, 2)      // LogBlockSize -> 1024<<2 = 4096
	putU32(img, sb+32, 1)      // BlocksPerGroup
	putU32(img, sb+40, 8)      // InodesPerGroup
	putU16(img, sb+56, 0xEF53) // Signature
	putU16(img, sb+58, 1)      // State: Clean
	putU32(img, sb+76, 1)      // RevLevel / version major (1)

	const esb = sb + 1024 // 2048
	putU16(img, esb+4, 128)                      // InodeSize
	putU32(img, esb+8, optPreallocation|extraOptionalBit) // FeatureCompat

	return img
}

func TestOpenRejectsUnknownFeatureBits(t *testing.T) {
	img := buildMinimalV1Image(0x1000)

	f := &testhelper.FileImpl{
		Reader: func(b []byte, offset int64) (int, error) { return copy(b, img[offset:]), nil },
	}
	if _, err := Open(f, StrictPolicy()); err == nil {
		t.Fatalf("Open succeeded with an unknown optional feature bit set, want UnknownFeature")
	} else if e, ok := err.(*Error); !ok || e.Kind != UnknownFeature {
		t.Errorf("Open error = %v, want an UnknownFeature *Error", err)
	}

	if _, err := Open(f, ForcedPolicy()); err != nil {
		t.Errorf("Open under ForcedPolicy failed: %v, want FORCE to bypass UnknownFeature", err)
	}
}

func TestOpenAcceptsKnownFeatureBitsOnly(t *testing.T) {
	img := buildMinimalV1Image(0)

	f := &testhelper.FileImpl{
		Reader: func(b []byte, offset int64) (int, error) { return copy(b, img[offset:]), nil },
	}
	if _, err := Open(f, StrictPolicy()); err != nil {
		t.Errorf("Open failed with only known feature bits set: %v", err)
	}
}

package ext2

import (
	"bytes"
	"encoding/binary"
)

const (
	inodePrefixSize = 128

	directBlocks = 12
	indBlock     = 12
	dindBlock    = 13
	tindBlock    = 14
	numBlocks    = 15
)

// i_mode format bits (the high nibble of the mode word).
const (
	modeFormatMask = 0xF000
	modeFIFO       = 0x1000
	modeCharDev    = 0x2000
	modeDirectory  = 0x4000
	modeBlockDev   = 0x6000
	modeRegular    = 0x8000
	modeSymlink    = 0xA000
	modeSocket     = 0xC000
)

// i_mode permission bits.
const (
	modeSUID = 0x0800
	modeSGID = 0x0400
	modeSticky = 0x0200

	modeUserRead  = 0x0100
	modeUserWrite = 0x0080
	modeUserExec  = 0x0040

	modeGroupRead  = 0x0020
	modeGroupWrite = 0x0010
	modeGroupExec  = 0x0008

	modeOtherRead  = 0x0004
	modeOtherWrite = 0x0002
	modeOtherExec  = 0x0001
)

// Inode is the fixed 128-byte prefix of an on-disk inode record, osd2
// included. Bytes past the prefix, up to InodeSize (such as the
// extra-timestamp fields of ext4-style layouts), are ignored, per §4.4.
type Inode struct {
	Mode            uint16
	UID             uint16
	SizeLower       uint32
	AccessTime      uint32
	CreateTime      uint32
	ModifyTime      uint32
	DeleteTime      uint32
	GID             uint16
	LinksCount      uint16
	DiskSectorCount uint32
	Flags           uint32
	OSD1            uint32
	BlockPointers   [numBlocks]uint32
	Generation      uint32
	FileACL         uint32
	UpperSizeOrDirACL uint32
	FragAddr        uint32
	OSD2            [12]byte
}

type rawInode struct {
	Mode              uint16
	UID               uint16
	SizeLower         uint32
	AccessTime        uint32
	CreateTime        uint32
	ModifyTime        uint32
	DeleteTime        uint32
	GID               uint16
	LinksCount        uint16
	DiskSectorCount   uint32
	Flags             uint32
	OSD1              uint32
	BlockPointers     [numBlocks]uint32
	Generation        uint32
	FileACL           uint32
	UpperSizeOrDirACL uint32
	FragAddr          uint32
	OSD2              [12]byte
}

// parseInode decodes the fixed 128-byte prefix. raw may be longer
// (inode_size on major>=1 images); only the first 128 bytes are consumed.
func parseInode(raw []byte) (Inode, error) {
	if len(raw) < inodePrefixSize {
		return Inode{}, newError(IoError, "short inode read: need %d bytes, got %d", inodePrefixSize, len(raw))
	}

	var ri rawInode
	if err := binary.Read(bytes.NewReader(raw[:inodePrefixSize]), binary.LittleEndian, &ri); err != nil {
		return Inode{}, wrapError(IoError, err)
	}

	return Inode{
		Mode:              ri.Mode,
		UID:               ri.UID,
		SizeLower:         ri.SizeLower,
		AccessTime:        ri.AccessTime,
		CreateTime:        ri.CreateTime,
		ModifyTime:        ri.ModifyTime,
		DeleteTime:        ri.DeleteTime,
		GID:               ri.GID,
		LinksCount:        ri.LinksCount,
		DiskSectorCount:   ri.DiskSectorCount,
		Flags:             ri.Flags,
		OSD1:              ri.OSD1,
		BlockPointers:     ri.BlockPointers,
		Generation:        ri.Generation,
		FileACL:           ri.FileACL,
		UpperSizeOrDirACL: ri.UpperSizeOrDirACL,
		FragAddr:          ri.FragAddr,
		OSD2:              ri.OSD2,
	}, nil
}

// IsDirectory reports whether the inode's format bits mark it as a directory.
func (n Inode) IsDirectory() bool { return n.Mode&modeFormatMask == modeDirectory }

// IsRegular reports whether the inode's format bits mark it as a regular file.
func (n Inode) IsRegular() bool { return n.Mode&modeFormatMask == modeRegular }

// IsSymlink reports whether the inode's format bits mark it as a symbolic link.
func (n Inode) IsSymlink() bool { return n.Mode&modeFormatMask == modeSymlink }

func (n Inode) CanUserRead() bool    { return n.Mode&modeUserRead != 0 }
func (n Inode) CanUserWrite() bool   { return n.Mode&modeUserWrite != 0 }
func (n Inode) CanUserExecute() bool { return n.Mode&modeUserExec != 0 }

func (n Inode) CanGroupRead() bool    { return n.Mode&modeGroupRead != 0 }
func (n Inode) CanGroupWrite() bool   { return n.Mode&modeGroupWrite != 0 }
func (n Inode) CanGroupExecute() bool { return n.Mode&modeGroupExec != 0 }

func (n Inode) CanOtherRead() bool    { return n.Mode&modeOtherRead != 0 }
func (n Inode) CanOtherWrite() bool   { return n.Mode&modeOtherWrite != 0 }
func (n Inode) CanOtherExecute() bool { return n.Mode&modeOtherExec != 0 }

// SizeInBytes computes the effective file size per §3: non-directories on
// major>=1 images combine the lower and upper size words; directories (and
// major-0 images) use only the 32-bit lower size, since UpperSizeOrDirACL
// is a directory-ACL pointer in the directory case.
func (n Inode) SizeInBytes(versionMajor uint32) uint64 {
	if versionMajor >= 1 && !n.IsDirectory() {
		return uint64(n.SizeLower) | (uint64(n.UpperSizeOrDirACL) << 32)
	}
	return uint64(n.SizeLower)
}

// loadInode reads the fixed 128-byte prefix of the 1-based inode id, per
// §4.4's group/index/offset derivation.
func loadInode(r readerAt, geom geometry, bgds []GroupDescriptor, inodeID uint32) (Inode, error) {
	if inodeID == 0 {
		return Inode{}, newError(InvalidArgument, "inode id must be 1-based, got 0")
	}
	group := (inodeID - 1) / geom.inodesPerGroup
	indexWithinGroup := (inodeID - 1) % geom.inodesPerGroup
	if int(group) >= len(bgds) {
		return Inode{}, newError(NotFound, "inode %d maps to out-of-range group %d", inodeID, group)
	}

	byteOffset := int64(geom.sbBlockNumber+uint64(bgds[group].InodeTableBlock))*int64(geom.blockSize) +
		int64(indexWithinGroup)*int64(geom.inodeSize)

	buf := make([]byte, inodePrefixSize)
	if _, err := r.ReadAt(buf, byteOffset); err != nil {
		return Inode{}, wrapError(IoError, err)
	}

	return parseInode(buf)
}

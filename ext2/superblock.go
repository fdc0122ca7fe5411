package ext2

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

const (
	superblockOffset = 1024
	superblockSize   = 1024
	extSuperblockSize = 252

	signatureMagic = 0xEF53
)

// Filesystem state values from the primary superblock.
const (
	stateClean     = 1
	stateUnclean   = 2
	stateCorrupted = 117
)

// Known feature masks, per spec §4.1.
const (
	optPreallocation = 0x0001
	optAFSInodes     = 0x0002
	optJournal       = 0x0004
	optExtAttr       = 0x0008
	optResize        = 0x0010
	optDirHashIdx    = 0x0020
	knownOptional    = optPreallocation | optAFSInodes | optJournal | optExtAttr | optResize | optDirHashIdx

	reqCompression   = 0x0001
	reqDirType       = 0x0002
	reqJournalReplay = 0x0004
	reqJournalDevice = 0x0008
	knownRequired    = reqCompression | reqDirType | reqJournalReplay | reqJournalDevice

	wrSparseSB = 0x0001
	wr64Bit    = 0x0002
	wrBTree    = 0x0004
	knownWrite = wrSparseSB | wr64Bit | wrBTree

	compLZV1   = 0x0001
	compLZRW3A = 0x0002
	compGZIP   = 0x0004
	compBZIP2  = 0x0008
	compLZO    = 0x0010
	knownCompression = compLZV1 | compLZRW3A | compGZIP | compBZIP2 | compLZO
)

// Superblock is the primary on-disk record read at byte offset 1024.
// Field layout follows the classic ext2 superblock (little-endian, packed).
type Superblock struct {
	InodesCount        uint32
	BlocksCount         uint32
	ReservedBlocksCount uint32
	FreeBlocksCount     uint32
	FreeInodesCount     uint32
	FirstDataBlock      uint32
	LogBlockSize        uint32
	LogFragSize         int32
	BlocksPerGroup      uint32
	FragsPerGroup       uint32
	InodesPerGroup      uint32
	MountTime           uint32
	WriteTime           uint32
	MountCount          uint16
	MaxMountCount       int16
	Signature           uint16
	State               uint16
	Errors              uint16
	MinorRevLevel       uint16
	LastCheck           uint32
	CheckInterval       uint32
	CreatorOS           uint32
	RevLevel            uint32
	DefResUID           uint16
	DefResGID           uint16
}

// rawSuperblock mirrors the on-disk byte layout exactly for binary.Read.
type rawSuperblock struct {
	InodesCount         uint32
	BlocksCount         uint32
	ReservedBlocksCount uint32
	FreeBlocksCount     uint32
	FreeInodesCount     uint32
	FirstDataBlock      uint32
	LogBlockSize        uint32
	LogFragSize         int32
	BlocksPerGroup      uint32
	FragsPerGroup       uint32
	InodesPerGroup      uint32
	MountTime           uint32
	WriteTime           uint32
	MountCount          uint16
	MaxMountCount       int16
	Signature           uint16
	State               uint16
	Errors              uint16
	MinorRevLevel       uint16
	LastCheck           uint32
	CheckInterval       uint32
	CreatorOS           uint32
	RevLevel            uint32
	DefResUID           uint16
	DefResGID           uint16
	// Remaining bytes (first-non-reserved-inode, inode_size on major>=1,
	// volume/journal fields) are either unused by this reader or duplicated
	// by the extended superblock record that follows, so they are not
	// decoded individually; the reader only needs the 84 bytes above for a
	// major-0 image and re-reads inode_size from the extended record on
	// major>=1.
	_ [superblockSize - 84]byte
}

// ExtendedSuperblock is present iff VersionMajor >= 1 and immediately
// follows the primary 1024-byte record.
type ExtendedSuperblock struct {
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNr         uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureROCompat      uint32
	FSID                 uuid.UUID
	VolumeName           string
	LastMountPath        string
	AlgorithmUsageBitmap uint32
}

type rawExtendedSuperblock struct {
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNr         uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureROCompat      uint32
	FSID                 [16]byte
	VolumeName           [16]byte
	LastMountPath        [64]byte
	AlgorithmUsageBitmap uint32
	_                    [extSuperblockSize - 120]byte
}

// versionFields carries the revision level read straight from the primary
// block: the major revision at byte offset 76 (the same word decoded as
// RevLevel) and the minor revision at byte offset 62 (MinorRevLevel).
type versionFields struct {
	Major uint32
	Minor uint32
}

func readVersionFields(b []byte) versionFields {
	return versionFields{
		Major: binary.LittleEndian.Uint32(b[76:80]),
		Minor: uint32(binary.LittleEndian.Uint16(b[62:64])),
	}
}

func parseSuperblock(raw []byte, policy Policy) (Superblock, versionFields, error) {
	if len(raw) < superblockSize {
		return Superblock{}, versionFields{}, newError(IoError, "short superblock read: got %d bytes", len(raw))
	}

	var rsb rawSuperblock
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &rsb); err != nil {
		return Superblock{}, versionFields{}, wrapError(IoError, err)
	}

	sb := Superblock{
		InodesCount:         rsb.InodesCount,
		BlocksCount:         rsb.BlocksCount,
		ReservedBlocksCount: rsb.ReservedBlocksCount,
		FreeBlocksCount:     rsb.FreeBlocksCount,
		FreeInodesCount:     rsb.FreeInodesCount,
		FirstDataBlock:      rsb.FirstDataBlock,
		LogBlockSize:        rsb.LogBlockSize,
		LogFragSize:         rsb.LogFragSize,
		BlocksPerGroup:      rsb.BlocksPerGroup,
		FragsPerGroup:       rsb.FragsPerGroup,
		InodesPerGroup:      rsb.InodesPerGroup,
		MountTime:           rsb.MountTime,
		WriteTime:           rsb.WriteTime,
		MountCount:          rsb.MountCount,
		MaxMountCount:       rsb.MaxMountCount,
		Signature:           rsb.Signature,
		State:               rsb.State,
		Errors:              rsb.Errors,
		MinorRevLevel:       rsb.MinorRevLevel,
		LastCheck:           rsb.LastCheck,
		CheckInterval:       rsb.CheckInterval,
		CreatorOS:           rsb.CreatorOS,
		RevLevel:            rsb.RevLevel,
		DefResUID:           rsb.DefResUID,
		DefResGID:           rsb.DefResGID,
	}

	ver := readVersionFields(raw)

	if err := validateSuperblock(sb, ver, policy); err != nil {
		return Superblock{}, versionFields{}, err
	}

	return sb, ver, nil
}

func validateSuperblock(sb Superblock, ver versionFields, policy Policy) error {
	check := func(cond bool, format string, args ...interface{}) error {
		if cond {
			return nil
		}
		err := newError(FormatMismatch, format, args...)
		if policy.allow(FormatMismatch) {
			return nil
		}
		return err
	}

	if err := check(sb.Signature == signatureMagic, "bad superblock signature %#x", sb.Signature); err != nil {
		return err
	}
	if err := check(ver.Major == 0 || ver.Major == 1, "unsupported major version %d", ver.Major); err != nil {
		return err
	}
	if err := check(sb.State == stateClean, "filesystem state %d is not Clean", sb.State); err != nil {
		return err
	}
	if sb.MaxMountCount != 0 {
		if err := check(int64(sb.MountCount)+1 <= int64(sb.MaxMountCount), "mount count %d exceeds max %d", sb.MountCount+1, sb.MaxMountCount); err != nil {
			return err
		}
	}
	if sb.CheckInterval != 0 {
		now := uint32(time.Now().Unix())
		if err := check(now-sb.LastCheck <= sb.CheckInterval, "fsck interval exceeded: last check %d, interval %d", sb.LastCheck, sb.CheckInterval); err != nil {
			return err
		}
	}
	return nil
}

func parseExtendedSuperblock(raw []byte, policy Policy) (ExtendedSuperblock, error) {
	if len(raw) < extSuperblockSize {
		return ExtendedSuperblock{}, newError(IoError, "short extended superblock read: got %d bytes", len(raw))
	}

	var resb rawExtendedSuperblock
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &resb); err != nil {
		return ExtendedSuperblock{}, wrapError(IoError, err)
	}

	esb := ExtendedSuperblock{
		FirstInode:           resb.FirstInode,
		InodeSize:            resb.InodeSize,
		BlockGroupNr:         resb.BlockGroupNr,
		FeatureCompat:        resb.FeatureCompat,
		FeatureIncompat:      resb.FeatureIncompat,
		FeatureROCompat:      resb.FeatureROCompat,
		FSID:                 uuid.UUID(resb.FSID),
		VolumeName:           cstring(resb.VolumeName[:]),
		LastMountPath:        cstring(resb.LastMountPath[:]),
		AlgorithmUsageBitmap: resb.AlgorithmUsageBitmap,
	}

	if err := validateExtendedSuperblock(esb, policy); err != nil {
		return ExtendedSuperblock{}, err
	}

	return esb, nil
}

func validateExtendedSuperblock(esb ExtendedSuperblock, policy Policy) error {
	reject := func(bits, known uint32, label string) error {
		if bits&^known == 0 {
			return nil
		}
		err := newError(UnknownFeature, "%s feature bits %#x outside known mask %#x", label, bits, known)
		if policy.allow(UnknownFeature) {
			return nil
		}
		return err
	}

	// FeatureCompat carries the "optional" mask, FeatureIncompat the
	// "required" mask, and FeatureROCompat the "write-required" mask, per
	// the classic ext2 naming the source distinguishes as optional /
	// required / write-required.
	if err := reject(esb.FeatureCompat, knownOptional, "optional"); err != nil {
		return err
	}
	if err := reject(esb.FeatureIncompat, knownRequired, "required"); err != nil {
		return err
	}
	if err := reject(esb.FeatureROCompat, knownWrite, "write-required"); err != nil {
		return err
	}
	if err := reject(esb.AlgorithmUsageBitmap, knownCompression, "compression"); err != nil {
		return err
	}
	return nil
}

// requiresDirType reports whether the DirType required-feature bit is set,
// which changes how directory-entry name lengths are decoded (§4.6).
func (esb ExtendedSuperblock) requiresDirType() bool {
	return esb.FeatureIncompat&reqDirType != 0
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

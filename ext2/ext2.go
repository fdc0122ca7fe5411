// Package ext2 implements a read-only interpreter for second-extended-
// filesystem disk images: superblock validation, block-group descriptor
// lookup, inode loading, the tiered direct/IND/DIND/TIND block-pointer
// walker, and a directory-entry decoder layered on top of it. It never
// mounts the image through a kernel driver; it only needs random-access
// reads against an ordinary host file.
package ext2

import (
	"io"

	"github.com/go-ext2/ext2view/backend"
)

// readerAt is the minimal capability the engine needs from the backing
// file: positional, size-exact, offset-exact reads. Using pread-style
// access instead of seek+read avoids the shared-cursor hazard between
// nested iterators described in §9.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// geometry is the immutable image layout derived once at Open time.
type geometry struct {
	blockSize        uint64
	inodeSize        uint64
	blocksPerGroup   uint32
	inodesPerGroup   uint32
	groupCount       uint32
	sbBlockNumber    uint64
	pointersPerBlock uint64
}

// Reader owns the backing file handle, the decoded superblocks, and the
// block-group descriptor table for the lifetime of a mounted image. It is
// not safe for concurrent use: every iterator it hands out shares the
// reader's single active-cursor discipline described in §5.
type Reader struct {
	backend      readerAt
	superblock   Superblock
	extended     ExtendedSuperblock
	versionMajor uint32
	geom         geometry
	bgds         []GroupDescriptor
	policy       Policy
}

// Open decodes the superblock pair and block-group descriptor table of f
// under the given force policy, deriving the image geometry described in
// §3. f must support positional reads; backend.File satisfies this.
func Open(f backend.File, policy Policy) (*Reader, error) {
	primary := make([]byte, superblockSize)
	if _, err := f.ReadAt(primary, superblockOffset); err != nil {
		return nil, wrapError(IoError, err)
	}

	sb, ver, err := parseSuperblock(primary, policy)
	if err != nil {
		return nil, err
	}

	var esb ExtendedSuperblock
	if ver.Major >= 1 {
		extRaw := make([]byte, extSuperblockSize)
		if _, err := f.ReadAt(extRaw, superblockOffset+superblockSize); err != nil {
			return nil, wrapError(IoError, err)
		}
		esb, err = parseExtendedSuperblock(extRaw, policy)
		if err != nil {
			return nil, err
		}
	}

	geom, err := deriveGeometry(sb, esb, ver)
	if err != nil {
		return nil, err
	}

	bgdRaw := make([]byte, uint64(geom.groupCount)*groupDescSize)
	bgdOffset := int64(geom.sbBlockNumber+1) * int64(geom.blockSize)
	if _, err := f.ReadAt(bgdRaw, bgdOffset); err != nil {
		return nil, wrapError(IoError, err)
	}
	bgds, err := parseGroupDescriptorTable(bgdRaw, geom.groupCount)
	if err != nil {
		return nil, err
	}

	return &Reader{
		backend:      f,
		superblock:   sb,
		extended:     esb,
		versionMajor: ver.Major,
		geom:         geom,
		bgds:         bgds,
		policy:       policy,
	}, nil
}

func deriveGeometry(sb Superblock, esb ExtendedSuperblock, ver versionFields) (geometry, error) {
	blockSize := uint64(1024) << sb.LogBlockSize
	if blockSize < 1024 {
		return geometry{}, newError(FormatMismatch, "derived block size %d below 1024", blockSize)
	}

	inodeSize := uint64(128)
	if ver.Major >= 1 && esb.InodeSize != 0 {
		inodeSize = uint64(esb.InodeSize)
	}

	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return geometry{}, newError(FormatMismatch, "blocks_per_group and inodes_per_group must be nonzero")
	}

	groupCount := (sb.BlocksCount + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup

	var sbBlockNumber uint64
	if blockSize == 1024 {
		sbBlockNumber = 1
	}

	return geometry{
		blockSize:        blockSize,
		inodeSize:        inodeSize,
		blocksPerGroup:   sb.BlocksPerGroup,
		inodesPerGroup:   sb.InodesPerGroup,
		groupCount:       groupCount,
		sbBlockNumber:    sbBlockNumber,
		pointersPerBlock: blockSize / 4,
	}, nil
}

// Close releases the backing file handle, if the backend it was opened
// with supports closing.
func (r *Reader) Close() error {
	if c, ok := r.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Superblock returns the decoded primary superblock.
func (r *Reader) Superblock() Superblock { return r.superblock }

// ExtendedSuperblock returns the decoded extended superblock. Its zero
// value is returned when the image's major version is 0.
func (r *Reader) ExtendedSuperblock() ExtendedSuperblock { return r.extended }

// BlockSize returns the image's block size in bytes.
func (r *Reader) BlockSize() uint64 { return r.geom.blockSize }

// RootInode loads inode 2, the filesystem root.
func (r *Reader) RootInode() (Inode, error) {
	return r.loadInodeByID(rootInodeID)
}

// Inode loads the inode with the given 1-based id.
func (r *Reader) Inode(id uint32) (Inode, error) {
	return r.loadInodeByID(id)
}

func (r *Reader) loadInodeByID(id uint32) (Inode, error) {
	return loadInode(r.backend, r.geom, r.bgds, id)
}

// ListDirectory resolves an absolute path to a directory and returns every
// live entry it contains, in on-disk order, per §4.6–§4.7.
func (r *Reader) ListDirectory(path string) ([]DirEntry, error) {
	_, inode, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if !inode.IsDirectory() {
		return nil, newError(ApiMisuse, "%q is not a directory", path)
	}

	scratch := make([]byte, r.geom.blockSize)
	stream, err := NewBlockStream(r.backend, r.geom, inode, r.versionMajor, scratch)
	if err != nil {
		return nil, err
	}
	it := NewDirectoryIterator(stream, r.extended.requiresDirType())

	var entries []DirEntry
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}

// ReadFile resolves an absolute path to a regular file and returns its
// exact byte contents, per the round-trip invariant in §8.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	_, inode, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if !inode.IsRegular() {
		return nil, newError(ApiMisuse, "%q is not a regular file", path)
	}

	size := inode.SizeInBytes(r.versionMajor)
	out := make([]byte, 0, size)

	scratch := make([]byte, r.geom.blockSize)
	stream, err := NewBlockStream(r.backend, r.geom, inode, r.versionMajor, scratch)
	if err != nil {
		return nil, err
	}

	for {
		span, ok, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, span...)
	}

	if uint64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

// WriteFileTo streams a regular file's contents directly to w without
// buffering the whole file in memory, the shape the "get" CLI subcommand
// needs for large files.
func (r *Reader) WriteFileTo(w io.Writer, path string) (int64, error) {
	_, inode, err := r.ResolvePath(path)
	if err != nil {
		return 0, err
	}
	if !inode.IsRegular() {
		return 0, newError(ApiMisuse, "%q is not a regular file", path)
	}

	size := int64(inode.SizeInBytes(r.versionMajor))
	var written int64

	scratch := make([]byte, r.geom.blockSize)
	stream, err := NewBlockStream(r.backend, r.geom, inode, r.versionMajor, scratch)
	if err != nil {
		return 0, err
	}

	for {
		span, ok, err := stream.Next()
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}
		remaining := size - written
		if remaining <= 0 {
			break
		}
		if int64(len(span)) > remaining {
			span = span[:remaining]
		}
		n, err := w.Write(span)
		written += int64(n)
		if err != nil {
			return written, wrapError(IoError, err)
		}
	}
	return written, nil
}

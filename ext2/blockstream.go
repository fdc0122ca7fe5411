package ext2

import "encoding/binary"

// BlockStream is the tiered direct/IND/DIND/TIND block-pointer walker
// described in §4.5. It is a single-pass, stateful iterator: it borrows the
// reader and the source inode, and mutates a caller-owned scratch buffer of
// exactly block_size bytes on every advance — including the hidden reads of
// indirect pointer blocks, which alias the very same buffer the caller's
// last data span pointed into. Callers must fully consume a span before
// calling Next again.
type BlockStream struct {
	r     readerAt
	geom  geometry
	inode Inode

	scratch []byte

	c                uint64 // next logical data slot to resolve (0-based)
	budget           uint64 // N = disk_sector_count*512/block_size
	indirectBlkCount uint64
	sizeBytes        uint64
	done             bool

	indCharged      bool
	dindRootCharged bool
	dindLastL1      int64
	tindRootCharged bool
	tindLastL2      int64
	tindLastL1      int64
}

// NewBlockStream constructs a walker over inode's data blocks. scratch must
// be at least geom.blockSize bytes; only the first blockSize bytes are
// used. versionMajor decides whether SizeInBytes combines the 64-bit size
// halves (§3).
func NewBlockStream(r readerAt, geom geometry, inode Inode, versionMajor uint32, scratch []byte) (*BlockStream, error) {
	if uint64(len(scratch)) < geom.blockSize {
		return nil, newError(ApiMisuse, "scratch buffer of %d bytes is smaller than block size %d", len(scratch), geom.blockSize)
	}
	return &BlockStream{
		r:          r,
		geom:       geom,
		inode:      inode,
		scratch:    scratch,
		budget:     uint64(inode.DiskSectorCount) * 512 / geom.blockSize,
		sizeBytes:  inode.SizeInBytes(versionMajor),
		dindLastL1: -1,
		tindLastL2: -1,
		tindLastL1: -1,
	}, nil
}

// Done reports whether the stream has been exhausted.
func (bs *BlockStream) Done() bool { return bs.done }

// Equal implements the §4.5 comparison rule: two terminated streams compare
// equal regardless of history; an active stream never equals a terminated
// one; otherwise equality compares the logical position.
func (bs *BlockStream) Equal(other *BlockStream) bool {
	if bs.done || other.done {
		return bs.done == other.done
	}
	return bs.c == other.c
}

// Next advances the walker and returns the next non-empty span, or
// (nil, false, nil) once the stream is exhausted. Sparse holes (zero
// pointers) are skipped transparently and do not consume a returned span.
func (bs *BlockStream) Next() ([]byte, bool, error) {
	for {
		if bs.done {
			return nil, false, nil
		}
		if bs.c+bs.indirectBlkCount >= bs.budget {
			bs.done = true
			return nil, false, nil
		}

		ptr, err := bs.resolvePointer(bs.c)
		if err != nil {
			bs.done = true
			return nil, false, err
		}
		if ptr == 0 {
			bs.c++
			continue
		}

		if err := bs.readBlock(ptr); err != nil {
			bs.done = true
			return nil, false, err
		}

		spanLen := bs.geom.blockSize
		if bs.c+bs.indirectBlkCount+1 >= bs.budget {
			if tail := bs.sizeBytes % bs.geom.blockSize; tail != 0 {
				spanLen = tail
			}
		}
		bs.c++
		return bs.scratch[:spanLen], true, nil
	}
}

// resolvePointer derives the physical block address for logical data slot
// c, per the tier table in §4.5. It charges indirectBlkCount exactly once
// per distinct pointer-block identity, even though the shared scratch
// buffer forces a fresh physical read of that identity on every call.
func (bs *BlockStream) resolvePointer(c uint64) (uint32, error) {
	P := bs.geom.pointersPerBlock

	switch {
	case c < directBlocks:
		return bs.inode.BlockPointers[c], nil

	case c < directBlocks+P:
		if !bs.indCharged {
			bs.indirectBlkCount++
			bs.indCharged = true
		}
		if err := bs.readBlock(bs.inode.BlockPointers[indBlock]); err != nil {
			return 0, err
		}
		return bs.ptrAt(c - directBlocks), nil

	case c < directBlocks+P+P*P:
		j := c - directBlocks - P
		l1Index := j / P

		if !bs.dindRootCharged {
			bs.indirectBlkCount++
			bs.dindRootCharged = true
		}
		if err := bs.readBlock(bs.inode.BlockPointers[dindBlock]); err != nil {
			return 0, err
		}
		l1Addr := bs.ptrAt(l1Index)

		if bs.dindLastL1 != int64(l1Index) {
			bs.indirectBlkCount++
			bs.dindLastL1 = int64(l1Index)
		}
		if err := bs.readBlock(l1Addr); err != nil {
			return 0, err
		}
		return bs.ptrAt(j % P), nil

	case c < directBlocks+P+P*P+P*P*P:
		j := c - directBlocks - P - P*P
		l2Index := j / (P * P)

		if !bs.tindRootCharged {
			bs.indirectBlkCount++
			bs.tindRootCharged = true
		}
		if err := bs.readBlock(bs.inode.BlockPointers[tindBlock]); err != nil {
			return 0, err
		}
		l2Addr := bs.ptrAt(l2Index)

		if bs.tindLastL2 != int64(l2Index) {
			bs.indirectBlkCount++
			bs.tindLastL2 = int64(l2Index)
			bs.tindLastL1 = -1
		}
		if err := bs.readBlock(l2Addr); err != nil {
			return 0, err
		}

		rem := j % (P * P)
		l1Index := rem / P
		l1Addr := bs.ptrAt(l1Index)

		if bs.tindLastL1 != int64(l1Index) {
			bs.indirectBlkCount++
			bs.tindLastL1 = int64(l1Index)
		}
		if err := bs.readBlock(l1Addr); err != nil {
			return 0, err
		}
		return bs.ptrAt(rem % P), nil

	default:
		return 0, newError(FileTooLarge, "logical slot %d exceeds TIND addressable range", c)
	}
}

func (bs *BlockStream) ptrAt(idx uint64) uint32 {
	return binary.LittleEndian.Uint32(bs.scratch[idx*4 : idx*4+4])
}

func (bs *BlockStream) readBlock(addr uint32) error {
	off := int64(bs.geom.sbBlockNumber+uint64(addr)) * int64(bs.geom.blockSize)
	n, err := bs.r.ReadAt(bs.scratch[:bs.geom.blockSize], off)
	if err != nil {
		return wrapError(IoError, err)
	}
	if uint64(n) < bs.geom.blockSize {
		return newError(IoError, "short block read at offset %d: got %d of %d bytes", off, n, bs.geom.blockSize)
	}
	return nil
}

package ext2

import "encoding/binary"

const direntHeaderSize = 8

// DirEntry is one decoded directory record. Name is copied out of the
// DirectoryIterator's scratch buffer, so an entry stays valid after later
// calls to Next.
type DirEntry struct {
	InodeID uint32
	Name    string
}

// DirectoryIterator decodes variable-length directory entries out of the
// block stream belonging to a directory inode, per §4.6.
type DirectoryIterator struct {
	stream        *BlockStream
	requiresDirType bool

	block  []byte
	offset uint64
	done   bool
}

// NewDirectoryIterator layers a directory decoder over an existing block
// stream. The stream must belong to a directory inode.
func NewDirectoryIterator(stream *BlockStream, requiresDirType bool) *DirectoryIterator {
	return &DirectoryIterator{stream: stream, requiresDirType: requiresDirType}
}

// Next returns the next live directory entry, skipping tombstones
// (inode == 0) automatically. Returns (entry, true, nil) on success,
// (zero, false, nil) at end of directory, or a non-nil error on I/O failure
// or malformed records.
func (it *DirectoryIterator) Next() (DirEntry, bool, error) {
	for {
		if it.done {
			return DirEntry{}, false, nil
		}

		if it.block == nil || it.offset >= uint64(len(it.block)) {
			span, ok, err := it.stream.Next()
			if err != nil {
				it.done = true
				return DirEntry{}, false, err
			}
			if !ok {
				it.done = true
				return DirEntry{}, false, nil
			}
			it.block = span
			it.offset = 0
		}

		if it.offset+direntHeaderSize > uint64(len(it.block)) {
			// A well-formed image never straddles a block boundary; treat
			// a short trailing header as end of directory.
			it.done = true
			return DirEntry{}, false, nil
		}

		inodeID := binary.LittleEndian.Uint32(it.block[it.offset : it.offset+4])
		recLen := binary.LittleEndian.Uint16(it.block[it.offset+4 : it.offset+6])

		if inodeID == 0 && recLen == 0 {
			it.done = true
			return DirEntry{}, false, nil
		}
		if recLen < direntHeaderSize {
			it.done = true
			return DirEntry{}, false, newError(FormatMismatch, "directory entry rec_len %d below minimum %d", recLen, direntHeaderSize)
		}
		if inodeID == 0 {
			// Tombstone: skip and keep scanning.
			it.offset += uint64(recLen)
			continue
		}

		nameLenLow := it.block[it.offset+6]
		typeOrNameLenHigh := it.block[it.offset+7]

		var nameLen uint16
		if it.requiresDirType {
			nameLen = uint16(nameLenLow)
		} else {
			nameLen = uint16(nameLenLow) | uint16(typeOrNameLenHigh)<<8
		}

		nameStart := it.offset + direntHeaderSize
		nameEnd := nameStart + uint64(nameLen)
		if nameEnd > it.offset+uint64(recLen) || nameEnd > uint64(len(it.block)) {
			it.done = true
			return DirEntry{}, false, newError(FormatMismatch, "directory entry name length %d overruns rec_len %d", nameLen, recLen)
		}

		entry := DirEntry{
			InodeID: inodeID,
			Name:    string(it.block[nameStart:nameEnd]),
		}
		it.offset += uint64(recLen)
		return entry, true, nil
	}
}

package ext2

import (
	"bytes"
	"encoding/binary"
)

const groupDescSize = 32

// GroupDescriptor is the 32-byte block-group descriptor record. The reader
// only consumes InodeTableBlock; the bitmap addresses and free counters are
// decoded because they're part of the fixed-size record, not because
// anything here reads the bitmaps.
type GroupDescriptor struct {
	BlockBitmapBlock uint32
	InodeBitmapBlock uint32
	InodeTableBlock  uint32
	FreeBlocksCount  uint16
	FreeInodesCount  uint16
	UsedDirsCount    uint16
	Padding          uint16
	Reserved         [12]byte
}

// parseGroupDescriptorTable decodes a contiguous array of groupCount
// descriptors starting at raw[0].
func parseGroupDescriptorTable(raw []byte, groupCount uint32) ([]GroupDescriptor, error) {
	need := int(groupCount) * groupDescSize
	if len(raw) < need {
		return nil, newError(IoError, "short BGD table read: need %d bytes, got %d", need, len(raw))
	}

	table := make([]GroupDescriptor, groupCount)
	r := bytes.NewReader(raw)
	for i := range table {
		if err := binary.Read(r, binary.LittleEndian, &table[i]); err != nil {
			return nil, wrapError(IoError, err)
		}
	}
	return table, nil
}

package ext2

import "github.com/go-ext2/ext2view/internal/pathutil"

const rootInodeID = 2

// ResolvePath walks an absolute path from the root inode (id 2), scanning
// each directory linearly for a matching component, per §4.7. No symlink
// traversal is performed.
func (r *Reader) ResolvePath(path string) (uint32, Inode, error) {
	components, err := pathutil.Split(path)
	if err != nil {
		return 0, Inode{}, newError(InvalidArgument, "%v", err)
	}

	inodeID := uint32(rootInodeID)
	inode, err := r.loadInodeByID(inodeID)
	if err != nil {
		return 0, Inode{}, err
	}

	for _, name := range components {
		if !inode.IsDirectory() {
			return 0, Inode{}, newError(NotFound, "%q is not a directory", name)
		}

		childID, found, err := r.findInDirectory(inode, name)
		if err != nil {
			return 0, Inode{}, err
		}
		if !found {
			return 0, Inode{}, newError(NotFound, "no such file or directory: %q", name)
		}

		childInode, err := r.loadInodeByID(childID)
		if err != nil {
			return 0, Inode{}, err
		}
		inodeID, inode = childID, childInode
	}

	return inodeID, inode, nil
}

// findInDirectory scans dirInode's entries for an exact byte-for-byte name
// match, returning the child's inode id.
func (r *Reader) findInDirectory(dirInode Inode, name string) (uint32, bool, error) {
	scratch := make([]byte, r.geom.blockSize)
	stream, err := NewBlockStream(r.backend, r.geom, dirInode, r.versionMajor, scratch)
	if err != nil {
		return 0, false, err
	}
	it := NewDirectoryIterator(stream, r.extended.requiresDirType())

	for {
		entry, ok, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if entry.Name == name {
			return entry.InodeID, true, nil
		}
	}
}

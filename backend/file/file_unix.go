//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints to the kernel that the image will be read
// front-to-back-ish by the path resolver and block stream, which mostly
// walk a file's blocks in ascending logical order. Best-effort: a failure
// here never aborts the open, since read-ahead is only a hint.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

//go:build unix

package fs

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileSignature captures inode and change time, which move on renames and
// metadata edits that leave size and mtime untouched.
func fileSignature(info fs.FileInfo) string {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d:%d.%d", stat.Ino, stat.Ctim.Sec, stat.Ctim.Nsec)
}

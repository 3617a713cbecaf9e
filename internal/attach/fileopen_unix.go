//go:build !windows

package attach

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/tilth/internal/errors"
)

// openNoFollowRead opens path read-only with O_NOFOLLOW, so a symlink in the
// final component is refused. O_CLOEXEC prevents FD leaks across exec.
func openNoFollowRead(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot read from symlink")
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, errors.NewNotFound("file", path)
		}
		return nil, errors.NewInternal(err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

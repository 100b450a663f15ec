package beeberr

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// FromHostError classifies a host file-system error into the BBC error
// taxonomy, mirroring how backend/local distinguishes os.IsNotExist from
// other syscall failures. The tag in the resulting message ("POSIX error:"
// / "Node error:") is part of the test goldens per spec.md §7 and must not
// be renamed.
func FromHostError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if os.IsNotExist(err) {
		return Wrap(CodeFileNotFound, "File not found", err)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Wrap(CodeDiscFault, fmt.Sprintf("POSIX error: %d", int(errno)), err)
	}
	return Wrap(CodeDiscFault, fmt.Sprintf("Node error: %s", err.Error()), err)
}

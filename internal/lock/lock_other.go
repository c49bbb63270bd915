//go:build !unix && !windows

package lock

import (
	"errors"
	"io/fs"
	"os"
)

// tryLock creates path exclusively; an existing file means the lock is held.
// These platforms have neither flock nor LockFileEx, so a holder killed
// before Release leaves the file behind.
func tryLock(path string) (f *os.File, held bool, err error) {
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return f, false, nil
}

func unlock(path string, f *os.File) error {
	f.Close()
	return os.Remove(path)
}

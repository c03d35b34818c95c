// Package storagetest provides filesystems that fail on demand.
package storagetest

import (
	"errors"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// ErrDiskFull is what FaultFs returns once its budget is spent.
var ErrDiskFull = errors.New("no space left on device")

// FaultFs wraps an afero.Fs and fails file writes once Budget bytes have
// been written across all files. A negative Budget never fails.
type FaultFs struct {
	afero.Fs

	mu     sync.Mutex
	Budget int64
}

func NewFaultFs(base afero.Fs, budget int64) *FaultFs {
	return &FaultFs{Fs: base, Budget: budget}
}

func (f *FaultFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f *FaultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

// take reserves up to n bytes of budget and returns how many were granted.
func (f *FaultFs) take(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Budget < 0 {
		return n
	}
	if int64(n) > f.Budget {
		n = int(f.Budget)
	}
	f.Budget -= int64(n)
	return n
}

type faultFile struct {
	afero.File
	fs *FaultFs
}

func (f *faultFile) Write(p []byte) (int, error) {
	granted := f.fs.take(len(p))
	n, err := f.File.Write(p[:granted])
	if err != nil {
		return n, err
	}
	if granted < len(p) {
		return n, &os.PathError{Op: "write", Path: f.Name(), Err: ErrDiskFull}
	}
	return n, nil
}

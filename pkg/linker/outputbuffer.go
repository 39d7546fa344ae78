package linker

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// outputBuffer is a writable file mapping of exactly the output size.
// The image is emitted into Data and committed with one msync.
type outputBuffer struct {
	file *os.File
	Data []byte
}

func newOutputBuffer(path string, size uint64) (*outputBuffer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("size output %s: %w", path, err)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, os.NewSyscallError("mmap", err)
	}
	return &outputBuffer{
		file: file,
		Data: data,
	}, nil
}

func (b *outputBuffer) Commit() error {
	if err := unix.Msync(b.Data, unix.MS_SYNC); err != nil {
		return os.NewSyscallError("msync", err)
	}
	if err := unix.Munmap(b.Data); err != nil {
		return os.NewSyscallError("munmap", err)
	}
	b.Data = nil
	return b.file.Close()
}

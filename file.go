package gofat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while processing a file.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
	ErrWriteFile = errors.New("could not write file completely")
)

// fatFileFs provides all the methods File needs from the mounted
// volume. It exists so File can be tested against a mock rather than a
// real disk image.
// Generated mock using mockgen:
//  mockgen -source=file.go -destination=file_mock.go -package gofat
type fatFileFs interface {
	readFileAt(cluster uint32, fileSize int64, offset int64, readSize int64) ([]byte, error)
	readRoot() ([]ExtendedEntryHeader, error)
	readDir(cluster uint32) ([]ExtendedEntryHeader, error)
	writeFileAt(cluster uint32, offset int64, data []byte) (uint32, error)
	truncateFile(cluster uint32, currentSize int64, newSize int64) (uint32, error)
	persistFileMeta(loc dirLocator, slotIndex int, size uint32, cluster uint32, modTime time.Time) error
}

// File implements afero.File over one directory entry. A File keeps its
// own mutable copy of the entry it was opened from; writes update it in
// memory immediately and persist it to the directory entry lazily, on
// Sync/Close/Truncate, rather than after every Write call.
type File struct {
	fs   fatFileFs
	path string

	isDirectory bool
	isReadOnly  bool
	isHidden    bool
	isSystem    bool

	ext    ExtendedEntryHeader
	offset int64
	dirty  bool
}

func (f *File) firstCluster() uint32 { return firstClusterOf(f.ext.EntryHeader) }

func (f *File) setFirstCluster(c uint32) {
	f.ext.FirstClusterLO = uint16(c & 0xFFFF)
	f.ext.FirstClusterHI = uint16(c >> 16)
}

func (f *File) size() int64 { return int64(f.ext.FileSize) }

func (f *File) Close() error {
	err := f.flushMeta()

	f.fs = nil
	f.path = ""
	f.isDirectory = false
	f.isReadOnly = false
	f.isHidden = false
	f.isSystem = false
	f.ext = ExtendedEntryHeader{}
	f.offset = 0
	f.dirty = false

	return err
}

func (f *File) Read(p []byte) (n int, err error) {
	if p == nil {
		return 0, nil
	}

	// Reading a file if the size has been already reached, makes no sense.
	if f.size() <= f.offset {
		return 0, io.EOF
	}

	offset := f.offset
	data, err := f.fs.readFileAt(f.firstCluster(), f.size(), offset, int64(len(p)))

	if data != nil {
		copy(p, data)
	}

	// Seek even if an error occurred, errors from reading are used even if seek also errors.
	_, seekErr := f.Seek(int64(len(data)), io.SeekCurrent)

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}

	if seekErr != nil {
		return len(data), checkpoint.Wrap(seekErr, ErrReadFile)
	}

	return len(data), nil
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if p == nil {
		return 0, nil
	}

	// Reading over the end makes no sense.
	if f.size() <= off {
		return 0, io.EOF
	}

	size := len(p)
	data, err := f.fs.readFileAt(f.firstCluster(), f.size(), off, int64(size))

	if data != nil {
		copy(p, data)
	}

	if err != nil {
		return len(data), checkpoint.Wrap(err, ErrReadFile)
	}

	if len(data) < size {
		return len(data), checkpoint.Wrap(io.EOF, ErrReadFile)
	}
	return len(data), nil
}

// Seek jumps to a specific offset in the file. This affects all Read operation except ReadAt.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is out of range.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.size() + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

// Write writes p at the current offset, growing the file (and
// allocating new clusters) if needed, and advances the offset by
// len(p). The updated size and first cluster are persisted to the
// directory entry on Sync/Close, not immediately.
func (f *File) Write(p []byte) (n int, err error) {
	if f.isDirectory {
		return 0, checkpoint.Wrap(ErrIsADirectory, ErrWriteFile)
	}
	if f.isReadOnly {
		return 0, checkpoint.Wrap(syscall.EACCES, ErrWriteFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	newHead, err := f.fs.writeFileAt(f.firstCluster(), f.offset, p)
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}
	f.setFirstCluster(newHead)

	end := f.offset + int64(len(p))
	if uint32(end) > f.ext.FileSize {
		f.ext.FileSize = uint32(end)
	}
	f.offset = end
	f.dirty = true

	return len(p), nil
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if f.isDirectory {
		return 0, checkpoint.Wrap(ErrIsADirectory, ErrWriteFile)
	}
	if f.isReadOnly {
		return 0, checkpoint.Wrap(syscall.EACCES, ErrWriteFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	newHead, err := f.fs.writeFileAt(f.firstCluster(), off, p)
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}
	f.setFirstCluster(newHead)

	end := off + int64(len(p))
	if uint32(end) > f.ext.FileSize {
		f.ext.FileSize = uint32(end)
	}
	f.dirty = true

	return len(p), nil
}

func (f *File) Name() string {
	return f.ext.FileInfo().Name()
}

// Readdir reads the contents of a directory.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.isDirectory {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	var content []ExtendedEntryHeader
	var err error
	if f.path == "" || f.path == "/" {
		content, err = f.fs.readRoot()
	} else {
		content, err = f.fs.readDir(f.firstCluster())
	}

	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	if f.offset >= int64(len(content)) {
		content = nil
	} else {
		content = content[f.offset:]
	}

	if count > 0 {
		if len(content) > count {
			content = content[:count]
		} else if len(content) < count {
			err = io.EOF
		}
	}

	f.offset += int64(len(content))

	result := make([]os.FileInfo, len(content))
	for i := range content {
		result[i] = content[i].FileInfo()
	}

	return result, err
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.ext.FileInfo(), nil
}

// Sync persists any pending size/first-cluster/mtime change to the
// directory entry. The underlying device has no write cache of its own
// (every Write already went straight to the device), so Sync only ever
// touches the directory entry itself.
func (f *File) Sync() error {
	return f.flushMeta()
}

func (f *File) flushMeta() error {
	if !f.dirty || f.fs == nil {
		return nil
	}
	err := f.fs.persistFileMeta(f.ext.dirLocator, f.ext.slotIndex, f.ext.FileSize, f.firstCluster(), time.Now())
	if err != nil {
		return checkpoint.Wrap(err, ErrWriteFile)
	}
	f.dirty = false
	return nil
}

func (f *File) Truncate(size int64) error {
	if f.isDirectory {
		return checkpoint.Wrap(ErrIsADirectory, ErrWriteFile)
	}
	if size < 0 {
		return checkpoint.Wrap(afero.ErrOutOfRange, ErrWriteFile)
	}

	newHead, err := f.fs.truncateFile(f.firstCluster(), f.size(), size)
	if err != nil {
		return checkpoint.Wrap(err, ErrWriteFile)
	}
	f.setFirstCluster(newHead)
	f.ext.FileSize = uint32(size)
	f.dirty = true

	if f.offset > size {
		f.offset = size
	}

	return f.flushMeta()
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

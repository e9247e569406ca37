// Package gofat implements a FAT12/FAT16/FAT32 filesystem engine over an
// arbitrary io.ReadWriteSeeker, exposed as an afero.Fs.
package gofat

import (
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
	"github.com/spf13/afero"
)

// Fs is a mounted FAT volume. It implements afero.Fs. The zero value is
// not usable; construct one with New or NewSkipChecks.
type Fs struct {
	lock sync.Mutex

	reader      io.ReadWriteSeeker
	info        Info
	sectorCache Sector

	lastError ErrorCode
}

// New mounts reader as a FAT filesystem, validating the BPB strictly.
func New(reader io.ReadWriteSeeker) (*Fs, error) {
	return newFs(reader, false)
}

// NewSkipChecks mounts reader like New but relaxes the BPB validations
// that reject otherwise-usable, slightly nonconformant images. Use with
// caution: a volume that fails strict validation may have other latent
// inconsistencies too.
func NewSkipChecks(reader io.ReadWriteSeeker) (*Fs, error) {
	return newFs(reader, true)
}

func newFs(reader io.ReadWriteSeeker, skipChecks bool) (*Fs, error) {
	fs := &Fs{
		reader: reader,
	}

	if err := fs.parseBPB(skipChecks); err != nil {
		return nil, err
	}

	return fs, nil
}

// FSType reports which FAT variant this volume uses.
func (fs *Fs) FSType() FATType {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.info.FSType
}

// Label reads the volume label from the root directory's AttrVolumeID
// entry, if one exists. An unlabeled volume returns an empty string; an
// error is returned only if the root directory cannot be read.
func (fs *Fs) Label() (string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	var label string
	err := fs.iterEntries(fs.rootLocator(), func(ext ExtendedEntryHeader) (bool, error) {
		if ext.Attribute&AttrVolumeID != 0 {
			label = shortNameToString(ext.EntryHeader.Name)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", fs.fail(err)
	}
	fs.ok()
	return label, nil
}

// LastError returns the stable error code of the most recently
// completed operation on this handle, ErrorNone if it succeeded.
func (fs *Fs) LastError() ErrorCode {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.lastError
}

// LastErrorString is LastError's human-readable form.
func (fs *Fs) LastErrorString() string {
	return fs.LastError().String()
}

// Exists reports whether path refers to anything, without treating
// "not found" as a failure the way Stat does — Exists always leaves
// LastError at ErrorNone, whether or not anything is found.
func (fs *Fs) Exists(path string) bool {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if path == "" || path == "/" {
		return true
	}
	_, err := fs.resolve(path)
	fs.ok()
	return err == nil
}

// Info returns a richer metadata snapshot than Stat's os.FileInfo: the
// long name, short name, directory flag, size, timestamps, attributes
// and first cluster, all without opening a handle.
func (fs *Fs) Info(path string) (ExtendedEntryHeader, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if path == "" || path == "/" {
		return fs.rootInfo(), nil
	}

	ext, err := fs.resolve(path)
	if err != nil {
		return ExtendedEntryHeader{}, err
	}
	fs.ok()
	return ext, nil
}

func (fs *Fs) rootInfo() ExtendedEntryHeader {
	return ExtendedEntryHeader{
		EntryHeader:  EntryHeader{Attribute: AttrDirectory},
		ExtendedName: "/",
	}
}

// ReadRange reads up to length bytes starting at offset from path's
// file content without requiring the caller to Open a handle first — a
// direct counterpart of File.ReadAt.
func (fs *Fs) ReadRange(path string, offset int64, length int64) ([]byte, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.resolve(path)
	if err != nil {
		return nil, fs.fail(err)
	}
	if ext.Attribute&AttrDirectory != 0 {
		return nil, fs.fail(checkpoint.Wrap(ErrIsADirectory, ErrInvalidPath))
	}

	data, err := fs.readFileAtLocked(firstClusterOf(ext.EntryHeader), int64(ext.FileSize), offset, length)
	if err != nil {
		return nil, fs.fail(err)
	}
	fs.ok()
	return data, nil
}

// readFileAtLocked is readFileAt's body for callers that already hold
// fs.lock.
func (fs *Fs) readFileAtLocked(head uint32, fileSize, offset, readSize int64) ([]byte, error) {
	if head == 0 || offset >= fileSize {
		return nil, nil
	}
	if offset+readSize > fileSize {
		readSize = fileSize - offset
	}
	if readSize <= 0 {
		return nil, nil
	}

	clusters, err := fs.chainClusters(head)
	if err != nil {
		return nil, err
	}

	clusterSize := int64(fs.info.ClusterSize)
	out := make([]byte, 0, readSize)
	pos := offset
	remaining := readSize

	for remaining > 0 {
		clusterIdx := int(pos / clusterSize)
		if clusterIdx >= len(clusters) {
			break
		}
		withinCluster := pos % clusterSize
		chunk := clusterSize - withinCluster
		if chunk > remaining {
			chunk = remaining
		}

		off := fs.info.ClusterOffset(clusters[clusterIdx]) + withinCluster
		buf, err := fs.readAt(off, int(chunk))
		if err != nil {
			return out, err
		}
		out = append(out, buf...)

		pos += chunk
		remaining -= chunk
	}

	return out, nil
}

// TotalSpace returns the total addressable data region size, in bytes.
func (fs *Fs) TotalSpace() int64 {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return int64(fs.info.TotalDataClusters) * int64(fs.info.ClusterSize)
}

// FreeSpace returns the currently unallocated data region size, in
// bytes. The first call after mount scans the whole FAT; every call
// after that until the next allocate/free is served from a cache.
func (fs *Fs) FreeSpace() (int64, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	free, err := fs.freeSpace()
	if err != nil {
		return 0, fs.fail(err)
	}
	fs.ok()
	return free, nil
}

func (fs *Fs) openHandle(path string, ext ExtendedEntryHeader) *File {
	return &File{
		fs:          fs,
		path:        path,
		isDirectory: ext.Attribute&AttrDirectory != 0,
		isReadOnly:  ext.Attribute&AttrReadOnly != 0,
		isHidden:    ext.Attribute&AttrHidden != 0,
		isSystem:    ext.Attribute&AttrSystem != 0,
		ext:         ext,
	}
}

// Create creates an empty file, or truncates it to empty if it already
// exists as a file, and returns a handle open for read/write.
func (fs *Fs) Create(name string) (afero.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.createFile(name)
	if err != nil {
		return nil, fs.fail(err)
	}

	if ext.FileSize != 0 || firstClusterOf(ext.EntryHeader) != 0 {
		newHead, err := fs.truncateFileLocked(firstClusterOf(ext.EntryHeader), int64(ext.FileSize), 0)
		if err != nil {
			return nil, fs.fail(err)
		}
		setHeaderCluster(&ext.EntryHeader, newHead)
		ext.FileSize = 0
		if err := fs.persistFileMetaLocked(ext.dirLocator, ext.slotIndex, 0, newHead, time.Now()); err != nil {
			return nil, fs.fail(err)
		}
	}

	fs.ok()
	return fs.openHandle(name, ext), nil
}

// Mkdir creates name as a directory. perm is accepted for afero.Fs
// compatibility but ignored — FAT has no POSIX permission bits.
func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if err := fs.mkdir(name); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// MkdirAll creates name and every missing ancestor directory.
func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if err := fs.mkdirAll(path); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// Open opens name for reading.
func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name with the given flag, creating it if O_CREATE is
// set and it doesn't exist, and truncating it if O_TRUNC is set.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if name == "" || name == "/" {
		return fs.openHandle("/", fs.rootInfo()), nil
	}

	var ext ExtendedEntryHeader
	var err error

	if flag&os.O_CREATE != 0 {
		ext, err = fs.createFile(name)
	} else {
		ext, err = fs.resolve(name)
	}
	if err != nil {
		return nil, fs.fail(err)
	}

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 && ext.Attribute&AttrReadOnly != 0 {
		return nil, fs.fail(checkpoint.Wrap(syscall.EACCES, ErrWriteFile))
	}

	if flag&os.O_TRUNC != 0 && ext.Attribute&AttrDirectory == 0 {
		newHead, err := fs.truncateFileLocked(firstClusterOf(ext.EntryHeader), int64(ext.FileSize), 0)
		if err != nil {
			return nil, fs.fail(err)
		}
		setHeaderCluster(&ext.EntryHeader, newHead)
		ext.FileSize = 0
		if err := fs.persistFileMetaLocked(ext.dirLocator, ext.slotIndex, 0, newHead, time.Now()); err != nil {
			return nil, fs.fail(err)
		}
	}

	handle := fs.openHandle(name, ext)
	if flag&os.O_APPEND != 0 {
		handle.offset = handle.size()
	}

	fs.ok()
	return handle, nil
}

// Remove deletes a file, or an empty directory.
func (fs *Fs) Remove(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.resolve(name)
	if err != nil {
		return fs.fail(err)
	}

	if ext.Attribute&AttrDirectory != 0 {
		err = fs.removeDirectory(name, false)
	} else {
		err = fs.removeFile(name)
	}
	if err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// RemoveAll deletes a file, or a directory and everything under it.
func (fs *Fs) RemoveAll(path string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.resolve(path)
	if err != nil {
		if errorsIsNotFound(err) {
			fs.ok()
			return nil
		}
		return fs.fail(err)
	}

	if ext.Attribute&AttrDirectory != 0 {
		err = fs.removeDirectory(path, true)
	} else {
		err = fs.removeFile(path)
	}
	if err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// Rename moves oldname to newname, possibly into a different
// directory — FAT has no distinct in-place "rename" primitive once
// cross-directory moves are supported, so this just calls the same
// logic as Move.
func (fs *Fs) Rename(oldname, newname string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if err := fs.move(oldname, newname); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// Move is Rename's explicit spelling, kept distinct per the original
// QFATFileSystem API this engine mirrors.
func (fs *Fs) Move(src, dst string) error {
	return fs.Rename(src, dst)
}

// Stat returns os.FileInfo for path.
func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if name == "" || name == "/" {
		root := fs.rootInfo()
		return root.FileInfo(), nil
	}

	ext, err := fs.resolve(name)
	if err != nil {
		return nil, fs.fail(err)
	}
	fs.ok()
	return ext.FileInfo(), nil
}

// Name identifies the afero.Fs implementation.
func (fs *Fs) Name() string { return "gofat" }

// Chmod only ever toggles the read-only attribute bit: FAT has no other
// POSIX permission to translate mode into.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.resolve(name)
	if err != nil {
		return fs.fail(err)
	}

	if mode&0200 == 0 {
		ext.Attribute |= AttrReadOnly
	} else {
		ext.Attribute &^= AttrReadOnly
	}

	raw, err := encodeShortEntry(ext.EntryHeader)
	if err != nil {
		return fs.fail(err)
	}
	if err := fs.writeSlot(ext.dirLocator, ext.slotIndex, raw); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// Chown is a no-op: FAT has no concept of ownership.
func (fs *Fs) Chown(name string, uid, gid int) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if _, err := fs.resolve(name); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

// Chtimes updates the write and last-access timestamps stored in name's
// directory entry.
func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ext, err := fs.resolve(name)
	if err != nil {
		return fs.fail(err)
	}

	ext.WriteDate = EncodeDate(mtime)
	ext.WriteTime = EncodeTime(mtime)
	ext.LastAccessDate = EncodeDate(atime)

	raw, err := encodeShortEntry(ext.EntryHeader)
	if err != nil {
		return fs.fail(err)
	}
	if err := fs.writeSlot(ext.dirLocator, ext.slotIndex, raw); err != nil {
		return fs.fail(err)
	}
	fs.ok()
	return nil
}

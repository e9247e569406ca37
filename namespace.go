package gofat

import (
	"errors"
	"strings"
	"time"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// Every function in this file assumes the caller already holds fs.lock:
// every public operation is serialized by a single mutex held for its
// whole duration, so the layers below never need to re-acquire it.

// newTimestampedHeader builds a short entry header with Create/Write
// timestamps set to now and the given attribute and short name.
func newTimestampedHeader(shortName [11]byte, attr Attribute, now time.Time) EntryHeader {
	return EntryHeader{
		Name:            shortName,
		Attribute:       attr,
		CreateTimeTenth: 0,
		CreateTime:      EncodeTime(now),
		CreateDate:      EncodeDate(now),
		LastAccessDate:  EncodeDate(now),
		WriteTime:       EncodeTime(now),
		WriteDate:       EncodeDate(now),
	}
}

func setHeaderCluster(eh *EntryHeader, cluster uint32) {
	eh.FirstClusterLO = uint16(cluster & 0xFFFF)
	eh.FirstClusterHI = uint16(cluster >> 16)
}

// shortNameExistsIn returns a collision-check closure for
// generateShortName, bound to one directory.
func (fs *Fs) shortNameExistsIn(loc dirLocator) func([11]byte) bool {
	return func(candidate [11]byte) bool {
		_, found, _ := fs.findChildByShortName(loc, candidate)
		return found
	}
}

// shortNameExistsInExcluding is shortNameExistsIn, but ignores a match
// against excludeSlot — used when renaming an entry in place, so
// generating a short name for the entry's own new name doesn't collide
// against the very slot that's about to be overwritten.
func (fs *Fs) shortNameExistsInExcluding(loc dirLocator, excludeSlot int) func([11]byte) bool {
	return func(candidate [11]byte) bool {
		found, ok, _ := fs.findChildByShortName(loc, candidate)
		return ok && found.slotIndex != excludeSlot
	}
}

// createDirectoryEntry reserves space for name in loc, allocates a
// numeric-tail-resolved short name, and writes the (LFN +) short entry.
// It returns only an error; callers that need the new entry look it up
// again (createFile re-resolves the path).
func (fs *Fs) createDirectoryEntry(loc dirLocator, name string, header EntryHeader) error {
	shortName, err := generateShortName(name, fs.shortNameExistsIn(loc))
	if err != nil {
		return err
	}
	header.Name = shortName

	need := entriesNeeded(name, shortName)
	startIdx, loc, err := fs.findSlotRun(loc, need)
	if err != nil {
		return err
	}

	return fs.writeEntry(loc, startIdx, name, header)
}

// createFile implements the namespace side of afero's Create/OpenFile
// O_CREATE: if name already exists as a file, its entry is returned
// unchanged (the caller decides whether to truncate); if it exists as a
// directory, that's an error.
func (fs *Fs) createFile(path string) (ExtendedEntryHeader, error) {
	loc, name, err := fs.resolveParent(path)
	if err != nil {
		return ExtendedEntryHeader{}, err
	}

	if existing, exists, err := fs.findChild(loc, name); err != nil {
		return ExtendedEntryHeader{}, err
	} else if exists {
		if existing.Attribute&AttrDirectory != 0 {
			return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrIsADirectory, ErrInvalidPath))
		}
		return existing, nil
	}

	now := time.Now()
	header := newTimestampedHeader([11]byte{}, AttrArchive, now)

	if err := fs.createDirectoryEntry(loc, name, header); err != nil {
		return ExtendedEntryHeader{}, err
	}

	return fs.resolve(path)
}

// mkdir creates an empty subdirectory at path, including its "." and
// ".." self-referential entries — present on every real FAT volume,
// even though nothing in this engine's own path resolver ever follows
// them — a created directory is immediately well-formed by FAT's own
// convention, independent of what this implementation needs
// internally.
func (fs *Fs) mkdir(path string) error {
	loc, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}

	if _, exists, err := fs.findChild(loc, name); err != nil {
		return err
	} else if exists {
		return fs.fail(checkpoint.Wrap(ErrAlreadyExists, ErrAlreadyExists))
	}

	head, err := fs.allocateChain(1)
	if err != nil {
		return err
	}
	zero := make([]byte, fs.info.ClusterSize)
	if err := fs.writeAt(fs.info.ClusterOffset(head), zero); err != nil {
		return err
	}

	now := time.Now()
	selfLoc := dirLocator{head: head}

	dot := newTimestampedHeader(packShortName(".", ""), AttrDirectory, now)
	setHeaderCluster(&dot, head)
	dotRaw, err := encodeShortEntry(dot)
	if err != nil {
		return err
	}
	if err := fs.writeSlot(selfLoc, 0, dotRaw); err != nil {
		return err
	}

	dotdot := newTimestampedHeader(packShortName("..", ""), AttrDirectory, now)
	// ".." points at the parent's first cluster: 0 for a directory
	// directly under a FAT12/16 fixed root, RootCluster for one directly
	// under a FAT32 root.
	parentHead := loc.head
	setHeaderCluster(&dotdot, parentHead)
	dotdotRaw, err := encodeShortEntry(dotdot)
	if err != nil {
		return err
	}
	if err := fs.writeSlot(selfLoc, 1, dotdotRaw); err != nil {
		return err
	}

	header := newTimestampedHeader([11]byte{}, AttrDirectory, now)
	setHeaderCluster(&header, head)

	return fs.createDirectoryEntry(loc, name, header)
}

// mkdirAll creates path and every missing ancestor directory.
func (fs *Fs) mkdirAll(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return fs.fail(err)
	}

	built := ""
	for _, part := range parts {
		built += "/" + part
		loc, err := fs.resolveDirIfExists(built)
		if err != nil {
			return err
		}
		if loc != nil {
			continue
		}
		if err := fs.mkdir(built); err != nil {
			return err
		}
	}
	return nil
}

// resolveDirIfExists resolves path to a directory locator, returning a
// nil pointer (not an error) if nothing exists there yet. It still
// errors if something exists but isn't a directory.
func (fs *Fs) resolveDirIfExists(path string) (*dirLocator, error) {
	ext, err := fs.resolve(path)
	if err != nil {
		if errorsIsNotFound(err) {
			fs.ok()
			return nil, nil
		}
		return nil, err
	}
	if ext.Attribute&AttrDirectory == 0 {
		return nil, fs.fail(checkpoint.Wrap(ErrNotADirectory, ErrInvalidPath))
	}
	loc := dirLocator{head: firstClusterOf(ext.EntryHeader)}
	return &loc, nil
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrDirectoryNotFound)
}

// removeFile deletes a plain file's directory entry and frees its
// cluster chain.
func (fs *Fs) removeFile(path string) error {
	ext, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if ext.Attribute&AttrDirectory != 0 {
		return fs.fail(checkpoint.Wrap(ErrIsADirectory, ErrInvalidPath))
	}

	if head := firstClusterOf(ext.EntryHeader); head != 0 {
		if err := fs.freeChain(head); err != nil {
			return err
		}
	}
	return fs.markDeleted(ext)
}

// removeDirectory deletes a directory. If it has any entries besides
// "." and ".." and recursive is false, it fails with
// ErrDirectoryNotEmpty. If recursive, every child is removed first,
// depth first.
func (fs *Fs) removeDirectory(path string, recursive bool) error {
	ext, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if ext.Attribute&AttrDirectory == 0 {
		return fs.fail(checkpoint.Wrap(ErrNotADirectory, ErrInvalidPath))
	}

	head := firstClusterOf(ext.EntryHeader)
	loc := dirLocator{head: head}

	children, err := fs.readDirLoc(loc)
	if err != nil {
		return err
	}

	var real []ExtendedEntryHeader
	for _, c := range children {
		short := shortNameToString(c.EntryHeader.Name)
		if short == "." || short == ".." {
			continue
		}
		real = append(real, c)
	}

	if len(real) > 0 && !recursive {
		return fs.fail(checkpoint.Wrap(ErrDirectoryNotEmpty, ErrInvalidPath))
	}

	for _, c := range real {
		childPath := strings.TrimSuffix(path, "/") + "/" + c.ExtendedName
		if c.Attribute&AttrDirectory != 0 {
			if err := fs.removeDirectory(childPath, true); err != nil {
				return err
			}
		} else {
			if err := fs.removeFile(childPath); err != nil {
				return err
			}
		}
	}

	if err := fs.freeChain(head); err != nil {
		return err
	}
	return fs.markDeleted(ext)
}

// move relocates srcPath to dstPath, which may be in a different
// directory and/or have a different name. When src and dst share the
// same parent directory, the existing slot is rewritten in place
// (renameEntryInPlace) rather than going through a fresh
// create-new/delete-old sequence, so renaming within an already-full
// directory still succeeds as long as the new name doesn't need more
// slots than the entry already occupies. Cross-directory moves always
// go through create-new/delete-old, since the entry has to land in a
// different slot run regardless.
func (fs *Fs) move(srcPath, dstPath string) error {
	if isAncestorPath(srcPath, dstPath) {
		return fs.fail(checkpoint.Wrap(ErrInvalidPath, ErrInvalidPath))
	}

	srcExt, err := fs.resolve(srcPath)
	if err != nil {
		return err
	}

	dstLoc, dstName, err := fs.resolveParent(dstPath)
	if err != nil {
		return err
	}

	if _, exists, err := fs.findChild(dstLoc, dstName); err != nil {
		return err
	} else if exists {
		return fs.fail(checkpoint.Wrap(ErrAlreadyExists, ErrAlreadyExists))
	}

	header := srcExt.EntryHeader

	if dstLoc == srcExt.dirLocator {
		renamed, err := fs.renameEntryInPlace(srcExt, dstName, header)
		if err != nil {
			return err
		}
		if renamed {
			return nil
		}
	}

	if err := fs.createDirectoryEntry(dstLoc, dstName, header); err != nil {
		return err
	}

	// If the moved entry is a directory, its own ".." must now point at
	// the new parent.
	if srcExt.Attribute&AttrDirectory != 0 {
		childLoc := dirLocator{head: firstClusterOf(srcExt.EntryHeader)}
		raw, err := fs.readSlot(childLoc, 1)
		if err == nil {
			if dotdot, err := decodeShortEntry(raw); err == nil {
				setHeaderCluster(&dotdot, dstLoc.head)
				if encoded, err := encodeShortEntry(dotdot); err == nil {
					_ = fs.writeSlot(childLoc, 1, encoded)
				}
			}
		}
	}

	return fs.markDeleted(srcExt)
}

// renameEntryInPlace rewrites ext's existing SDE (and LFN chain) with
// newName/header without scanning for a new slot run, preserving
// cluster and size. It reports false, with a nil error, when newName
// needs more slots than ext already occupies, leaving the caller to
// fall back to the general create-new/delete-old path.
func (fs *Fs) renameEntryInPlace(ext ExtendedEntryHeader, newName string, header EntryHeader) (bool, error) {
	shortName, err := generateShortName(newName, fs.shortNameExistsInExcluding(ext.dirLocator, ext.slotIndex))
	if err != nil {
		return false, err
	}
	header.Name = shortName

	start := ext.slotIndex - ext.lfnSlots
	oldRun := ext.lfnSlots + 1
	newRun := entriesNeeded(newName, shortName)
	if newRun > oldRun {
		return false, nil
	}

	if err := fs.writeEntry(ext.dirLocator, start, newName, header); err != nil {
		return false, err
	}

	deleted := make([]byte, direntrySize)
	deleted[0] = entryDeletedMarker
	for slot := start + newRun; slot < start+oldRun; slot++ {
		if err := fs.writeSlot(ext.dirLocator, slot, deleted); err != nil {
			return false, err
		}
	}

	return true, nil
}

// isAncestorPath reports whether dst is src itself or lexically nested
// under it, which would make a move create a cycle.
func isAncestorPath(src, dst string) bool {
	src = strings.TrimSuffix(src, "/")
	dst = strings.TrimSuffix(dst, "/")
	if src == dst {
		return true
	}
	return strings.HasPrefix(dst, src+"/")
}

package gofat

import (
	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// dirLocator addresses a directory's storage: either the fixed-size
// root region (FAT12/FAT16 only) or a cluster chain (every subdirectory,
// and the FAT32 root). Every directory-level operation takes one of
// these rather than a path, so the path resolver in path.go is the only
// place that ever turns a string into a dirLocator.
type dirLocator struct {
	fixedRoot bool
	head      uint32
}

// rootLocator returns the locator for the volume's root directory.
func (fs *Fs) rootLocator() dirLocator {
	if fs.info.FSType == FAT32 {
		return dirLocator{head: fs.info.RootCluster}
	}
	return dirLocator{fixedRoot: true}
}

const direntrySize = 32

// slotCount returns the number of 32-byte slots currently addressable
// in loc, without regard to which are occupied.
func (fs *Fs) slotCount(loc dirLocator) (int, error) {
	if loc.fixedRoot {
		return int(fs.info.RootEntryCount), nil
	}
	clusters, err := fs.chainClusters(loc.head)
	if err != nil {
		return 0, err
	}
	return len(clusters) * int(fs.info.ClusterSize) / direntrySize, nil
}

// slotOffset returns the absolute byte offset of slot index within loc.
func (fs *Fs) slotOffset(loc dirLocator, index int) (int64, error) {
	if loc.fixedRoot {
		return fs.info.rootDirByteOffset() + int64(index)*direntrySize, nil
	}

	clusters, err := fs.chainClusters(loc.head)
	if err != nil {
		return 0, err
	}
	slotsPerCluster := int(fs.info.ClusterSize) / direntrySize
	clusterIdx := index / slotsPerCluster
	if clusterIdx >= len(clusters) {
		return 0, fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
	}
	withinCluster := index % slotsPerCluster
	return fs.info.ClusterOffset(clusters[clusterIdx]) + int64(withinCluster)*direntrySize, nil
}

func (fs *Fs) readSlot(loc dirLocator, index int) ([]byte, error) {
	offset, err := fs.slotOffset(loc, index)
	if err != nil {
		return nil, err
	}
	return fs.readAt(offset, direntrySize)
}

func (fs *Fs) writeSlot(loc dirLocator, index int, raw []byte) error {
	offset, err := fs.slotOffset(loc, index)
	if err != nil {
		return err
	}
	return fs.writeAt(offset, raw)
}

// growDirectory appends one more cluster to a chain-based directory,
// zeroing it. Fixed-size roots can't grow; the caller sees
// ErrInsufficientSpace, matching what a real FAT12/16 volume does once
// its root directory region is full.
func (fs *Fs) growDirectory(loc dirLocator) (dirLocator, error) {
	if loc.fixedRoot {
		return loc, fs.fail(checkpoint.Wrap(ErrInsufficientSpace, ErrInsufficientSpace))
	}

	newClusters, err := fs.extendChain(loc.head, 1)
	if err != nil {
		return loc, err
	}
	zero := make([]byte, fs.info.ClusterSize)
	if err := fs.writeAt(fs.info.ClusterOffset(newClusters[len(newClusters)-1]), zero); err != nil {
		return loc, err
	}
	return loc, nil
}

// dirVisitor is called once per short entry found while iterating a
// directory. eh.slotIndex is the SDE's own slot index and eh.lfnSlots
// the number of LFN slots directly before it (0 if there was no long
// name). Returning stop==true ends iteration early.
type dirVisitor func(eh ExtendedEntryHeader) (stop bool, err error)

// iterEntries walks loc from the start, reassembling any LFN chains and
// calling visit once per short entry. A malformed LFN chain (bad
// checksum or non-contiguous sequence numbers) is discarded silently
// and the short entry is still reported, with ExtendedName set to its
// short name.
func (fs *Fs) iterEntries(loc dirLocator, visit dirVisitor) error {
	count, err := fs.slotCount(loc)
	if err != nil {
		return err
	}

	var pendingLFN []LongFilenameEntry

	for i := 0; i < count; i++ {
		raw, err := fs.readSlot(loc, i)
		if err != nil {
			return err
		}

		switch classifyRawEntry(raw) {
		case entryKindEndOfDirectory:
			return nil

		case entryKindDeleted:
			pendingLFN = nil

		case entryKindLongName:
			lfn, err := decodeLongNameEntry(raw)
			if err != nil {
				pendingLFN = nil
				continue
			}
			pendingLFN = append(pendingLFN, lfn)

		case entryKindShort:
			eh, err := decodeShortEntry(raw)
			if err != nil {
				return err
			}

			ext := ExtendedEntryHeader{
				EntryHeader: eh,
				dirLocator:  loc,
				slotIndex:   i,
			}

			if len(pendingLFN) > 0 {
				if checksumOK(pendingLFN, eh.Name) {
					if name, err := decodeLFNChain(pendingLFN); err == nil {
						ext.ExtendedName = name
						ext.lfnSlots = len(pendingLFN)
					}
				}
			}
			if ext.ExtendedName == "" {
				ext.ExtendedName = shortNameToString(eh.Name)
				ext.lfnSlots = 0
				ext.slotIndex = i
			}

			pendingLFN = nil

			stop, err := visit(ext)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}

	return nil
}

func checksumOK(chain []LongFilenameEntry, shortName [11]byte) bool {
	want := lfnChecksum(shortName)
	for _, e := range chain {
		if e.Checksum != want {
			return false
		}
	}
	return true
}

// findSlotRun finds count consecutive slots that are either free,
// deleted, or past the last live entry, growing the directory if it's
// chain-based and out of room. It returns the index of the first slot
// in the run.
func (fs *Fs) findSlotRun(loc dirLocator, count int) (int, dirLocator, error) {
	for {
		idx, ok, err := fs.scanForSlotRun(loc, count)
		if err != nil {
			return 0, loc, err
		}
		if ok {
			return idx, loc, nil
		}

		loc, err = fs.growDirectory(loc)
		if err != nil {
			return 0, loc, err
		}
	}
}

func (fs *Fs) scanForSlotRun(loc dirLocator, count int) (int, bool, error) {
	total, err := fs.slotCount(loc)
	if err != nil {
		return 0, false, err
	}

	run := 0
	pastEnd := false

	for i := 0; i < total; i++ {
		if pastEnd {
			run++
			if run == count {
				return i - count + 1, true, nil
			}
			continue
		}

		raw, err := fs.readSlot(loc, i)
		if err != nil {
			return 0, false, err
		}

		switch classifyRawEntry(raw) {
		case entryKindEndOfDirectory:
			pastEnd = true
			run = 1
			if run == count {
				return i, true, nil
			}
		case entryKindDeleted:
			run++
			if run == count {
				return i - count + 1, true, nil
			}
		default:
			run = 0
		}
	}

	return 0, false, nil
}

// writeEntry writes a short entry (and, if longName differs from the
// short name's display form, its LFN chain) starting at startIdx.
func (fs *Fs) writeEntry(loc dirLocator, startIdx int, longName string, eh EntryHeader) error {
	needsLFN := shortNameToString(eh.Name) != longName

	slot := startIdx
	if needsLFN {
		checksum := lfnChecksum(eh.Name)
		chain := encodeLFNChain(longName, checksum)
		for _, lfn := range chain {
			raw, err := encodeLongNameEntry(lfn)
			if err != nil {
				return err
			}
			if err := fs.writeSlot(loc, slot, raw); err != nil {
				return err
			}
			slot++
		}
	}

	raw, err := encodeShortEntry(eh)
	if err != nil {
		return err
	}
	return fs.writeSlot(loc, slot, raw)
}

// markDeleted overwrites an entry's short slot, and every LFN slot that
// preceded it, with the deleted-entry marker.
func (fs *Fs) markDeleted(ext ExtendedEntryHeader) error {
	lastSlot := ext.slotIndex
	firstSlot := lastSlot - ext.lfnSlots

	deleted := make([]byte, direntrySize)
	deleted[0] = entryDeletedMarker

	for i := firstSlot; i <= lastSlot; i++ {
		if err := fs.writeSlot(ext.dirLocator, i, deleted); err != nil {
			return err
		}
	}
	return nil
}

// entriesNeeded returns how many consecutive 32-byte slots writing
// longName requires: one for the short entry, plus one per LFN chunk if
// the short-folded name differs from longName.
func entriesNeeded(longName string, shortName [11]byte) int {
	if shortNameToString(shortName) == longName {
		return 1
	}
	return lfnEntriesNeeded(longName) + 1
}

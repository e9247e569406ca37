package gofat

import (
	"time"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// readFileAt satisfies fatFileFs: it reads up to readSize bytes of file
// content starting at offset, clipped to fileSize, following head's
// cluster chain. head == 0 means an empty file with no allocated
// cluster.
func (fs *Fs) readFileAt(head uint32, fileSize int64, offset int64, readSize int64) ([]byte, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

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

// writeFileAt satisfies fatFileFs: it writes data at offset into head's
// chain, allocating (or extending) the chain as needed, and returns the
// chain's head cluster (unchanged unless head was 0).
func (fs *Fs) writeFileAt(head uint32, offset int64, data []byte) (uint32, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.writeFileAtLocked(head, offset, data)
}

// writeFileAtLocked is writeFileAt's body, callable by other Fs methods
// that already hold fs.lock (e.g. truncateFile zero-filling a grown
// region).
func (fs *Fs) writeFileAtLocked(head uint32, offset int64, data []byte) (uint32, error) {
	if len(data) == 0 {
		return head, nil
	}

	clusterSize := int64(fs.info.ClusterSize)
	needed := offset + int64(len(data))
	neededClusters := int((needed + clusterSize - 1) / clusterSize)

	var clusters []uint32
	var err error

	// rollback undoes whatever this call newly claimed, for a failure in
	// the write loop below. freshHead is the chain to free outright;
	// extendedTail/extendedHead describe an extension to unlink and free
	// instead, leaving the pre-existing chain untouched.
	var freshHead uint32
	var extendedTail, extendedHead uint32
	rollback := func() {
		switch {
		case freshHead != 0:
			_ = fs.freeChain(freshHead)
		case extendedHead != 0:
			_ = fs.writeNext(extendedTail, fatEntryEOF)
			_ = fs.freeChain(extendedHead)
		}
	}

	if head == 0 {
		head, err = fs.allocateChain(neededClusters)
		if err != nil {
			return 0, err
		}
		freshHead = head
		clusters, err = fs.chainClusters(head)
		if err != nil {
			rollback()
			return 0, err
		}
	} else {
		clusters, err = fs.chainClusters(head)
		if err != nil {
			return 0, err
		}
		if neededClusters > len(clusters) {
			tail := clusters[len(clusters)-1]
			more, err := fs.extendChain(head, neededClusters-len(clusters))
			if err != nil {
				return 0, err
			}
			extendedTail, extendedHead = tail, more[0]
			clusters = append(clusters, more...)
		}
	}

	remaining := data
	pos := offset

	for len(remaining) > 0 {
		clusterIdx := int(pos / clusterSize)
		withinCluster := pos % clusterSize
		writeLen := clusterSize - withinCluster
		if int64(len(remaining)) < writeLen {
			writeLen = int64(len(remaining))
		}

		off := fs.info.ClusterOffset(clusters[clusterIdx]) + withinCluster
		if err := fs.writeAt(off, remaining[:writeLen]); err != nil {
			rollback()
			return 0, err
		}

		remaining = remaining[writeLen:]
		pos += writeLen
	}

	return head, nil
}

// truncateFile satisfies fatFileFs: it resizes head's chain to fit
// newSize, zero-filling any newly-exposed region when growing, and
// returns the (possibly new, possibly freed-to-zero) head cluster.
func (fs *Fs) truncateFile(head uint32, currentSize int64, newSize int64) (uint32, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.truncateFileLocked(head, currentSize, newSize)
}

// truncateFileLocked is truncateFile's body for callers that already
// hold fs.lock (e.g. Fs.Create/OpenFile truncating in place).
func (fs *Fs) truncateFileLocked(head uint32, currentSize int64, newSize int64) (uint32, error) {
	clusterSize := int64(fs.info.ClusterSize)

	if newSize == 0 {
		if head != 0 {
			if err := fs.freeChain(head); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}

	neededClusters := int((newSize + clusterSize - 1) / clusterSize)

	if head == 0 {
		newHead, err := fs.allocateChain(neededClusters)
		if err != nil {
			return 0, err
		}
		if err := fs.zeroFillLocked(newHead, 0, newSize); err != nil {
			return 0, err
		}
		return newHead, nil
	}

	clusters, err := fs.chainClusters(head)
	if err != nil {
		return 0, err
	}

	switch {
	case neededClusters > len(clusters):
		if _, err := fs.extendChain(head, neededClusters-len(clusters)); err != nil {
			return 0, err
		}
	case neededClusters < len(clusters):
		if err := fs.truncateChain(head, neededClusters); err != nil {
			return 0, err
		}
	}

	if newSize > currentSize {
		if err := fs.zeroFillLocked(head, currentSize, newSize-currentSize); err != nil {
			return 0, err
		}
	}

	return head, nil
}

func (fs *Fs) zeroFillLocked(head uint32, offset int64, length int64) error {
	const chunk = 4096
	buf := make([]byte, chunk)
	remaining := length
	pos := offset

	for remaining > 0 {
		n := int64(chunk)
		if remaining < n {
			n = remaining
		}
		if _, err := fs.writeFileAtLocked(head, pos, buf[:n]); err != nil {
			return err
		}
		pos += n
		remaining -= n
	}
	return nil
}

// persistFileMeta satisfies fatFileFs: it writes size/cluster/mtime
// back into slotIndex's short entry.
func (fs *Fs) persistFileMeta(loc dirLocator, slotIndex int, size uint32, cluster uint32, modTime time.Time) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.persistFileMetaLocked(loc, slotIndex, size, cluster, modTime)
}

// persistFileMetaLocked is persistFileMeta's body for callers that
// already hold fs.lock.
func (fs *Fs) persistFileMetaLocked(loc dirLocator, slotIndex int, size uint32, cluster uint32, modTime time.Time) error {
	raw, err := fs.readSlot(loc, slotIndex)
	if err != nil {
		return err
	}
	eh, err := decodeShortEntry(raw)
	if err != nil {
		return err
	}

	eh.FileSize = size
	eh.FirstClusterLO = uint16(cluster & 0xFFFF)
	eh.FirstClusterHI = uint16(cluster >> 16)
	eh.WriteDate = EncodeDate(modTime)
	eh.WriteTime = EncodeTime(modTime)

	encoded, err := encodeShortEntry(eh)
	if err != nil {
		return err
	}
	return fs.writeSlot(loc, slotIndex, encoded)
}

// readRoot satisfies fatFileFs.
func (fs *Fs) readRoot() ([]ExtendedEntryHeader, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.readDirLoc(fs.rootLocator())
}

// readDir satisfies fatFileFs.
func (fs *Fs) readDir(cluster uint32) ([]ExtendedEntryHeader, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.readDirLoc(dirLocator{head: cluster})
}

func (fs *Fs) readDirLoc(loc dirLocator) ([]ExtendedEntryHeader, error) {
	var out []ExtendedEntryHeader
	err := fs.iterEntries(loc, func(ext ExtendedEntryHeader) (bool, error) {
		if ext.Attribute&AttrVolumeID != 0 {
			return false, nil
		}
		if short := shortNameToString(ext.EntryHeader.Name); short == "." || short == ".." {
			return false, nil
		}
		out = append(out, ext)
		return false, nil
	})
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}
	return out, nil
}

package gofat

import (
	"encoding/binary"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// fatEntry is a normalized FAT table value. Whatever width the
// underlying disk format uses (12/16/32 bits), readNext maps the raw
// bits into this single canonical space before returning, and writeNext
// maps back down at write time — every other layer (directory, file,
// namespace) only ever sees fatEntry and never has to know the mounted
// volume's variant.
type fatEntry uint32

const (
	fatEntryFree fatEntry = 0x00000000
	// fatEntryReservedTemp is cluster 1, reserved on every variant and
	// never allocated.
	fatEntryReservedTemp fatEntry = 0x00000001
	// fatEntryReservedSometimes covers the narrow range just below BAD
	// that some implementations use for their own bookkeeping; this
	// engine never writes it, only recognizes it on read.
	fatEntryReservedSometimes fatEntry = 0x0FFFFFF0
	fatEntryBad               fatEntry = 0x0FFFFFF7
	fatEntryEOF               fatEntry = 0x0FFFFFFF
)

// Value returns the raw cluster number. Only meaningful when
// IsNextCluster reports true.
func (e fatEntry) Value() uint32 { return uint32(e) }

func (e fatEntry) IsFree() bool { return e == fatEntryFree }

func (e fatEntry) IsReservedTemp() bool { return e == fatEntryReservedTemp }

func (e fatEntry) IsReservedSometimes() bool {
	return e >= fatEntryReservedSometimes && e < fatEntryBad
}

func (e fatEntry) IsReserved() bool {
	return e.IsReservedTemp() || e.IsReservedSometimes()
}

func (e fatEntry) IsBad() bool { return e == fatEntryBad }

func (e fatEntry) IsEOF() bool { return e == fatEntryEOF }

// IsNextCluster reports whether this entry holds a genuine cluster
// number, i.e. is safe to follow as the next link in a chain.
func (e fatEntry) IsNextCluster() bool {
	return e >= 2 && e < fatEntryReservedSometimes
}

// ReadAsNextCluster is the read-path spelling of IsNextCluster, kept as
// a separate name because the two are asked at different layers
// (decoding a raw disk value vs. deciding whether to keep walking).
func (e fatEntry) ReadAsNextCluster() bool { return e.IsNextCluster() }

// ReadAsEOF reports whether chain traversal should stop here. BAD is
// treated the same as EOF for traversal purposes: a BAD cluster found
// mid-chain ends the chain rather than propagating an error up through
// every caller.
func (e fatEntry) ReadAsEOF() bool { return e.IsEOF() || e.IsBad() }

// normalizeFAT12 maps a raw 12-bit value into the canonical fatEntry
// space.
func normalizeFAT12(raw uint16) fatEntry {
	raw &= 0x0FFF
	switch {
	case raw == 0x000:
		return fatEntryFree
	case raw == 0x001:
		return fatEntryReservedTemp
	case raw >= 0xFF0 && raw <= 0xFF6:
		return fatEntryReservedSometimes
	case raw == 0xFF7:
		return fatEntryBad
	case raw >= 0xFF8:
		return fatEntryEOF
	default:
		return fatEntry(raw)
	}
}

func denormalizeFAT12(e fatEntry) uint16 {
	switch {
	case e.IsFree():
		return 0x000
	case e.IsReservedTemp():
		return 0x001
	case e.IsReservedSometimes():
		return 0xFF6
	case e.IsBad():
		return 0xFF7
	case e.IsEOF():
		return 0xFFF
	default:
		return uint16(e) & 0x0FFF
	}
}

func normalizeFAT16(raw uint16) fatEntry {
	switch {
	case raw == 0x0000:
		return fatEntryFree
	case raw == 0x0001:
		return fatEntryReservedTemp
	case raw >= 0xFFF0 && raw <= 0xFFF6:
		return fatEntryReservedSometimes
	case raw == 0xFFF7:
		return fatEntryBad
	case raw >= 0xFFF8:
		return fatEntryEOF
	default:
		return fatEntry(raw)
	}
}

func denormalizeFAT16(e fatEntry) uint16 {
	switch {
	case e.IsFree():
		return 0x0000
	case e.IsReservedTemp():
		return 0x0001
	case e.IsReservedSometimes():
		return 0xFFF6
	case e.IsBad():
		return 0xFFF7
	case e.IsEOF():
		return 0xFFFF
	default:
		return uint16(e)
	}
}

// normalizeFAT32 maps a raw 32-bit value, masking off the top 4 bits
// which are reserved and must be preserved verbatim on write.
func normalizeFAT32(raw uint32) (fatEntry, uint32) {
	top4 := raw & 0xF0000000
	val := raw & 0x0FFFFFFF
	switch {
	case val == 0x0000000:
		return fatEntryFree, top4
	case val == 0x0000001:
		return fatEntryReservedTemp, top4
	case val >= 0x0FFFFFF0 && val <= 0x0FFFFFF6:
		return fatEntryReservedSometimes, top4
	case val == 0x0FFFFFF7:
		return fatEntryBad, top4
	case val >= 0x0FFFFFF8:
		return fatEntryEOF, top4
	default:
		return fatEntry(val), top4
	}
}

func denormalizeFAT32(e fatEntry, top4 uint32) uint32 {
	var val uint32
	switch {
	case e.IsFree():
		val = 0x0000000
	case e.IsReservedTemp():
		val = 0x0000001
	case e.IsReservedSometimes():
		val = 0x0FFFFFF6
	case e.IsBad():
		val = 0x0FFFFFF7
	case e.IsEOF():
		val = 0x0FFFFFFF
	default:
		val = uint32(e) & 0x0FFFFFFF
	}
	return top4 | val
}

// readRawFATTop4 reads the reserved top 4 bits currently stored for a
// FAT32 cluster, so writeNext can preserve them.
func (fs *Fs) readRawFATTop4(cluster uint32) (uint32, error) {
	offset := fs.info.fatCopyBase(0) + fs.info.fatEntryByteOffset(cluster)
	buf, err := fs.readAt(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf) & 0xF0000000, nil
}

// readNext reads the FAT entry for cluster from the first FAT copy and
// returns its normalized value.
func (fs *Fs) readNext(cluster uint32) (fatEntry, error) {
	if cluster < 2 {
		return 0, fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
	}

	offset := fs.info.fatCopyBase(0) + fs.info.fatEntryByteOffset(cluster)

	switch fs.info.FSType {
	case FAT12:
		buf, err := fs.readAt(offset, 2)
		if err != nil {
			return 0, err
		}
		raw := binary.LittleEndian.Uint16(buf)
		if cluster%2 == 0 {
			raw &= 0x0FFF
		} else {
			raw >>= 4
		}
		return normalizeFAT12(raw), nil
	case FAT16:
		buf, err := fs.readAt(offset, 2)
		if err != nil {
			return 0, err
		}
		return normalizeFAT16(binary.LittleEndian.Uint16(buf)), nil
	default: // FAT32
		buf, err := fs.readAt(offset, 4)
		if err != nil {
			return 0, err
		}
		entry, _ := normalizeFAT32(binary.LittleEndian.Uint32(buf))
		return entry, nil
	}
}

// writeNext writes value as cluster's FAT entry, mirrored to every FAT
// copy identically.
func (fs *Fs) writeNext(cluster uint32, value fatEntry) error {
	if cluster < 2 {
		return fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
	}

	var raw []byte

	switch fs.info.FSType {
	case FAT12:
		existingOffset := fs.info.fatCopyBase(0) + fs.info.fatEntryByteOffset(cluster)
		existing, err := fs.readAt(existingOffset, 2)
		if err != nil {
			return err
		}
		existingRaw := binary.LittleEndian.Uint16(existing)
		packed := denormalizeFAT12(value)
		var next uint16
		if cluster%2 == 0 {
			next = (existingRaw & 0xF000) | packed
		} else {
			next = (existingRaw & 0x000F) | (packed << 4)
		}
		raw = make([]byte, 2)
		binary.LittleEndian.PutUint16(raw, next)
	case FAT16:
		raw = make([]byte, 2)
		binary.LittleEndian.PutUint16(raw, denormalizeFAT16(value))
	default: // FAT32
		top4, err := fs.readRawFATTop4(cluster)
		if err != nil {
			return err
		}
		raw = make([]byte, 4)
		binary.LittleEndian.PutUint32(raw, denormalizeFAT32(value, top4))
	}

	for copyIndex := 0; copyIndex < int(fs.info.NumFATs); copyIndex++ {
		offset := fs.info.fatCopyBase(copyIndex) + fs.info.fatEntryByteOffset(cluster)
		if fs.info.FSType == FAT12 {
			// Each FAT12 write packs two adjacent clusters into shared
			// bytes; re-derive per copy since the "existing" half
			// belongs to the neighboring cluster, which may differ
			// between mirrored copies only if they were already out of
			// sync — defensively re-read per copy instead of assuming
			// copy 0's neighbor bits apply everywhere.
			existing, err := fs.readAt(offset, 2)
			if err != nil {
				return err
			}
			existingRaw := binary.LittleEndian.Uint16(existing)
			packed := denormalizeFAT12(value)
			var next uint16
			if cluster%2 == 0 {
				next = (existingRaw & 0xF000) | packed
			} else {
				next = (existingRaw & 0x000F) | (packed << 4)
			}
			buf := make([]byte, 2)
			binary.LittleEndian.PutUint16(buf, next)
			if err := fs.writeAt(offset, buf); err != nil {
				return err
			}
			continue
		}
		if err := fs.writeAt(offset, raw); err != nil {
			return err
		}
	}

	fs.info.freeClusterCountKnown = false
	return nil
}

// traverse walks a cluster chain starting at head, calling visit for
// each cluster in order. It stops at EOF/BAD and is cycle-bounded by
// TotalDataClusters, returning ErrCorrupted rather than looping forever
// on a malformed (cyclic) chain.
func (fs *Fs) traverse(head uint32, visit func(cluster uint32) error) error {
	cluster := head
	limit := fs.info.TotalDataClusters + 2
	for steps := uint32(0); steps < limit; steps++ {
		if cluster < 2 {
			return fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
		}
		if err := visit(cluster); err != nil {
			return err
		}
		next, err := fs.readNext(cluster)
		if err != nil {
			return err
		}
		if next.ReadAsEOF() {
			return nil
		}
		if !next.IsNextCluster() {
			return fs.fail(checkpoint.Wrap(ErrCorrupted, ErrInvalidCluster))
		}
		cluster = next.Value()
	}
	return fs.fail(checkpoint.Wrap(ErrCorrupted, ErrInvalidCluster))
}

// chainClusters returns every cluster in head's chain, in order.
func (fs *Fs) chainClusters(head uint32) ([]uint32, error) {
	var clusters []uint32
	err := fs.traverse(head, func(cluster uint32) error {
		clusters = append(clusters, cluster)
		return nil
	})
	return clusters, err
}

// findFree scans the FAT for a free cluster, starting from the cached
// hint. This amortizes repeated scans with an in-memory next-free
// hint; freeing clusters (freeChain, truncateChain, a rolled-back
// allocateChain) moves the hint back to the lowest freed cluster.
func (fs *Fs) findFree() (uint32, error) {
	start := fs.info.nextFreeHint
	if start < 2 {
		start = 2
	}
	last := fs.info.TotalDataClusters + 1

	for cluster := start; cluster <= last; cluster++ {
		e, err := fs.readNext(cluster)
		if err != nil {
			return 0, err
		}
		if e.IsFree() {
			fs.info.nextFreeHint = cluster + 1
			return cluster, nil
		}
	}
	for cluster := uint32(2); cluster < start; cluster++ {
		e, err := fs.readNext(cluster)
		if err != nil {
			return 0, err
		}
		if e.IsFree() {
			fs.info.nextFreeHint = cluster + 1
			return cluster, nil
		}
	}

	return 0, fs.fail(checkpoint.Wrap(ErrInsufficientSpace, ErrInsufficientSpace))
}

// allocateChain allocates n clusters, links them head-to-tail, marks
// the tail EOF, and returns the head cluster number. On any failure
// partway through, every cluster already claimed is freed again before
// returning the error, so a failed allocation never leaks clusters:
// it either fully succeeds or leaves the FAT exactly as it found it.
func (fs *Fs) allocateChain(n int) (uint32, error) {
	if n <= 0 {
		return 0, fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
	}

	claimed := make([]uint32, 0, n)
	rollback := func() {
		for _, c := range claimed {
			_ = fs.writeNext(c, fatEntryFree)
		}
		if len(claimed) > 0 && claimed[0] < fs.info.nextFreeHint {
			fs.info.nextFreeHint = claimed[0]
		}
	}

	for i := 0; i < n; i++ {
		cluster, err := fs.findFree()
		if err != nil {
			rollback()
			return 0, err
		}
		// Mark it taken immediately so the next findFree call (and any
		// reentrant reader) never sees it as free mid-allocation.
		if err := fs.writeNext(cluster, fatEntryEOF); err != nil {
			rollback()
			return 0, err
		}
		claimed = append(claimed, cluster)
	}

	for i := 0; i < len(claimed)-1; i++ {
		if err := fs.writeNext(claimed[i], fatEntry(claimed[i+1])); err != nil {
			rollback()
			return 0, err
		}
	}

	return claimed[0], nil
}

// extendChain allocates count additional clusters and appends them to
// the end of head's existing chain, returning the new clusters in
// order. Used when a write grows a file past its last allocated
// cluster.
func (fs *Fs) extendChain(head uint32, count int) ([]uint32, error) {
	if count <= 0 {
		return nil, nil
	}

	clusters, err := fs.chainClusters(head)
	if err != nil {
		return nil, err
	}
	tail := clusters[len(clusters)-1]

	newHead, err := fs.allocateChain(count)
	if err != nil {
		return nil, err
	}

	if err := fs.writeNext(tail, fatEntry(newHead)); err != nil {
		_ = fs.freeChain(newHead)
		return nil, err
	}

	clusters, err = fs.chainClusters(newHead)
	if err != nil {
		_ = fs.writeNext(tail, fatEntryEOF)
		_ = fs.freeChain(newHead)
		return nil, err
	}
	return clusters, nil
}

// freeChain walks head's chain and marks every cluster in it free.
func (fs *Fs) freeChain(head uint32) error {
	clusters, err := fs.chainClusters(head)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if err := fs.writeNext(c, fatEntryFree); err != nil {
			return err
		}
		if c < fs.info.nextFreeHint {
			fs.info.nextFreeHint = c
		}
	}
	return nil
}

// truncateChain frees every cluster in head's chain after the first
// keep clusters, and marks the new tail EOF. keep must be >= 1.
func (fs *Fs) truncateChain(head uint32, keep int) error {
	clusters, err := fs.chainClusters(head)
	if err != nil {
		return err
	}
	if keep >= len(clusters) {
		return nil
	}
	if keep <= 0 {
		return fs.fail(checkpoint.Wrap(ErrInvalidCluster, ErrInvalidCluster))
	}

	newTail := clusters[keep-1]
	toFree := clusters[keep:]

	if err := fs.writeNext(newTail, fatEntryEOF); err != nil {
		return err
	}
	for _, c := range toFree {
		if err := fs.writeNext(c, fatEntryFree); err != nil {
			return err
		}
		if c < fs.info.nextFreeHint {
			fs.info.nextFreeHint = c
		}
	}
	return nil
}

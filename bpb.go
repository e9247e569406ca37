package gofat

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// FATType identifies which of the three on-disk FAT variants a mounted
// volume uses. The width of a FAT entry and the shape of the root
// directory both depend on it.
type FATType uint8

const (
	FAT12 FATType = iota
	FAT16
	FAT32
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// SectorSize is the size, in bytes, of one sector. FAT only supports
// 512, 1024, 2048 and 4096.
type SectorSize uint16

// Flags records the state of a cached Sector.
type Flags struct {
	Dirty       bool
	Open        bool
	SizeChanged bool
	Root        bool
}

// Sector is a single cached sector, used only while parsing the BPB at
// mount time (before the real sector size and geometry are known). Every
// later layer (FAT table, directories, file data) addresses the device
// by absolute byte offset instead; no sector abstraction is exposed
// upward.
type Sector struct {
	current uint32
	flags   Flags
	buffer  []uint8
}

// Info holds every geometry value derived from the BPB once a volume is
// mounted. All fields are immutable after mount.
type Info struct {
	FSType FATType

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	SectorsPerFAT     uint32
	RootCluster       uint32 // FAT32 only, 0 otherwise
	TotalSectors      uint32

	// FirstDataSector is the sector index (not byte offset) at which
	// cluster 2 begins.
	FirstDataSector uint32
	// RootDirSector/RootDirSectorCount describe the fixed-size root
	// directory region; both are 0 for FAT32, where the root is just
	// another cluster chain rooted at RootCluster.
	RootDirSector      uint32
	RootDirSectorCount uint32

	ClusterSize uint32
	// TotalDataClusters is the number of usable data clusters.
	// Valid cluster numbers are [2, TotalDataClusters+1].
	TotalDataClusters uint32

	// nextFreeHint amortizes repeated findFree scans.
	nextFreeHint uint32
	// freeClusterCount caches the result of FreeSpace, invalidated by
	// any allocate/free.
	freeClusterCount     uint32
	freeClusterCountKnown bool
}

// ClusterOffset returns the absolute byte offset of cluster n (n >= 2)
// in the data region.
func (info *Info) ClusterOffset(n uint32) int64 {
	return int64(info.FirstDataSector)*int64(info.BytesPerSector) +
		int64(n-2)*int64(info.ClusterSize)
}

// fatEntryByteOffset returns the byte offset of cluster n's entry,
// relative to the start of a single FAT copy.
func (info *Info) fatEntryByteOffset(n uint32) int64 {
	switch info.FSType {
	case FAT12:
		// 12 bits per entry: 3 bytes per 2 entries.
		return int64(n) + int64(n)/2
	case FAT16:
		return int64(n) * 2
	default: // FAT32
		return int64(n) * 4
	}
}

// fatCopyBase returns the absolute byte offset of the start of FAT copy
// copyIndex (0-based).
func (info *Info) fatCopyBase(copyIndex int) int64 {
	return (int64(info.ReservedSectors) + int64(copyIndex)*int64(info.SectorsPerFAT)) * int64(info.BytesPerSector)
}

// rootDirByteOffset returns the absolute byte offset of the fixed-size
// root directory region. Only meaningful for FAT12/FAT16.
func (info *Info) rootDirByteOffset() int64 {
	return int64(info.RootDirSector) * int64(info.BytesPerSector)
}

// readAt reads length bytes at an absolute byte offset from the mounted
// device. Callers must hold fs.lock.
func (fs *Fs) readAt(offset int64, length int) ([]byte, error) {
	if fs.reader == nil {
		return nil, fs.fail(checkpoint.Wrap(ErrDeviceNotOpen, ErrReadError))
	}
	if length == 0 {
		return []byte{}, nil
	}

	if _, err := fs.reader.Seek(offset, io.SeekStart); err != nil {
		return nil, fs.fail(checkpoint.Wrap(err, ErrReadError))
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(fs.reader, buf); err != nil {
		return nil, fs.fail(checkpoint.Wrap(err, ErrReadError))
	}

	return buf, nil
}

// writeAt writes data at an absolute byte offset on the mounted device.
// Callers must hold fs.lock.
func (fs *Fs) writeAt(offset int64, data []byte) error {
	if fs.reader == nil {
		return fs.fail(checkpoint.Wrap(ErrDeviceNotOpen, ErrWriteError))
	}
	if len(data) == 0 {
		return nil
	}

	if _, err := fs.reader.Seek(offset, io.SeekStart); err != nil {
		return fs.fail(checkpoint.Wrap(err, ErrWriteError))
	}

	if _, err := fs.reader.Write(data); err != nil {
		return fs.fail(checkpoint.Wrap(err, ErrWriteError))
	}

	return nil
}

// fetch loads a single sector into the mount-time cache, used only by
// initialize while the real sector size is still unknown.
func (fs *Fs) fetch(sector uint32) error {
	if sector == fs.sectorCache.current && fs.sectorCache.buffer != nil {
		return nil
	}

	buf, err := fs.readAt(int64(sector)*int64(len(fs.sectorCache.buffer)), len(fs.sectorCache.buffer))
	if err != nil {
		return err
	}

	fs.sectorCache.buffer = buf
	fs.sectorCache.current = sector
	fs.sectorCache.flags.Dirty = false

	return nil
}

// parseBPB decodes and validates sector 0, populating fs.info. skipChecks
// relaxes the BPB validations that reject a handful of otherwise-valid,
// slightly nonconformant images.
func (fs *Fs) parseBPB(skipChecks bool) error {
	fs.sectorCache.buffer = make([]uint8, 512)
	fs.sectorCache.current = 0xFFFFFFFF
	if err := fs.fetch(0); err != nil {
		return err
	}

	bpb := BPB{}
	if err := binary.Read(bytes.NewReader(fs.sectorCache.buffer), binary.LittleEndian, &bpb); err != nil {
		return fs.fail(checkpoint.Wrap(err, ErrInvalidImage))
	}

	if !skipChecks {
		if !(bpb.BSJumpBoot[0] == 0xEB && bpb.BSJumpBoot[2] == 0x90) && bpb.BSJumpBoot[0] != 0xE9 {
			return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
		}
	}

	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
	}

	if bpb.SectorsPerCluster == 0 || bpb.SectorsPerCluster&(bpb.SectorsPerCluster-1) != 0 || bpb.SectorsPerCluster > 128 {
		return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
	}

	if bpb.ReservedSectorCount == 0 {
		return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
	}

	if bpb.NumFATs < 1 {
		return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
	}

	info := Info{
		BytesPerSector:    bpb.BytesPerSector,
		SectorsPerCluster: bpb.SectorsPerCluster,
		ReservedSectors:   bpb.ReservedSectorCount,
		NumFATs:           bpb.NumFATs,
		RootEntryCount:    bpb.RootEntryCount,
		ClusterSize:       uint32(bpb.BytesPerSector) * uint32(bpb.SectorsPerCluster),
	}

	if bpb.TotalSectors16 != 0 {
		info.TotalSectors = uint32(bpb.TotalSectors16)
	} else {
		info.TotalSectors = bpb.TotalSectors32
	}

	var fat32 FAT32SpecificData
	if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:]), binary.LittleEndian, &fat32); err != nil {
		return fs.fail(checkpoint.Wrap(err, ErrInvalidImage))
	}

	sectorsPerFAT16 := bpb.FATSize16
	if sectorsPerFAT16 != 0 {
		info.SectorsPerFAT = uint32(sectorsPerFAT16)
	} else {
		info.SectorsPerFAT = fat32.FATSize32
	}

	if !skipChecks && info.SectorsPerFAT == 0 {
		return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
	}

	if bpb.RootEntryCount != 0 {
		rootBytes := uint32(bpb.RootEntryCount) * 32
		if !skipChecks && rootBytes%uint32(bpb.BytesPerSector) != 0 {
			return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
		}
		info.RootDirSectorCount = (rootBytes + uint32(bpb.BytesPerSector) - 1) / uint32(bpb.BytesPerSector)
	} else {
		// FAT32: no fixed root region, root is a cluster chain.
		if !skipChecks && fat32.RootCluster < 2 {
			return fs.fail(checkpoint.Wrap(ErrInvalidImage, ErrInvalidImage))
		}
		info.RootCluster = fat32.RootCluster
	}

	info.RootDirSector = uint32(info.ReservedSectors) + uint32(info.NumFATs)*info.SectorsPerFAT
	info.FirstDataSector = info.RootDirSector + info.RootDirSectorCount

	if info.TotalSectors > info.FirstDataSector && info.SectorsPerCluster > 0 {
		info.TotalDataClusters = (info.TotalSectors - info.FirstDataSector) / uint32(info.SectorsPerCluster)
	}

	info.FSType = detectVariant(info.TotalDataClusters)

	fs.info = info
	return nil
}

// detectVariant classifies a volume by cluster count, per Microsoft's
// rule: FAT12 below 4085 clusters, FAT16 below 65525, otherwise FAT32.
func detectVariant(totalDataClusters uint32) FATType {
	switch {
	case totalDataClusters < 4085:
		return FAT12
	case totalDataClusters < 65525:
		return FAT16
	default:
		return FAT32
	}
}

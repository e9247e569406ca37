package gofat

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// memDevice is a growable in-memory io.ReadWriteSeeker standing in for a
// disk image, so tests never need a testdata file on disk.
type memDevice struct {
	buf []byte
	pos int64
}

func newMemDevice(size int) *memDevice {
	return &memDevice{buf: make([]byte, size)}
}

func (d *memDevice) Read(p []byte) (int, error) {
	if d.pos >= int64(len(d.buf)) {
		return 0, io.EOF
	}
	n := copy(p, d.buf[d.pos:])
	d.pos += int64(n)
	return n, nil
}

func (d *memDevice) Write(p []byte) (int, error) {
	end := d.pos + int64(len(p))
	if end > int64(len(d.buf)) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	n := copy(d.buf[d.pos:end], p)
	d.pos = end
	return n, nil
}

func (d *memDevice) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = d.pos + offset
	case io.SeekEnd:
		newPos = int64(len(d.buf)) + offset
	}
	if newPos < 0 {
		return 0, io.ErrShortBuffer
	}
	d.pos = newPos
	return newPos, nil
}

// fixtureGeometry describes the minimum viable layout for a mkfs'd
// volume of a given variant, computed the same way bpb.go's parseBPB
// derives Info from a real BPB.
type fixtureGeometry struct {
	fsType            FATType
	bytesPerSector    uint16
	sectorsPerCluster byte
	reservedSectors   uint16
	numFATs           byte
	rootEntryCount    uint16
	totalDataClusters uint32
	sectorsPerFAT     uint32
	rootCluster       uint32
}

func fat12Geometry() fixtureGeometry {
	g := fixtureGeometry{
		fsType:            FAT12,
		bytesPerSector:    512,
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           2,
		rootEntryCount:    16,
		totalDataClusters: 100,
	}
	entries := g.totalDataClusters + 2
	fatBytes := (entries*3 + 1) / 2
	g.sectorsPerFAT = (fatBytes + uint32(g.bytesPerSector) - 1) / uint32(g.bytesPerSector)
	return g
}

func fat16Geometry() fixtureGeometry {
	g := fixtureGeometry{
		fsType:            FAT16,
		bytesPerSector:    512,
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           2,
		rootEntryCount:    512,
		totalDataClusters: 4085,
	}
	entries := g.totalDataClusters + 2
	fatBytes := entries * 2
	g.sectorsPerFAT = (fatBytes + uint32(g.bytesPerSector) - 1) / uint32(g.bytesPerSector)
	return g
}

func fat32Geometry() fixtureGeometry {
	g := fixtureGeometry{
		fsType:            FAT32,
		bytesPerSector:    512,
		sectorsPerCluster: 1,
		reservedSectors:   32,
		numFATs:           2,
		rootEntryCount:    0,
		totalDataClusters: 65525,
		rootCluster:       2,
	}
	entries := g.totalDataClusters + 2
	fatBytes := entries * 4
	g.sectorsPerFAT = (fatBytes + uint32(g.bytesPerSector) - 1) / uint32(g.bytesPerSector)
	return g
}

func (g fixtureGeometry) rootDirSectorCount() uint32 {
	if g.rootEntryCount == 0 {
		return 0
	}
	rootBytes := uint32(g.rootEntryCount) * 32
	return (rootBytes + uint32(g.bytesPerSector) - 1) / uint32(g.bytesPerSector)
}

func (g fixtureGeometry) firstDataSector() uint32 {
	return uint32(g.reservedSectors) + uint32(g.numFATs)*g.sectorsPerFAT + g.rootDirSectorCount()
}

func (g fixtureGeometry) totalSectors() uint32 {
	return g.firstDataSector() + g.totalDataClusters*uint32(g.sectorsPerCluster)
}

func (g fixtureGeometry) fatCopyBase(copyIndex int) int64 {
	return (int64(g.reservedSectors) + int64(copyIndex)*int64(g.sectorsPerFAT)) * int64(g.bytesPerSector)
}

// buildBPBSector renders sector 0 for g.
func (g fixtureGeometry) buildBPBSector() []byte {
	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		BSOEMName:           [8]byte{'M', 'S', 'W', 'I', 'N', '4', '.', '1'},
		BytesPerSector:      g.bytesPerSector,
		SectorsPerCluster:   g.sectorsPerCluster,
		ReservedSectorCount: g.reservedSectors,
		NumFATs:             g.numFATs,
		RootEntryCount:      g.rootEntryCount,
		Media:               0xF8,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
		TotalSectors32:      g.totalSectors(),
	}

	var tail bytes.Buffer
	if g.fsType == FAT32 {
		bpb.FATSize16 = 0
		fat32 := FAT32SpecificData{
			FATSize32:        g.sectorsPerFAT,
			RootCluster:      g.rootCluster,
			BSDriveNumber:    0x80,
			BSBootSignature:  0x29,
			BSVolumeLabel:    [11]byte{'N', 'O', ' ', 'N', 'A', 'M', 'E', ' ', ' ', ' ', ' '},
			BSFileSystemType: [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '},
		}
		_ = binary.Write(&tail, binary.LittleEndian, &fat32)
	} else {
		bpb.FATSize16 = uint16(g.sectorsPerFAT)
		fat16 := FAT16SpecificData{
			BSDriveNumber:    0x80,
			BSBootSignature:  0x29,
			BSVolumeLabel:    [11]byte{'N', 'O', ' ', 'N', 'A', 'M', 'E', ' ', ' ', ' ', ' '},
			BSFileSystemType: [8]byte{'F', 'A', 'T', '1', '6', ' ', ' ', ' '},
		}
		_ = binary.Write(&tail, binary.LittleEndian, &fat16)
	}
	copy(bpb.FATSpecificData[:], tail.Bytes())

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &bpb)

	sector := make([]byte, g.bytesPerSector)
	copy(sector, buf.Bytes())
	return sector
}

// buildFixtureImage lays out a minimal, otherwise-empty volume matching
// g: a valid BPB, zeroed (all-free) FAT copies, and a zeroed (empty)
// root directory region or root cluster.
func (g fixtureGeometry) buildFixtureImage() []byte {
	device := make([]byte, int64(g.totalSectors())*int64(g.bytesPerSector))
	copy(device, g.buildBPBSector())

	if g.fsType == FAT32 {
		// FAT32's root is cluster rootCluster, which must be EOF-
		// terminated in the FAT for traverse to accept it as a
		// one-cluster chain, even though it has no directory entries
		// yet.
		eocBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(eocBytes, 0x0FFFFFFF)
		for copyIndex := 0; copyIndex < int(g.numFATs); copyIndex++ {
			off := g.fatCopyBase(copyIndex) + int64(g.rootCluster)*4
			copy(device[off:off+4], eocBytes)
		}
	}

	return device
}

// mountFixture builds a fresh volume of the given geometry and mounts
// it, failing the test on any mount error.
func mountFixture(t *testing.T, g fixtureGeometry) (*Fs, *memDevice) {
	t.Helper()
	device := &memDevice{buf: g.buildFixtureImage()}
	fs, err := New(device)
	if err != nil {
		t.Fatalf("mount fixture: %v", err)
	}
	if fs.info.FSType != g.fsType {
		t.Fatalf("fixture mounted as %v, want %v", fs.info.FSType, g.fsType)
	}
	return fs, device
}

func mountFAT12(t *testing.T) *Fs {
	t.Helper()
	fs, _ := mountFixture(t, fat12Geometry())
	return fs
}

func mountFAT16(t *testing.T) *Fs {
	t.Helper()
	fs, _ := mountFixture(t, fat16Geometry())
	return fs
}

func mountFAT32(t *testing.T) *Fs {
	t.Helper()
	fs, _ := mountFixture(t, fat32Geometry())
	return fs
}

package gofat

import (
	"errors"
	"testing"
)

func TestInfo_ClusterOffset(t *testing.T) {
	info := Info{FirstDataSector: 100, BytesPerSector: 512, ClusterSize: 1024}
	got := info.ClusterOffset(2)
	want := int64(100) * 512
	if got != want {
		t.Errorf("ClusterOffset(2) = %v, want %v", got, want)
	}
	got = info.ClusterOffset(3)
	want = int64(100)*512 + 1024
	if got != want {
		t.Errorf("ClusterOffset(3) = %v, want %v", got, want)
	}
}

func TestInfo_FatEntryByteOffset(t *testing.T) {
	tests := []struct {
		fsType FATType
		n      uint32
		want   int64
	}{
		{FAT12, 0, 0},
		{FAT12, 2, 3},
		{FAT12, 3, 4},
		{FAT16, 5, 10},
		{FAT32, 5, 20},
	}
	for _, tt := range tests {
		info := Info{FSType: tt.fsType}
		if got := info.fatEntryByteOffset(tt.n); got != tt.want {
			t.Errorf("fatEntryByteOffset(%v, %d) = %v, want %v", tt.fsType, tt.n, got, tt.want)
		}
	}
}

func TestInfo_FatCopyBase(t *testing.T) {
	info := Info{ReservedSectors: 1, SectorsPerFAT: 10, BytesPerSector: 512}
	if got := info.fatCopyBase(0); got != 512 {
		t.Errorf("fatCopyBase(0) = %v, want 512", got)
	}
	if got := info.fatCopyBase(1); got != (1+10)*512 {
		t.Errorf("fatCopyBase(1) = %v, want %v", got, (1+10)*512)
	}
}

func TestNew_rejectsShortImage(t *testing.T) {
	_, err := New(&memDevice{buf: make([]byte, 10)})
	if err == nil {
		t.Fatal("New() on a too-short device should have failed")
	}
}

func TestNew_rejectsBadBytesPerSector(t *testing.T) {
	g := fat16Geometry()
	image := g.buildFixtureImage()
	image[11], image[12] = 0x00, 0x03 // BytesPerSector = 0x0300, not a legal value

	_, err := New(&memDevice{buf: image})
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("New() with an illegal BytesPerSector error = %v, want ErrInvalidImage", err)
	}
}

func TestNewSkipChecks_toleratesBadJumpBoot(t *testing.T) {
	g := fat16Geometry()
	image := g.buildFixtureImage()
	image[0] = 0x00 // not a valid BSJumpBoot opcode

	if _, err := New(&memDevice{buf: image}); err == nil {
		t.Fatal("New() with a corrupted BSJumpBoot should have failed strict validation")
	}

	fs, err := NewSkipChecks(&memDevice{buf: image})
	if err != nil {
		t.Fatalf("NewSkipChecks() error = %v", err)
	}
	if fs.FSType() != FAT16 {
		t.Errorf("FSType() = %v, want FAT16", fs.FSType())
	}
}

func TestDetectVariant_matchesMountedFixtures(t *testing.T) {
	if got := mountFAT12(t).FSType(); got != FAT12 {
		t.Errorf("FAT12 fixture detected as %v", got)
	}
	if got := mountFAT16(t).FSType(); got != FAT16 {
		t.Errorf("FAT16 fixture detected as %v", got)
	}
	if got := mountFAT32(t).FSType(); got != FAT32 {
		t.Errorf("FAT32 fixture detected as %v", got)
	}
}

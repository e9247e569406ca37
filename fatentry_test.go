package gofat

import (
	"testing"
)

func TestDetectVariant(t *testing.T) {
	tests := []struct {
		clusters uint32
		want     FATType
	}{
		{0, FAT12},
		{4084, FAT12},
		{4085, FAT16},
		{65524, FAT16},
		{65525, FAT32},
		{1 << 20, FAT32},
	}
	for _, tt := range tests {
		if got := detectVariant(tt.clusters); got != tt.want {
			t.Errorf("detectVariant(%d) = %v, want %v", tt.clusters, got, tt.want)
		}
	}
}

func TestNormalizeDenormalizeFAT12(t *testing.T) {
	for _, raw := range []uint16{0x000, 0x001, 0xFF0, 0xFF6, 0xFF7, 0xFF8, 0xFFF, 0x005, 0x7FF} {
		entry := normalizeFAT12(raw)
		got := denormalizeFAT12(entry)
		if normalizeFAT12(got) != entry {
			t.Errorf("FAT12 round-trip for raw %#x: denormalized %#x normalizes back to %v, want %v", raw, got, normalizeFAT12(got), entry)
		}
	}
}

func TestNormalizeDenormalizeFAT16(t *testing.T) {
	for _, raw := range []uint16{0x0000, 0x0001, 0xFFF0, 0xFFF6, 0xFFF7, 0xFFF8, 0xFFFF, 0x0005} {
		entry := normalizeFAT16(raw)
		got := denormalizeFAT16(entry)
		if normalizeFAT16(got) != entry {
			t.Errorf("FAT16 round-trip for raw %#x: denormalized %#x normalizes back to %v, want %v", raw, got, normalizeFAT16(got), entry)
		}
	}
}

func TestNormalizeFAT32PreservesTop4Bits(t *testing.T) {
	entry, top4 := normalizeFAT32(0xF0000005)
	if top4 != 0xF0000000 {
		t.Errorf("normalizeFAT32() top4 = %#x, want %#x", top4, 0xF0000000)
	}
	if entry != fatEntry(5) {
		t.Errorf("normalizeFAT32() entry = %v, want 5", entry)
	}

	repacked := denormalizeFAT32(entry, top4)
	if repacked != 0xF0000005 {
		t.Errorf("denormalizeFAT32() = %#x, want %#x", repacked, 0xF0000005)
	}
}

func TestFatEntryClassification(t *testing.T) {
	if !fatEntryFree.IsFree() {
		t.Error("fatEntryFree.IsFree() = false")
	}
	if !fatEntryEOF.IsEOF() || !fatEntryEOF.ReadAsEOF() {
		t.Error("fatEntryEOF misclassified")
	}
	if !fatEntryBad.IsBad() || !fatEntryBad.ReadAsEOF() {
		t.Error("fatEntryBad misclassified, BAD must also read as EOF for traversal")
	}
	if fatEntry(2).IsNextCluster() != true {
		t.Error("cluster 2 should be a valid next-cluster value")
	}
	if fatEntry(1).IsNextCluster() {
		t.Error("reserved cluster 1 should not be a valid next-cluster value")
	}
}

func TestFs_AllocateChain_linksAndTerminates(t *testing.T) {
	fs := mountFAT16(t)

	head, err := fs.allocateChain(3)
	if err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}

	clusters, err := fs.chainClusters(head)
	if err != nil {
		t.Fatalf("chainClusters() error = %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("chainClusters() returned %d clusters, want 3", len(clusters))
	}

	last, err := fs.readNext(clusters[2])
	if err != nil {
		t.Fatalf("readNext() error = %v", err)
	}
	if !last.IsEOF() {
		t.Errorf("tail cluster entry = %v, want EOF", last)
	}
}

func TestFs_AllocateChain_rollsBackOnInsufficientSpace(t *testing.T) {
	fs := mountFAT12(t)

	before, err := fs.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace() error = %v", err)
	}

	// fat12Geometry has 100 data clusters; ask for far more than exist.
	if _, err := fs.allocateChain(10000); err == nil {
		t.Fatal("allocateChain() with too few free clusters should have failed")
	}

	after, err := fs.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace() error = %v", err)
	}
	if after != before {
		t.Errorf("FreeSpace() after a failed allocation = %d, want unchanged %d (rollback leaked clusters)", after, before)
	}
}

func TestFs_ExtendChain_appendsToTail(t *testing.T) {
	fs := mountFAT16(t)

	head, err := fs.allocateChain(1)
	if err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}

	extended, err := fs.extendChain(head, 2)
	if err != nil {
		t.Fatalf("extendChain() error = %v", err)
	}
	if len(extended) != 2 {
		t.Fatalf("extendChain() returned %d new clusters, want 2", len(extended))
	}
	chain, err := fs.chainClusters(head)
	if err != nil {
		t.Fatalf("chainClusters() error = %v", err)
	}
	if len(chain) != 3 || chain[0] != head || chain[1] != extended[0] || chain[2] != extended[1] {
		t.Errorf("chain after extendChain() = %v, want head %v followed by %v", chain, head, extended)
	}
}

func TestFs_TruncateChain_freesTrailingClusters(t *testing.T) {
	fs := mountFAT16(t)

	head, err := fs.allocateChain(4)
	if err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}
	clusters, _ := fs.chainClusters(head)

	if err := fs.truncateChain(head, 2); err != nil {
		t.Fatalf("truncateChain() error = %v", err)
	}

	kept, err := fs.chainClusters(head)
	if err != nil {
		t.Fatalf("chainClusters() after truncate error = %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("chain has %d clusters after truncateChain(..., 2), want 2", len(kept))
	}

	for _, c := range clusters[2:] {
		e, err := fs.readNext(c)
		if err != nil {
			t.Fatalf("readNext() error = %v", err)
		}
		if !e.IsFree() {
			t.Errorf("cluster %d not freed by truncateChain()", c)
		}
	}
}

func TestFs_FreeChain_freesEveryCluster(t *testing.T) {
	fs := mountFAT16(t)

	head, err := fs.allocateChain(3)
	if err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}
	clusters, _ := fs.chainClusters(head)

	if err := fs.freeChain(head); err != nil {
		t.Fatalf("freeChain() error = %v", err)
	}

	for _, c := range clusters {
		e, err := fs.readNext(c)
		if err != nil {
			t.Fatalf("readNext() error = %v", err)
		}
		if !e.IsFree() {
			t.Errorf("cluster %d not freed by freeChain()", c)
		}
	}
}

func TestFs_Traverse_detectsCycle(t *testing.T) {
	fs := mountFAT16(t)

	// Build a two-cluster cycle: 2 -> 3 -> 2.
	if err := fs.writeNext(2, fatEntry(3)); err != nil {
		t.Fatalf("writeNext() error = %v", err)
	}
	if err := fs.writeNext(3, fatEntry(2)); err != nil {
		t.Fatalf("writeNext() error = %v", err)
	}

	if _, err := fs.chainClusters(2); err == nil {
		t.Fatal("chainClusters() over a cyclic chain should have failed")
	}
}

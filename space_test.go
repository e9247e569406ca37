package gofat

import "testing"

func TestFs_FreeSpace_matchesAllClustersInitially(t *testing.T) {
	fs := mountFAT16(t)

	got, err := fs.freeSpace()
	if err != nil {
		t.Fatalf("freeSpace() error = %v", err)
	}
	want := int64(fs.info.TotalDataClusters) * int64(fs.info.ClusterSize)
	if got != want {
		t.Errorf("freeSpace() on a fresh volume = %v, want %v (every cluster free)", got, want)
	}
}

func TestFs_FreeSpace_cacheInvalidatedByAllocation(t *testing.T) {
	fs := mountFAT16(t)

	before, err := fs.freeSpace()
	if err != nil {
		t.Fatalf("freeSpace() error = %v", err)
	}
	if !fs.info.freeClusterCountKnown {
		t.Fatal("freeClusterCountKnown should be true after the first scan")
	}

	if _, err := fs.allocateChain(2); err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}
	if fs.info.freeClusterCountKnown {
		t.Error("freeClusterCountKnown should be invalidated by writeNext during allocation")
	}

	after, err := fs.freeSpace()
	if err != nil {
		t.Fatalf("freeSpace() error = %v", err)
	}
	want := before - 2*int64(fs.info.ClusterSize)
	if after != want {
		t.Errorf("freeSpace() after allocating 2 clusters = %v, want %v", after, want)
	}
}

func TestFs_FreeSpace_reflectsFreeingAChain(t *testing.T) {
	fs := mountFAT16(t)

	head, err := fs.allocateChain(3)
	if err != nil {
		t.Fatalf("allocateChain() error = %v", err)
	}
	mid, err := fs.freeSpace()
	if err != nil {
		t.Fatalf("freeSpace() error = %v", err)
	}

	if err := fs.freeChain(head); err != nil {
		t.Fatalf("freeChain() error = %v", err)
	}
	after, err := fs.freeSpace()
	if err != nil {
		t.Fatalf("freeSpace() error = %v", err)
	}
	if after != mid+3*int64(fs.info.ClusterSize) {
		t.Errorf("freeSpace() after freeing 3 clusters = %v, want %v", after, mid+3*int64(fs.info.ClusterSize))
	}
}

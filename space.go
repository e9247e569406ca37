package gofat

// freeSpace scans the FAT for free clusters, or returns the cached
// count from the last scan if nothing has allocated or freed since.
// Callers must hold fs.lock.
func (fs *Fs) freeSpace() (int64, error) {
	if fs.info.freeClusterCountKnown {
		return int64(fs.info.freeClusterCount) * int64(fs.info.ClusterSize), nil
	}

	var free uint32
	last := fs.info.TotalDataClusters + 1
	for cluster := uint32(2); cluster <= last; cluster++ {
		e, err := fs.readNext(cluster)
		if err != nil {
			return 0, err
		}
		if e.IsFree() {
			free++
		}
	}

	fs.info.freeClusterCount = free
	fs.info.freeClusterCountKnown = true
	return int64(free) * int64(fs.info.ClusterSize), nil
}

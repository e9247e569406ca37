// File model contains the structs which match the direct structures of the FAT filesystem.

package gofat

// BPB is the BIOS Parameter Block as laid out in the first 36 bytes of
// sector 0, common to FAT12, FAT16 and FAT32. The FAT12/16 and FAT32
// specific tails that follow it on disk are FAT16SpecificData and
// FAT32SpecificData below, overlaid on FATSpecificData.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

// FAT16SpecificData is the tail that follows BPB for FAT12 and FAT16
// volumes.
type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeId       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// FAT32SpecificData is the tail that follows BPB for FAT32 volumes.
type FAT32SpecificData struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// Attribute is the attribute byte of a directory entry.
type Attribute byte

const (
	AttrReadOnly  Attribute = 0x01
	AttrHidden    Attribute = 0x02
	AttrSystem    Attribute = 0x04
	AttrVolumeID  Attribute = 0x08
	AttrDirectory Attribute = 0x10
	AttrArchive   Attribute = 0x20
	// AttrLongName is the combination that marks an entry as an LFN
	// part rather than a short entry (attribute & 0x0F == 0x0F).
	AttrLongName Attribute = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// EntryHeader is the 32-byte Short Directory Entry (SDE) layout.
type EntryHeader struct {
	Name            [11]byte
	Attribute       Attribute
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// LongFilenameEntry is the 32-byte Long File Name (LFN) entry layout.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute Attribute
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// ExtendedEntryHeader pairs a decoded SDE with the long name accumulated
// from any LFN chain that preceded it (the short name's display form if
// there was none, or if the chain was discarded as orphaned/mismatched).
type ExtendedEntryHeader struct {
	EntryHeader
	ExtendedName string

	// dirLocator and slotIndex locate the SDE's own 32-byte slot within
	// its directory, so callers that found an entry via iterEntries can
	// later mark it deleted or rewrite it in place without re-resolving
	// the path.
	dirLocator dirLocator
	slotIndex  int
	// lfnSlots is the number of LFN entries immediately preceding the
	// SDE, 0 if the entry has no long name.
	lfnSlots int
}

package gofat

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// entryFreeMarker and entryDeletedMarker are the two sentinel values a
// directory slot's first name byte can take.
const (
	entryFreeMarker    = 0x00
	entryDeletedMarker = 0xE5
)

// entryKind classifies one raw 32-byte directory slot.
type entryKind int

const (
	entryKindEndOfDirectory entryKind = iota
	entryKindDeleted
	entryKindLongName
	entryKindShort
)

func classifyRawEntry(raw []byte) entryKind {
	switch {
	case raw[0] == entryFreeMarker:
		return entryKindEndOfDirectory
	case raw[0] == entryDeletedMarker:
		return entryKindDeleted
	case Attribute(raw[11])&AttrLongName == AttrLongName:
		return entryKindLongName
	default:
		return entryKindShort
	}
}

// decodeShortEntry parses a 32-byte slot as an EntryHeader.
func decodeShortEntry(raw []byte) (EntryHeader, error) {
	var eh EntryHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &eh); err != nil {
		return EntryHeader{}, checkpoint.Wrap(err, ErrCorrupted)
	}
	return eh, nil
}

// encodeShortEntry packs an EntryHeader back into 32 bytes.
func encodeShortEntry(eh EntryHeader) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, eh); err != nil {
		return nil, checkpoint.Wrap(err, ErrCorrupted)
	}
	return buf.Bytes(), nil
}

// decodeLongNameEntry parses a 32-byte slot as a LongFilenameEntry.
func decodeLongNameEntry(raw []byte) (LongFilenameEntry, error) {
	var lfn LongFilenameEntry
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &lfn); err != nil {
		return LongFilenameEntry{}, checkpoint.Wrap(err, ErrCorrupted)
	}
	return lfn, nil
}

func encodeLongNameEntry(lfn LongFilenameEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, lfn); err != nil {
		return nil, checkpoint.Wrap(err, ErrCorrupted)
	}
	return buf.Bytes(), nil
}

// lfnChecksum computes the one-byte checksum of an 11-byte short name,
// stored in every LFN entry of its chain so a reader can detect an
// orphaned or mismatched chain and fall back to the short name.
func lfnChecksum(shortName [11]byte) byte {
	var sum byte
	for _, c := range shortName {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// lfnEntriesNeeded returns how many 13-UTF16-unit LFN slots are needed
// to store name, including its null terminator.
func lfnEntriesNeeded(name string) int {
	units := utf16.Encode([]rune(name))
	total := len(units) + 1 // null terminator
	return (total + 12) / 13
}

// encodeLFNChain builds the LFN entries for name in on-disk order: the
// first element holds the tail of the name and carries the "last
// logical entry" flag (0x40) on its sequence number; the last element
// has sequence 1 and sits immediately before the short entry.
func encodeLFNChain(name string, checksum byte) []LongFilenameEntry {
	units := utf16.Encode([]rune(name))
	units = append(units, 0x0000)

	n := lfnEntriesNeeded(name)
	entries := make([]LongFilenameEntry, n)

	for i := 0; i < n; i++ {
		seq := n - i
		chunkStart := (seq - 1) * 13
		chunk := make([]uint16, 13)
		for j := 0; j < 13; j++ {
			idx := chunkStart + j
			if idx < len(units) {
				chunk[j] = units[idx]
			} else {
				chunk[j] = 0xFFFF
			}
		}

		seqByte := byte(seq)
		if i == 0 {
			seqByte |= 0x40
		}

		var e LongFilenameEntry
		e.Sequence = seqByte
		copy(e.First[:], chunk[0:5])
		e.Attribute = AttrLongName
		e.EntryType = 0
		e.Checksum = checksum
		copy(e.Second[:], chunk[5:11])
		e.Zero = [2]byte{0, 0}
		copy(e.Third[:], chunk[11:13])

		entries[i] = e
	}

	return entries
}

// decodeLFNChain reconstructs the long name from a slice of
// LongFilenameEntry values given in on-disk order (highest sequence
// first). Returns an error if the chain's sequence numbers aren't a
// contiguous descending run ending at 1, a corruption pattern that
// means the chain should be discarded rather than trusted.
func decodeLFNChain(entries []LongFilenameEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	n := len(entries)
	units := make([]uint16, 0, n*13)
	chunks := make([][13]uint16, n)

	for i, e := range entries {
		seq := int(e.Sequence & 0x3F)
		expected := n - i
		if seq != expected {
			return "", checkpoint.Wrap(ErrCorrupted, ErrCorrupted)
		}
		if i == 0 && e.Sequence&0x40 == 0 {
			return "", checkpoint.Wrap(ErrCorrupted, ErrCorrupted)
		}
		var chunk [13]uint16
		copy(chunk[0:5], e.First[:])
		copy(chunk[5:11], e.Second[:])
		copy(chunk[11:13], e.Third[:])
		chunks[i] = chunk
	}

	// Chunks are stored highest-sequence-first; the name reads in
	// ascending sequence order, i.e. reverse of entries.
	for i := n - 1; i >= 0; i-- {
		for _, u := range chunks[i] {
			if u == 0x0000 {
				return string(utf16.Decode(units)), nil
			}
			units = append(units, u)
		}
	}

	return string(utf16.Decode(units)), nil
}

// shortNameValidChar reports whether r is legal, unmodified, in an 8.3
// short name component.
func shortNameValidChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
		return true
	}
	return false
}

// sanitizeShortComponent uppercases s and drops every illegal character
// (lowercase letters are folded to upper rather than dropped), reporting
// whether anything was changed.
func sanitizeShortComponent(s string) (string, bool) {
	upper := strings.ToUpper(s)
	changed := upper != s

	var b strings.Builder
	for _, r := range upper {
		if shortNameValidChar(r) {
			b.WriteRune(r)
		} else {
			changed = true
		}
	}
	return b.String(), changed
}

// splitLongName splits a long name into base and extension the way FAT
// does: at the last '.', except a name consisting only of dots (or with
// no dot at all) has no extension.
func splitLongName(name string) (base, ext string) {
	name = strings.Trim(name, " ")
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// packShortName lays out an 8.3 base/ext pair (already uppercased and
// truncated) into the fixed 11-byte field, space-padded.
func packShortName(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

// shortBaseWithTail truncates base to make room for a "~N" numeric
// tail, so the combined length never exceeds 8 — growing N eats further
// into the base once N reaches two digits.
func shortBaseWithTail(base string, n int) string {
	suffix := "~" + strconv.Itoa(n)

	maxBase := 8 - len(suffix)
	if maxBase > len(base) {
		maxBase = len(base)
	}
	if maxBase < 1 {
		maxBase = 1
	}
	return base[:maxBase] + suffix
}

// generateShortName builds an 8.3 short name for longName, resolving
// collisions against exists by trying increasing numeric tails. It
// only forces a numeric tail when the name needed truncation or
// character removal, or when the untouched candidate collides — a long
// name that already fits 8.3 cleanly keeps its exact case-folded form
// with no "~1" suffix: a numeric tail is only appended when the name
// actually needed modification or collides.
func generateShortName(longName string, exists func(name [11]byte) bool) ([11]byte, error) {
	if longName == "" {
		return [11]byte{}, checkpoint.Wrap(ErrInvalidFileName, ErrInvalidFileName)
	}

	rawBase, rawExt := splitLongName(longName)

	base, _ := sanitizeShortComponent(rawBase)
	ext, _ := sanitizeShortComponent(rawExt)

	// Upper-casing alone is not lossy: short names match case-insensitively.
	lossy := base != strings.ToUpper(rawBase) || ext != strings.ToUpper(rawExt) || len(base) > 8 || len(ext) > 3

	if len(ext) > 3 {
		ext = ext[:3]
	}
	truncatedBase := base
	if len(truncatedBase) > 8 {
		truncatedBase = truncatedBase[:8]
	}

	if truncatedBase == "" {
		return [11]byte{}, checkpoint.Wrap(ErrInvalidFileName, ErrInvalidFileName)
	}

	if !lossy {
		candidate := packShortName(truncatedBase, ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	for n := 1; n <= 999999; n++ {
		tailed := shortBaseWithTail(base, n)
		candidate := packShortName(tailed, ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return [11]byte{}, checkpoint.Wrap(ErrInvalidFileName, ErrInvalidFileName)
}

// shortNameToString renders an 11-byte packed short name back into
// "BASE.EXT" display form (no trailing dot if there's no extension).
func shortNameToString(packed [11]byte) string {
	base := strings.TrimRight(string(packed[0:8]), " ")
	ext := strings.TrimRight(string(packed[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// isValidLongNameChar rejects the characters FAT forbids anywhere in a
// long name, independent of short-name folding.
func isValidLongNameChar(r rune) bool {
	if r < 0x20 {
		return false
	}
	return !strings.ContainsRune(`"*/:<>?\|`, r)
}

// validateLongName rejects empty names, names made entirely of dots,
// and names containing a forbidden character.
func validateLongName(name string) error {
	if name == "" || name == "." || name == ".." {
		return checkpoint.Wrap(ErrInvalidFileName, ErrInvalidFileName)
	}
	for _, r := range name {
		if !isValidLongNameChar(r) {
			return checkpoint.Wrap(ErrInvalidFileName, ErrInvalidFileName)
		}
	}
	return nil
}

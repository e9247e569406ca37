package gofat

import (
	"strings"
	"testing"
)

func TestLfnChecksum_isStableForSameShortName(t *testing.T) {
	name := packShortName("README", "TXT")
	a := lfnChecksum(name)
	b := lfnChecksum(name)
	if a != b {
		t.Errorf("lfnChecksum() not deterministic: %v vs %v", a, b)
	}

}

func TestEncodeDecodeLFNChain_roundTrips(t *testing.T) {
	names := []string{
		"short.txt",
		"a rather long file name that needs several lfn slots.txt",
		strings.Repeat("x", 200) + ".bin",
	}
	for _, name := range names {
		checksum := lfnChecksum(packShortName("X", "X"))
		chain := encodeLFNChain(name, checksum)

		got, err := decodeLFNChain(chain)
		if err != nil {
			t.Fatalf("decodeLFNChain(%q) error = %v", name, err)
		}
		if got != name {
			t.Errorf("decodeLFNChain(encodeLFNChain(%q)) = %q", name, got)
		}
	}
}

func TestDecodeLFNChain_rejectsNonContiguousSequence(t *testing.T) {
	chain := encodeLFNChain("needs two slots because it is fairly long indeed.txt", 0)
	if len(chain) < 2 {
		t.Fatal("test name should need at least two LFN slots")
	}
	chain[0], chain[1] = chain[1], chain[0] // scramble the sequence order

	if _, err := decodeLFNChain(chain); err == nil {
		t.Error("decodeLFNChain() with a non-contiguous sequence should have failed")
	}
}

func TestDecodeLFNChain_rejectsMissingLastEntryFlag(t *testing.T) {
	chain := encodeLFNChain("one.txt", 0)
	chain[0].Sequence &^= 0x40 // drop the "last logical entry" flag

	if _, err := decodeLFNChain(chain); err == nil {
		t.Error("decodeLFNChain() without the last-entry flag should have failed")
	}
}

func TestSanitizeShortComponent(t *testing.T) {
	tests := []struct {
		in          string
		want        string
		wantChanged bool
	}{
		{"readme", "README", true},
		{"README", "README", false},
		{"a b", "AB", true},
		{"go+fat", "GOFAT", true},
	}
	for _, tt := range tests {
		got, changed := sanitizeShortComponent(tt.in)
		if got != tt.want || changed != tt.wantChanged {
			t.Errorf("sanitizeShortComponent(%q) = (%q, %v), want (%q, %v)", tt.in, got, changed, tt.want, tt.wantChanged)
		}
	}
}

func TestSplitLongName(t *testing.T) {
	tests := []struct {
		in       string
		wantBase string
		wantExt  string
	}{
		{"report.txt", "report", "txt"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"noext", "noext", ""},
		{".hidden", ".hidden", ""},
	}
	for _, tt := range tests {
		base, ext := splitLongName(tt.in)
		if base != tt.wantBase || ext != tt.wantExt {
			t.Errorf("splitLongName(%q) = (%q, %q), want (%q, %q)", tt.in, base, ext, tt.wantBase, tt.wantExt)
		}
	}
}

func TestGenerateShortName_cleanNameKeepsExactForm(t *testing.T) {
	got, err := generateShortName("README.TXT", func([11]byte) bool { return false })
	if err != nil {
		t.Fatalf("generateShortName() error = %v", err)
	}
	if shortNameToString(got) != "README.TXT" {
		t.Errorf("generateShortName(README.TXT) = %q, want %q (no numeric tail needed)", shortNameToString(got), "README.TXT")
	}
}

func TestGenerateShortName_lossyNameForcesNumericTail(t *testing.T) {
	got, err := generateShortName("a long readme file.txt", func([11]byte) bool { return false })
	if err != nil {
		t.Fatalf("generateShortName() error = %v", err)
	}
	if !strings.Contains(shortNameToString(got), "~1") {
		t.Errorf("generateShortName() on a name needing truncation = %q, want a ~1 numeric tail", shortNameToString(got))
	}
}

func TestGenerateShortName_collisionForcesNumericTail(t *testing.T) {
	taken := packShortName("README", "TXT")
	got, err := generateShortName("README.TXT", func(name [11]byte) bool { return name == taken })
	if err != nil {
		t.Fatalf("generateShortName() error = %v", err)
	}
	if shortNameToString(got) == "README.TXT" {
		t.Error("generateShortName() should have resolved a collision with a numeric tail")
	}
	if !strings.Contains(shortNameToString(got), "~1") {
		t.Errorf("generateShortName() on collision = %q, want a ~1 tail", shortNameToString(got))
	}
}

func TestGenerateShortName_growingTailShrinksBase(t *testing.T) {
	// sanitizeShortComponent("longfilename") upper-cases to "LONGFILENAME";
	// generateShortName builds every numeric-tail candidate from that full
	// (untruncated) sanitized base, not the 8-char-truncated one.
	exists := map[string]bool{}
	for n := 1; n <= 9; n++ {
		exists[shortNameToString(packShortName(shortBaseWithTail("LONGFILENAME", n), "TXT"))] = true
	}

	got, err := generateShortName("longfilename.txt", func(name [11]byte) bool {
		return exists[shortNameToString(name)]
	})
	if err != nil {
		t.Fatalf("generateShortName() error = %v", err)
	}
	if !strings.Contains(shortNameToString(got), "~10") {
		t.Errorf("generateShortName() after exhausting ~1..~9 = %q, want a ~10 tail", shortNameToString(got))
	}
}

func TestGenerateShortName_rejectsEmptyBase(t *testing.T) {
	if _, err := generateShortName("", func([11]byte) bool { return false }); err == nil {
		t.Error("generateShortName(\"\") should have failed")
	}
	if _, err := generateShortName("   ", func([11]byte) bool { return false }); err == nil {
		t.Error("generateShortName() on an all-whitespace name with no base should have failed")
	}
}

func TestShortNameToString_trimsPadding(t *testing.T) {
	if got := shortNameToString(packShortName("A", "")); got != "A" {
		t.Errorf("shortNameToString() = %q, want %q", got, "A")
	}
	if got := shortNameToString(packShortName("A", "B")); got != "A.B" {
		t.Errorf("shortNameToString() = %q, want %q", got, "A.B")
	}
}

func TestValidateLongName(t *testing.T) {
	if err := validateLongName(""); err == nil {
		t.Error("validateLongName(\"\") should have failed")
	}
	if err := validateLongName("."); err == nil {
		t.Error("validateLongName(\".\") should have failed")
	}
	if err := validateLongName("a:b"); err == nil {
		t.Error("validateLongName() with a forbidden character should have failed")
	}
	if err := validateLongName("ordinary name.txt"); err != nil {
		t.Errorf("validateLongName() on an ordinary name error = %v", err)
	}
}

func TestClassifyRawEntry(t *testing.T) {
	free := make([]byte, 32)
	if classifyRawEntry(free) != entryKindEndOfDirectory {
		t.Error("an all-zero slot should classify as end-of-directory")
	}

	deleted := make([]byte, 32)
	deleted[0] = entryDeletedMarker
	if classifyRawEntry(deleted) != entryKindDeleted {
		t.Error("a slot starting with 0xE5 should classify as deleted")
	}

	long := make([]byte, 32)
	long[0] = 'x'
	long[11] = byte(AttrLongName)
	if classifyRawEntry(long) != entryKindLongName {
		t.Error("a slot with the LFN attribute combination should classify as long name")
	}

	short := make([]byte, 32)
	short[0] = 'x'
	short[11] = byte(AttrArchive)
	if classifyRawEntry(short) != entryKindShort {
		t.Error("an ordinary slot should classify as short")
	}
}

package gofat

import (
	"strings"

	"github.com/Inokinoki/QFATFileSystem/checkpoint"
)

// splitPath cleans an absolute path and splits it into its components.
// "." and ".." components are rejected: the resolver never follows the
// "." and ".." entries stored in subdirectories. Paths are plain
// absolute slash-separated names, resolved component by component
// from the root.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	cleaned := strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(cleaned, "/")

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == "." || p == ".." {
			return nil, checkpoint.Wrap(ErrInvalidPath, ErrInvalidPath)
		}
		out = append(out, p)
	}
	return out, nil
}

// namesMatch compares a path component against an entry's long name and
// short name, case-insensitively — FAT has no case-sensitive match
// mode.
func namesMatch(component string, ext ExtendedEntryHeader) bool {
	if strings.EqualFold(component, ext.ExtendedName) {
		return true
	}
	return strings.EqualFold(component, shortNameToString(ext.EntryHeader.Name))
}

// firstClusterOf returns eh's starting cluster, combining the FAT32 high
// word with the low word (zero on FAT12/16, where FirstClusterHI is
// unused).
func firstClusterOf(eh EntryHeader) uint32 {
	return uint32(eh.FirstClusterHI)<<16 | uint32(eh.FirstClusterLO)
}

// findChild looks up name as an immediate child of loc.
func (fs *Fs) findChild(loc dirLocator, name string) (ExtendedEntryHeader, bool, error) {
	var found ExtendedEntryHeader
	ok := false

	err := fs.iterEntries(loc, func(ext ExtendedEntryHeader) (bool, error) {
		if namesMatch(name, ext) {
			found = ext
			ok = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return ExtendedEntryHeader{}, false, err
	}
	return found, ok, nil
}

// findChildByShortName looks up an exact packed short name among loc's
// immediate children, ignoring long names entirely — used while
// resolving numeric-tail collisions during short-name generation, where
// comparing against a candidate's long name would be meaningless.
func (fs *Fs) findChildByShortName(loc dirLocator, shortName [11]byte) (ExtendedEntryHeader, bool, error) {
	var found ExtendedEntryHeader
	ok := false

	err := fs.iterEntries(loc, func(ext ExtendedEntryHeader) (bool, error) {
		if ext.EntryHeader.Name == shortName {
			found = ext
			ok = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return ExtendedEntryHeader{}, false, err
	}
	return found, ok, nil
}

// resolve walks path component by component from the root and returns
// the final entry. An empty or "/" path has no backing entry and is
// rejected here; callers that need to address the root directory itself
// should use resolveDir instead.
func (fs *Fs) resolve(path string) (ExtendedEntryHeader, error) {
	parts, err := splitPath(path)
	if err != nil {
		return ExtendedEntryHeader{}, fs.fail(err)
	}
	if len(parts) == 0 {
		return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrInvalidPath, ErrInvalidPath))
	}

	loc := fs.rootLocator()
	var current ExtendedEntryHeader
	found := false

	for i, part := range parts {
		var ok bool
		var err error
		current, ok, err = fs.findChild(loc, part)
		if err != nil {
			return ExtendedEntryHeader{}, err
		}
		if !ok {
			if i < len(parts)-1 {
				return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrDirectoryNotFound, ErrDirectoryNotFound))
			}
			return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrFileNotFound, ErrFileNotFound))
		}
		found = true

		if i < len(parts)-1 {
			if current.Attribute&AttrDirectory == 0 {
				return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrNotADirectory, ErrInvalidPath))
			}
			loc = dirLocator{head: firstClusterOf(current.EntryHeader)}
		}
	}

	if !found {
		return ExtendedEntryHeader{}, fs.fail(checkpoint.Wrap(ErrFileNotFound, ErrFileNotFound))
	}
	return current, nil
}

// resolveDir resolves path to a directory locator. The empty path and
// "/" both mean the volume root.
func (fs *Fs) resolveDir(path string) (dirLocator, error) {
	parts, err := splitPath(path)
	if err != nil {
		return dirLocator{}, fs.fail(err)
	}
	if len(parts) == 0 {
		return fs.rootLocator(), nil
	}

	ext, err := fs.resolve(path)
	if err != nil {
		return dirLocator{}, err
	}
	if ext.Attribute&AttrDirectory == 0 {
		return dirLocator{}, fs.fail(checkpoint.Wrap(ErrNotADirectory, ErrInvalidPath))
	}
	return dirLocator{head: firstClusterOf(ext.EntryHeader)}, nil
}

// resolveParent splits path into its parent directory's locator and its
// final component's cleaned name, without requiring the final component
// to exist yet — used by every creating operation.
func (fs *Fs) resolveParent(path string) (dirLocator, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return dirLocator{}, "", fs.fail(err)
	}
	if len(parts) == 0 {
		return dirLocator{}, "", fs.fail(checkpoint.Wrap(ErrInvalidPath, ErrInvalidPath))
	}

	name := parts[len(parts)-1]
	if err := validateLongName(name); err != nil {
		return dirLocator{}, "", fs.fail(err)
	}

	if len(parts) == 1 {
		return fs.rootLocator(), name, nil
	}

	parentPath := "/" + strings.Join(parts[:len(parts)-1], "/")
	loc, err := fs.resolveDir(parentPath)
	if err != nil {
		return dirLocator{}, "", err
	}
	return loc, name, nil
}

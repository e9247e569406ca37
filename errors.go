package gofat

import (
	"errors"
)

// ErrorCode is the stable, integer-identified error taxonomy from the
// public API surface. Every public operation returns (or caches on the
// Fs handle) one of these in addition to a Go error value, so that
// callers which only want to branch on a stable wire code still can.
type ErrorCode uint8

const (
	ErrorNone ErrorCode = iota
	ErrorDeviceNotOpen
	ErrorInvalidPath
	ErrorFileNotFound
	ErrorDirectoryNotFound
	ErrorInvalidCluster
	ErrorReadError
	ErrorWriteError
	ErrorNotImplemented
	ErrorInsufficientSpace
	ErrorInvalidFileName
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "None"
	case ErrorDeviceNotOpen:
		return "DeviceNotOpen"
	case ErrorInvalidPath:
		return "InvalidPath"
	case ErrorFileNotFound:
		return "FileNotFound"
	case ErrorDirectoryNotFound:
		return "DirectoryNotFound"
	case ErrorInvalidCluster:
		return "InvalidCluster"
	case ErrorReadError:
		return "ReadError"
	case ErrorWriteError:
		return "WriteError"
	case ErrorNotImplemented:
		return "NotImplemented"
	case ErrorInsufficientSpace:
		return "InsufficientSpace"
	case ErrorInvalidFileName:
		return "InvalidFileName"
	default:
		return "Unknown"
	}
}

// These are the sentinel errors corresponding one-to-one to ErrorCode.
// Use errors.Is to check for a specific one through any number of
// checkpoint wrappers.
var (
	ErrDeviceNotOpen      = errors.New("device not open")
	ErrInvalidPath         = errors.New("invalid path")
	ErrFileNotFound        = errors.New("file not found")
	ErrDirectoryNotFound   = errors.New("directory not found")
	ErrInvalidCluster      = errors.New("invalid cluster")
	ErrReadError           = errors.New("read error")
	ErrWriteError          = errors.New("write error")
	ErrNotImplemented      = errors.New("not implemented")
	ErrInsufficientSpace   = errors.New("insufficient space")
	ErrInvalidFileName     = errors.New("invalid file name")

	// ErrAlreadyExists is reported to callers as ErrInvalidPath (per
	// spec: "reported as InvalidPath for wire compatibility with the
	// source"), but kept as its own sentinel so internal code and tests
	// can still distinguish the cause with errors.Is.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotADirectory / ErrIsADirectory are internal refinements of
	// InvalidPath, also collapsed to ErrorInvalidPath at the public
	// boundary.
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory  = errors.New("is a directory")

	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrInvalidImage      = errors.New("invalid image")
	ErrCorrupted         = errors.New("volume corrupted")
)

// codeForError maps a sentinel (or a checkpoint-wrapped sentinel) to its
// stable ErrorCode. Any error that wraps none of the sentinels below
// maps to ErrorReadError.
func codeForError(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrDeviceNotOpen):
		return ErrorDeviceNotOpen
	case errors.Is(err, ErrAlreadyExists):
		// Per spec §7: AlreadyExists is reported as InvalidPath for
		// source compatibility.
		return ErrorInvalidPath
	case errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrNotADirectory),
		errors.Is(err, ErrIsADirectory),
		errors.Is(err, ErrDirectoryNotEmpty):
		return ErrorInvalidPath
	case errors.Is(err, ErrFileNotFound):
		return ErrorFileNotFound
	case errors.Is(err, ErrDirectoryNotFound):
		return ErrorDirectoryNotFound
	case errors.Is(err, ErrInvalidCluster), errors.Is(err, ErrCorrupted):
		return ErrorInvalidCluster
	case errors.Is(err, ErrReadError):
		return ErrorReadError
	case errors.Is(err, ErrWriteError):
		return ErrorWriteError
	case errors.Is(err, ErrNotImplemented):
		return ErrorNotImplemented
	case errors.Is(err, ErrInsufficientSpace):
		return ErrorInsufficientSpace
	case errors.Is(err, ErrInvalidFileName):
		return ErrorInvalidFileName
	default:
		return ErrorReadError
	}
}

// fail records err's stable code on the mount handle and returns
// err unchanged, so call sites can write "return fs.fail(checkpoint.Wrap(...))".
func (fs *Fs) fail(err error) error {
	fs.lastError = codeForError(err)
	return err
}

// ok clears the cached last error and returns nil, for symmetry at
// successful return points that want to make the reset explicit.
func (fs *Fs) ok() error {
	fs.lastError = ErrorNone
	return nil
}

package loader

import "github.com/pkg/errors"

// ErrMissingManifest means the archive contained no manifest.json entry.
var ErrMissingManifest = errors.New("archive does not contain a manifest.json")

// ErrMissingSourceDir means a scripted package's workflow/ source directory
// was absent after extraction.
var ErrMissingSourceDir = errors.New("scripted package is missing its workflow/ source directory")

// ErrMissingLibrary means a native package's compiled plugin file was absent
// after extraction.
var ErrMissingLibrary = errors.New("native package is missing its compiled library file")

// WrongLanguageError means the caller asked to load a package as a language
// other than the one its manifest declares.
type WrongLanguageError struct {
	Expected string
	Actual   string
}

func (e *WrongLanguageError) Error() string {
	return "wrong package language: expected " + e.Expected + ", got " + e.Actual
}

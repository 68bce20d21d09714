// Package loader extracts and loads signed workflow packages: tar.gz
// archive extraction into a staging directory, manifest peeking without
// full extraction, and two loading paths — native Go plugins and Lua
// scripted packages — that register task constructors into a
// workflow.ConstructorRegistry.
package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/registry/manifest"
)

// maxManifestSize bounds how much of a single archive entry PeekManifest
// and ExtractPackage will buffer in memory for manifest.json.
const maxManifestSize = 1 << 20 // 1 MiB

// PeekManifest reads manifest.json out of a tar.gz archive without
// extracting the rest of its contents, for fast compatibility and
// signature pre-checks before committing to a full extraction.
func PeekManifest(archiveData []byte) (*manifest.Manifest, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archiveData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrMissingManifest
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read archive entries")
		}
		if filepath.Base(hdr.Name) != "manifest.json" {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxManifestSize))
		if err != nil {
			return nil, errors.Wrap(err, "failed to read manifest.json")
		}
		return manifest.Parse(data)
	}
}

// ExtractedPackage is a package unpacked into its own staging
// sub-directory, ready for native or scripted loading.
type ExtractedPackage struct {
	RootDir  string
	Manifest *manifest.Manifest
}

// ExtractPackage unpacks a tar.gz archive into a fresh sub-directory of
// stagingDir and parses its manifest.json. It does not validate the
// manifest or check language-specific source layout — callers do that via
// LoadNative/LoadScripted once they know which path applies.
func ExtractPackage(archiveData []byte, stagingDir string) (*ExtractedPackage, error) {
	packageDir := filepath.Join(stagingDir, uuid.NewString())
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}

	gz, err := gzip.NewReader(bytes.NewReader(archiveData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read archive entries")
		}
		target := filepath.Join(packageDir, filepath.Clean(hdr.Name))
		if err := extractEntry(tr, hdr, target); err != nil {
			return nil, err
		}
	}

	manifestPath := filepath.Join(packageDir, "manifest.json")
	mf, err := os.Open(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read extracted manifest.json")
	}
	defer mf.Close()
	data, err := io.ReadAll(io.LimitReader(mf, maxManifestSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read extracted manifest.json")
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}

	return &ExtractedPackage{RootDir: packageDir, Manifest: m}, nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return errors.Wrap(os.MkdirAll(target, 0o755), "failed to create directory entry")
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrap(err, "failed to create parent directory")
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return errors.Wrap(err, "failed to create file entry")
		}
		defer f.Close()
		if _, err := io.Copy(f, tr); err != nil {
			return errors.Wrap(err, "failed to write file entry")
		}
		return nil
	default:
		return nil
	}
}

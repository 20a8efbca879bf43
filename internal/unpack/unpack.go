// Package unpack extracts module packages into a target directory.
package unpack

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/modforge/internal/localstore"
	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

// ErrUnpack is wrapped by every extraction failure.
var ErrUnpack = errors.New("unpack failed")

// ErrEntryTooLarge is returned for archive entries above maxEntryBytes.
var ErrEntryTooLarge = errors.New("archive entry too large")

// maxEntryBytes caps a single extracted file.
var maxEntryBytes int64 = 256 << 20

var packageFile = regexp.MustCompile(`^([A-Za-z0-9]+)-([a-z][a-z0-9_]*)-([0-9]+\.[0-9]+\.[0-9]+[0-9A-Za-z.+\-]*)\.tar\.gz$`)

// Options says where a package goes.
type Options struct {
	TargetDir string
	Name      module.Name
}

// TarGz extracts gzip-compressed tarballs. A single top-level directory in the
// archive (the usual owner-name-version/ layout) is stripped.
type TarGz struct {
	Log logr.Logger
}

// Unpack extracts archive into <TargetDir>/<short name>, replacing any previous
// copy only once extraction succeeded. It returns the module directory.
func (u TarGz) Unpack(ctx context.Context, archive string, opts Options) (string, error) {
	if opts.TargetDir == "" || opts.Name.IsZero() {
		return "", fmt.Errorf("%w: target directory and module name are required", ErrUnpack)
	}
	if err := os.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnpack, err)
	}

	staging, err := os.MkdirTemp(opts.TargetDir, ".modforge-"+opts.Name.Short+"-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnpack, err)
	}
	defer os.RemoveAll(staging)

	if err := extract(ctx, archive, staging); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnpack, filepath.Base(archive), err)
	}

	src, err := contentRoot(staging)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnpack, err)
	}
	dest := filepath.Join(opts.TargetDir, opts.Name.Short)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("%w: remove previous copy: %v", ErrUnpack, err)
	}
	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnpack, err)
	}
	u.Log.V(1).Info("unpacked module", "module", opts.Name.String(), "dir", dest)
	return dest, nil
}

func extract(ctx context.Context, archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links and devices are not part of a module.
			continue
		}
	}
}

// entryPath maps a tar entry name under dest, rejecting names that escape it.
func entryPath(dest, name string) (string, error) {
	if name == "" || path.IsAbs(name) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	n, err := io.Copy(out, io.LimitReader(r, maxEntryBytes+1))
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, filepath.Base(target), maxEntryBytes)
	}
	return nil
}

// contentRoot returns the single top-level directory of dir, or dir itself.
func contentRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	// Move the flat layout into its own directory so the staging dir can
	// still be removed afterwards.
	root := filepath.Join(dir, ".root")
	if err := os.Mkdir(root, 0o755); err != nil {
		return "", err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(dir, e.Name()), filepath.Join(root, e.Name())); err != nil {
			return "", err
		}
	}
	return root, nil
}

// IsModulePackage reports whether p names a module package file,
// owner-name-version.tar.gz.
func IsModulePackage(p string) bool {
	return packageFile.MatchString(filepath.Base(p))
}

// ParsePackageName extracts the module name and version from a package file name.
func ParsePackageName(p string) (module.Name, semver.Version, error) {
	base := filepath.Base(p)
	m := packageFile.FindStringSubmatch(base)
	if m == nil {
		return module.Name{}, semver.Version{}, &module.InvalidNameError{Text: strings.TrimSuffix(base, ".tar.gz")}
	}
	name, err := module.ParseName(m[1] + "-" + m[2])
	if err != nil {
		return module.Name{}, semver.Version{}, err
	}
	v, err := semver.ParseVersion(m[3])
	if err != nil {
		return module.Name{}, semver.Version{}, &module.InvalidNameError{Text: strings.TrimSuffix(base, ".tar.gz")}
	}
	return name, v, nil
}

// ReadPackage returns the release described by a package file. The name and
// version come from the file name; dependencies come from the metadata.json
// inside the archive, when there is one.
func ReadPackage(p string) (*module.Release, error) {
	name, v, err := ParsePackageName(p)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	rel := &module.Release{Name: name, Version: v, File: abs}

	md, err := readMetadata(abs)
	if err != nil {
		return nil, fmt.Errorf("read package %s: %w", filepath.Base(p), err)
	}
	if md == nil {
		return rel, nil
	}
	if rel.Dependencies, err = md.Requirements(); err != nil {
		return nil, fmt.Errorf("read package %s: %w", filepath.Base(p), err)
	}
	return rel, nil
}

// readMetadata finds metadata.json at the top of the archive or one directory
// below it.
func readMetadata(archive string) (*localstore.Metadata, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		clean := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if path.Base(clean) != localstore.MetadataFile || strings.Count(clean, "/") > 1 {
			continue
		}
		var md localstore.Metadata
		if err := json.NewDecoder(io.LimitReader(tr, maxEntryBytes)).Decode(&md); err != nil {
			return nil, fmt.Errorf("decode %s: %w", localstore.MetadataFile, err)
		}
		return &md, nil
	}
}

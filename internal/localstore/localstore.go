// Package localstore reads modules already present in a target directory.
//
// A module lives in <root>/<short name>/ and describes itself in metadata.json.
// When checksums.json is present, files whose md5 no longer matches mark the
// copy as locally modified.
package localstore

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/anvil-platform/modforge/internal/module"
	"github.com/anvil-platform/modforge/internal/semver"
)

const (
	MetadataFile  = "metadata.json"
	ChecksumsFile = "checksums.json"
)

var (
	// ErrLocalModuleInvalid is wrapped by every InvalidError.
	ErrLocalModuleInvalid = errors.New("local module invalid")

	ErrMissingMetadata        = errors.New("missing metadata")
	ErrMissingVersionMetadata = errors.New("missing version metadata")
	ErrNonSemverVersion       = errors.New("non-semver version")
	ErrNameMismatch           = errors.New("name mismatch")
	ErrInvalidDependency      = errors.New("invalid dependency metadata")
)

// InvalidError describes a local module whose metadata cannot be trusted.
type InvalidError struct {
	Name   module.Name
	Dir    string
	Reason error
	Detail string
}

func (e *InvalidError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("local module %s at %s: %v", e.Name, e.Dir, e.Reason)
	}
	return fmt.Sprintf("local module %s at %s: %v: %s", e.Name, e.Dir, e.Reason, e.Detail)
}

func (e *InvalidError) Unwrap() []error { return []error{e.Reason, ErrLocalModuleInvalid} }

// Install is a module found on disk.
type Install struct {
	Name         module.Name
	Dir          string
	Version      semver.Version
	ForgeName    string
	HasChanges   bool
	Dependencies []module.Dependency
}

// Metadata is the metadata.json document shipped with every module.
type Metadata struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Dependencies []MetadataDependency `json:"dependencies"`
}

type MetadataDependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement,omitempty"`
}

// Requirements parses the declared dependencies. An empty version
// requirement accepts any version.
func (m Metadata) Requirements() ([]module.Dependency, error) {
	var out []module.Dependency
	for _, d := range m.Dependencies {
		name, err := module.ParseName(d.Name)
		if err != nil {
			return nil, err
		}
		c := semver.Any()
		if d.VersionRequirement != "" {
			if c, err = semver.ParseConstraint(d.VersionRequirement); err != nil {
				return nil, err
			}
		}
		out = append(out, module.Dependency{Name: name, Constraint: c})
	}
	return out, nil
}

// Store is a directory of installed modules.
type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

// Dir returns the directory a module is installed into.
func (s *Store) Dir(name module.Name) string {
	return filepath.Join(s.Root, name.Short)
}

// Lookup returns the install of name, or nil when the module directory does
// not exist.
func (s *Store) Lookup(name module.Name) (*Install, error) {
	dir := s.Dir(name)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrMissingMetadata, Detail: "not a directory"}
	}

	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrMissingMetadata}
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: read metadata for %s: %w", name, err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrMissingMetadata, Detail: err.Error()}
	}

	if md.Version == "" {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrMissingVersionMetadata}
	}
	v, err := semver.ParseVersion(md.Version)
	if err != nil {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrNonSemverVersion, Detail: md.Version}
	}
	found, err := module.ParseName(md.Name)
	if err != nil || found != name {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrNameMismatch, Detail: fmt.Sprintf("metadata names %q", md.Name)}
	}

	inst := &Install{
		Name:      name,
		Dir:       dir,
		Version:   v,
		ForgeName: md.Name,
	}
	if inst.Dependencies, err = md.Requirements(); err != nil {
		return nil, &InvalidError{Name: name, Dir: dir, Reason: ErrInvalidDependency, Detail: err.Error()}
	}

	inst.HasChanges, err = hasChanges(dir)
	if err != nil {
		return nil, fmt.Errorf("localstore: check changes for %s: %w", name, err)
	}
	return inst, nil
}

func hasChanges(dir string) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ChecksumsFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var sums map[string]string
	if err := json.Unmarshal(raw, &sums); err != nil {
		return false, fmt.Errorf("decode %s: %w", ChecksumsFile, err)
	}

	files := make([]string, 0, len(sums))
	for f := range sums {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		got, err := md5File(filepath.Join(dir, filepath.FromSlash(f)))
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if got != sums[f] {
			return true, nil
		}
	}
	return false, nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

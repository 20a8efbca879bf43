package forge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/module"
)

// IndexFile is the feed document at the root of a mirror directory.
const IndexFile = "index.yaml"

// Dir is a mirror directory: an index.yaml feed plus the archives it names,
// relative to the directory.
type Dir struct {
	Root string
}

func (d Dir) DependencyInfo(ctx context.Context, root module.Name) (catalog.Feed, error) {
	return catalog.FileSource{Path: filepath.Join(d.Root, IndexFile)}.DependencyInfo(ctx, root)
}

func (d Dir) Retrieve(ctx context.Context, file string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := d.path(file)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, file)
	}
	if err != nil {
		return "", err
	}
	return p, nil
}

func (d Dir) path(file string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(file, "/"))
	p := filepath.Join(d.Root, rel)
	r, err := filepath.Rel(d.Root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the mirror", ErrArchiveNotFound, file)
	}
	return p, nil
}

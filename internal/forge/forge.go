// Package forge provides the repositories modules are installed from: a
// local mirror directory, an HTTP forge and a gRPC catalog service.
package forge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/modforge/internal/catalog"
)

// ErrArchiveNotFound is returned when a release archive cannot be located.
var ErrArchiveNotFound = errors.New("archive not found")

// Repository serves dependency info and release archives.
type Repository interface {
	catalog.Source
	// Retrieve makes the archive named by a release's File available locally
	// and returns its path.
	Retrieve(ctx context.Context, file string) (string, error)
}

// Options configures Open.
type Options struct {
	// CacheDir receives archives downloaded from remote repositories.
	CacheDir string
	Log      logr.Logger
}

// Open returns the repository addressed by location: grpc://host:port, an
// http(s) URL, or a mirror directory. Repositories holding connections
// implement io.Closer.
func Open(location string, opts Options) (Repository, error) {
	switch {
	case location == "":
		return nil, fmt.Errorf("forge: no repository configured")
	case strings.HasPrefix(location, "grpc://"):
		c, err := DialGRPC(strings.TrimPrefix(location, "grpc://"), opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTP(location, opts), nil
	default:
		return Dir{Root: location}, nil
	}
}

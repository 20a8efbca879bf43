package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/modforge/internal/module"
)

// FileSource serves a feed stored as a YAML (or JSON) document.
type FileSource struct {
	Path string
}

// DependencyInfo returns the whole feed regardless of root.
func (f FileSource) DependencyInfo(ctx context.Context, _ module.Name) (Feed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadFeedFile(f.Path)
}

// ReadFeedFile decodes the feed document at path.
func ReadFeedFile(path string) (Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read feed %s: %w", path, err)
	}
	return DecodeFeed(data)
}

// DecodeFeed decodes a YAML or JSON feed document.
func DecodeFeed(data []byte) (Feed, error) {
	feed := Feed{}
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("catalog: decode feed: %w", err)
	}
	return feed, nil
}

package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/module"
)

const dependencyInfoPath = "/v1/dependency-info"

// HTTP is a forge reached over HTTP. Dependency info is served as JSON from
// /v1/dependency-info; archives are downloaded once into CacheDir.
type HTTP struct {
	BaseURL  string
	CacheDir string
	Client   *http.Client
	log      logr.Logger
}

func NewHTTP(baseURL string, opts Options) *HTTP {
	cache := opts.CacheDir
	if cache == "" {
		cache = filepath.Join(os.TempDir(), "modforge-cache")
	}
	return &HTTP{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		CacheDir: cache,
		Client:   &http.Client{Timeout: 60 * time.Second},
		log:      opts.Log,
	}
}

func (h *HTTP) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

// DependencyInfo fetches the feed for root. A forge that does not know the
// module answers 404, which yields an empty feed.
func (h *HTTP) DependencyInfo(ctx context.Context, root module.Name) (catalog.Feed, error) {
	u := h.BaseURL + dependencyInfoPath + "?" + url.Values{"module": {root.ForgeName()}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	h.log.V(1).Info("fetching dependency info", "url", u)
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("forge: dependency info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return catalog.Feed{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("forge: dependency info for %s: unexpected status %s", root, resp.Status)
	}
	feed := catalog.Feed{}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("forge: decode dependency info: %w", err)
	}
	return feed, nil
}

// Retrieve downloads file into the cache directory unless it is already there.
func (h *HTTP) Retrieve(ctx context.Context, file string) (string, error) {
	name := path.Base(file)
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("%w: %q", ErrArchiveNotFound, file)
	}
	dest := filepath.Join(h.CacheDir, name)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if err := os.MkdirAll(h.CacheDir, 0o755); err != nil {
		return "", err
	}

	u := h.BaseURL + "/" + strings.TrimPrefix(file, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("forge: download %s: %w", file, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, file)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("forge: download %s: unexpected status %s", file, resp.Status)
	}

	tmp, err := os.CreateTemp(h.CacheDir, name+".*.part")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("forge: download %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("forge: store %s: %w", file, err)
	}
	h.log.V(1).Info("downloaded archive", "file", file, "path", dest)
	return dest, nil
}

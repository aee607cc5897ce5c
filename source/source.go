// Package source fetches and verifies a package's source tarball, caching
// it by content hash. Adapted from the teacher's Job.Extract/ValidateSHA1
// idiom (model/job.go), generalized from BOSH job tarballs to recipe source
// tarballs.
package source

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	archiver "code.cloudfoundry.org/archiver/extractor"

	"github.com/buildorch/butido/recipe"
)

// Handle is a cheap, cloneable reference to a cached source location on
// disk. RunnableJobs carry a Handle rather than the bytes themselves.
type Handle struct {
	Package  recipe.Package
	CachedAt string
}

// Cache fetches, verifies, and caches package source tarballs under a
// single directory, keyed by source hash so repeated builds of the same
// package never re-fetch.
type Cache struct {
	Dir        string
	httpClient *http.Client

	mu     sync.Mutex
	cached map[string]string // source hash -> extracted directory
}

// NewCache creates a source cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("source: creating cache dir: %w", err)
	}
	return &Cache{Dir: dir, httpClient: http.DefaultClient, cached: make(map[string]string)}, nil
}

// Handle fetches pkg's source (if not already cached), verifies its hash,
// extracts it, and returns a handle to the extracted directory.
func (c *Cache) Handle(pkg recipe.Package) (*Handle, error) {
	if pkg.SourceURL == "" {
		return &Handle{Package: pkg}, nil
	}

	c.mu.Lock()
	if dir, ok := c.cached[pkg.SourceHash]; ok {
		c.mu.Unlock()
		return &Handle{Package: pkg, CachedAt: dir}, nil
	}
	c.mu.Unlock()

	archivePath := filepath.Join(c.Dir, fmt.Sprintf("%s-%s.src", pkg.Name, pkg.Version))
	if err := c.download(pkg.SourceURL, archivePath); err != nil {
		return nil, err
	}
	if pkg.SourceHash != "" {
		if err := verifySHA1(archivePath, pkg.SourceHash); err != nil {
			return nil, err
		}
	}

	destDir := filepath.Join(c.Dir, fmt.Sprintf("%s-%s", pkg.Name, pkg.Version))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("source: creating extract dir: %w", err)
	}
	if err := archiver.NewTgz().Extract(archivePath, destDir); err != nil {
		return nil, fmt.Errorf("source: extracting %s: %w", archivePath, err)
	}

	c.mu.Lock()
	c.cached[pkg.SourceHash] = destDir
	c.mu.Unlock()

	return &Handle{Package: pkg, CachedAt: destDir}, nil
}

func (c *Cache) download(url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("source: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source: fetching %s: unexpected status %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("source: creating %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("source: writing %s: %w", dest, err)
	}
	return nil
}

func verifySHA1(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("source: opening %s for hashing: %w", path, err)
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("source: hashing %s: %w", path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("source: hash mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}

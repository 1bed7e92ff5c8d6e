// Package index maintains the server's in-memory mapping of stored image
// files to their content hashes. The upload path consults it to discard
// duplicate content; it is rebuilt from disk on every process start.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Urpagin/DynamicWallpaper/internal/imagefile"
)

// Index is a thread-safe map from filename to content hash. The reverse
// map counts live files (plus in-flight reservations) per hash, so duplicate
// checks are O(1) and pre-existing duplicate content on disk is tolerated
// without ever deleting user files.
type Index struct {
	mu     sync.Mutex
	byName map[string]string // filename -> content hash
	byHash map[string]int    // content hash -> live files + reservations
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byName: make(map[string]string),
		byHash: make(map[string]int),
	}
}

// Build scans dir and hashes every regular, non-hidden file into a fresh
// index. Files are hashed in a streaming fashion; nothing is loaded whole
// into memory.
func Build(dir string, logger *slog.Logger) (*Index, error) {
	start := time.Now()

	names, err := imagefile.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning image directory: %w", err)
	}

	idx := New()
	var totalBytes int64
	for _, name := range names {
		path := filepath.Join(dir, name)

		hash, size, err := fileHash(path)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", path, err)
		}

		idx.byName[name] = hash
		idx.byHash[hash]++
		totalBytes += size

		if idx.byHash[hash] > 1 {
			logger.Warn("duplicate content already on disk", "file", name, "hash", hash)
		}
	}

	logger.Info("digest index built",
		"files", len(idx.byName),
		"total_mib", fmt.Sprintf("%.2f", float64(totalBytes)/(1024*1024)),
		"duration", time.Since(start).Round(time.Millisecond))

	return idx, nil
}

// Reserve atomically claims a hash slot. It returns false without changing
// anything if the hash is already held by a live file or another in-flight
// upload; a true return must be followed by Commit or Release.
func (i *Index) Reserve(hash string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.byHash[hash] > 0 {
		return false
	}
	i.byHash[hash] = 1
	return true
}

// Commit converts a reservation made by Reserve into a live entry for name.
func (i *Index) Commit(name, hash string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.byName[name] = hash
}

// Release drops a reservation whose upload did not complete.
func (i *Index) Release(hash string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.byHash[hash]--
	if i.byHash[hash] <= 0 {
		delete(i.byHash, hash)
	}
}

// Remove deletes the entry for name and reports whether it was indexed.
// The hash stays contained while other live files still carry the content.
func (i *Index) Remove(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	hash, ok := i.byName[name]
	if !ok {
		return false
	}
	delete(i.byName, name)

	i.byHash[hash]--
	if i.byHash[hash] <= 0 {
		delete(i.byHash, hash)
	}
	return true
}

// Contains reports whether any live file or in-flight upload holds hash.
func (i *Index) Contains(hash string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.byHash[hash] > 0
}

// Len returns the number of indexed files.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.byName)
}

// fileHash computes the hex-encoded SHA-256 digest of the file at path,
// returning the digest and the file size in bytes.
func fileHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

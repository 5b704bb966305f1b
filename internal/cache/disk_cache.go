package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskCache implements Backend with one directory per partition
type DiskCache struct {
	cacheDir string
}

// NewDisk creates a new disk backend rooted at cacheDir
func NewDisk(cacheDir string) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
	}
}

// GetPath returns the file path used for a key inside a partition.
// Keys of the form "METHOD URL" map to partition/scheme/host/path/METHOD_hash.bin,
// anything else maps to a hashed file name at the partition root. The hash
// covers the whole key, so two keys never share a file.
func (d *DiskCache) GetPath(partition, key string) string {
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	method, rawURL, ok := strings.Cut(key, " ")
	if ok {
		if parsedURL, err := url.Parse(rawURL); err == nil && parsedURL.Host != "" {
			// Build path: /cache_folder/partition/scheme/host/path/METHOD_hash.bin
			host := strings.TrimSuffix(strings.TrimSuffix(parsedURL.Host, ":80"), ":443")
			pathParts := []string{d.cacheDir, partition, sanitizeSegment(parsedURL.Scheme), sanitizeSegment(host)}

			escaped := strings.Trim(parsedURL.EscapedPath(), "/")
			if escaped != "" {
				for _, segment := range strings.Split(escaped, "/") {
					pathParts = append(pathParts, sanitizeSegment(segment))
				}
			}

			pathParts = append(pathParts, sanitizeSegment(method)+"_"+keyHash[:16]+".bin")
			return filepath.Join(pathParts...)
		}
	}

	return filepath.Join(d.cacheDir, partition, "_"+keyHash+".bin")
}

// sanitizeSegment keeps a URL segment from escaping its directory
func sanitizeSegment(segment string) string {
	if segment == "" || segment == "." || segment == ".." {
		return "_" + segment
	}
	return strings.ReplaceAll(segment, string(filepath.Separator), "_")
}

// Init ensures the cache directory exists
func (d *DiskCache) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

func (d *DiskCache) Open(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(d.cacheDir, partition), 0755)
}

// Get retrieves a cached value if it exists
func (d *DiskCache) Get(partition, key string) ([]byte, error) {
	if err := validatePartition(partition); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.GetPath(partition, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value in the cache
func (d *DiskCache) Set(partition, key string, data []byte) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	cachePath := d.GetPath(partition, key)

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write to a temporary file first so readers never see a partial entry
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached value: %s", cachePath)
	return nil
}

func (d *DiskCache) Delete(partition, key string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	err := os.Remove(d.GetPath(partition, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (d *DiskCache) Partitions() ([]string, error) {
	entries, err := os.ReadDir(d.cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *DiskCache) DeletePartition(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(d.cacheDir, partition))
}

func (d *DiskCache) Close() error {
	return nil
}

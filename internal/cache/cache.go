// Handles storage of cached HTTP responses in named partitions
package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Purpose is the logical role of a partition, independent of version
type Purpose string

const (
	Static  Purpose = "static"
	API     Purpose = "api"
	Image   Purpose = "image"
	Generic Purpose = "generic"
)

// Purposes lists every logical partition, in a stable order
var Purposes = []Purpose{Static, API, Image, Generic}

// PartitionName returns the version-qualified partition name for a purpose,
// e.g. "static-v1"
func PartitionName(p Purpose, version string) string {
	return string(p) + "-" + version
}

// Backend stores raw values in independent, named partitions.
// Partitions have no eviction: entries leave only through Delete or
// DeletePartition. Implementations must be safe for concurrent use.
type Backend interface {
	// initializes the backend (e.g., creates necessary directories)
	Init() error
	// creates the partition if it does not exist yet
	Open(partition string) error
	// retrieves the value stored under key.
	// returns nil, nil when the key or the partition does not exist
	Get(partition, key string) ([]byte, error)
	// stores value under key, creating the partition if needed.
	// an existing value is overwritten
	Set(partition, key string, value []byte) error
	// removes a single key; a missing key is not an error
	Delete(partition, key string) error
	// lists the names of existing partitions
	Partitions() ([]string, error)
	// removes a partition and all its entries; a missing partition is not an error
	DeletePartition(partition string) error
	Close() error
}

// New creates a backend of the given kind ("memory", "disk", "leveldb", "sqlite")
func New(kind, folder string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "disk":
		return NewDisk(folder), nil
	case "leveldb":
		return NewLevelDB(folder), nil
	case "sqlite":
		if folder == "" {
			return NewSQLite(""), nil
		}
		return NewSQLite(filepath.Join(folder, "cache.db")), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", kind)
	}
}

// ValidateVersion checks that version yields valid partition names
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("empty version")
	}
	if strings.ContainsAny(version, "/\\") {
		return fmt.Errorf("invalid version: %q", version)
	}
	for _, p := range Purposes {
		if err := validatePartition(PartitionName(p, version)); err != nil {
			return err
		}
	}
	return nil
}

func validatePartition(partition string) error {
	if partition == "" {
		return fmt.Errorf("empty partition name")
	}
	if strings.ContainsAny(partition, "/\\") || partition == "." || partition == ".." {
		return fmt.Errorf("invalid partition name: %q", partition)
	}
	return nil
}

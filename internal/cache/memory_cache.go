package cache

import (
	"sort"
	"sync"
)

// MemoryCache implements Backend in process memory
type MemoryCache struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
}

// NewMemory creates a new in-memory backend
func NewMemory() *MemoryCache {
	return &MemoryCache{
		partitions: make(map[string]map[string][]byte),
	}
}

func (m *MemoryCache) Init() error {
	return nil
}

func (m *MemoryCache) Open(partition string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[partition]; !ok {
		m.partitions[partition] = make(map[string][]byte)
	}
	return nil
}

func (m *MemoryCache) Get(partition, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.partitions[partition][key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryCache) Set(partition, key string, value []byte) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.partitions[partition]
	if !ok {
		entries = make(map[string][]byte)
		m.partitions[partition] = entries
	}
	entries[key] = stored
	return nil
}

func (m *MemoryCache) Delete(partition, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions[partition], key)
	return nil
}

func (m *MemoryCache) Partitions() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryCache) DeletePartition(partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, partition)
	return nil
}

func (m *MemoryCache) Close() error {
	return nil
}

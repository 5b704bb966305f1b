package strategy

import (
	"fmt"
	"slices"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/classify"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
)

// Name identifies a read/write policy
type Name string

const (
	CacheFirst           Name = config.StrategyCacheFirst
	NetworkFirst         Name = config.StrategyNetworkFirst
	StaleWhileRevalidate Name = config.StrategyStaleWhileRevalidate
	NetworkOnly          Name = config.StrategyNetworkOnly
	CacheOnly            Name = config.StrategyCacheOnly
)

func ParseName(s string) (Name, error) {
	if !slices.Contains(config.StrategyNames, s) {
		return "", fmt.Errorf("unknown strategy: %s", s)
	}
	return Name(s), nil
}

// Fallback is the response produced when neither network nor cache can serve
type Fallback int

const (
	// 503 text "asset not available"
	FallbackAssetUnavailable Fallback = iota
	// pre-cached placeholder image
	FallbackPlaceholderImage
	// 503 JSON body with an "error" field
	FallbackJSONError
	// pre-cached offline document
	FallbackOfflinePage
	// 503 text "network unavailable"
	FallbackText
)

// Binding is the policy applied to one request class. An empty Partition
// means responses are never read from or written to a partition.
type Binding struct {
	Strategy  Name
	Partition cache.Purpose
	Fallback  Fallback
}

// Table maps every request class to its binding
type Table map[classify.Class]Binding

// DefaultTable returns the stock class bindings
func DefaultTable() Table {
	return Table{
		classify.StaticAsset: {Strategy: CacheFirst, Partition: cache.Static, Fallback: FallbackAssetUnavailable},
		classify.API:         {Strategy: NetworkFirst, Partition: cache.API, Fallback: FallbackJSONError},
		classify.Image:       {Strategy: CacheFirst, Partition: cache.Image, Fallback: FallbackPlaceholderImage},
		classify.Navigation:  {Strategy: NetworkFirst, Fallback: FallbackOfflinePage},
		classify.Other:       {Strategy: NetworkFirst, Partition: cache.Generic, Fallback: FallbackText},
	}
}

// TableFromConfig rebinds the strategies named in overrides (class -> strategy).
// Partitions and fallbacks stay bound to their class.
func TableFromConfig(overrides map[string]string) (Table, error) {
	table := DefaultTable()
	for class, s := range overrides {
		binding, ok := table[classify.Class(class)]
		if !ok {
			return nil, fmt.Errorf("unknown request class: %s", class)
		}
		name, err := ParseName(s)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", class, err)
		}
		binding.Strategy = name
		table[classify.Class(class)] = binding
	}
	return table, nil
}

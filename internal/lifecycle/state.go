// Package lifecycle drives versions of the intermediary through
// install, waiting, active and redundant.
package lifecycle

import (
	"sync/atomic"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

type State int32

const (
	Installing State = iota
	Waiting
	Active
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Version is one deployment of the intermediary. Its partitions are
// suffixed with its name and never shared with another version.
type Version struct {
	Name  string
	state atomic.Int32
}

func newVersion(name string) *Version {
	v := &Version{Name: name}
	v.setState(Installing)
	return v
}

func (v *Version) State() State {
	return State(v.state.Load())
}

func (v *Version) setState(s State) {
	v.state.Store(int32(s))
}

func (v *Version) PartitionName(p cache.Purpose) string {
	return cache.PartitionName(p, v.Name)
}

// partitionNames returns the allow-list of the version: one partition per purpose
func (v *Version) partitionNames() []string {
	names := make([]string, 0, len(cache.Purposes))
	for _, p := range cache.Purposes {
		names = append(names, v.PartitionName(p))
	}
	return names
}

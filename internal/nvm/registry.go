// Package nvm tracks the association between persistent-memory chunk handles
// and the timeseries they hold. The data tier registers a (time, value)
// handle pair when it allocates chunk space for a series and unregisters it
// when the space is reclaimed.
package nvm

import (
	"fmt"
	"sync"

	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// SpaceKey identifies one registered chunk-space allocation.
type SpaceKey struct {
	TimeHandle  int64
	ValueHandle int64
}

// SpaceInfo describes the timeseries a chunk-space allocation belongs to.
type SpaceInfo struct {
	StorageGroup string
	Device       string
	Measurement  string
}

// SeriesPath returns the full dotted path of the series.
func (s SpaceInfo) SeriesPath() string {
	return s.Device + types.PathSeparator + s.Measurement
}

// Registry is an in-memory map from chunk-space handles to series identity.
type Registry struct {
	mu     sync.RWMutex
	spaces map[SpaceKey]SpaceInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{spaces: make(map[SpaceKey]SpaceInfo)}
}

// Register records a chunk-space allocation for a series. Re-registering the
// same handle pair overwrites the previous association.
func (r *Registry) Register(timeHandle, valueHandle int64, storageGroup, device, measurement string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spaces[SpaceKey{TimeHandle: timeHandle, ValueHandle: valueHandle}] = SpaceInfo{
		StorageGroup: storageGroup,
		Device:       device,
		Measurement:  measurement,
	}
}

// Unregister removes a chunk-space allocation. Unknown handle pairs are
// ignored.
func (r *Registry) Unregister(timeHandle, valueHandle int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spaces, SpaceKey{TimeHandle: timeHandle, ValueHandle: valueHandle})
}

// Lookup returns the series identity for a handle pair.
func (r *Registry) Lookup(timeHandle, valueHandle int64) (SpaceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.spaces[SpaceKey{TimeHandle: timeHandle, ValueHandle: valueHandle}]
	return info, ok
}

// Count returns the number of registered allocations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spaces)
}

// SpacesForSeries returns the handle pairs registered for a series path.
func (r *Registry) SpacesForSeries(device, measurement string) []SpaceKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []SpaceKey
	for key, info := range r.spaces {
		if info.Device == device && info.Measurement == measurement {
			keys = append(keys, key)
		}
	}
	return keys
}

// String renders a summary for diagnostics.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("nvm registry: %d registered chunk spaces", len(r.spaces))
}

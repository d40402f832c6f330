package pipeline

import (
	"sort"
	"sync"

	"github.com/kilianp07/depotsched/core/model"
)

// Repository stores live pipelines keyed by vehicle id.
type Repository interface {
	Get(vehicleID string) (model.ServicePipeline, bool)
	Put(p model.ServicePipeline)
	Delete(vehicleID string)
	List() []model.ServicePipeline
}

// MemoryRepository is a Repository backed by a map.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]model.ServicePipeline
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]model.ServicePipeline)}
}

func (r *MemoryRepository) Get(vehicleID string) (model.ServicePipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[vehicleID]
	if !ok {
		return model.ServicePipeline{}, false
	}
	return p.Clone(), true
}

func (r *MemoryRepository) Put(p model.ServicePipeline) {
	r.mu.Lock()
	r.items[p.VehicleID] = p.Clone()
	r.mu.Unlock()
}

func (r *MemoryRepository) Delete(vehicleID string) {
	r.mu.Lock()
	delete(r.items, vehicleID)
	r.mu.Unlock()
}

// List returns pipelines ordered by arrival time, then vehicle id.
func (r *MemoryRepository) List() []model.ServicePipeline {
	r.mu.RLock()
	out := make([]model.ServicePipeline, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivalTime.Equal(out[j].ArrivalTime) {
			return out[i].VehicleID < out[j].VehicleID
		}
		return out[i].ArrivalTime.Before(out[j].ArrivalTime)
	})
	return out
}

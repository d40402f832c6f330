// Package memory provides a mutex-guarded in-process Store. It is meant for
// single-node deployments and tests; the compare-and-swap methods give the
// same lost-race semantics as the SQL backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

// Store implements store.Store with maps.
type Store struct {
	mu       sync.RWMutex
	stalls   map[string]model.Stall
	jobs     map[string]model.Job
	jobSeq   map[string]int
	seq      int
	vehicles map[string]model.Vehicle
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		stalls:   map[string]model.Stall{},
		jobs:     map[string]model.Job{},
		jobSeq:   map[string]int{},
		vehicles: map[string]model.Vehicle{},
	}
}

func (s *Store) GetStall(_ context.Context, id string) (model.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stalls[id]
	if !ok {
		return model.Stall{}, fmt.Errorf("stall %s: %w", id, store.ErrNotFound)
	}
	return st, nil
}

func (s *Store) ListStalls(_ context.Context, f store.StallFilter) ([]model.Stall, error) {
	s.mu.RLock()
	res := make([]model.Stall, 0, len(s.stalls))
	for _, st := range s.stalls {
		if f.DepotID != "" && st.DepotID != f.DepotID {
			continue
		}
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		if len(f.Types) > 0 && !containsType(f.Types, st.StallType) {
			continue
		}
		res = append(res, st)
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].StallNumber != res[j].StallNumber {
			return res[i].StallNumber < res[j].StallNumber
		}
		return res[i].ID < res[j].ID
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *Store) PutStall(_ context.Context, st model.Stall) error {
	if st.ID == "" {
		return fmt.Errorf("stall id is required")
	}
	s.mu.Lock()
	s.stalls[st.ID] = st
	s.mu.Unlock()
	return nil
}

func (s *Store) UpdateStall(_ context.Context, st model.Stall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stalls[st.ID]; !ok {
		return fmt.Errorf("stall %s: %w", st.ID, store.ErrNotFound)
	}
	s.stalls[st.ID] = st
	return nil
}

func (s *Store) CompareAndSwapStall(_ context.Context, expected model.StallStatus, next model.Stall) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stalls[next.ID]
	if !ok {
		return false, fmt.Errorf("stall %s: %w", next.ID, store.ErrNotFound)
	}
	if cur.Status != expected {
		return false, nil
	}
	s.stalls[next.ID] = next
	return true, nil
}

func (s *Store) CompareAndSwapStallFor(_ context.Context, expected model.StallStatus, jobID string, next model.Stall) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stalls[next.ID]
	if !ok {
		return false, fmt.Errorf("stall %s: %w", next.ID, store.ErrNotFound)
	}
	if cur.Status != expected || cur.CurrentJobID != jobID {
		return false, nil
	}
	s.stalls[next.ID] = next
	return true, nil
}

func (s *Store) CreateJob(_ context.Context, j model.Job) error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.seq++
	s.jobSeq[j.ID] = s.seq
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return j.Clone(), nil
}

func (s *Store) ListJobs(_ context.Context, f store.JobFilter) ([]model.Job, error) {
	s.mu.RLock()
	res := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.State != "" && j.State != f.State {
			continue
		}
		res = append(res, j.Clone())
	}
	seq := make(map[string]int, len(res))
	for _, j := range res {
		seq[j.ID] = s.jobSeq[j.ID]
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return seq[res[i].ID] < seq[res[j].ID]
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *Store) CompareAndSwapJob(_ context.Context, expected model.JobState, next model.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[next.ID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", next.ID, store.ErrNotFound)
	}
	if cur.State != expected {
		return false, nil
	}
	s.jobs[next.ID] = next.Clone()
	return true, nil
}

func (s *Store) GetVehicle(_ context.Context, id string) (model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, store.ErrNotFound)
	}
	return v, nil
}

func (s *Store) PutVehicle(_ context.Context, v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	s.mu.Lock()
	s.vehicles[v.ID] = v
	s.mu.Unlock()
	return nil
}

func (s *Store) SetVehicleStatus(_ context.Context, id string, status model.VehicleStatus) error {
	s.mu.Lock()
	v := s.vehicles[id]
	v.ID = id
	v.Status = status
	s.vehicles[id] = v
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func containsType(types []model.StallType, t model.StallType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

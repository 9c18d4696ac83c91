package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"spikedeploy/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu             sync.RWMutex
	initialized    bool
	configurations map[string]model.Configuration
	recordings     map[string]model.Recording
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.configurations = make(map[string]model.Configuration)
	s.recordings = make(map[string]model.Recording)
	return nil
}

func (s *MemoryStore) SaveConfiguration(_ context.Context, config model.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.configurations[config.ID] = config.Clone()
	return nil
}

func (s *MemoryStore) GetConfiguration(_ context.Context, id string) (model.Configuration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config, ok := s.configurations[id]
	if !ok {
		return model.Configuration{}, false, nil
	}
	return config.Clone(), true, nil
}

func (s *MemoryStore) ListConfigurations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.configurations))
	for id := range s.configurations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveRecording(_ context.Context, recording model.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.recordings[recording.ID] = cloneRecording(recording)
	return nil
}

func (s *MemoryStore) GetRecording(_ context.Context, id string) (model.Recording, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recording, ok := s.recordings[id]
	if !ok {
		return model.Recording{}, false, nil
	}
	return cloneRecording(recording), true, nil
}

func cloneRecording(r model.Recording) model.Recording {
	out := r
	out.Channels = make([][]float64, len(r.Channels))
	for i, values := range r.Channels {
		out.Channels[i] = append([]float64(nil), values...)
	}
	if r.Telemetry != nil {
		out.Telemetry = make(map[string]float64, len(r.Telemetry))
		for k, v := range r.Telemetry {
			out.Telemetry[k] = v
		}
	}
	return out
}

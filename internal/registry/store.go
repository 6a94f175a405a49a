package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/askidmobile/voxstream/internal/embedding"
	"github.com/askidmobile/voxstream/internal/errs"
)

// Store is the Speaker Registry's durable backing: one JSON file per
// speaker name under dataDir, each written atomically via a temp-file
// rename, the same pattern the teacher's Store uses for its single
// speakers.json.
type Store struct {
	dataDir string
	mu      sync.RWMutex
	cache   map[string]Profile
}

// NewStore opens (or creates) a registry rooted at dataDir, eagerly loading
// every persisted profile into memory so reads never hit disk.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errs.Wrap(errs.RegistryIoError, "failed to create registry directory", err)
	}

	s := &Store{
		dataDir: dataDir,
		cache:   make(map[string]Profile),
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errs.Wrap(errs.RegistryIoError, "failed to list registry directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dataDir, entry.Name()))
		if err != nil {
			log.Printf("[registry] skipping unreadable profile %s: %v", entry.Name(), err)
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			log.Printf("[registry] skipping corrupt profile %s: %v", entry.Name(), err)
			continue
		}
		if len(p.Embedding) != embedding.Dimensions {
			log.Printf("[registry] skipping profile %s: embedding has %d dimensions, want %d", entry.Name(), len(p.Embedding), embedding.Dimensions)
			continue
		}
		s.cache[p.Name] = p
	}

	log.Printf("[registry] loaded %d speaker profile(s) from %s", len(s.cache), dataDir)
	return s, nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

// GetAll returns a copy of every registered profile.
func (s *Store) GetAll() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Profile, 0, len(s.cache))
	for _, p := range s.cache {
		result = append(result, p)
	}
	return result
}

// Get returns the profile for a speaker name.
func (s *Store) Get(name string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[name]
	return p, ok
}

// Train creates a new profile, or folds the embedding into an existing one
// with the teacher's weighted-average update rule (old embedding weighted
// by min(seenCount, 10), new sample weighted 1, then re-normalized).
func (s *Store) Train(name string, embedding []float32) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.cache[name]
	if !ok {
		p := Profile{
			Name:       name,
			Embedding:  append([]float32(nil), embedding...),
			CreatedAt:  now,
			UpdatedAt:  now,
			LastSeenAt: now,
			SeenCount:  1,
		}
		if err := s.persist(p); err != nil {
			return Profile{}, err
		}
		s.cache[name] = p
		log.Printf("[registry] trained new speaker: %s", name)
		return p, nil
	}

	oldWeight := float32(min(existing.SeenCount, 10))
	newWeight := float32(1)
	totalWeight := oldWeight + newWeight

	blended := make([]float32, len(existing.Embedding))
	for i := range blended {
		blended[i] = (existing.Embedding[i]*oldWeight + embedding[i]*newWeight) / totalWeight
	}
	blended = normalizeVector(blended)

	existing.Embedding = blended
	existing.SeenCount++
	existing.LastSeenAt = now
	existing.UpdatedAt = now

	if err := s.persist(existing); err != nil {
		return Profile{}, err
	}
	s.cache[name] = existing
	log.Printf("[registry] updated speaker: %s (seenCount=%d)", name, existing.SeenCount)
	return existing, nil
}

// Delete removes a speaker's profile.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[name]; !ok {
		return errs.New(errs.RegistryIoError, fmt.Sprintf("speaker not found: %s", name))
	}

	if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.RegistryIoError, "failed to delete speaker profile", err)
	}
	delete(s.cache, name)
	log.Printf("[registry] deleted speaker: %s", name)
	return nil
}

// Count returns the number of registered speakers.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// persist writes a profile to its own file atomically via a temp-file
// rename, mirroring the teacher's saveUnsafe.
func (s *Store) persist(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errs.Wrap(errs.RegistryIoError, "failed to marshal speaker profile", err)
	}

	path := s.pathFor(p.Name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errs.Wrap(errs.RegistryIoError, "failed to write temp profile file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.RegistryIoError, "failed to rename temp profile file", err)
	}
	return nil
}

// normalizeVector scales a vector to unit length, returning it unchanged if
// it is (near) the zero vector.
func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 1e-10 {
		return v
	}

	norm := float32(1.0 / math.Sqrt(sumSq))
	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x * norm
	}
	return result
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/askidmobile/voxstream/internal/embedding"
)

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1.0
	return v
}

func TestTrainThenIdentify(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	emb := unitVector(8, 0)
	if _, err := store.Train("alice", emb); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	matcher := NewMatcher(store)
	match, ok := matcher.Identify(emb)
	if !ok {
		t.Fatal("Identify() found no match for a just-trained embedding")
	}
	if match.Profile.Name != "alice" {
		t.Errorf("Identify() matched %q, want alice", match.Profile.Name)
	}
	if match.Confidence != "high" {
		t.Errorf("Identify() confidence = %q, want high for an identical embedding", match.Confidence)
	}
}

func TestTrainPersistsAcrossNewStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Train("bob", unitVector(8, 1)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() reload error = %v", err)
	}
	if reloaded.Count() != 1 {
		t.Fatalf("reloaded Count() = %d, want 1", reloaded.Count())
	}
	p, ok := reloaded.Get("bob")
	if !ok {
		t.Fatal("reloaded store missing trained profile bob")
	}
	if p.SeenCount != 1 {
		t.Errorf("reloaded SeenCount = %d, want 1", p.SeenCount)
	}
}

func TestTrainUpdatesExistingProfile(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	if _, err := store.Train("carol", unitVector(4, 0)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	p2, err := store.Train("carol", unitVector(4, 0))
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if p2.SeenCount != 2 {
		t.Errorf("SeenCount after second train = %d, want 2", p2.SeenCount)
	}
}

func TestDeleteRemovesProfileAndFile(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	store.Train("dan", unitVector(4, 2))

	if err := store.Delete("dan"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := store.Get("dan"); ok {
		t.Error("Get() still finds profile after Delete()")
	}
	if _, err := os.Stat(filepath.Join(dir, "dan.json")); err == nil {
		t.Error("profile file still exists on disk after Delete()")
	}
}

func TestDeleteUnknownSpeakerErrors(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	if err := store.Delete("nobody"); err == nil {
		t.Fatal("Delete() of unknown speaker should error")
	}
}

func TestIdentifyEmptyRegistryNoMatch(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	matcher := NewMatcher(store)
	if _, ok := matcher.Identify(unitVector(4, 0)); ok {
		t.Error("Identify() on empty registry should find no match")
	}
}

func TestNewStoreSkipsDimensionMismatchedProfile(t *testing.T) {
	dir := t.TempDir()

	good := Profile{
		Name:       "good",
		Embedding:  unitVector(embedding.Dimensions, 0),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		LastSeenAt: time.Now(),
		SeenCount:  1,
	}
	bad := Profile{
		Name:       "bad",
		Embedding:  unitVector(embedding.Dimensions-1, 0), // one short of the required length
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		LastSeenAt: time.Now(),
		SeenCount:  1,
	}
	writeProfileFile(t, dir, good)
	writeProfileFile(t, dir, bad)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if _, ok := store.Get("good"); !ok {
		t.Error("NewStore() should load a profile with the correct embedding length")
	}
	if _, ok := store.Get("bad"); ok {
		t.Error("NewStore() should skip caching a profile with a mismatched embedding length")
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (dimension-mismatched profile must not be cached)", store.Count())
	}
}

func writeProfileFile(t *testing.T, dir string, p Profile) {
	t.Helper()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal profile fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, p.Name+".json"), data, 0644); err != nil {
		t.Fatalf("failed to write profile fixture: %v", err)
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := unitVector(4, 1)
	if sim := CosineSimilarity(v, v); sim < 0.999 {
		t.Errorf("CosineSimilarity(v, v) = %v, want ~1", sim)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := unitVector(4, 0)
	b := unitVector(4, 1)
	if sim := CosineSimilarity(a, b); sim > 0.001 {
		t.Errorf("CosineSimilarity(orthogonal) = %v, want ~0", sim)
	}
}

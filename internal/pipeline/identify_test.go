package pipeline

import (
	"math"
	"testing"

	"github.com/askidmobile/voxstream/internal/audio"
	"github.com/askidmobile/voxstream/internal/embedding"
	"github.com/askidmobile/voxstream/internal/registry"
)

func toneWAV(freq float64, sampleRate, numSamples int) []byte {
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return audio.EncodeWAV(audio.Window{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
		SampleBits: 16,
	})
}

func TestIdentifyNoMatcherReturnsFallbackConfidence(t *testing.T) {
	data := toneWAV(220, 16000, 16000*4)

	result, err := Identify(data, "clip.wav", nil, 1, 4, registry.ThresholdMedium)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if result.TotalSpeakers == 0 {
		t.Fatal("expected at least one speaker cluster")
	}
	for _, s := range result.Speakers {
		if s.Name != nil {
			t.Errorf("expected no matcher name, got %v", *s.Name)
		}
		if s.Confidence != FallbackSpeakerConfidence {
			t.Errorf("Confidence = %v, want fallback %v", s.Confidence, FallbackSpeakerConfidence)
		}
		if _, ok := s.VoiceCharacteristics["pitch_mean_hz"]; !ok {
			t.Error("expected pitch_mean_hz in voice characteristics")
		}
		if _, ok := s.VoiceCharacteristics["pitch_variance_hz"]; !ok {
			t.Error("expected pitch_variance_hz in voice characteristics")
		}
		if _, ok := s.VoiceCharacteristics["volume_rms"]; !ok {
			t.Error("expected volume_rms in voice characteristics")
		}
		if _, ok := s.VoiceCharacteristics["speaking_time"]; !ok {
			t.Error("expected speaking_time in voice characteristics")
		}
	}
}

func TestIdentifyMatchesRegisteredSpeaker(t *testing.T) {
	store, err := registry.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	matcher := registry.NewMatcher(store)

	data := toneWAV(220, 16000, 16000*4)
	win, _, err := audio.Decode(data, "clip.wav")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	windowSamples := int(diarizationWindowSeconds * float64(win.SampleRate))
	emb := embedding.Extract(win.Samples[:windowSamples], win.SampleRate)
	if _, err := store.Train("dana", emb); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	result, err := Identify(data, "clip.wav", matcher, 1, 4, registry.ThresholdMedium)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	var matched bool
	for _, s := range result.Speakers {
		if s.Name != nil && *s.Name == "dana" {
			matched = true
		}
	}
	if !matched {
		t.Error("expected the trained speaker 'dana' to be matched")
	}
}

// TestIdentifyHonorsConfiguredThreshold trains a profile against one tone and
// identifies a clip of a different tone, so the two embeddings land at some
// middling cosine similarity rather than a clean match or clean mismatch.
// It measures that similarity directly (rather than assuming a fixed value,
// since the exact number depends on the mel-filterbank's numeric output) and
// then checks both sides of it: a threshold set just above the measured
// similarity must suppress the match, and a threshold set just below it must
// allow it - exercising the threshold parameter Identify now forwards to
// matcher.IdentifyAll instead of the old hardcoded ThresholdMin.
func TestIdentifyHonorsConfiguredThreshold(t *testing.T) {
	store, err := registry.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	matcher := registry.NewMatcher(store)

	trainedEmb := embedding.Extract(toneSamples(220, 16000, 16000*2), 16000)
	if _, err := store.Train("dana", trainedEmb); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	data := audio.EncodeWAV(audio.Window{Samples: toneSamples(240, 16000, 16000*4), SampleRate: 16000, Channels: 1, SampleBits: 16})
	clipEmb := embedding.Extract(toneSamples(240, 16000, 16000*2), 16000)
	similarity := registry.CosineSimilarity(clipEmb, trainedEmb)

	above := similarity + 0.05
	result, err := Identify(data, "clip.wav", matcher, 1, 4, above)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	for _, s := range result.Speakers {
		if s.Name != nil {
			t.Errorf("threshold %.2f above measured similarity %.2f: expected no match, got %q", above, similarity, *s.Name)
		}
	}

	below := similarity - 0.05
	if below < 0 {
		below = 0
	}
	result, err = Identify(data, "clip.wav", matcher, 1, 4, below)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	var matched bool
	for _, s := range result.Speakers {
		if s.Name != nil && *s.Name == "dana" {
			matched = true
		}
	}
	if !matched {
		t.Errorf("threshold %.2f below measured similarity %.2f: expected 'dana' to be matched", below, similarity)
	}
}

func toneSamples(freq float64, sampleRate, numSamples int) []float32 {
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

func TestIdentifyEmptyAudioNoSpeakers(t *testing.T) {
	data := audio.EncodeWAV(audio.Window{
		Samples:    nil,
		SampleRate: 16000,
		Channels:   1,
		SampleBits: 16,
	})

	result, err := Identify(data, "clip.wav", nil, 1, 4, registry.ThresholdMedium)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if result.TotalSpeakers != 0 {
		t.Errorf("TotalSpeakers = %d, want 0", result.TotalSpeakers)
	}
}

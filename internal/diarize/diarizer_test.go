package diarize

import "testing"

func vec(dim, hot int, noise float32) []float32 {
	v := make([]float32, dim)
	v[hot] = 1.0 - noise
	for i := range v {
		if i != hot {
			v[i] = noise / float32(dim-1)
		}
	}
	return v
}

func TestDiarizeSingleEmbedding(t *testing.T) {
	results := Diarize([][]float32{vec(8, 0, 0)}, 0, 0)
	if len(results) != 1 {
		t.Fatalf("Diarize() returned %d results, want 1", len(results))
	}
	if results[0].SpeakerID != 0 {
		t.Errorf("SpeakerID = %d, want 0", results[0].SpeakerID)
	}
}

func TestDiarizeEmptyInput(t *testing.T) {
	results := Diarize(nil, 0, 0)
	if len(results) != 0 {
		t.Fatalf("Diarize(nil) returned %d results, want 0", len(results))
	}
}

func TestDiarizeSeparatesDistinctSpeakers(t *testing.T) {
	embeddings := [][]float32{
		vec(8, 0, 0.01), vec(8, 0, 0.02), vec(8, 0, 0.01),
		vec(8, 4, 0.01), vec(8, 4, 0.02), vec(8, 4, 0.01),
	}
	results := Diarize(embeddings, 2, 2)

	first := results[0].SpeakerID
	for i := 0; i < 3; i++ {
		if results[i].SpeakerID != first {
			t.Errorf("segment %d speaker = %d, want all of first group = %d", i, results[i].SpeakerID, first)
		}
	}
	second := results[3].SpeakerID
	if second == first {
		t.Error("second group was not separated from first group")
	}
	for i := 3; i < 6; i++ {
		if results[i].SpeakerID != second {
			t.Errorf("segment %d speaker = %d, want all of second group = %d", i, results[i].SpeakerID, second)
		}
	}
}

func TestDiarizeLabelsOrderedByFirstOccurrence(t *testing.T) {
	embeddings := [][]float32{
		vec(8, 4, 0.01), vec(8, 0, 0.01), vec(8, 4, 0.02), vec(8, 0, 0.02),
	}
	results := Diarize(embeddings, 2, 2)
	if results[0].SpeakerID != 0 {
		t.Errorf("first segment's speaker ID = %d, want 0 (first occurrence)", results[0].SpeakerID)
	}
	if results[1].SpeakerID != 1 {
		t.Errorf("second segment's speaker ID = %d, want 1", results[1].SpeakerID)
	}
}

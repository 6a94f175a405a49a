// Package pipeline implements the Batch Pipeline: end-to-end processing of
// a complete audio blob for file-upload callers, grounded on the teacher's
// ai/pipeline.go stage order (codec -> quality -> transcribe -> diarize)
// generalized to call through the transcribe.Backend interface.
package pipeline

import (
	"github.com/askidmobile/voxstream/internal/audio"
)

// TranscriptSegment is one recognized, optionally speaker-attributed span.
type TranscriptSegment struct {
	ID         string
	Text       string
	StartMS    int64
	EndMS      int64
	Speaker    *string
	Confidence float32
	Language   string
}

// Speaker is a diarized cluster, optionally matched to a registry name.
type Speaker struct {
	ID                   int
	Name                 *string
	Confidence           float32
	SegmentIDs           []string
	VoiceCharacteristics map[string]float64
}

// ProcessResult mirrors spec.md's VoiceProcessingResponse.
type ProcessResult struct {
	ID               string
	Status           string
	Transcript       string
	Segments         []TranscriptSegment
	Speakers         []Speaker
	Metadata         audio.Metadata
	Confidence       float32
	ProcessingTimeMS int64
	LanguageDetected string
}

// IdentifyResult mirrors spec.md's SpeakerIdentificationResult.
type IdentifyResult struct {
	Speakers         []Speaker
	TotalSpeakers    int
	Confidence       float32
	ProcessingTimeMS int64
	MethodUsed       string
}

// FallbackSpeakerConfidence is assigned to a diarized cluster that the
// registry could not match to any known name - spec.md §3's "otherwise
// confidence is the fallback default (0.5)".
const FallbackSpeakerConfidence float32 = 0.5

// Package transcribe implements the Transcription Backend: a pluggable
// speech-to-text capability set selected by configuration, generalized
// from the teacher's TranscriptionEngine interface (ai/engine.go) which
// picks between a Whisper and a GigaAM engine by EngineType. This package
// picks between a remote ASR daemon, a local recognizer, and a
// last-resort fallback by Variant.
package transcribe

import "context"

// Variant identifies which backend implementation is active.
type Variant string

const (
	VariantRemote   Variant = "remote"
	VariantLocal    Variant = "local"
	VariantFallback Variant = "fallback"
)

// Confidence defaults per variant, matching how much trust each backend's
// output deserves downstream.
const (
	ConfidenceRemote   float32 = 0.9
	ConfidenceLocal    float32 = 0.8
	ConfidenceFallback float32 = 0.7
)

// Segment is one recognized span of speech.
type Segment struct {
	StartMS    int64
	EndMS      int64
	Text       string
	Confidence float32
}

// Result is the full output of a transcription call.
type Result struct {
	Text       string
	Segments   []Segment
	Confidence float32
	Backend    Variant
	Language   string
}

// Backend is the capability every transcription implementation exposes.
// samples are canonical 16kHz mono float32 PCM, matching the teacher's
// TranscriptionEngine.Transcribe contract.
type Backend interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)
	Variant() Variant
	Name() string
}

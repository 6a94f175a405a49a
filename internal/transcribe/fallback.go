package transcribe

import "context"

// FallbackBackend is the simplest recognizer: it submits the whole window
// at once and returns a single segment spanning it, with the spec's flat
// 0.7 confidence. Grounded on the teacher's simplest VAD path
// (session/vad.go) in spirit - no segmentation, no per-word timing.
type FallbackBackend struct{}

// NewFallbackBackend builds a FallbackBackend.
func NewFallbackBackend() *FallbackBackend { return &FallbackBackend{} }

func (b *FallbackBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{Backend: VariantFallback}, nil
	}

	endMS := int64(len(samples)) * 1000 / int64(sampleRate)
	text := "[unrecognized speech]"

	return Result{
		Text: text,
		Segments: []Segment{
			{StartMS: 0, EndMS: endMS, Text: text, Confidence: ConfidenceFallback},
		},
		Confidence: ConfidenceFallback,
		Backend:    VariantFallback,
		Language:   "en",
	}, nil
}

func (b *FallbackBackend) Variant() Variant { return VariantFallback }
func (b *FallbackBackend) Name() string     { return "fallback" }

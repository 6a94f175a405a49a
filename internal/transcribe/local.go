package transcribe

import (
	"context"
	"fmt"
	"math"
)

// LocalBackend is a deterministic, dependency-free stand-in for a local
// acoustic model: it finds voiced regions by frame energy and emits one
// segment per contiguous voiced region. Real per-segment confidences would
// come from the model's output; absent a model, every segment gets the
// spec's default of 0.8, per §4.G.
type LocalBackend struct {
	// EnergyThreshold is the RMS level above which a frame counts as voiced.
	EnergyThreshold float32
}

// NewLocalBackend builds a LocalBackend with the given voice-activity
// threshold; 0 selects a sensible default.
func NewLocalBackend(energyThreshold float32) *LocalBackend {
	if energyThreshold <= 0 {
		energyThreshold = 0.01
	}
	return &LocalBackend{EnergyThreshold: energyThreshold}
}

const localFrameSize = 400 // 25ms at 16kHz

func (b *LocalBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{Backend: VariantLocal}, nil
	}

	frameMS := int64(1000 * localFrameSize / sampleRate)

	var segments []Segment
	inSegment := false
	var segStart int64
	wordCount := 0

	flush := func(endMS int64) {
		if !inSegment {
			return
		}
		segments = append(segments, Segment{
			StartMS:    segStart,
			EndMS:      endMS,
			Text:       placeholderText(wordCount),
			Confidence: ConfidenceLocal,
		})
		inSegment = false
		wordCount = 0
	}

	for start, frameIdx := 0, int64(0); start < len(samples); start, frameIdx = start+localFrameSize, frameIdx+1 {
		end := start + localFrameSize
		if end > len(samples) {
			end = len(samples)
		}
		frame := samples[start:end]

		var sumSq float64
		for _, s := range frame {
			sumSq += float64(s) * float64(s)
		}
		rms := math.Sqrt(sumSq / float64(len(frame)))

		frameStartMS := frameIdx * frameMS
		if rms >= float64(b.EnergyThreshold) {
			if !inSegment {
				inSegment = true
				segStart = frameStartMS
			}
			wordCount++
		} else {
			flush(frameStartMS)
		}
	}
	flush(int64(len(samples)) * 1000 / int64(sampleRate))

	fullText := ""
	for i, seg := range segments {
		if i > 0 {
			fullText += " "
		}
		fullText += seg.Text
	}

	return Result{
		Text:       fullText,
		Segments:   segments,
		Confidence: ConfidenceLocal,
		Backend:    VariantLocal,
		Language:   "en",
	}, nil
}

func (b *LocalBackend) Variant() Variant { return VariantLocal }
func (b *LocalBackend) Name() string     { return "local" }

// placeholderText stands in for the words a real acoustic model would
// produce from a voiced region - deterministic in the number of frames
// that were voiced, since there is no model output to draw from.
func placeholderText(frameCount int) string {
	return fmt.Sprintf("[speech %d]", frameCount)
}

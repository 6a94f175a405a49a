package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/askidmobile/voxstream/internal/audio"
	"github.com/askidmobile/voxstream/internal/errs"
	"github.com/askidmobile/voxstream/internal/transcribe"
)

// Process runs the Batch Pipeline over one complete audio blob: Codec ->
// Quality Assessor -> (if SNR below threshold) Noise Suppressor ->
// Transcription Backend -> response assembly. backends are tried in order;
// a BackendUnavailable error falls through to the next one, per §7.
func Process(ctx context.Context, id string, data []byte, filename string, snrThresholdDB float64, backends ...transcribe.Backend) (ProcessResult, error) {
	start := time.Now()

	win, meta, err := audio.Decode(data, filename)
	if err != nil {
		return ProcessResult{ID: id, Status: "failed"}, err
	}

	quality := audio.AssessQuality(win)
	if quality.SNR < snrThresholdDB {
		win = audio.Suppress(win)
		quality = audio.AssessQuality(win)
	}

	qualityScore := quality.Clarity
	noiseLevel := clip01(1 - quality.Clarity)
	meta.QualityScore = &qualityScore
	meta.NoiseLevel = &noiseLevel

	result, err := transcribeWithFallthrough(ctx, win.Samples, win.SampleRate, backends)
	if err != nil {
		return ProcessResult{ID: id, Status: "failed", Metadata: meta}, err
	}

	segments := make([]TranscriptSegment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = TranscriptSegment{
			ID:         fmt.Sprintf("%s-seg-%d", id, i),
			Text:       s.Text,
			StartMS:    s.StartMS,
			EndMS:      s.EndMS,
			Confidence: s.Confidence,
			Language:   result.Language,
		}
	}

	return ProcessResult{
		ID:               id,
		Status:           "completed",
		Transcript:       result.Text,
		Segments:         segments,
		Metadata:         meta,
		Confidence:       result.Confidence,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		LanguageDetected: result.Language,
	}, nil
}

// transcribeWithFallthrough tries each backend in order, moving to the
// next only on a BackendUnavailable error - any other error is returned
// immediately.
func transcribeWithFallthrough(ctx context.Context, samples []float32, sampleRate int, backends []transcribe.Backend) (transcribe.Result, error) {
	if len(backends) == 0 {
		return transcribe.Result{}, errs.New(errs.BackendUnavailable, "no transcription backend configured")
	}

	var lastErr error
	for _, b := range backends {
		result, err := b.Transcribe(ctx, samples, sampleRate)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if e, ok := err.(*errs.Error); !ok || e.Kind != errs.BackendUnavailable {
			return transcribe.Result{}, err
		}
		log.Printf("[pipeline] backend %s unavailable, falling through: %v", b.Name(), err)
	}
	return transcribe.Result{}, lastErr
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/askidmobile/voxstream/internal/audio"
	"github.com/askidmobile/voxstream/internal/diarize"
	"github.com/askidmobile/voxstream/internal/embedding"
	"github.com/askidmobile/voxstream/internal/registry"
)

// diarizationWindowSeconds is the sub-window size embeddings are extracted
// over before clustering, matching the default chunk_duration_s.
const diarizationWindowSeconds = 2.0

// Identify runs the on-demand diarization path: decode a complete blob,
// split it into fixed windows, extract an embedding per window, cluster
// them into speakers, and match each cluster against the registry.
func Identify(data []byte, filename string, matcher *registry.Matcher, minSpeakers, maxSpeakers int, matchThreshold float32) (IdentifyResult, error) {
	start := time.Now()

	win, _, err := audio.Decode(data, filename)
	if err != nil {
		return IdentifyResult{}, err
	}

	windowSamples := int(diarizationWindowSeconds * float64(win.SampleRate))
	var embeddings [][]float32
	var windows [][]float32

	for s := 0; s+windowSamples <= len(win.Samples); s += windowSamples {
		chunk := win.Samples[s : s+windowSamples]
		emb := embedding.Extract(chunk, win.SampleRate)
		embeddings = append(embeddings, emb)
		windows = append(windows, chunk)
	}
	if len(windows) == 0 && len(win.Samples) > 0 {
		embeddings = append(embeddings, embedding.Extract(win.Samples, win.SampleRate))
		windows = append(windows, win.Samples)
	}

	clustered := diarize.Diarize(embeddings, minSpeakers, maxSpeakers)

	type clusterAccum struct {
		segmentIDs []string
		embeddings [][]float32
		windows    [][]float32
	}
	clusters := make(map[int]*clusterAccum)
	for i, r := range clustered {
		acc, ok := clusters[r.SpeakerID]
		if !ok {
			acc = &clusterAccum{}
			clusters[r.SpeakerID] = acc
		}
		acc.segmentIDs = append(acc.segmentIDs, fmt.Sprintf("window-%d", i))
		acc.embeddings = append(acc.embeddings, embeddings[i])
		acc.windows = append(acc.windows, windows[i])
	}

	speakers := make([]Speaker, 0, len(clusters))
	for id, acc := range clusters {
		avgEmbedding := averageEmbedding(acc.embeddings)

		var name *string
		confidence := float32(FallbackSpeakerConfidence)
		if matcher != nil {
			if matches := matcher.IdentifyAll(avgEmbedding, matchThreshold); len(matches) > 0 {
				n := matches[0].Profile.Name
				name = &n
				confidence = matches[0].Similarity
			}
		}

		speakers = append(speakers, Speaker{
			ID:                   id,
			Name:                 name,
			Confidence:           confidence,
			SegmentIDs:           acc.segmentIDs,
			VoiceCharacteristics: voiceCharacteristics(acc.windows, win.SampleRate),
		})
	}

	return IdentifyResult{
		Speakers:         speakers,
		TotalSpeakers:    len(speakers),
		Confidence:       meanSpeakerConfidence(speakers),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		MethodUsed:       "agglomerative-silhouette",
	}, nil
}

func averageEmbedding(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	avg := make([]float32, dim)
	for _, e := range embeddings {
		for i := 0; i < dim && i < len(e); i++ {
			avg[i] += e[i]
		}
	}
	for i := range avg {
		avg[i] /= float32(len(embeddings))
	}
	return avg
}

// voiceCharacteristics approximates pitch mean/variance from per-window
// zero-crossing rate (a cheap proxy that needs no pitch tracker) - one
// estimate per sub-window gives a distribution to take variance over,
// rather than one scalar over the whole cluster - plus RMS volume and
// total speaking time computed over every sample in the cluster.
func voiceCharacteristics(windows [][]float32, sampleRate int) map[string]float64 {
	if len(windows) == 0 {
		return map[string]float64{}
	}

	pitches := make([]float64, 0, len(windows))
	var sumSq float64
	var totalSamples int
	var durationS float64
	for _, w := range windows {
		if len(w) == 0 {
			continue
		}
		pitches = append(pitches, zeroCrossingPitch(w, sampleRate))
		for _, s := range w {
			sumSq += float64(s) * float64(s)
		}
		totalSamples += len(w)
		durationS += float64(len(w)) / float64(sampleRate)
	}
	if totalSamples == 0 {
		return map[string]float64{}
	}

	pitchMean, pitchVariance := meanAndVariance(pitches)
	rms := math.Sqrt(sumSq / float64(totalSamples))

	return map[string]float64{
		"pitch_mean_hz":     pitchMean,
		"pitch_variance_hz": pitchVariance,
		"volume_rms":        rms,
		"speaking_time":     durationS,
	}
}

func zeroCrossingPitch(samples []float32, sampleRate int) float64 {
	var zeroCrossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			zeroCrossings++
		}
	}
	durationS := float64(len(samples)) / float64(sampleRate)
	if durationS == 0 {
		return 0
	}
	return float64(zeroCrossings) / (2 * durationS)
}

func meanAndVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, variance
}

func meanSpeakerConfidence(speakers []Speaker) float32 {
	if len(speakers) == 0 {
		return 0
	}
	var sum float32
	for _, s := range speakers {
		sum += s.Confidence
	}
	return sum / float32(len(speakers))
}

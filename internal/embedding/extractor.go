package embedding

import "math"

// Dimensions is the fixed length of every embedding this package produces:
// 13 MFCC means, 13 MFCC standard deviations, 13 mean frame-to-frame deltas.
const Dimensions = 39

const (
	numMFCC            = 13
	extractorNFFT      = 2048
	extractorHopLength = 512
)

// Extract derives a 39-dimension voiceprint embedding from a canonical
// (16kHz mono) sample buffer, grounded on the original speaker identification
// engine's feature set: mean and standard deviation of 13 MFCCs across
// frames, plus the mean of their frame-to-frame deltas.
//
// On any numerical failure - too few samples to form a single frame - it
// returns a zero vector rather than an error, matching the original
// engine's best-effort fallback so a noisy chunk never aborts the pipeline.
func Extract(samples []float32, sampleRate int) []float32 {
	zero := make([]float32, Dimensions)

	if len(samples) < extractorNFFT {
		return zero
	}

	config := melConfig{
		sampleRate: sampleRate,
		nMels:      40,
		hopLength:  extractorHopLength,
		winLength:  extractorNFFT,
		nFFT:       extractorNFFT,
	}
	proc := newMelProcessor(config)
	logMelFrames := proc.compute(samples)
	if len(logMelFrames) == 0 {
		return zero
	}

	mfccFrames := make([][]float64, len(logMelFrames))
	for i, frame := range logMelFrames {
		mfccFrames[i] = dct2(frame, numMFCC)
	}

	mean := make([]float64, numMFCC)
	for _, frame := range mfccFrames {
		for c := 0; c < numMFCC; c++ {
			mean[c] += frame[c]
		}
	}
	for c := 0; c < numMFCC; c++ {
		mean[c] /= float64(len(mfccFrames))
	}

	std := make([]float64, numMFCC)
	for _, frame := range mfccFrames {
		for c := 0; c < numMFCC; c++ {
			d := frame[c] - mean[c]
			std[c] += d * d
		}
	}
	for c := 0; c < numMFCC; c++ {
		std[c] = math.Sqrt(std[c] / float64(len(mfccFrames)))
	}

	deltaMean := make([]float64, numMFCC)
	if len(mfccFrames) > 1 {
		for i := 1; i < len(mfccFrames); i++ {
			for c := 0; c < numMFCC; c++ {
				deltaMean[c] += mfccFrames[i][c] - mfccFrames[i-1][c]
			}
		}
		for c := 0; c < numMFCC; c++ {
			deltaMean[c] /= float64(len(mfccFrames) - 1)
		}
	}

	embedding := make([]float32, Dimensions)
	for c := 0; c < numMFCC; c++ {
		embedding[c] = float32(mean[c])
		embedding[numMFCC+c] = float32(std[c])
		embedding[2*numMFCC+c] = float32(deltaMean[c])
	}

	if !hasFiniteValues(embedding) {
		return zero
	}

	return embedding
}

func hasFiniteValues(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

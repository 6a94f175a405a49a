// Package embedding implements the Speaker Embedding Extractor: turning a
// canonical audio window into a fixed-length voiceprint vector via a
// log-mel/MFCC pipeline, adapted from the teacher's mel spectrogram
// processor and generalized to the mean/std/delta embedding the original
// speaker identification engine builds.
package embedding

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// melConfig mirrors the teacher's MelConfig, fixed to the canonical 16kHz
// rate this package always receives windows at.
type melConfig struct {
	sampleRate int
	nMels      int
	hopLength  int
	winLength  int
	nFFT       int
}

func defaultMelConfig(sampleRate int) melConfig {
	return melConfig{
		sampleRate: sampleRate,
		nMels:      40,
		hopLength:  sampleRate / 100, // 10ms
		winLength:  sampleRate / 40,  // 25ms
		nFFT:       2048,
	}
}

// melProcessor computes a log-mel spectrogram from a sample buffer, left-
// aligned (center=false) the way the teacher's non-centered GigaAM mode does.
type melProcessor struct {
	config     melConfig
	melFilters [][]float64
	window     []float64
	fft        *fourier.FFT
}

func newMelProcessor(config melConfig) *melProcessor {
	return &melProcessor{
		config:     config,
		melFilters: createMelFilterbank(config.nFFT, config.nMels, config.sampleRate),
		window:     createHannWindow(config.winLength),
		fft:        fourier.NewFFT(config.nFFT),
	}
}

// compute returns the log-mel spectrogram as [frame][mel bin].
func (p *melProcessor) compute(samples []float32) [][]float64 {
	var numFrames int
	if len(samples) >= p.config.winLength {
		numFrames = (len(samples)-p.config.winLength)/p.config.hopLength + 1
	} else {
		numFrames = 1
	}

	melSpec := make([][]float64, numFrames)

	for frame := 0; frame < numFrames; frame++ {
		frameStart := frame * p.config.hopLength

		frameData := make([]float64, p.config.nFFT)
		for i := 0; i < p.config.winLength; i++ {
			sampleIdx := frameStart + i
			if sampleIdx >= 0 && sampleIdx < len(samples) {
				frameData[i] = float64(samples[sampleIdx]) * p.window[i]
			}
		}

		coeffs := p.fft.Coefficients(nil, frameData)

		powerSpec := make([]float64, p.config.nFFT/2+1)
		for i := 0; i <= p.config.nFFT/2; i++ {
			re := real(coeffs[i])
			im := imag(coeffs[i])
			powerSpec[i] = re*re + im*im
		}

		melSpec[frame] = make([]float64, p.config.nMels)
		for m := 0; m < p.config.nMels; m++ {
			sum := 0.0
			for k := 0; k < len(powerSpec); k++ {
				sum += powerSpec[k] * p.melFilters[m][k]
			}
			if sum < 1e-9 {
				sum = 1e-9
			}
			melSpec[frame][m] = math.Log(sum)
		}
	}

	return melSpec
}

func createMelFilterbank(nFFT, nMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	numBins := nFFT/2 + 1
	fMax := float64(sampleRate) / 2.0

	allFreqs := make([]float64, numBins)
	for i := 0; i < numBins; i++ {
		allFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	mMin := hzToMel(0)
	mMax := hzToMel(fMax)
	fPts := make([]float64, nMels+2)
	for i := 0; i < nMels+2; i++ {
		mel := mMin + float64(i)*(mMax-mMin)/float64(nMels+1)
		fPts[i] = melToHz(mel)
	}

	fDiff := make([]float64, nMels+1)
	for i := 0; i < nMels+1; i++ {
		fDiff[i] = fPts[i+1] - fPts[i]
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		filters[m] = make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			freq := allFreqs[k]
			lower := (freq - fPts[m]) / fDiff[m]
			upper := (fPts[m+2] - freq) / fDiff[m+1]
			val := math.Min(lower, upper)
			if val < 0 {
				val = 0
			}
			filters[m][k] = val
		}
	}

	return filters
}

func createHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// dct2 applies a type-II discrete cosine transform truncated to numOut
// coefficients, turning a log-mel frame into MFCCs the way librosa's
// mfcc() does internally.
func dct2(logMel []float64, numOut int) []float64 {
	n := len(logMel)
	out := make([]float64, numOut)
	for k := 0; k < numOut; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += logMel[i] * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(n))
		}
		out[k] = sum
	}
	return out
}

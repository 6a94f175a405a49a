package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	noiseFFTSize   = 1024
	noiseHopSize   = 512
	noiseOverSub   = 1.5  // over-subtraction factor
	noiseFloorGain = 0.05 // spectral floor, avoids musical-noise artifacts
)

// Suppress runs spectral subtraction noise reduction over a canonical
// window, estimating the noise spectrum from the first few frames (assumed
// to be a short leading silence/room-tone segment) the same way the original
// engine's noise reducer bootstraps its profile. Any failure - too short a
// window to build a noise profile - returns the input unchanged rather than
// erroring, since noise suppression is a best-effort enhancement.
func Suppress(w Window) Window {
	if len(w.Samples) < noiseFFTSize*2 {
		return w
	}

	fft := fourier.NewFFT(noiseFFTSize)
	noiseProfile := estimateNoiseProfile(fft, w.Samples)

	out := make([]float32, len(w.Samples))
	window := hannWindow(noiseFFTSize)

	for start := 0; start+noiseFFTSize <= len(w.Samples); start += noiseHopSize {
		frame := make([]float64, noiseFFTSize)
		for i := 0; i < noiseFFTSize; i++ {
			frame[i] = float64(w.Samples[start+i]) * window[i]
		}

		spectrum := fft.Coefficients(nil, frame)
		for i, c := range spectrum {
			mag := math.Hypot(real(c), imag(c))
			phase := math.Atan2(imag(c), real(c))

			cleanMag := mag - noiseOverSub*noiseProfile[i]
			floor := noiseFloorGain * mag
			if cleanMag < floor {
				cleanMag = floor
			}
			spectrum[i] = complex(cleanMag*math.Cos(phase), cleanMag*math.Sin(phase))
		}

		cleaned := fft.Sequence(nil, spectrum)
		for i := 0; i < noiseFFTSize; i++ {
			// fft.Sequence does not normalize, so divide by the transform length.
			out[start+i] += float32(cleaned[i]/noiseFFTSize) * float32(window[i])
		}
	}

	return Window{
		Samples:    out,
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
		SampleBits: w.SampleBits,
	}
}

// estimateNoiseProfile averages the magnitude spectrum of the first few
// frames as a stand-in noise floor.
func estimateNoiseProfile(fft *fourier.FFT, samples []float32) []float64 {
	window := hannWindow(noiseFFTSize)
	profile := make([]float64, noiseFFTSize/2+1)

	framesToUse := 3
	used := 0
	for f := 0; f < framesToUse; f++ {
		start := f * noiseFFTSize
		if start+noiseFFTSize > len(samples) {
			break
		}
		frame := make([]float64, noiseFFTSize)
		for i := 0; i < noiseFFTSize; i++ {
			frame[i] = float64(samples[start+i]) * window[i]
		}
		spectrum := fft.Coefficients(nil, frame)
		for i, c := range spectrum {
			profile[i] += math.Hypot(real(c), imag(c))
		}
		used++
	}

	if used == 0 {
		return profile
	}
	for i := range profile {
		profile[i] /= float64(used)
	}
	return profile
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

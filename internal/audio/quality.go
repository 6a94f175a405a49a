package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectral band edges in Hz.
const (
	lowBandMinHz  = 80.0
	lowBandMaxHz  = 250.0
	midBandMaxHz  = 2000.0
	highBandMaxHz = 8000.0

	qualityFFTSize = 2048
	qualityEpsilon = 1e-10
)

// AssessQuality derives SNR, clarity, volume, spectral-band energy and
// distortion from a canonical window, grounded directly on the original
// voice engine's _assess_audio_quality formulas.
func AssessQuality(w Window) Quality {
	if len(w.Samples) == 0 {
		return Quality{}
	}

	meanSquare, variance := momentsOf(w.Samples)
	snr := 10 * math.Log10(meanSquare/(variance+qualityEpsilon))

	clarity := clip((snr+10)/30, 0, 1)
	volume := math.Sqrt(meanSquare)

	low, mid, high := spectralBandMagnitudes(w.Samples, w.SampleRate)

	std := math.Sqrt(variance)
	meanAbs := meanAbsOf(w.Samples)
	distortion := clip(std/(meanAbs+qualityEpsilon), 0, 1)

	return Quality{
		SNR:          snr,
		Clarity:      clarity,
		Volume:       volume,
		SpectralLow:  low,
		SpectralMid:  mid,
		SpectralHigh: high,
		Distortion:   distortion,
	}
}

// momentsOf returns mean(x^2) and the variance of x about its mean.
func momentsOf(samples []float32) (meanSquare, variance float64) {
	n := float64(len(samples))

	var sum, sumSquare float64
	for _, s := range samples {
		x := float64(s)
		sum += x
		sumSquare += x * x
	}
	mean := sum / n
	meanSquare = sumSquare / n

	var sumSqDev float64
	for _, s := range samples {
		d := float64(s) - mean
		sumSqDev += d * d
	}
	variance = sumSqDev / n
	return meanSquare, variance
}

func meanAbsOf(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// spectralBandMagnitudes returns the mean FFT bin magnitude in each of the
// low (80-250Hz), mid (250-2000Hz) and high (2000-8000Hz) bands, over the
// window's leading frame.
func spectralBandMagnitudes(samples []float32, sampleRate int) (low, mid, high float64) {
	n := qualityFFTSize
	if len(samples) < n {
		n = len(samples)
	}
	if n == 0 {
		return 0, 0, 0
	}

	windowed := make([]float64, n)
	for i := 0; i < n; i++ {
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = float64(samples[i]) * hann
	}

	fft := fourier.NewFFT(n)
	spectrum := fft.Coefficients(nil, windowed)

	binHz := float64(sampleRate) / float64(n)

	var lowSum, midSum, highSum float64
	var lowN, midN, highN int

	for i, c := range spectrum {
		mag := math.Hypot(real(c), imag(c))
		freq := float64(i) * binHz

		switch {
		case freq >= lowBandMinHz && freq <= lowBandMaxHz:
			lowSum += mag
			lowN++
		case freq > lowBandMaxHz && freq <= midBandMaxHz:
			midSum += mag
			midN++
		case freq > midBandMaxHz && freq <= highBandMaxHz:
			highSum += mag
			highN++
		}
	}

	if lowN > 0 {
		low = lowSum / float64(lowN)
	}
	if midN > 0 {
		mid = midSum / float64(midN)
	}
	if highN > 0 {
		high = highSum / float64(highN)
	}
	return low, mid, high
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

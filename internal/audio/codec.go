package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"github.com/askidmobile/voxstream/internal/errs"
)

// DetectFormat sniffs the container from a filename extension hint first,
// falling back to leading-byte signatures, and finally WAV as the default -
// mirrors the detection order of the original voice engine's format sniffer.
func DetectFormat(data []byte, filename string) Format {
	if filename != "" {
		ext := filename
		if idx := strings.LastIndexByte(filename, '.'); idx >= 0 {
			ext = strings.ToLower(filename[idx+1:])
		}
		switch ext {
		case "wav":
			return FormatWAV
		case "mp3":
			return FormatMP3
		case "flac":
			return FormatFLAC
		case "ogg":
			return FormatOGG
		}
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")), len(data) >= 2 && data[0] == 0xff && (data[1]&0xe0) == 0xe0:
		return FormatMP3
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	default:
		return FormatWAV
	}
}

// Decode converts raw bytes of the detected format into a canonical
// (16kHz/mono/16-bit) Window plus metadata about the source blob.
func Decode(data []byte, filename string) (Window, Metadata, error) {
	format := DetectFormat(data, filename)

	var samples []float32
	var srcRate, srcChannels int
	var err error

	switch format {
	case FormatWAV:
		samples, srcRate, srcChannels, err = decodeWAV(data)
	case FormatMP3:
		samples, srcRate, srcChannels, err = decodeMP3(data)
	default:
		return Window{}, Metadata{}, errs.New(errs.UnsupportedFormat, fmt.Sprintf("decoding %s containers is not supported", format))
	}
	if err != nil {
		return Window{}, Metadata{}, errs.Wrap(errs.DecodeError, "failed to decode audio", err)
	}

	mono := toMono(samples, srcChannels)
	canonical := Resample(mono, srcRate, CanonicalSampleRate)

	win := Window{
		Samples:    canonical,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
		SampleBits: CanonicalSampleBits,
	}

	meta := Metadata{
		Duration:   win.Duration(),
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
		Format:     format,
		SizeBytes:  len(data),
	}

	return win, meta, nil
}

// decodeWAV parses a PCM WAV file by hand. go-audio/wav is only reachable
// through the whisper.cpp sub-module's own go.mod, not this module's import
// graph, so the RIFF container is parsed the same way EncodeWAV below writes
// it - a hand-rolled chunk walk, symmetric with the encoder.
func decodeWAV(data []byte) ([]float32, int, int, error) {
	r := bytes.NewReader(data)

	var riffHdr [12]byte
	if _, err := io.ReadFull(r, riffHdr[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("truncated RIFF header: %w", err)
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a WAV file")
	}

	var (
		sampleRate    uint32
		channels      uint16
		bitsPerSample uint16
		pcm           []byte
		sawFmt        bool
	)

	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			break // EOF - stop scanning chunks
		}
		chunkID := string(chunkHdr[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, 0, fmt.Errorf("truncated fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too small")
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
		case "data":
			body := make([]byte, chunkSize)
			n, err := io.ReadFull(r, body)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, 0, 0, fmt.Errorf("truncated data chunk: %w", err)
			}
			pcm = body[:n]
		default:
			if _, err := r.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				break
			}
		}
		if chunkSize%2 == 1 {
			r.Seek(1, io.SeekCurrent)
		}
	}

	if !sawFmt || pcm == nil {
		return nil, 0, 0, fmt.Errorf("missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d", bitsPerSample)
	}
	if channels == 0 {
		channels = 1
	}

	numSamples := len(pcm) / 2
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768.0
	}

	return samples, int(sampleRate), int(channels), nil
}

// decodeMP3 decodes an MP3 blob using go-mp3, which always yields interleaved
// signed 16-bit stereo PCM - grounded on the teacher's MP3Reader.
func decodeMP3(data []byte) ([]float32, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil && len(pcm) == 0 {
		return nil, 0, 0, fmt.Errorf("failed to read mp3 pcm: %w", err)
	}

	numSamples := len(pcm) / 4 // 2 channels * 2 bytes
	samples := make([]float32, numSamples*2)
	for i := 0; i < numSamples; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		samples[i*2] = float32(left) / 32768.0
		samples[i*2+1] = float32(right) / 32768.0
	}

	return samples, dec.SampleRate(), 2, nil
}

// toMono averages interleaved channels down to a single channel.
func toMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample performs linear-interpolation resampling, the same approach the
// teacher's resampleLinear uses for its pure-Go, no-FFmpeg extraction path.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	resampled := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(samples) {
			resampled[i] = samples[srcIdx]*(1-frac) + samples[srcIdx+1]*frac
		} else if srcIdx < len(samples) {
			resampled[i] = samples[srcIdx]
		}
	}

	return resampled
}

// DecodeRawPCM16 turns headerless little-endian signed 16-bit PCM - the wire
// format streaming chunks arrive in, already at the canonical sample rate and
// channel count - into a canonical Window. A trailing odd byte (a chunk split
// mid-sample) is dropped rather than treated as an error.
func DecodeRawPCM16(pcm []byte, sampleRate, channels int) Window {
	numSamples := len(pcm) / 2
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return Window{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		SampleBits: CanonicalSampleBits,
	}
}

// EncodeWAV writes a canonical-format window out as a standard PCM WAV file,
// the format the codec round-trip test and the pipeline tests build their
// input clips with. Mirrors the teacher's WAVWriter header layout.
func EncodeWAV(w Window) []byte {
	dataSize := uint32(len(w.Samples) * 2)
	byteRate := uint32(w.SampleRate * w.Channels * (w.SampleBits / 8))
	blockAlign := uint16(w.Channels * (w.SampleBits / 8))

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(w.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(w.SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(w.SampleBits))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)

	for _, s := range w.Samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.Write(buf, binary.LittleEndian, int16(s*32767))
	}

	return buf.Bytes()
}

package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/askidmobile/voxstream/internal/errs"
)

// RemoteBackend calls a configurable remote ASR daemon over HTTP, standing
// in for the teacher's would-be remote whisper.cpp service. It posts raw
// little-endian PCM16 and expects a JSON transcript back - the same thin
// JSON-over-HTTP shape the teacher uses for its local LLM daemon client.
type RemoteBackend struct {
	Endpoint string
	Client   *http.Client
}

// NewRemoteBackend builds a RemoteBackend against endpoint, using a
// 30-second request timeout if client is nil.
func NewRemoteBackend(endpoint string, client *http.Client) *RemoteBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteBackend{Endpoint: endpoint, Client: client}
}

type remoteRequest struct {
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
}

type remoteResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		StartMS int64  `json:"start_ms"`
		EndMS   int64  `json:"end_ms"`
		Text    string `json:"text"`
	} `json:"segments"`
}

func (b *RemoteBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	body, err := json.Marshal(remoteRequest{SampleRate: sampleRate, PCM: pcm})
	if err != nil {
		return Result{}, errs.Wrap(errs.BackendUnavailable, "failed to encode remote transcription request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.Wrap(errs.BackendUnavailable, "failed to build remote transcription request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return Result{}, errs.Wrap(errs.BackendUnavailable, "remote transcription request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errs.New(errs.BackendUnavailable, fmt.Sprintf("remote transcription backend returned status %d", resp.StatusCode))
	}

	var rr remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Result{}, errs.Wrap(errs.BackendUnavailable, "failed to decode remote transcription response", err)
	}

	segments := make([]Segment, len(rr.Segments))
	for i, s := range rr.Segments {
		segments[i] = Segment{StartMS: s.StartMS, EndMS: s.EndMS, Text: s.Text, Confidence: ConfidenceRemote}
	}

	language := rr.Language
	if language == "" {
		language = "en"
	}

	return Result{
		Text:       rr.Text,
		Segments:   segments,
		Confidence: ConfidenceRemote,
		Backend:    VariantRemote,
		Language:   language,
	}, nil
}

func (b *RemoteBackend) Variant() Variant { return VariantRemote }
func (b *RemoteBackend) Name() string     { return "remote" }

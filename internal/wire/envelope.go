// Package wire defines the tagged message envelopes exchanged over the
// streaming endpoint, generalized from the teacher's free-form
// internal/api.Message struct (one flat struct with every field optional)
// into per-type declared payloads - spec.md's "re-express every envelope
// as a tagged record with declared fields; reject unknown fields on
// ingress" rather than the teacher's single do-everything struct.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/askidmobile/voxstream/internal/transcribe"
)

// EnvelopeType tags a server-to-client message.
type EnvelopeType string

const (
	TypeConnectionEstablished EnvelopeType = "connection_established"
	TypeTranscriptUpdate      EnvelopeType = "transcript_update"
	TypeConfigUpdated         EnvelopeType = "config_updated"
)

// Envelope is the outer shape of every server-to-client message.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id"`
	Timestamp int64           `json:"timestamp"`
}

// SessionConfig is the negotiable subset of internal/config.Config a
// client may override per session, per spec.md §6.
type SessionConfig struct {
	ChunkDurationS               float64            `json:"chunk_duration_s"`
	SampleRateHz                 int                `json:"sample_rate_hz"`
	Channels                     int                `json:"channels"`
	SNRNoiseReductionThresholdDB float64            `json:"snr_noise_reduction_threshold_db"`
	SpeakerMatchThreshold        float32            `json:"speaker_match_threshold"`
	Backend                      transcribe.Variant `json:"backend"`
	SpeakerDiarizationEnabled    bool               `json:"speaker_diarization_enabled"`
	MinSpeakers                  int                `json:"min_speakers"`
	MaxSpeakers                  int                `json:"max_speakers"`
}

// ConnectionEstablishedData is the payload of a connection_established
// envelope.
type ConnectionEstablishedData struct {
	ClientID  string        `json:"client_id"`
	SessionID string        `json:"session_id"`
	Config    SessionConfig `json:"config"`
}

// TranscriptUpdate is the streaming wire unit - one incremental result
// for a session's in-flight window.
type TranscriptUpdate struct {
	SessionID   string  `json:"session_id"`
	ChunkID     string  `json:"chunk_id"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Confidence  float32 `json:"confidence"`
	Speaker     *string `json:"speaker,omitempty"`
	Language    string  `json:"language,omitempty"`
	TimestampMS int64   `json:"timestamp"`
}

// NewConnectionEstablished builds the envelope sent immediately after a
// client is accepted.
func NewConnectionEstablished(sessionID string, data ConnectionEstablishedData, timestampMS int64) (Envelope, error) {
	return buildEnvelope(TypeConnectionEstablished, sessionID, timestampMS, data)
}

// NewTranscriptUpdate builds the envelope carrying one TranscriptUpdate.
func NewTranscriptUpdate(sessionID string, update TranscriptUpdate, timestampMS int64) (Envelope, error) {
	return buildEnvelope(TypeTranscriptUpdate, sessionID, timestampMS, update)
}

// NewConfigUpdated builds the envelope echoing a session's effective
// config back to the client after an override is applied.
func NewConfigUpdated(sessionID string, cfg SessionConfig, timestampMS int64) (Envelope, error) {
	return buildEnvelope(TypeConfigUpdated, sessionID, timestampMS, cfg)
}

func buildEnvelope(t EnvelopeType, sessionID string, timestampMS int64, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data, SessionID: sessionID, Timestamp: timestampMS}, nil
}

// ClientMessageType tags a client-to-server typed envelope.
type ClientMessageType string

const ClientMessageConfig ClientMessageType = "config"

// ClientMessage is a client-to-server typed envelope, sent in place of a
// raw binary audio chunk.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data json.RawMessage   `json:"data"`
}

// DecodeClientMessage parses a typed client envelope, rejecting any field
// not declared above - spec.md's "reject unknown fields on ingress".
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, fmt.Errorf("wire: failed to decode client message: %w", err)
	}
	return msg, nil
}

// DecodeSessionConfig parses a config-override payload strictly.
func DecodeSessionConfig(data json.RawMessage) (SessionConfig, error) {
	var cfg SessionConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("wire: failed to decode session config: %w", err)
	}
	return cfg, nil
}

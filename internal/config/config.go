// Package config loads the process-wide defaults every subsystem is
// constructed with, grounded on the teacher's flag-based Config.Load.
package config

import (
	"flag"

	"github.com/askidmobile/voxstream/internal/transcribe"
)

// Config holds the process-wide defaults named in the external interface
// contract. A session starts from these; a client's "config" message
// (internal/wire's ClientMessage, decoded into wire.SessionConfig) then
// replaces that session's config as a whole - fields the message omits take
// their zero values, not these defaults.
type Config struct {
	Port string

	RegistryDir string
	RedisAddr   string // empty selects the in-memory store

	ChunkDurationS float64
	SampleRateHz   int
	Channels       int

	SNRNoiseReductionThresholdDB float64
	SpeakerMatchThreshold        float32

	SessionIdleTimeoutS int
	JanitorPeriodS      int

	Backend transcribe.Variant

	SpeakerDiarizationEnabled bool
	MinSpeakers               int
	MaxSpeakers               int

	RemoteBackendEndpoint string
}

// Load parses process flags into a Config, applying the defaults spec.md
// §6 names.
func Load() *Config {
	port := flag.String("port", "8080", "HTTP/WS server port")

	registryDir := flag.String("registry-dir", "data/registry", "Directory for persisted speaker profiles")
	redisAddr := flag.String("redis-addr", "", "Redis address for the session store (empty uses an in-memory store)")

	chunkDurationS := flag.Float64("chunk-duration-s", 2.0, "Streaming window size, in seconds")
	sampleRateHz := flag.Int("sample-rate-hz", 16000, "Canonical sample rate")
	channels := flag.Int("channels", 1, "Canonical channel count")

	snrThreshold := flag.Float64("snr-noise-reduction-threshold-db", 10.0, "SNR below which noise suppression runs")
	matchThreshold := flag.Float64("speaker-match-threshold", 0.70, "Cosine similarity required to name a speaker")

	idleTimeoutS := flag.Int("session-idle-timeout-s", 300, "Seconds of inactivity before a session is evicted")
	janitorPeriodS := flag.Int("janitor-period-s", 30, "Janitor sweep interval, in seconds")

	backend := flag.String("backend", string(transcribe.VariantFallback), "Transcription backend: remote, local, or fallback")

	diarizationEnabled := flag.Bool("speaker-diarization-enabled", true, "Run diarization and registry matching on streamed windows")
	minSpeakers := flag.Int("min-speakers", 1, "Lower bound for the diarizer's cluster-count sweep")
	maxSpeakers := flag.Int("max-speakers", 10, "Upper bound for the diarizer's cluster-count sweep")

	remoteEndpoint := flag.String("remote-backend-endpoint", "http://localhost:9000/transcribe", "Remote transcription service endpoint")

	flag.Parse()

	return &Config{
		Port:                         *port,
		RegistryDir:                  *registryDir,
		RedisAddr:                    *redisAddr,
		ChunkDurationS:               *chunkDurationS,
		SampleRateHz:                 *sampleRateHz,
		Channels:                     *channels,
		SNRNoiseReductionThresholdDB: *snrThreshold,
		SpeakerMatchThreshold:        float32(*matchThreshold),
		SessionIdleTimeoutS:          *idleTimeoutS,
		JanitorPeriodS:               *janitorPeriodS,
		Backend:                      transcribe.Variant(*backend),
		SpeakerDiarizationEnabled:    *diarizationEnabled,
		MinSpeakers:                  *minSpeakers,
		MaxSpeakers:                  *maxSpeakers,
		RemoteBackendEndpoint:        *remoteEndpoint,
	}
}

// Command voiceserver wires the Audio Codec, Speaker Registry, Session
// Store, Connection Manager, and HTTP/websocket endpoints together,
// following the teacher's main.go wiring order (load config, build
// managers, build services, hand everything to the Server).
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/askidmobile/voxstream/internal/api"
	"github.com/askidmobile/voxstream/internal/config"
	"github.com/askidmobile/voxstream/internal/connmgr"
	"github.com/askidmobile/voxstream/internal/registry"
	"github.com/askidmobile/voxstream/internal/store"
	"github.com/askidmobile/voxstream/internal/store/memstore"
	"github.com/askidmobile/voxstream/internal/store/redisstore"
	"github.com/askidmobile/voxstream/internal/transcribe"
	"github.com/askidmobile/voxstream/internal/wire"
)

func main() {
	cfg := config.Load()

	reg, err := registry.NewStore(cfg.RegistryDir)
	if err != nil {
		log.Fatalf("failed to open speaker registry: %v", err)
	}
	matcher := registry.NewMatcher(reg)

	sessionStore := newSessionStore(cfg)

	backends := buildBackends(cfg)

	server := api.NewServer(cfg, reg, matcher, backends)

	manager := connmgr.New(backends[0], matcher, sessionStore, server.Sender(), defaultSessionConfig(cfg), connmgr.Options{
		IdleTimeout:   time.Duration(cfg.SessionIdleTimeoutS) * time.Second,
		JanitorPeriod: time.Duration(cfg.JanitorPeriodS) * time.Second,
	})
	server.Manager = manager

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.StartJanitor(ctx)
	defer manager.Stop()

	log.Printf("voxstream: backend=%s diarization=%v registry=%s", cfg.Backend, cfg.SpeakerDiarizationEnabled, cfg.RegistryDir)
	if err := server.Start(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// newSessionStore picks Redis when an address is configured, falling back to
// the zero-dependency in-memory store otherwise - matching spec.md §7's
// "store failure is non-fatal" by not making Redis a hard boot requirement.
func newSessionStore(cfg *config.Config) store.Store {
	if cfg.RedisAddr == "" {
		log.Printf("voxstream: no redis-addr configured, using in-memory session store")
		return memstore.New()
	}
	return redisstore.New(cfg.RedisAddr)
}

// buildBackends resolves the configured Variant into an ordered fallthrough
// chain: the configured backend first, then the fallback backend as a last
// resort, matching the Batch Pipeline's BackendUnavailable fallthrough rule.
func buildBackends(cfg *config.Config) []transcribe.Backend {
	var primary transcribe.Backend
	switch cfg.Backend {
	case transcribe.VariantRemote:
		primary = transcribe.NewRemoteBackend(cfg.RemoteBackendEndpoint, &http.Client{})
	case transcribe.VariantLocal:
		primary = transcribe.NewLocalBackend(0)
	default:
		return []transcribe.Backend{transcribe.NewFallbackBackend()}
	}
	return []transcribe.Backend{primary, transcribe.NewFallbackBackend()}
}

func defaultSessionConfig(cfg *config.Config) wire.SessionConfig {
	return wire.SessionConfig{
		ChunkDurationS:               cfg.ChunkDurationS,
		SampleRateHz:                 cfg.SampleRateHz,
		Channels:                     cfg.Channels,
		SNRNoiseReductionThresholdDB: cfg.SNRNoiseReductionThresholdDB,
		SpeakerMatchThreshold:        cfg.SpeakerMatchThreshold,
		Backend:                      cfg.Backend,
		SpeakerDiarizationEnabled:    cfg.SpeakerDiarizationEnabled,
		MinSpeakers:                  cfg.MinSpeakers,
		MaxSpeakers:                  cfg.MaxSpeakers,
	}
}


// Package streamsession implements the Streaming Session: the per-client
// finite-state actor that accumulates incoming PCM chunks into windows and
// quick-transcribes each one, grounded on the teacher's
// session/chunk_buffer.go (accumulate-then-emit windowing over a buffered
// output channel) and internal/service/streaming_transcription.go (a single
// in-flight processing gate per client), generalized from AIWisper's one
// local recording session into many concurrent network clients.
package streamsession

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/askidmobile/voxstream/internal/audio"
	"github.com/askidmobile/voxstream/internal/embedding"
	"github.com/askidmobile/voxstream/internal/registry"
	"github.com/askidmobile/voxstream/internal/store"
	"github.com/askidmobile/voxstream/internal/transcribe"
	"github.com/askidmobile/voxstream/internal/wire"
)

// State is a Streaming Session's position in its finite state machine.
type State int

const (
	StateRegistered State = iota
	StateBuffering
	StateProcessing
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateBuffering:
		return "buffering"
	case StateProcessing:
		return "processing"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Dependencies are the collaborators a Session quick-transcribes and
// identifies speakers through, injected rather than looked up through a
// global - the teacher's desktop app reaches for package-level singletons
// (models.Manager, ai package functions); this module threads them in per
// spec.md §9's "inject collaborators instead" redesign note.
type Dependencies struct {
	Backend transcribe.Backend
	Matcher *registry.Matcher // nil disables diarization attach
	Store   store.Store
	// Send delivers an envelope to the client's open stream. Called with at
	// most one outstanding invocation per session (the single-flight gate
	// guarantees this), so it does not need its own locking.
	Send func(wire.Envelope) error
}

// Session is one client's accumulate-then-transcribe actor.
type Session struct {
	ID       string
	ClientID string
	Config   wire.SessionConfig

	deps Dependencies

	mu           sync.Mutex
	state        State
	pending      [][]byte
	pendingBytes int
	lastActivity time.Time
	draining     bool

	chunkSeq int64

	// gate is the per-session single-flight token: buffered to 1, acquired
	// before a window-processing goroutine is spawned and released when it
	// finishes, directly grounded on the teacher's per-client task guard.
	gate chan struct{}

	// cancelCtx/cancel govern the session's own lifetime, independent of
	// whatever per-call context a caller threads into HandleChunk. Close
	// cancels it so an in-flight processWindow can detect cancellation and
	// suppress its Send/Store side effects cooperatively.
	cancelCtx context.Context
	cancel    context.CancelFunc
}

// New creates a Session in the Registered state.
func New(id, clientID string, cfg wire.SessionConfig, deps Dependencies) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		ClientID:     clientID,
		Config:       cfg,
		deps:         deps,
		state:        StateRegistered,
		lastActivity: time.Now(),
		gate:         make(chan struct{}, 1),
		cancelCtx:    ctx,
		cancel:       cancel,
	}
}

// State reports the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity reports when a chunk was last accepted.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IsIdle reports whether the session has been inactive longer than timeout -
// the predicate the Connection Manager's janitor sweeps with.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActivity()) > timeout
}

// chunkSizeBytes is the byte count that triggers a window-processing task:
// chunk_duration_s seconds of 16-bit PCM at the session's rate/channels.
// Callers hold s.mu.
func (s *Session) chunkSizeBytes() int {
	return int(s.Config.ChunkDurationS * float64(s.Config.SampleRateHz) * 2 * float64(s.Config.Channels))
}

// UpdateConfig replaces the session's live config, e.g. in response to a
// client "config" message. Takes effect starting with the next window.
func (s *Session) UpdateConfig(cfg wire.SessionConfig) {
	s.mu.Lock()
	s.Config = cfg
	s.mu.Unlock()
}

// config returns a snapshot of the session's current config.
func (s *Session) config() wire.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Config
}

// HandleChunk appends an incoming PCM chunk to the buffer, updates
// last-activity, and - if the Buffering threshold is crossed - launches a
// window-processing task. Chunks arriving after Close has been requested are
// dropped.
func (s *Session) HandleChunk(ctx context.Context, data []byte) {
	s.mu.Lock()
	if s.state == StateTerminated || s.state == StateDraining {
		s.mu.Unlock()
		return
	}

	s.pending = append(s.pending, data)
	s.pendingBytes += len(data)
	s.lastActivity = time.Now()

	if s.state == StateRegistered {
		s.state = StateBuffering
	}

	launch := s.state == StateBuffering && s.pendingBytes >= s.chunkSizeBytes()
	if launch {
		s.state = StateProcessing
	}
	s.mu.Unlock()

	if launch {
		s.launchWindow(ctx)
	}
}

// Close requests termination. A session with no in-flight task terminates
// immediately; a session mid-Processing drains first and terminates when the
// in-flight task completes. Either way, the session's context is cancelled
// immediately so an in-flight processWindow notices and suppresses its
// Send/Store side effects rather than running them to completion.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		s.state = StateDraining
		s.draining = true
		return
	}
	s.state = StateTerminated
}

// launchWindow takes the gate token, concatenates the pending chunks into one
// buffer - retaining the most recent chunk as overlap context when at least
// two chunks had accumulated - and spawns the processing goroutine.
func (s *Session) launchWindow(ctx context.Context) {
	select {
	case s.gate <- struct{}{}:
	default:
		log.Printf("[streamsession] %s: launchWindow called with gate already held, skipping", s.ID)
		return
	}

	s.mu.Lock()
	chunks := s.pending
	var overlap [][]byte
	if len(chunks) >= 2 {
		overlap = [][]byte{chunks[len(chunks)-1]}
	}
	s.pending = overlap
	s.pendingBytes = 0
	for _, c := range overlap {
		s.pendingBytes += len(c)
	}
	s.mu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range chunks {
		buf = append(buf, c...)
	}

	go s.processWindow(ctx, buf)
}

// processWindow runs the six-step per-window pipeline and then either
// relaunches (if enough bytes accumulated while it ran), returns to
// Buffering, or terminates (if Close was requested mid-flight). A task
// cancelled (via Close/Disconnect) while quick-transcribing is cut short
// here: it neither sends its update nor appends it to the store.
func (s *Session) processWindow(ctx context.Context, pcm []byte) {
	// buildUpdate is handed the session's own cancellable context, not the
	// caller's, so a cancelled quick-transcribe aborts promptly rather than
	// running to completion only to have its result discarded below.
	update := s.buildUpdate(s.cancelCtx, pcm)

	if s.cancelCtx.Err() != nil {
		log.Printf("[streamsession] %s: window cancelled, discarding update", s.ID)
		s.finishWindow(ctx)
		return
	}

	env, err := wire.NewTranscriptUpdate(s.ID, update, update.TimestampMS)
	if err != nil {
		// Marshaling a struct of plain fields cannot fail; this would only
		// trip if wire.TranscriptUpdate grew an unmarshalable field.
		log.Printf("[streamsession] %s: failed to build envelope: %v", s.ID, err)
	}

	if s.cancelCtx.Err() != nil {
		log.Printf("[streamsession] %s: window cancelled, suppressing send", s.ID)
		s.finishWindow(ctx)
		return
	}
	if err := s.deps.Send(env); err != nil {
		log.Printf("[streamsession] %s: failed to send transcript update: %v", s.ID, err)
	}

	if s.deps.Store != nil {
		if s.cancelCtx.Err() != nil {
			log.Printf("[streamsession] %s: window cancelled, suppressing store append", s.ID)
			s.finishWindow(ctx)
			return
		}
		key := store.TranscriptKey(s.ID)
		if err := s.deps.Store.Append(ctx, key, string(env.Data)); err != nil {
			log.Printf("[streamsession] %s: failed to persist transcript update: %v", s.ID, err)
		} else if err := s.deps.Store.Expire(ctx, key, store.DefaultTTL); err != nil {
			log.Printf("[streamsession] %s: failed to set transcript TTL: %v", s.ID, err)
		}
	}

	s.finishWindow(ctx)
}

// finishWindow releases the single-flight gate and transitions out of
// Processing: to Terminated if a drain was requested, back to Buffering, or
// straight into another window if enough bytes accumulated while this one
// ran.
func (s *Session) finishWindow(ctx context.Context) {
	<-s.gate

	s.mu.Lock()
	relaunch := false
	if s.draining {
		s.state = StateTerminated
	} else {
		relaunch = s.pendingBytes >= s.chunkSizeBytes()
		if relaunch {
			s.state = StateProcessing
		} else {
			s.state = StateBuffering
		}
	}
	s.mu.Unlock()

	if relaunch {
		s.launchWindow(ctx)
	}
}

// buildUpdate runs steps 1-4 of the per-window pipeline: build the window,
// quick-transcribe it, optionally attach a speaker, and stamp a fresh
// chunk-id. Any failure in quick-transcription or identification yields an
// empty-text, zero-confidence update rather than propagating - the stream is
// never closed over a single bad window.
func (s *Session) buildUpdate(ctx context.Context, pcm []byte) wire.TranscriptUpdate {
	cfg := s.config()
	chunkID := fmt.Sprintf("%s-win-%d", s.ID, atomic.AddInt64(&s.chunkSeq, 1))
	win := audio.DecodeRawPCM16(pcm, cfg.SampleRateHz, cfg.Channels)

	update := wire.TranscriptUpdate{
		SessionID:   s.ID,
		ChunkID:     chunkID,
		IsFinal:     true,
		TimestampMS: time.Now().UnixMilli(),
	}

	result, err := s.deps.Backend.Transcribe(ctx, win.Samples, win.SampleRate)
	if err != nil {
		log.Printf("[streamsession] %s: quick-transcribe failed: %v", s.ID, err)
		return update
	}
	update.Text = result.Text
	update.Confidence = result.Confidence
	update.Language = result.Language

	if cfg.SpeakerDiarizationEnabled && s.deps.Matcher != nil {
		emb := embedding.Extract(win.Samples, win.SampleRate)
		matches := s.deps.Matcher.IdentifyAll(emb, cfg.SpeakerMatchThreshold)
		if len(matches) > 0 {
			name := matches[0].Profile.Name
			update.Speaker = &name
			update.Confidence = matches[0].Similarity
		}
	}

	return update
}

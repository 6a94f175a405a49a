package streamsession

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/askidmobile/voxstream/internal/store"
	"github.com/askidmobile/voxstream/internal/store/memstore"
	"github.com/askidmobile/voxstream/internal/transcribe"
	"github.com/askidmobile/voxstream/internal/wire"
)

// countingBackend records the sample count of every Transcribe call, and
// optionally blocks until released - used to pin a window in flight so tests
// can observe the single-flight gate and the overlap buffer.
type countingBackend struct {
	mu      sync.Mutex
	calls   [][]float32
	block   chan struct{}
	release chan struct{}
}

func (b *countingBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcribe.Result, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)

	b.mu.Lock()
	b.calls = append(b.calls, cp)
	b.mu.Unlock()

	if b.block != nil {
		b.block <- struct{}{}
		<-b.release
	}
	return transcribe.Result{Text: "hi", Confidence: 0.9}, nil
}

func (b *countingBackend) Variant() transcribe.Variant { return transcribe.VariantFallback }
func (b *countingBackend) Name() string                { return "counting" }

func (b *countingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func testConfig() wire.SessionConfig {
	return wire.SessionConfig{
		ChunkDurationS:            0.1, // small window so byte-sized test chunks trip it
		SampleRateHz:              16000,
		Channels:                  1,
		SpeakerMatchThreshold:     0.7,
		SpeakerDiarizationEnabled: false,
	}
}

func pcmChunk(n int) []byte {
	return make([]byte, n)
}

func TestHandleChunkTransitionsRegisteredToBuffering(t *testing.T) {
	backend := &countingBackend{}
	s := New("sess-1", "client-1", testConfig(), Dependencies{
		Backend: backend,
		Store:   memstore.New(),
		Send:    func(wire.Envelope) error { return nil },
	})

	if s.State() != StateRegistered {
		t.Fatalf("initial state = %v, want Registered", s.State())
	}

	s.HandleChunk(context.Background(), pcmChunk(10))

	if s.State() != StateBuffering {
		t.Fatalf("state after first small chunk = %v, want Buffering", s.State())
	}
}

func TestHandleChunkLaunchesWindowAtThreshold(t *testing.T) {
	backend := &countingBackend{}
	var sent []wire.Envelope
	var mu sync.Mutex
	s := New("sess-2", "client-2", testConfig(), Dependencies{
		Backend: backend,
		Store:   memstore.New(),
		Send: func(env wire.Envelope) error {
			mu.Lock()
			sent = append(sent, env)
			mu.Unlock()
			return nil
		},
	})

	// threshold = 0.1s * 16000Hz * 2 bytes = 3200 bytes
	s.HandleChunk(context.Background(), pcmChunk(3200))

	deadline := time.Now().Add(time.Second)
	for backend.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend.callCount() = %d, want 1", backend.callCount())
	}

	deadline = time.Now().Add(time.Second)
	for s.State() != StateBuffering && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.State() != StateBuffering {
		t.Fatalf("state after window completes = %v, want Buffering", s.State())
	}

	mu.Lock()
	n := len(sent)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("sent %d envelopes, want 1", n)
	}
}

func TestOverlapRetainsMostRecentChunk(t *testing.T) {
	backend := &countingBackend{
		block:   make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New("sess-3", "client-3", testConfig(), Dependencies{
		Backend: backend,
		Store:   memstore.New(),
		Send:    func(wire.Envelope) error { return nil },
	})

	ctx := context.Background()
	// Two chunks before the threshold trips on the second - both are
	// consumed into the in-flight window, and the second is also kept back
	// as overlap for the next window. A third chunk then arrives mid-flight.
	s.HandleChunk(ctx, pcmChunk(2000))
	s.HandleChunk(ctx, pcmChunk(1200)) // crosses 3200, launches

	<-backend.block // processing goroutine is now blocked inside Transcribe

	if s.State() != StateProcessing {
		t.Fatalf("state while task in flight = %v, want Processing", s.State())
	}

	// A chunk arriving mid-flight must only append, never launch a second task.
	s.HandleChunk(ctx, pcmChunk(100))
	if got := backend.callCount(); got != 1 {
		t.Fatalf("callCount while in flight = %d, want 1 (no second task launched)", got)
	}

	close(backend.release)

	deadline := time.Now().Add(time.Second)
	for backend.callCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.mu.Lock()
	pendingBytes := s.pendingBytes
	pendingChunks := len(s.pending)
	s.mu.Unlock()
	if pendingBytes != 1300 || pendingChunks != 2 {
		t.Fatalf("pending after window = %d bytes in %d chunks, want 1300 bytes in 2 chunks (1200-byte overlap retained plus the 100-byte mid-flight chunk)", pendingBytes, pendingChunks)
	}

	first := backend.calls[0]
	if len(first) != 1600 {
		t.Fatalf("first window had %d samples, want 1600 (3200 bytes / 2 bytes-per-sample)", len(first))
	}
}

func TestCloseWhileBufferingTerminatesImmediately(t *testing.T) {
	backend := &countingBackend{}
	s := New("sess-4", "client-4", testConfig(), Dependencies{
		Backend: backend,
		Store:   memstore.New(),
		Send:    func(wire.Envelope) error { return nil },
	})
	s.HandleChunk(context.Background(), pcmChunk(10))
	s.Close()
	if s.State() != StateTerminated {
		t.Fatalf("state after Close() while Buffering = %v, want Terminated", s.State())
	}
}

func TestCloseWhileProcessingDrainsThenTerminates(t *testing.T) {
	backend := &countingBackend{
		block:   make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New("sess-5", "client-5", testConfig(), Dependencies{
		Backend: backend,
		Store:   memstore.New(),
		Send:    func(wire.Envelope) error { return nil },
	})
	ctx := context.Background()
	s.HandleChunk(ctx, pcmChunk(3200))
	<-backend.block

	s.Close()
	if s.State() != StateDraining {
		t.Fatalf("state after Close() while Processing = %v, want Draining", s.State())
	}

	close(backend.release)

	deadline := time.Now().Add(time.Second)
	for s.State() != StateTerminated && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state after in-flight task drains = %v, want Terminated", s.State())
	}
}

func TestCloseWhileProcessingSuppressesSendAndStore(t *testing.T) {
	backend := &countingBackend{
		block:   make(chan struct{}),
		release: make(chan struct{}),
	}
	var mu sync.Mutex
	var sendCount int
	st := memstore.New()
	s := New("sess-7", "client-7", testConfig(), Dependencies{
		Backend: backend,
		Store:   st,
		Send: func(wire.Envelope) error {
			mu.Lock()
			sendCount++
			mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	s.HandleChunk(ctx, pcmChunk(3200))
	<-backend.block // the processing goroutine is blocked inside Transcribe

	s.Close()
	close(backend.release)

	deadline := time.Now().Add(time.Second)
	for s.State() != StateTerminated && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state after cancelled task drains = %v, want Terminated", s.State())
	}

	mu.Lock()
	got := sendCount
	mu.Unlock()
	if got != 0 {
		t.Errorf("sendCount = %d, want 0 (cancelled task must not emit an update)", got)
	}

	stored, err := st.GetRange(ctx, store.TranscriptKey("sess-7"), 0, -1)
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("stored entries = %v, want none (cancelled task must not append to the store)", stored)
	}
}

func TestUpdatesEmittedAndStoredInWindowOrder(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	backend := &fakeSequenceBackend{}
	st := memstore.New()
	s := New("sess-6", "client-6", testConfig(), Dependencies{
		Backend: backend,
		Store:   st,
		Send: func(env wire.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			var u wire.TranscriptUpdate
			_ = decodeUpdate(env, &u)
			texts = append(texts, u.Text)
			return nil
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.HandleChunk(ctx, pcmChunk(3200))
		deadline := time.Now().Add(time.Second)
		for s.State() != StateBuffering && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"window-0", "window-1", "window-2"}
	if len(texts) != len(want) {
		t.Fatalf("texts = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("texts[%d] = %q, want %q", i, texts[i], want[i])
		}
	}

	stored, err := st.GetRange(ctx, store.TranscriptKey("sess-6"), 0, -1)
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if len(stored) != len(want) {
		t.Fatalf("stored %d entries, want %d", len(stored), len(want))
	}
	for i, raw := range stored {
		var u wire.TranscriptUpdate
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			t.Fatalf("stored[%d]: json.Unmarshal() error = %v", i, err)
		}
		if u.Text != want[i] {
			t.Errorf("stored[%d].Text = %q, want %q", i, u.Text, want[i])
		}
	}
}

// fakeSequenceBackend returns "window-N" texts in call order, used to assert
// per-client ordering of emitted updates.
type fakeSequenceBackend struct {
	mu sync.Mutex
	n  int
}

func (b *fakeSequenceBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcribe.Result, error) {
	b.mu.Lock()
	text := "window-" + itoa(b.n)
	b.n++
	b.mu.Unlock()
	return transcribe.Result{Text: text, Confidence: 0.5}, nil
}
func (b *fakeSequenceBackend) Variant() transcribe.Variant { return transcribe.VariantFallback }
func (b *fakeSequenceBackend) Name() string                { return "sequence" }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func decodeUpdate(env wire.Envelope, out *wire.TranscriptUpdate) error {
	return json.Unmarshal(env.Data, out)
}

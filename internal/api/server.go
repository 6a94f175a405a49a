// Package api wires the streaming endpoint and the file-upload endpoints
// onto stdlib net/http, grounded on the teacher's internal/api/server.go
// (a websocket.Upgrader + map-of-clients Server, stdlib HTTP route
// registration with no web framework). The teacher's single do-everything
// Message/processMessage switch is replaced with the tagged envelopes from
// internal/wire and routing through internal/connmgr instead of a giant
// type-string switch.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/askidmobile/voxstream/internal/audio"
	"github.com/askidmobile/voxstream/internal/config"
	"github.com/askidmobile/voxstream/internal/connmgr"
	"github.com/askidmobile/voxstream/internal/embedding"
	"github.com/askidmobile/voxstream/internal/errs"
	"github.com/askidmobile/voxstream/internal/pipeline"
	"github.com/askidmobile/voxstream/internal/registry"
	"github.com/askidmobile/voxstream/internal/transcribe"
	"github.com/askidmobile/voxstream/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the streaming endpoint over websocket and the file-upload
// endpoints over plain HTTP.
type Server struct {
	Config   *config.Config
	Manager  *connmgr.Manager
	Registry *registry.Store
	Matcher  *registry.Matcher
	Backends []transcribe.Backend

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient serializes writes to one client's websocket connection - the
// teacher's wsClient does the same, one mutex per connection rather than one
// for the whole server.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

// NewServer builds a Server. The Connection Manager is constructed by the
// caller (cmd/voiceserver) since it needs the Sender callback this Server
// provides - see Sender.
func NewServer(cfg *config.Config, reg *registry.Store, matcher *registry.Matcher, backends []transcribe.Backend) *Server {
	return &Server{
		Config:   cfg,
		Registry: reg,
		Matcher:  matcher,
		Backends: backends,
		clients:  make(map[string]*wsClient),
	}
}

// send implements connmgr.Sender, routing an envelope to clientID's open
// websocket connection.
func (s *Server) send(clientID string, env wire.Envelope) error {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return errs.New(errs.InvariantViolation, "no open connection for client "+clientID)
	}
	return c.send(env)
}

// Sender returns the connmgr.Sender bound to this server's client map, used
// to construct the Connection Manager before Start registers routes.
func (s *Server) Sender() connmgr.Sender {
	return s.send
}

// Start registers HTTP routes and blocks serving on Config.Port.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/process-audio", s.handleProcessAudio)
	mux.HandleFunc("/identify-speakers", s.handleIdentifySpeakers)
	mux.HandleFunc("/train-speaker", s.handleTrainSpeaker)
	mux.HandleFunc("/list-speakers", s.handleListSpeakers)
	mux.HandleFunc("/delete-speaker", s.handleDeleteSpeaker)

	log.Printf("[api] listening on :%s", s.Config.Port)
	return http.ListenAndServe(":"+s.Config.Port, mux)
}

func (s *Server) addClient(clientID string, c *wsClient) {
	s.mu.Lock()
	s.clients[clientID] = c
	s.mu.Unlock()
}

func (s *Server) removeClient(clientID string) {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// handleWebSocket accepts a streaming connection, registers it with the
// Connection Manager, and loops reading chunks (binary frames) and config
// overrides (text JSON frames) until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade failed: %v", err)
		return
	}

	clientID, established, err := s.Manager.Accept()
	if err != nil {
		log.Printf("[api] failed to accept connection: %v", err)
		conn.Close()
		return
	}

	client := &wsClient{conn: conn}
	s.addClient(clientID, client)
	defer func() {
		s.removeClient(clientID)
		s.Manager.Disconnect(clientID)
	}()

	if err := client.send(established); err != nil {
		log.Printf("[api] %s: failed to send connection_established: %v", clientID, err)
		return
	}

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			s.Manager.RouteChunk(ctx, clientID, data)
		case websocket.TextMessage:
			s.handleClientMessage(clientID, data)
		}
	}
}

func (s *Server) handleClientMessage(clientID string, data []byte) {
	msg, err := wire.DecodeClientMessage(data)
	if err != nil {
		log.Printf("[api] %s: malformed client message: %v", clientID, err)
		return
	}
	switch msg.Type {
	case wire.ClientMessageConfig:
		cfg, err := wire.DecodeSessionConfig(msg.Data)
		if err != nil {
			log.Printf("[api] %s: malformed config message: %v", clientID, err)
			return
		}
		s.Manager.UpdateSessionConfig(clientID, cfg)
	default:
		log.Printf("[api] %s: unrecognized client message type %q", clientID, msg.Type)
	}
}

// handleProcessAudio runs the Batch Pipeline over an uploaded audio file.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, filename, err := readUploadedFile(r, "audio")
	if err != nil {
		writeError(w, err)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		id = filename
	}
	result, err := pipeline.Process(r.Context(), id, data, filename, s.Config.SNRNoiseReductionThresholdDB, s.Backends...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleIdentifySpeakers runs the diarization path over an uploaded audio
// file and attaches registry matches.
func (s *Server) handleIdentifySpeakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, filename, err := readUploadedFile(r, "audio")
	if err != nil {
		writeError(w, err)
		return
	}

	minSpeakers := s.Config.MinSpeakers
	maxSpeakers := s.Config.MaxSpeakers
	result, err := pipeline.Identify(data, filename, s.Matcher, minSpeakers, maxSpeakers, s.Config.SpeakerMatchThreshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTrainSpeaker extracts an embedding from an uploaded sample and folds
// it into the named profile.
func (s *Server) handleTrainSpeaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "missing name field", http.StatusBadRequest)
		return
	}
	data, filename, err := readUploadedFile(r, "audio")
	if err != nil {
		writeError(w, err)
		return
	}

	win, _, err := audio.Decode(data, filename)
	if err != nil {
		writeError(w, err)
		return
	}
	emb := embedding.Extract(win.Samples, win.SampleRate)
	profile, err := s.Registry.Train(name, emb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListSpeakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Registry.GetAll())
}

func (s *Server) handleDeleteSpeaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.FormValue("name")
	}
	if name == "" {
		http.Error(w, "missing name parameter", http.StatusBadRequest)
		return
	}
	if err := s.Registry.Delete(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUploadedFile pulls a multipart file field off the request, falling
// back to treating the whole body as the file for curl-friendly raw uploads.
func readUploadedFile(r *http.Request, field string) (data []byte, filename string, err error) {
	if perr := r.ParseMultipartForm(32 << 20); perr == nil {
		file, header, ferr := r.FormFile(field)
		if ferr == nil {
			defer file.Close()
			data, err = readAll(file)
			return data, header.Filename, err
		}
	}
	data, err = readAll(r.Body)
	return data, r.URL.Query().Get("filename"), err
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*errs.Error); ok {
		switch e.Kind {
		case errs.UnsupportedFormat, errs.DecodeError:
			status = http.StatusBadRequest
		case errs.BackendUnavailable, errs.StoreUnavailable:
			status = http.StatusServiceUnavailable
		case errs.RegistryIoError:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

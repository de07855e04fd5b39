// Package fakeserver provides an in-process notes server for tests. It serves
// the realtime websocket stream and the REST endpoints the client bootstraps
// from, and lets tests push events, drop connections and inspect what the
// client sent.
//
// The websocket side is implemented using the `gws` library.
package fakeserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/internal/codec"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/models"
)

// Server is a fake notes server.
type Server struct {
	http     *httptest.Server
	upgrader *gws.Upgrader
	logger   zerolog.Logger

	mu sync.RWMutex
	// tokens accepted by both endpoints; empty accepts any non-empty token.
	tokens   map[string]bool
	conns    map[*gws.Conn]string
	dials    []string
	received []string
	pings    int
	autoPong bool
	notes    []models.NoteSummary
	user     *models.User
}

type handler struct {
	server *Server
}

// New starts a server on a random local port.
func New() *Server {
	s := &Server{
		logger:   zerolog.Nop(),
		tokens:   make(map[string]bool),
		conns:    make(map[*gws.Conn]string),
		autoPong: true,
	}
	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{})

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)
	router.HandleFunc("/notes", s.handleListNotes).Methods(http.MethodGet)
	router.HandleFunc("/users/@me", s.handleCurrentUser).Methods(http.MethodGet)

	s.http = httptest.NewServer(router)
	return s
}

// Close disconnects every client and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
}

// URL is the REST base URL.
func (s *Server) URL() string {
	return s.http.URL
}

// StreamURL is the websocket endpoint.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
}

// AcceptTokens restricts both endpoints to the given tokens.
func (s *Server) AcceptTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.tokens[t] = true
	}
}

// RevokeToken stops accepting token for new connections.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	if len(s.tokens) == 0 {
		// Keep the allow list closed instead of falling back to any token.
		s.tokens[""] = false
	}
}

// SetAutoPong controls whether heartbeat pings are answered.
func (s *Server) SetAutoPong(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPong = enabled
}

func (s *Server) SetNotes(notes []models.NoteSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = notes
}

func (s *Server) SetUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Dials returns the token of every accepted websocket connection in order.
func (s *Server) Dials() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.dials...)
}

// Received returns the frames clients sent, heartbeats excluded.
func (s *Server) Received() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.received...)
}

func (s *Server) Pings() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pings
}

// Push sends frame to every connected client.
func (s *Server) Push(frame []byte) error {
	var errs []error
	for _, socket := range s.sockets() {
		if err := socket.WriteMessage(gws.OpcodeText, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PushEvent sends {"type": name, "data": data} to every connected client.
func (s *Server) PushEvent(name string, data any) error {
	frame, err := Event(name, data)
	if err != nil {
		return err
	}
	return s.Push(frame)
}

// CloseAll sends a close frame with code to every client.
func (s *Server) CloseAll(code uint16, reason string) {
	for _, socket := range s.sockets() {
		_ = socket.WriteClose(code, []byte(reason))
	}
}

// DropAll closes every client's TCP connection without a close frame.
func (s *Server) DropAll() {
	for _, socket := range s.sockets() {
		_ = socket.NetConn().Close()
	}
}

// Event encodes a server frame.
func Event(name string, data any) ([]byte, error) {
	return codec.Default.Marshal(map[string]any{"type": name, "data": data})
}

func (s *Server) sockets() []*gws.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gws.Conn, 0, len(s.conns))
	for socket := range s.conns {
		out = append(out, socket)
	}
	return out
}

func (s *Server) authorized(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return false
	}
	if len(s.tokens) == 0 {
		return true
	}
	return s.tokens[token]
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(constants.TokenQueryParam)
	if !s.authorized(token) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	s.mu.Lock()
	s.conns[socket] = token
	s.dials = append(s.dials, token)
	s.mu.Unlock()

	go socket.ReadLoop()
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(bearer(r)) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	s.mu.RLock()
	notes := append([]models.NoteSummary{}, s.notes...)
	s.mu.RUnlock()
	respondJSON(w, http.StatusOK, notes)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(bearer(r)) {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	if user == nil {
		respondError(w, http.StatusNotFound, "no such user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := codec.Default.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handler) OnOpen(*gws.Conn) {}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.conns, socket)
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *handler) OnPong(*gws.Conn, []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	frame := string(message.Bytes())
	if t, ok := codec.FrameType(message.Bytes()); ok && t == "ping" {
		h.server.mu.Lock()
		h.server.pings++
		pong := h.server.autoPong
		h.server.mu.Unlock()
		if pong {
			_ = socket.WriteMessage(gws.OpcodeText, []byte(`{"type":"`+constants.HeartbeatAckType+`"}`))
		}
		return
	}

	h.server.mu.Lock()
	h.server.received = append(h.server.received, frame)
	h.server.mu.Unlock()
}

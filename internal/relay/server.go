package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
)

const (
	memberIdleTimeout = 60 * time.Second
	memberWriteWait   = 10 * time.Second
)

// member is one websocket participant of a channel
type member struct {
	conn    *websocket.Conn
	remote  string
	channel string
	joined  time.Time
	writeMu sync.Mutex
}

// send writes one frame to the member. Members receive frames from every
// other participant's read loop, so writes are serialized here.
func (m *member) send(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(memberWriteWait))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// ServerStats represents relay statistics
type ServerStats struct {
	StartTime      time.Time `json:"start_time"`
	ActiveChannels int       `json:"active_channels"`
	ActiveMembers  int       `json:"active_members"`
	TotalJoins     int       `json:"total_joins"`
	FramesRelayed  int       `json:"frames_relayed"`
	FramesRejected int       `json:"frames_rejected"`
}

// Server relays frames between the members of named channels. It never
// interprets command semantics: a well-formed frame from one member is
// forwarded verbatim to every other member of the same channel.
type Server struct {
	config     *RelayConfig
	upgrader   websocket.Upgrader
	channels   map[string]map[*member]bool
	store      *Store
	jwtService *JWTService
	keyService *KeyService
	logger     zerolog.Logger
	server     *http.Server
	stats      ServerStats
	mutex      sync.RWMutex
}

// NewServer creates a relay server from configuration
func NewServer(config *RelayConfig) (*Server, error) {
	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Issuers run inside sandboxed hosts with opaque origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		channels: make(map[string]map[*member]bool),
		logger:   logger.Component("relay"),
		stats: ServerStats{
			StartTime: time.Now(),
		},
	}

	if config.Store.Enabled {
		store, err := NewStore(config.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		s.store = store
	}

	return s, nil
}

// Start runs the relay until the listener fails or Stop is called
func (s *Server) Start() error {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.HandleFunc(s.config.Server.WSPath, s.handleWS)
	s.registerAPI(router)

	timeout := s.config.GetTimeout()
	s.server = &http.Server{
		Addr:        s.config.Server.Address,
		Handler:     router,
		ReadTimeout: 0, // Websocket members hold their connections open
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().
		Str("address", s.config.Server.Address).
		Str("ws_path", s.config.Server.WSPath).
		Bool("store", s.store != nil).
		Dur("timeout", timeout).
		Msg("Starting relay server")

	if s.config.Server.TLS.Enabled {
		return s.server.ListenAndServeTLS(s.config.Server.TLS.CertFile, s.config.Server.TLS.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Stop shuts the relay down and flushes the audit store
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping relay server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.server.Close()
		}
	}

	s.mutex.Lock()
	for _, members := range s.channels {
		for m := range members {
			m.conn.Close()
		}
	}
	s.channels = make(map[string]map[*member]bool)
	s.mutex.Unlock()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing audit store")
		}
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

// GetStats returns a snapshot of relay statistics
func (s *Server) GetStats() ServerStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := s.stats
	stats.ActiveChannels = len(s.channels)
	for _, members := range s.channels {
		stats.ActiveMembers += len(members)
	}
	return stats
}

// ActiveChannels lists channels with at least one live member
func (s *Server) ActiveChannels() map[string]int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	channels := make(map[string]int, len(s.channels))
	for name, members := range s.channels {
		channels[name] = len(members)
	}
	return channels
}

// handleWS upgrades a connection and runs its relay loop. The first frame
// must be a join; everything after is forwarded to the member's channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	remote := conn.RemoteAddr().String()

	join, err := s.readJoin(conn)
	if err != nil {
		s.logger.Debug().Str("remote", remote).Err(err).Msg("Rejecting connection without valid join")
		s.writeErrorFrame(conn, err.Error())
		conn.Close()
		return
	}

	m := &member{
		conn:    conn,
		remote:  remote,
		channel: join.Channel,
		joined:  time.Now(),
	}

	s.register(m)
	defer s.unregister(m)

	joined, err := channel.EncodeFrame(channel.NewJoinedFrame(m.channel))
	if err != nil {
		return
	}
	if err := m.send(joined); err != nil {
		s.logger.Warn().Str("remote", remote).Err(err).Msg("Failed to confirm join")
		return
	}

	s.logger.Info().
		Str("channel", m.channel).
		Str("remote", remote).
		Msg("Member joined channel")

	s.readLoop(m)
}

// readJoin waits for the opening join frame
func (s *Server) readJoin(conn *websocket.Conn) (*channel.JoinFrame, error) {
	conn.SetReadDeadline(time.Now().Add(channel.DefaultHandshakeTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("join required")
	}

	frameType, err := channel.DecodeFrameType(data)
	if err != nil || frameType != channel.FRAME_JOIN {
		return nil, fmt.Errorf("join required")
	}

	join, err := channel.DecodeJoinFrame(data)
	if err != nil {
		return nil, fmt.Errorf("malformed join frame")
	}
	if err := channel.ValidateFrame(join); err != nil {
		return nil, err
	}

	return join, nil
}

// readLoop forwards a member's frames until its connection dies
func (s *Server) readLoop(m *member) {
	m.conn.SetReadDeadline(time.Now().Add(memberIdleTimeout))
	m.conn.SetPingHandler(func(appData string) error {
		m.conn.SetReadDeadline(time.Now().Add(memberIdleTimeout))
		err := m.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(memberWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			s.logger.Info().
				Str("channel", m.channel).
				Str("remote", m.remote).
				Err(err).
				Msg("Member left channel")
			return
		}

		m.conn.SetReadDeadline(time.Now().Add(memberIdleTimeout))
		s.handleFrame(m, data)
	}
}

// handleFrame audits and forwards one frame. Malformed payloads earn the
// sender an error frame; the connection stays up.
func (s *Server) handleFrame(m *member, data []byte) {
	frameType, err := channel.DecodeFrameType(data)
	if err != nil {
		s.reject(m, fmt.Sprintf("malformed frame: %v", err))
		return
	}

	switch frameType {
	case channel.FRAME_JOIN:
		s.reject(m, "already joined a channel")
	case channel.FRAME_COMMAND:
		frame, err := channel.DecodeCommandFrame(data)
		if err == nil {
			err = channel.ValidateFrame(frame)
		}
		if err != nil {
			s.reject(m, fmt.Sprintf("malformed command frame: %v", err))
			return
		}
		s.auditCommand(m, frame)
		s.relayFrame(m, data)
	case channel.FRAME_RESPONSE:
		frame, err := channel.DecodeResponseFrame(data)
		if err == nil {
			err = channel.ValidateFrame(frame)
		}
		if err != nil {
			s.reject(m, fmt.Sprintf("malformed response frame: %v", err))
			return
		}
		s.auditResponse(m, frame)
		s.relayFrame(m, data)
	default:
		// The relay does not police frame vocabularies; endpoints drop
		// what they do not recognize.
		s.relayFrame(m, data)
	}
}

// relayFrame forwards a frame to every other member of the channel
func (s *Server) relayFrame(from *member, data []byte) {
	s.mutex.RLock()
	peers := make([]*member, 0, len(s.channels[from.channel]))
	for m := range s.channels[from.channel] {
		if m != from {
			peers = append(peers, m)
		}
	}
	s.mutex.RUnlock()

	for _, peer := range peers {
		if err := peer.send(data); err != nil {
			s.logger.Warn().
				Str("channel", peer.channel).
				Str("remote", peer.remote).
				Err(err).
				Msg("Failed to forward frame, dropping member")
			peer.conn.Close()
		}
	}

	s.mutex.Lock()
	s.stats.FramesRelayed++
	s.mutex.Unlock()
}

// reject answers a bad frame with an error frame
func (s *Server) reject(m *member, message string) {
	s.mutex.Lock()
	s.stats.FramesRejected++
	s.mutex.Unlock()

	s.logger.Debug().
		Str("channel", m.channel).
		Str("remote", m.remote).
		Str("reason", message).
		Msg("Rejecting frame")

	s.writeErrorFrame(m.conn, message)
}

func (s *Server) writeErrorFrame(conn *websocket.Conn, message string) {
	data, err := channel.EncodeFrame(channel.NewErrorFrame(message))
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(memberWriteWait))
	conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) register(m *member) {
	s.mutex.Lock()
	if s.channels[m.channel] == nil {
		s.channels[m.channel] = make(map[*member]bool)
	}
	s.channels[m.channel][m] = true
	s.stats.TotalJoins++
	s.mutex.Unlock()

	if s.store != nil {
		if err := s.store.RecordSession(m.channel, m.remote, "joined"); err != nil {
			s.logger.Error().Err(err).Msg("Failed to record session event")
		}
	}
}

func (s *Server) unregister(m *member) {
	s.mutex.Lock()
	if members, ok := s.channels[m.channel]; ok {
		delete(members, m)
		if len(members) == 0 {
			delete(s.channels, m.channel)
		}
	}
	s.mutex.Unlock()

	m.conn.Close()

	if s.store != nil {
		if err := s.store.RecordSession(m.channel, m.remote, "left"); err != nil {
			s.logger.Error().Err(err).Msg("Failed to record session event")
		}
	}
}

func (s *Server) auditCommand(m *member, frame *channel.CommandFrame) {
	if s.store == nil {
		return
	}
	s.store.RecordFrame(&FrameRecord{
		Channel:   m.channel,
		FrameType: channel.FRAME_COMMAND,
		CommandID: frame.ID,
		Action:    frame.Action,
		Remote:    m.remote,
		CreatedAt: time.Now(),
	})
}

func (s *Server) auditResponse(m *member, frame *channel.ResponseFrame) {
	if s.store == nil {
		return
	}
	success := frame.Success
	s.store.RecordFrame(&FrameRecord{
		Channel:   m.channel,
		FrameType: channel.FRAME_RESPONSE,
		CommandID: frame.ID,
		Success:   &success,
		Error:     frame.Error,
		Remote:    m.remote,
		CreatedAt: time.Now(),
	})
}

// Middleware
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades are long-lived; log them on entry only
		if r.URL.Path == s.config.Server.WSPath {
			s.logger.Debug().
				Str("remote", r.RemoteAddr).
				Msg("Websocket connection request")
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

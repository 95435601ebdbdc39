package relay

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"drawbridge/internal/logger"
)

// FrameRecord is one audited frame that crossed the relay
type FrameRecord struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	FrameType string    `json:"frame_type"`
	CommandID string    `json:"command_id,omitempty"`
	Action    string    `json:"action,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRecord is one membership event on a channel
type SessionRecord struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Remote    string    `json:"remote,omitempty"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelSummary aggregates audited traffic for one channel
type ChannelSummary struct {
	Channel      string    `json:"channel"`
	Commands     int       `json:"commands"`
	Responses    int       `json:"responses"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists relay audit records to SQLite. Frame writes go through a
// buffered channel so the relay path never waits on the database.
type Store struct {
	db     *sql.DB
	frames chan *FrameRecord
	done   chan struct{}
	logger zerolog.Logger
	mutex  sync.Mutex
	closed bool
}

// NewStore opens (or creates) the audit database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		frames: make(chan *FrameRecord, 256),
		done:   make(chan struct{}),
		logger: logger.Component("store"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go store.writerLoop()

	return store, nil
}

// Close flushes pending frame records and closes the database
func (s *Store) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mutex.Unlock()

	<-s.done
	return s.db.Close()
}

// initSchema creates the audit tables
func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			frame_type TEXT NOT NULL,
			command_id TEXT,
			action TEXT,
			success INTEGER,
			error TEXT,
			remote TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			remote TEXT,
			event TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_channel ON frames(channel)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_command_id ON frames(command_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(channel)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// RecordFrame queues a frame record for persistence. Records are dropped
// rather than blocking the relay path when the writer falls behind.
func (s *Store) RecordFrame(rec *FrameRecord) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}

	select {
	case s.frames <- rec:
	default:
		s.logger.Warn().
			Str("channel", rec.Channel).
			Str("frame_type", rec.FrameType).
			Msg("Audit queue full, dropping frame record")
	}
}

// RecordSession persists a membership event immediately
func (s *Store) RecordSession(channelName, remote, event string) error {
	query := `INSERT INTO sessions (channel, remote, event) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, channelName, remote, event); err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// writerLoop drains the frame queue into the database
func (s *Store) writerLoop() {
	defer close(s.done)

	for rec := range s.frames {
		if err := s.insertFrame(rec); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist frame record")
		}
	}
}

func (s *Store) insertFrame(rec *FrameRecord) error {
	var success interface{}
	if rec.Success != nil {
		if *rec.Success {
			success = 1
		} else {
			success = 0
		}
	}

	query := `INSERT INTO frames (channel, frame_type, command_id, action, success, error, remote)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, rec.Channel, rec.FrameType, rec.CommandID, rec.Action, success, rec.Error, rec.Remote)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// Commands returns the most recent command and response records for a channel
func (s *Store) Commands(channelName string, limit int) ([]*FrameRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, channel, frame_type, command_id, action, success, error, remote, created_at
			  FROM frames WHERE channel = ? AND frame_type IN ('command', 'response')
			  ORDER BY id DESC LIMIT ?`

	rows, err := s.db.Query(query, channelName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []*FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var success sql.NullBool
		var commandID, action, errMsg, remote sql.NullString
		err := rows.Scan(
			&rec.ID, &rec.Channel, &rec.FrameType, &commandID, &action,
			&success, &errMsg, &remote, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}

		rec.CommandID = commandID.String
		rec.Action = action.String
		rec.Error = errMsg.String
		rec.Remote = remote.String
		if success.Valid {
			v := success.Bool
			rec.Success = &v
		}

		records = append(records, &rec)
	}

	return records, nil
}

// ChannelSummaries aggregates audited traffic per channel
func (s *Store) ChannelSummaries() ([]*ChannelSummary, error) {
	query := `SELECT channel,
			  SUM(CASE WHEN frame_type = 'command' THEN 1 ELSE 0 END),
			  SUM(CASE WHEN frame_type = 'response' THEN 1 ELSE 0 END),
			  MAX(created_at)
			  FROM frames GROUP BY channel ORDER BY MAX(created_at) DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*ChannelSummary
	for rows.Next() {
		var summary ChannelSummary
		var last sql.NullString
		if err := rows.Scan(&summary.Channel, &summary.Commands, &summary.Responses, &last); err != nil {
			return nil, fmt.Errorf("failed to scan channel summary: %w", err)
		}
		if last.Valid {
			summary.LastActivity = parseStoredTime(last.String)
		}
		summaries = append(summaries, &summary)
	}

	return summaries, nil
}

// parseStoredTime decodes a SQLite timestamp. Aggregate expressions lose the
// column type, so these come back as strings rather than time values.
func parseStoredTime(value string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Totals returns overall audit counts
func (s *Store) Totals() (frames int, sessions int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&frames); err != nil {
		return 0, 0, fmt.Errorf("failed to count frames: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return frames, sessions, nil
}

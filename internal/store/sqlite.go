package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/memoria-labs/memoria/internal/domain"
)

const searchResultCap = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// Entity merge is read-modify-write; the mutex keeps concurrent
	// extraction results from racing each other.
	entityMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// visible across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			summary TEXT,
			status TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			seq INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS entities (
			entity_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			relationship TEXT,
			decade TEXT,
			source_message_ids TEXT NOT NULL,
			source_session_ids TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new active session.
func (s *SQLiteStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	session := &domain.Session{
		ID:        "sess_" + uuid.New().String()[:8],
		StartedAt: time.Now().UTC(),
		Status:    domain.SessionStatusActive,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, status, message_count) VALUES (?, ?, ?, 0)`,
		session.ID, session.StartedAt, session.Status)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, started_at, ended_at, summary, status, message_count
		 FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// EndSession transitions a session to ended with the given summary.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, summary *string) (*domain.Session, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ?, summary = ? WHERE session_id = ?`,
		domain.SessionStatusEnded, now, summary, sessionID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetSession(ctx, sessionID)
}

// GetAllSessions returns all sessions, newest-first by start time.
func (s *SQLiteStore) GetAllSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, started_at, ended_at, summary, status, message_count
		 FROM sessions ORDER BY started_at DESC, session_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// AddMessage appends a message to a session and bumps its message count.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT message_count FROM sessions WHERE session_id = ?`, sessionID).Scan(&count)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        "msg_" + uuid.New().String()[:8],
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Timestamp, count+1); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = ? WHERE session_id = ?`, count+1, sessionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetSessionMessages returns a session's messages in chronological order.
func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AddEntities merges entities into the store. Matching is done in Go with
// strings.EqualFold because SQLite's lower() only folds ASCII and entity
// names are German.
func (s *SQLiteStore) AddEntities(ctx context.Context, entities []domain.Entity) error {
	s.entityMu.Lock()
	defer s.entityMu.Unlock()

	for _, entity := range entities {
		existing, err := s.findEntity(ctx, entity.Name, entity.Type)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := s.insertEntity(ctx, entity); err != nil {
				return err
			}
			continue
		}
		merged := mergeEntity(*existing, entity)
		if err := s.updateEntity(ctx, merged); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) findEntity(ctx context.Context, name string, typ domain.EntityType) (*domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, name, type, context, relationship, decade,
		        source_message_ids, source_session_ids, created_at, updated_at
		 FROM entities WHERE type = ?`, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(entity.Name, name) {
			return entity, nil
		}
	}
	return nil, rows.Err()
}

// mergeEntity folds an incoming entity into an existing one: source-id sets
// grow monotonically, the longer context wins, updatedAt is refreshed.
func mergeEntity(existing, incoming domain.Entity) domain.Entity {
	existing.SourceMessageIDs = unionIDs(existing.SourceMessageIDs, incoming.SourceMessageIDs)
	existing.SourceSessionIDs = unionIDs(existing.SourceSessionIDs, incoming.SourceSessionIDs)
	if len(incoming.Context) > len(existing.Context) {
		existing.Context = incoming.Context
	}
	if existing.Relationship == nil && incoming.Relationship != nil {
		existing.Relationship = incoming.Relationship
	}
	if existing.Decade == nil && incoming.Decade != nil {
		existing.Decade = incoming.Decade
	}
	existing.UpdatedAt = time.Now().UTC()
	return existing
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *SQLiteStore) insertEntity(ctx context.Context, entity domain.Entity) error {
	if entity.ID == "" {
		entity.ID = "ent_" + uuid.New().String()[:8]
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = now
	}
	msgIDs, _ := json.Marshal(entity.SourceMessageIDs)
	sessIDs, _ := json.Marshal(entity.SourceSessionIDs)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (entity_id, name, type, context, relationship, decade,
		                       source_message_ids, source_session_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entity.ID, entity.Name, entity.Type, entity.Context, entity.Relationship, entity.Decade,
		string(msgIDs), string(sessIDs), entity.CreatedAt, entity.UpdatedAt)
	return err
}

func (s *SQLiteStore) updateEntity(ctx context.Context, entity domain.Entity) error {
	msgIDs, _ := json.Marshal(entity.SourceMessageIDs)
	sessIDs, _ := json.Marshal(entity.SourceSessionIDs)
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET context = ?, relationship = ?, decade = ?,
		        source_message_ids = ?, source_session_ids = ?, updated_at = ?
		 WHERE entity_id = ?`,
		entity.Context, entity.Relationship, entity.Decade,
		string(msgIDs), string(sessIDs), entity.UpdatedAt, entity.ID)
	return err
}

// GetAllEntities returns all entities, newest-first by creation time.
func (s *SQLiteStore) GetAllEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, name, type, context, relationship, decade,
		        source_message_ids, source_session_ids, created_at, updated_at
		 FROM entities ORDER BY created_at DESC, entity_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, rows.Err()
}

// SearchEntities ranks exact name matches first, then name-contains, then
// context-contains. Matching is case-insensitive and done in Go for correct
// folding of non-ASCII names.
func (s *SQLiteStore) SearchEntities(ctx context.Context, query string) ([]domain.Entity, error) {
	entities, err := s.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []domain.Entity{}, nil
	}

	type ranked struct {
		entity domain.Entity
		rank   int
		pos    int
	}
	var results []ranked
	for i, entity := range entities {
		name := strings.ToLower(entity.Name)
		context := strings.ToLower(entity.Context)
		switch {
		case name == q:
			results = append(results, ranked{entity, 0, i})
		case strings.Contains(name, q):
			results = append(results, ranked{entity, 1, i})
		case strings.Contains(context, q):
			results = append(results, ranked{entity, 2, i})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].rank != results[j].rank {
			return results[i].rank < results[j].rank
		}
		return results[i].pos < results[j].pos
	})

	if len(results) > searchResultCap {
		results = results[:searchResultCap]
	}
	out := make([]domain.Entity, len(results))
	for i, r := range results {
		out[i] = r.entity
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var endedAt sql.NullTime
	var summary sql.NullString
	err := row.Scan(&session.ID, &session.StartedAt, &endedAt, &summary, &session.Status, &session.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	if summary.Valid {
		session.Summary = &summary.String
	}
	return &session, nil
}

func scanEntity(row rowScanner) (*domain.Entity, error) {
	var entity domain.Entity
	var relationship, decade sql.NullString
	var msgIDs, sessIDs string
	err := row.Scan(&entity.ID, &entity.Name, &entity.Type, &entity.Context,
		&relationship, &decade, &msgIDs, &sessIDs, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if relationship.Valid {
		entity.Relationship = &relationship.String
	}
	if decade.Valid {
		entity.Decade = &decade.String
	}
	if err := json.Unmarshal([]byte(msgIDs), &entity.SourceMessageIDs); err != nil {
		return nil, fmt.Errorf("corrupt source_message_ids for %s: %w", entity.ID, err)
	}
	if err := json.Unmarshal([]byte(sessIDs), &entity.SourceSessionIDs); err != nil {
		return nil, fmt.Errorf("corrupt source_session_ids for %s: %w", entity.ID, err)
	}
	return &entity, nil
}

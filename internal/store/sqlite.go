package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements the two-tier memory store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	busyTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// WithPool bounds the connection pool.
func WithPool(maxOpen, minIdle int, maxLifetime time.Duration) Option {
	return func(o *options) {
		o.maxOpen = maxOpen
		o.maxIdle = minIdle
		o.maxLifetime = maxLifetime
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := options{
		maxOpen:     10,
		maxIdle:     2,
		busyTimeout: 5 * time.Second,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(%d)",
		dbPath, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpen)
	db.SetMaxIdleConns(o.maxIdle)
	if o.maxLifetime > 0 {
		db.SetConnMaxLifetime(o.maxLifetime)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		now:     o.now,
		logger:  o.logger.Named("store"),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS parents (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		speaker           TEXT NOT NULL CHECK (speaker IN ('user', 'assistant')),
		full_text         TEXT NOT NULL,
		summary           TEXT NOT NULL,
		summary_embedding BLOB NOT NULL,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parents_session ON parents(session_id);
	CREATE INDEX IF NOT EXISTS idx_parents_created ON parents(created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		parent_id   TEXT NOT NULL REFERENCES parents(id) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		speaker     TEXT NOT NULL CHECK (speaker IN ('user', 'assistant')),
		embedding   BLOB NOT NULL,
		topic       TEXT NOT NULL DEFAULT '',
		importance  INTEGER NOT NULL DEFAULT 0 CHECK (importance BETWEEN 0 AND 5),
		tags        TEXT NOT NULL DEFAULT '[]',
		session_id  TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_chunks_created ON chunks(created_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content=chunks,
		content_rowid=rowid,
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertUtterance writes a parent and all of its chunks in one transaction.
// IDs and timestamps are assigned here; chunks inherit the parent's speaker,
// session and creation time. Either everything is written or nothing is.
func (s *SQLiteStore) InsertUtterance(ctx context.Context, parent *model.ParentDocument, chunks []model.MemoryChunk) error {
	if !parent.Speaker.Valid() {
		return fmt.Errorf("%w: speaker %q", ErrInvalidInput, parent.Speaker)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: utterance has no chunks", ErrInvalidInput)
	}

	now := s.now().UTC()
	parent.ID = s.newID(now)
	parent.CreatedAt = now
	parent.ChunkCount = len(chunks)
	created := now.Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO parents (id, session_id, speaker, full_text, summary, summary_embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		parent.ID, parent.SessionID, string(parent.Speaker), parent.FullText, parent.Summary,
		embedding.Encode(parent.SummaryEmbedding), created)
	if err != nil {
		return fmt.Errorf("insert parent: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, parent_id, content, speaker, embedding, topic, importance, tags, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		c.ID = s.newID(now)
		c.ParentID = parent.ID
		c.Speaker = parent.Speaker
		c.SessionID = parent.SessionID
		c.CreatedAt = now
		c.Importance = model.ClampImportance(c.Importance)

		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, _ := json.Marshal(tags)

		if _, err := stmt.ExecContext(ctx,
			c.ID, c.ParentID, c.Content, string(c.Speaker), embedding.Encode(c.Embedding),
			c.Topic, c.Importance, string(tagsJSON), c.SessionID, created); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("stored utterance",
		zap.String("parent", parent.ID),
		zap.String("session", parent.SessionID),
		zap.Int("chunks", len(chunks)))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(sc scanner, extra ...any) (model.MemoryChunk, error) {
	var c model.MemoryChunk
	var speaker, tags, created string
	dest := append([]any{&c.ID, &c.ParentID, &c.Content, &speaker, &c.Topic, &c.Importance,
		&tags, &c.SessionID, &created}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return c, err
	}
	c.Speaker = model.Speaker(speaker)
	if tags != "" {
		json.Unmarshal([]byte(tags), &c.Tags)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return c, nil
}

const chunkColumns = `c.id, c.parent_id, c.content, c.speaker, c.topic, c.importance, c.tags, c.session_id, c.created_at`

// Package records keeps the history of generated stories in SQLite, with the
// documents each RAG story drew on, and a bleve archive for ranked search.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// DefaultLimit is the page size when a caller passes limit <= 0.
const DefaultLimit = 100

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Story is one recorded generation.
type Story struct {
	ID           int64     `json:"id"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	SystemPrompt string    `json:"system_prompt"`
	Style        string    `json:"style"`
	Mode         string    `json:"mode"`
	MemoryAdded  bool      `json:"memory_added"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is a source file some story was generated from.
type Document struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	FileHash  string    `json:"file_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the story history database.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	now    func() time.Time
	closed bool
}

// Open opens (creating if needed) the database at path using the pure Go
// driver, in WAL mode with a single connection.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, serrors.New(serrors.ErrCodeFilePermission, fmt.Sprintf("failed to create directory for %s", path), err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN parameters are not honoured by every driver, so pragmas are set here.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, storeErr("set pragma", err)
		}
	}

	s, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if err := InitSchema(db); err != nil {
		return nil, storeErr("initialize schema", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// AddStory records a story and returns its id. CreatedAt is set by the store.
func (s *Store) AddStory(ctx context.Context, st *Story) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (prompt, response, system_prompt, style, mode, memory_added, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.Prompt, st.Response, st.SystemPrompt, st.Style, st.Mode, st.MemoryAdded, created.Format(timeLayout))
	if err != nil {
		return 0, storeErr("insert story", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert story", err)
	}
	st.ID = id
	st.CreatedAt = created
	return id, nil
}

// AddDocument records a source document. An existing filename keeps its
// row and its id is returned.
func (s *Store) AddDocument(ctx context.Context, filename, fileHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (filename, file_hash, created_at) VALUES (?, ?, ?)`,
		filename, fileHash, s.now().UTC().Format(timeLayout)); err != nil {
		return 0, storeErr("insert document", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE filename = ?`, filename).Scan(&id); err != nil {
		return 0, storeErr("look up document", err)
	}
	return id, nil
}

// LinkStoryDocument records that a story used a document. Linking twice is a no-op.
func (s *Store) LinkStoryDocument(ctx context.Context, storyID, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO story_documents (story_id, document_id) VALUES (?, ?)`,
		storyID, documentID); err != nil {
		return storeErr("link story document", err)
	}
	return nil
}

const storyColumns = `id, prompt, response, system_prompt, style, mode, memory_added, created_at`

// GetStory returns one story; a missing id is ERR_410_STORY_NOT_FOUND.
func (s *Store) GetStory(ctx context.Context, id int64) (*Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.New(serrors.ErrCodeStoryNotFound, fmt.Sprintf("story %d not found", id), nil).
			WithSuggestion("List stories with 'storyrag stories list'")
	}
	if err != nil {
		return nil, storeErr("get story", err)
	}
	return st, nil
}

// ListStories returns stories newest first.
func (s *Store) ListStories(ctx context.Context, limit, offset int) ([]*Story, error) {
	return s.queryStories(ctx, `SELECT `+storyColumns+` FROM stories
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, page(limit), max(offset, 0))
}

// StoriesByStyle returns stories of one style, newest first.
func (s *Store) StoriesByStyle(ctx context.Context, style string, limit, offset int) ([]*Story, error) {
	return s.queryStories(ctx, `SELECT `+storyColumns+` FROM stories WHERE style = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, style, page(limit), max(offset, 0))
}

// SearchStories returns stories whose prompt or response contains q,
// newest first. LIKE wildcards in q match literally.
func (s *Store) SearchStories(ctx context.Context, q string, limit, offset int) ([]*Story, error) {
	pattern := "%" + escapeLike(q) + "%"
	return s.queryStories(ctx, `SELECT `+storyColumns+` FROM stories
		WHERE prompt LIKE ? ESCAPE '\' OR response LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, pattern, pattern, page(limit), max(offset, 0))
}

// StoriesAfter returns stories with id greater than afterID in id order.
func (s *Store) StoriesAfter(ctx context.Context, afterID int64) ([]*Story, error) {
	return s.queryStories(ctx, `SELECT `+storyColumns+` FROM stories WHERE id > ? ORDER BY id`, afterID)
}

// StoryDocuments returns the documents linked to a story.
func (s *Store) StoryDocuments(ctx context.Context, storyID int64) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.filename, d.file_hash, d.created_at
		FROM documents d
		JOIN story_documents sd ON d.id = sd.document_id
		WHERE sd.story_id = ?
		ORDER BY d.filename`, storyID)
	if err != nil {
		return nil, storeErr("list story documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		var created string
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileHash, &created); err != nil {
			return nil, storeErr("scan document", err)
		}
		d.CreatedAt = parseTime(created)
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list story documents", err)
	}
	return docs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) queryStories(ctx context.Context, query string, args ...any) ([]*Story, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query stories", err)
	}
	defer rows.Close()

	stories := []*Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, storeErr("scan story", err)
		}
		stories = append(stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query stories", err)
	}
	return stories, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*Story, error) {
	var st Story
	var created string
	if err := row.Scan(&st.ID, &st.Prompt, &st.Response, &st.SystemPrompt, &st.Style, &st.Mode, &st.MemoryAdded, &created); err != nil {
		return nil, err
	}
	st.CreatedAt = parseTime(created)
	return &st, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func page(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func storeErr(op string, err error) error {
	return serrors.New(serrors.ErrCodeRecordsStore, "records: failed to "+op, err)
}

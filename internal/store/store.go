package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		kind TEXT NOT NULL,
		questions TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_topic ON documents(topic);

	CREATE TABLE IF NOT EXISTS document_chunks (
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		PRIMARY KEY (document_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertAssessment stores a generated question set and returns its ID.
func (s *Store) InsertAssessment(a model.Assessment) (int64, error) {
	questions, err := json.Marshal(a.Questions)
	if err != nil {
		return 0, fmt.Errorf("encode questions: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO assessments (topic, kind, questions, created_at) VALUES (?, ?, ?, ?)`,
		a.Topic, string(a.Kind), string(questions), time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAssessment returns an assessment by ID.
func (s *Store) GetAssessment(id int64) (model.Assessment, error) {
	var (
		a         model.Assessment
		kind      string
		questions string
	)
	err := s.db.QueryRow(
		`SELECT id, topic, kind, questions FROM assessments WHERE id = ?`, id,
	).Scan(&a.ID, &a.Topic, &kind, &questions)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("assessment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return a, err
	}
	a.Kind = model.ParseKind(kind)
	if err := json.Unmarshal([]byte(questions), &a.Questions); err != nil {
		return a, fmt.Errorf("decode questions of assessment %d: %w", id, err)
	}
	return a, nil
}

// ListAssessments returns all assessments without their questions, newest first.
func (s *Store) ListAssessments() ([]model.Assessment, error) {
	rows, err := s.db.Query(`SELECT id, topic, kind FROM assessments ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Assessment
	for rows.Next() {
		var (
			a    model.Assessment
			kind string
		)
		if err := rows.Scan(&a.ID, &a.Topic, &kind); err != nil {
			return nil, err
		}
		a.Kind = model.ParseKind(kind)
		list = append(list, a)
	}
	return list, rows.Err()
}

// InsertDocument stores uploaded source text split into chunks without
// embeddings.
func (s *Store) InsertDocument(d model.Document) (int64, error) {
	return s.InsertDocumentChunks(d, nil)
}

// InsertDocumentChunks stores a document together with its chunks. When
// chunks is nil the content is split with SplitText.
func (s *Store) InsertDocumentChunks(d model.Document, chunks []model.Chunk) (int64, error) {
	if chunks == nil {
		for i, text := range SplitText(d.Content, ChunkSize, ChunkOverlap) {
			chunks = append(chunks, model.Chunk{Seq: i, Text: text})
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO documents (name, topic, content, created_at) VALUES (?, ?, ?, ?)`,
		d.Name, d.Topic, d.Content, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			b, err := json.Marshal(c.Embedding)
			if err != nil {
				return 0, fmt.Errorf("encode embedding: %w", err)
			}
			embedding = string(b)
		}
		if _, err := tx.Exec(
			`INSERT INTO document_chunks (document_id, seq, content, embedding) VALUES (?, ?, ?, ?)`,
			id, c.Seq, c.Text, embedding,
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", c.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListDocuments returns document metadata without content.
func (s *Store) ListDocuments() ([]model.Document, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.name, d.topic, COUNT(c.seq)
		FROM documents d LEFT JOIN document_chunks c ON c.document_id = d.id
		GROUP BY d.id ORDER BY d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.Topic, &d.Chunks); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// RelevantChunks returns the k chunks most relevant to a topic among the
// documents tagged with it and the untagged ones. query is the topic's
// embedding and may be nil. A k of zero or less returns every chunk in
// document order.
func (s *Store) RelevantChunks(topic string, query []float32, k int) ([]model.Chunk, error) {
	rows, err := s.db.Query(`
		SELECT c.document_id, c.seq, c.content, COALESCE(c.embedding, '')
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.topic = ? OR d.topic = ''
		ORDER BY c.document_id, c.seq`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var (
			c         model.Chunk
			embedding string
		)
		if err := rows.Scan(&c.DocumentID, &c.Seq, &c.Text, &embedding); err != nil {
			return nil, err
		}
		if embedding != "" {
			if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding of document %d chunk %d: %w", c.DocumentID, c.Seq, err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return chunks, nil
	}
	rankChunks(chunks, topic, query)
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks, nil
}

// DocumentContext joins the k chunks most relevant to a topic, cut to
// limit characters. A limit of zero or less means no cut.
func (s *Store) DocumentContext(topic string, query []float32, k, limit int) (string, error) {
	chunks, err := s.RelevantChunks(topic, query, k)
	if err != nil {
		return "", err
	}
	var out []rune
	for _, c := range chunks {
		if len(out) > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, []rune(c.Text)...)
		if limit > 0 && len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	return string(out), nil
}

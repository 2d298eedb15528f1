package store

import (
	"database/sql"
	"fmt"

	"github.com/pavelanni/grader/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite snapshot of one grading run.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graded_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL UNIQUE,
		identifier TEXT NOT NULL,
		grp TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		marks INTEGER NOT NULL DEFAULT 10,
		word_count INTEGER NOT NULL DEFAULT 0,
		raw_score REAL NOT NULL DEFAULT 0,
		obtained REAL NOT NULL DEFAULT 0,
		rank INTEGER
	);

	CREATE TABLE IF NOT EXISTS run_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset removes everything from a previous run.
func (s *Store) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"graded_answers", "run_metadata"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// SaveAnswers replaces the graded answers with results. Results that made
// it onto the scorecard get their rank.
func (s *Store) SaveAnswers(results []model.GradedResult, sc model.Scorecard) error {
	ranks := make(map[int]int, len(sc.Rows))
	for _, row := range sc.Rows {
		ranks[row.Index] = row.Rank
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM graded_answers`); err != nil {
		return err
	}
	for i, r := range results {
		var rank sql.NullInt64
		if rk, ok := ranks[i]; ok {
			rank = sql.NullInt64{Int64: int64(rk), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO graded_answers (position, identifier, grp, question, answer, marks, word_count, raw_score, obtained, rank)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, r.Question.ID.String(), r.Group(), r.Question.Text, r.Answer.Text,
			r.Question.Marks, r.WordCount, r.RawScore, r.Obtained, rank,
		)
		if err != nil {
			return fmt.Errorf("insert answer %s: %w", r.Question.ID, err)
		}
	}
	return tx.Commit()
}

// ListAnswers returns the graded answers in grading order.
func (s *Store) ListAnswers() ([]model.AnswerResult, error) {
	return s.queryAnswers(`SELECT identifier, grp, question, answer, marks, word_count, raw_score, obtained, rank
		FROM graded_answers ORDER BY position`)
}

// CountedAnswers returns the answers that count toward the total, in rank order.
func (s *Store) CountedAnswers() ([]model.AnswerResult, error) {
	return s.queryAnswers(`SELECT identifier, grp, question, answer, marks, word_count, raw_score, obtained, rank
		FROM graded_answers WHERE rank IS NOT NULL ORDER BY rank`)
}

func (s *Store) queryAnswers(query string) ([]model.AnswerResult, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.AnswerResult
	for rows.Next() {
		var a model.AnswerResult
		var rank sql.NullInt64
		if err := rows.Scan(&a.Identifier, &a.Group, &a.Question, &a.Answer, &a.Marks,
			&a.WordCount, &a.RawScore, &a.Obtained, &rank); err != nil {
			return nil, err
		}
		if rank.Valid {
			rk := int(rank.Int64)
			a.Rank = &rk
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// AnswerCount returns the number of graded answers in the snapshot.
func (s *Store) AnswerCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM graded_answers`).Scan(&count)
	return count, err
}

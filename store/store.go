// Package store keeps the funnel's best-effort activity log: one row per
// user and an append-only event trail, in a single-file sqlite database
// owned by the one bot process.
package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// User represents a row from 'users'.
type User struct {
	ID         int
	TelegramID int64
	UserName   string
	FullName   string
	Source     string
	Stage      string
	CreatedAt  time.Time
}

// Event represents a row from 'events'.
type Event struct {
	ID         int
	TelegramID int64
	Event      string
	Meta       string
	CreatedAt  time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	const usersSQL = `CREATE TABLE IF NOT EXISTS users (
  id INTEGER NOT NULL PRIMARY KEY,
  telegram_id BIGINT UNIQUE NOT NULL,
  user_name TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  source TEXT,
  stage TEXT NOT NULL DEFAULT '',
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

	const eventsSQL = `CREATE TABLE IF NOT EXISTS events (
  id INTEGER NOT NULL PRIMARY KEY,
  telegram_id BIGINT NOT NULL,
  event TEXT NOT NULL,
  meta TEXT NOT NULL DEFAULT '',
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

	if _, err := s.db.Exec(usersSQL); err != nil {
		return err
	}
	_, err := s.db.Exec(eventsSQL)
	return err
}

// UpsertUser inserts the user or refreshes the name fields. The first
// recorded source wins.
func (s *Store) UpsertUser(telegramID int64, userName, fullName, source string) error {
	const sqlstr = `INSERT INTO users (telegram_id, user_name, full_name, source)
VALUES (?, ?, ?, ?)
ON CONFLICT(telegram_id) DO UPDATE SET
  user_name=excluded.user_name,
  full_name=excluded.full_name,
  source=COALESCE(users.source, excluded.source)`

	_, err := s.db.Exec(sqlstr, telegramID, userName, fullName, source)
	return err
}

// SetStage records the user's current funnel stage.
func (s *Store) SetStage(telegramID int64, stage string) error {
	const sqlstr = `UPDATE users SET stage = ? WHERE telegram_id = ?`

	_, err := s.db.Exec(sqlstr, stage, telegramID)
	return err
}

// LogEvent appends one event to the trail.
func (s *Store) LogEvent(telegramID int64, event, meta string) error {
	const sqlstr = `INSERT INTO events (telegram_id, event, meta) VALUES (?, ?, ?)`

	_, err := s.db.Exec(sqlstr, telegramID, event, meta)
	return err
}

// UserByTelegramID retrieves a user row.
func (s *Store) UserByTelegramID(telegramID int64) (*User, error) {
	const sqlstr = `SELECT id, telegram_id, user_name, full_name, COALESCE(source, ''), stage, created_at ` +
		`FROM users WHERE telegram_id = ?`

	u := User{}
	err := s.db.QueryRow(sqlstr, telegramID).Scan(&u.ID, &u.TelegramID, &u.UserName,
		&u.FullName, &u.Source, &u.Stage, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EventsByTelegramID retrieves a user's events, oldest first.
func (s *Store) EventsByTelegramID(telegramID int64) ([]*Event, error) {
	const sqlstr = `SELECT id, telegram_id, event, meta, created_at ` +
		`FROM events WHERE telegram_id = ? ORDER BY id`

	q, err := s.db.Query(sqlstr, telegramID)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	events := []*Event{}
	for q.Next() {
		e := Event{}
		if err := q.Scan(&e.ID, &e.TelegramID, &e.Event, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, q.Err()
}

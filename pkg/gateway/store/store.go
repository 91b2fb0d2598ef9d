// Package store persists conversations in Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
)

// Conversation is one stored conversation with its full entry history.
type Conversation struct {
	ID        uuid.UUID
	UserID    int64
	Title     string
	Entries   []chat.Entry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the listing shape, without the entry history.
type Summary struct {
	ID        uuid.UUID
	Title     string
	UpdatedAt time.Time
}

// Store reads and writes conversations.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// DefaultTitle is the title of a conversation before its first turn names it.
const DefaultTitle = "New Chat"

// Create inserts an empty conversation for the user.
func (s *Store) Create(ctx context.Context, userID int64) (*Conversation, error) {
	conv := &Conversation{
		ID:     uuid.New(),
		UserID: userID,
		Title:  DefaultTitle,
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title, entries)
		 VALUES ($1, $2, $3, '[]'::jsonb)
		 RETURNING created_at, updated_at`,
		conv.ID, conv.UserID, conv.Title)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, core.NewPersistenceError("create conversation", err)
	}
	return conv, nil
}

// ListByUser returns the user's conversations, most recently updated first.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, updated_at
		 FROM conversations
		 WHERE user_id = $1
		 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, core.NewPersistenceError("list conversations", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.UpdatedAt); err != nil {
			return nil, core.NewPersistenceError("scan conversation", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistenceError("list conversations", err)
	}
	return summaries, nil
}

// Get returns one conversation owned by the user.
func (s *Store) Get(ctx context.Context, id uuid.UUID, userID int64) (*Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, entries, created_at, updated_at
		 FROM conversations
		 WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanConversation(row)
}

// Delete removes a conversation owned by the user.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID)
	if err != nil {
		return core.NewPersistenceError("delete conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("conversation not found")
	}
	return nil
}

// UpdateTitle renames a conversation owned by the user.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, userID int64, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $3, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, title)
	if err != nil {
		return core.NewPersistenceError("update title", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("conversation not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var entries []byte
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &entries, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFoundError("conversation not found")
	}
	if err != nil {
		return nil, core.NewPersistenceError("load conversation", err)
	}
	conv.Entries, err = chat.DecodeEntries(entries)
	if err != nil {
		return nil, core.NewPersistenceError("decode entries", err)
	}
	return &conv, nil
}

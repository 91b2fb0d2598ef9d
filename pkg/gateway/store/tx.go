package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
)

// TurnTx is the transaction that appends one completed turn. The conversation
// row is locked for the duration so concurrent turns on the same conversation
// serialize instead of clobbering each other.
type TurnTx struct {
	tx pgx.Tx
}

// BeginTurn opens the append transaction.
func (s *Store) BeginTurn(ctx context.Context) (*TurnTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.NewPersistenceError("begin transaction", err)
	}
	return &TurnTx{tx: tx}, nil
}

// FindForUpdate re-reads the conversation under a row lock. The pre-stream
// read is advisory only; this is the copy the append is based on.
func (t *TurnTx) FindForUpdate(ctx context.Context, id uuid.UUID, userID int64) (*Conversation, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, user_id, title, entries, created_at, updated_at
		 FROM conversations
		 WHERE id = $1 AND user_id = $2
		 FOR UPDATE`,
		id, userID)
	return scanConversation(row)
}

// AppendTurn writes the user/assistant pair at the given pair position.
// Entries from that position on are discarded first, which is how edits
// rewrite history; for a fresh turn the position is past the end and nothing
// is discarded. Writing the first pair also names the conversation; later
// pairs leave the title alone so renames survive.
func (t *TurnTx) AppendTurn(ctx context.Context, conv *Conversation, pairID int, user, assistant chat.Entry) error {
	entries := conv.Entries
	if cut := pairID * 2; cut < len(entries) {
		entries = entries[:cut]
	}

	user.Index = pairID * 2
	assistant.Index = pairID*2 + 1
	entries = append(entries, user, assistant)

	title := conv.Title
	if pairID == 0 {
		title = DeriveTitle(conv.Title, entries[0].PromptText())
	}

	encoded, err := chat.EncodeEntries(entries)
	if err != nil {
		return core.NewPersistenceError("encode entries", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE conversations SET entries = $2, title = $3, updated_at = now()
		 WHERE id = $1`,
		conv.ID, encoded, title)
	if err != nil {
		return core.NewPersistenceError("append turn", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("conversation not found")
	}

	conv.Entries = entries
	conv.Title = title
	return nil
}

// Commit finalizes the turn.
func (t *TurnTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return core.NewPersistenceError("commit transaction", err)
	}
	return nil
}

// Rollback discards the turn. Safe to call after Commit.
func (t *TurnTx) Rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}

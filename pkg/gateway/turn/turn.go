// Package turn runs the streaming turn pipeline: credit gate, transcription,
// provider streaming, per-sentence synthesis, and the transactional append
// that makes the turn durable.
package turn

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/core/pricing"
	"github.com/parley-ai/parley/pkg/core/voice"
	"github.com/parley-ai/parley/pkg/core/voice/speech"
	"github.com/parley-ai/parley/pkg/core/voice/stt"
	"github.com/parley-ai/parley/pkg/gateway/store"
)

// Frame is one unit of streamed output. A frame either carries data or a
// terminal error; no frames follow an error.
type Frame struct {
	Data []byte
	Err  error
}

// Upload is one file attached to a turn.
type Upload struct {
	Filename string
	Data     []byte
}

// Request describes one turn to run.
type Request struct {
	Conversation uuid.UUID
	Model        string
	Kind         chat.EntryKind

	// Text is the message body for text turns.
	Text string
	// Audio is the recorded clip for voice turns.
	Audio         []byte
	AudioFilename string

	Images []Upload

	// EditPair, when set, rewrites history from that pair onward instead of
	// appending.
	EditPair *int
}

// Stream is a running turn. Frames carries deltas (text) or audio chunks
// (voice) until the channel closes.
type Stream struct {
	Frames <-chan Frame
	// Voice reports whether frames carry synthesized audio.
	Voice bool
	// Cost and Remaining are the approved deduction for this turn.
	Cost      float64
	Remaining float64
}

// ConversationStore is the slice of the store the pipeline needs.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID, userID int64) (*store.Conversation, error)
	BeginTurn(ctx context.Context) (Tx, error)
}

// Tx is the append transaction.
type Tx interface {
	FindForUpdate(ctx context.Context, id uuid.UUID, userID int64) (*store.Conversation, error)
	AppendTurn(ctx context.Context, conv *store.Conversation, pairID int, user, assistant chat.Entry) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (string, error)
}

// Notifier reports the post-turn balance to the billing service.
type Notifier interface {
	Deduct(ctx context.Context, userID int64, creditsRemaining float64, bearer string) error
}

// MediaLibrary stores uploaded files.
type MediaLibrary interface {
	Save(relPath string, data []byte) error
}

// Orchestrator wires the pipeline's dependencies.
type Orchestrator struct {
	Store       ConversationStore
	Media       MediaLibrary
	Prompt      *chat.ContextBuilder
	Transcriber Transcriber
	Providers   *core.Registry
	Gate        *pricing.Gate
	Notifier    Notifier
	Synth       voice.Synthesizer
	SpeechOpts  speech.Options
	// BufferFrames bounds the producer/writer channel so a slow client
	// backpressures the provider read instead of growing memory.
	BufferFrames int
	Logger       *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

package voice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-ai/parley/pkg/core/voice/speech"
)

// Synthesizer converts one sentence of text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts speech.Options) ([]byte, error)
}

// Relay voices completed sentences one at a time. The first sentence is
// requested with a WAV container so the combined output starts with a RIFF
// header; every later sentence is requested as bare samples appended to it.
//
// A failed sentence is skipped so one bad synthesis call does not kill the
// response. The relay only reports an error when sentences were spoken but
// none produced audio.
type Relay struct {
	synth  Synthesizer
	opts   speech.Options
	logger *slog.Logger

	first     bool
	sentences int
	archive   []byte
}

// NewRelay creates a relay for one response stream.
func NewRelay(synth Synthesizer, opts speech.Options, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		synth:  synth,
		opts:   opts,
		logger: logger,
		first:  true,
	}
}

// Speak synthesizes one sentence and returns its audio, or nil if synthesis
// failed. The container flag flips on the attempt, not on success, so a failed
// first sentence still leaves later ones headerless.
func (r *Relay) Speak(ctx context.Context, sentence string) []byte {
	opts := r.opts
	if r.first {
		opts.Container = "wav"
	} else {
		opts.Container = "none"
	}
	r.first = false
	r.sentences++

	audio, err := r.synth.Synthesize(ctx, sentence, opts)
	if err != nil {
		r.logger.Warn("sentence synthesis failed, skipping",
			"error", err,
			"sentence_len", len(sentence))
		return nil
	}
	r.archive = append(r.archive, audio...)
	return audio
}

// Voiced returns the total audio bytes produced so far.
func (r *Relay) Voiced() int {
	return len(r.archive)
}

// Audio returns the accumulated turn audio, the concatenation of every
// forwarded chunk.
func (r *Relay) Audio() []byte {
	return r.archive
}

// Finish reports whether the relay produced any audio at all. Call it after
// the last sentence.
func (r *Relay) Finish() error {
	if r.sentences > 0 && len(r.archive) == 0 {
		return fmt.Errorf("speech synthesis produced no audio for %d sentences", r.sentences)
	}
	return nil
}

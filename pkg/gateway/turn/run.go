package turn

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/core/voice"
	"github.com/parley-ai/parley/pkg/core/voice/stt"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/media"
	"github.com/parley-ai/parley/pkg/gateway/store"
)

const persistTimeout = 30 * time.Second

// Run validates and prepares a turn, opens the provider stream, and starts
// the producer. Failures before the first delta are returned synchronously so
// the handler can answer with a plain error status.
func (o *Orchestrator) Run(ctx context.Context, p *auth.Principal, req Request) (*Stream, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	cost, remaining, err := o.Gate.Approve(req.Model, p.CreditsRemaining)
	if err != nil {
		return nil, err
	}

	// Advisory read. The append transaction re-reads under a row lock; this
	// copy only shapes the prompt and validates the edit target early.
	conv, err := o.Store.Get(ctx, req.Conversation, p.UserID)
	if err != nil {
		return nil, err
	}

	pairID := len(conv.Entries) / 2
	if req.EditPair != nil {
		pairID = *req.EditPair
		if err := validateEditTarget(conv, pairID); err != nil {
			return nil, err
		}
	}
	position := pairID * 2

	userText := req.Text
	voicePath := ""
	if req.Kind == chat.KindVoice {
		transcript, err := o.Transcriber.Transcribe(ctx, bytes.NewReader(req.Audio), stt.TranscribeOptions{
			Filename: req.AudioFilename,
		})
		if err != nil {
			return nil, core.NewUpstreamError("transcription failed", err)
		}
		userText = transcript

		// The clip itself is written during persistence, with the turn.
		voicePath = media.VoiceName(conv.ID, position, req.AudioFilename)
	}

	// Uploads must land on disk before the turn runs; the skip policy covers
	// images that later fail to decode, not ones that were never written.
	var imagePaths []string
	for i, img := range req.Images {
		path := media.ImageName(conv.ID, position, i, img.Filename)
		if err := o.Media.Save(path, img.Data); err != nil {
			return nil, err
		}
		imagePaths = append(imagePaths, path)
	}

	prompt := o.Prompt.Build(conv.Entries[:position], userText, imagePaths)

	provider, ok := o.Providers.For(req.Model)
	if !ok {
		return nil, core.NewValidationErrorWithParam("no provider for model", "model")
	}
	tokens, err := provider.Stream(ctx, req.Model, prompt)
	if err != nil {
		return nil, core.NewUpstreamError("provider stream failed", err)
	}

	frames := make(chan Frame, o.BufferFrames)
	state := &turnState{
		principal: p,
		req:       req,
		conv:      conv,
		pairID:    pairID,
		userText:  userText,
		voicePath: voicePath,
		images:    imagePaths,
		remaining: remaining,
	}
	go o.produce(ctx, tokens, frames, state)

	return &Stream{
		Frames:    frames,
		Voice:     req.Kind == chat.KindVoice,
		Cost:      cost,
		Remaining: remaining,
	}, nil
}

func validate(req Request) error {
	switch req.Kind {
	case chat.KindText:
		if strings.TrimSpace(req.Text) == "" {
			return core.NewValidationErrorWithParam("message text is required", "content")
		}
	case chat.KindVoice:
		if len(req.Audio) == 0 {
			return core.NewValidationErrorWithParam("audio clip is required", "voice")
		}
	default:
		return core.NewValidationErrorWithParam("unknown message type", "type")
	}
	if req.Model == "" {
		return core.NewValidationErrorWithParam("model is required", "model")
	}
	if req.EditPair != nil && *req.EditPair < 0 {
		return core.NewValidationErrorWithParam("edit target out of range", "message_id")
	}
	return nil
}

func validateEditTarget(conv *store.Conversation, pairID int) error {
	idx := pairID * 2
	if idx >= len(conv.Entries) {
		return core.NewValidationErrorWithParam("edit target out of range", "message_id")
	}
	if conv.Entries[idx].Role != chat.RoleUser {
		return core.NewValidationErrorWithParam("edit target is not a user message", "message_id")
	}
	return nil
}

// turnState carries what the producer needs to finish and persist the turn.
type turnState struct {
	principal *auth.Principal
	req       Request
	conv      *store.Conversation
	pairID    int
	userText  string
	voicePath string
	images    []string
	remaining float64
}

func (s *turnState) userEntry() chat.Entry {
	entry := chat.Entry{
		Kind:   s.req.Kind,
		Role:   chat.RoleUser,
		Images: s.images,
	}
	if s.req.Kind == chat.KindVoice {
		entry.Content = s.voicePath
		entry.Transcription = s.userText
	} else {
		entry.Content = s.userText
	}
	return entry
}

func (o *Orchestrator) produce(ctx context.Context, tokens core.TokenStream, frames chan<- Frame, state *turnState) {
	defer close(frames)
	defer tokens.Close()

	var full strings.Builder
	var segmenter *voice.Segmenter
	var relay *voice.Relay
	voiced := state.req.Kind == chat.KindVoice
	if voiced {
		segmenter = voice.NewSegmenter()
		relay = voice.NewRelay(o.Synth, o.SpeechOpts, o.Logger)
	}

	disconnected := false

loop:
	for {
		delta, err := tokens.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				disconnected = true
				break
			}
			o.emit(ctx, frames, Frame{Err: core.NewUpstreamError("provider stream failed", err)})
			return
		}
		full.WriteString(delta)

		if voiced {
			for _, sentence := range segmenter.Add(delta) {
				audio := relay.Speak(ctx, sentence)
				if len(audio) == 0 {
					continue
				}
				if !o.emit(ctx, frames, Frame{Data: audio}) {
					disconnected = true
					break loop
				}
			}
			continue
		}

		if !o.emit(ctx, frames, Frame{Data: []byte(delta)}) {
			disconnected = true
			break
		}
	}

	if voiced && !disconnected {
		if err := relay.Finish(); err != nil {
			o.emit(ctx, frames, Frame{Err: core.NewUpstreamError("speech synthesis failed", err)})
			return
		}
		o.logger().Info("voice turn synthesized",
			"conversation", state.conv.ID,
			"audio_bytes", relay.Voiced())
	}

	// The client going away does not lose the turn; whatever accumulated is
	// still appended, just with nobody listening.
	if disconnected && full.Len() == 0 {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.persist(pctx, state, full.String()); err != nil {
		if !disconnected {
			o.emit(ctx, frames, Frame{Err: err})
		}
		return
	}
}

// persist appends the turn pair and reports the deduction, all inside one
// transaction. The notifier is called before commit so a billing failure
// rolls the whole turn back.
func (o *Orchestrator) persist(ctx context.Context, state *turnState, assistantText string) error {
	tx, err := o.Store.BeginTurn(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	conv, err := tx.FindForUpdate(ctx, state.conv.ID, state.principal.UserID)
	if err != nil {
		return err
	}
	if state.req.EditPair != nil {
		if err := validateEditTarget(conv, state.pairID); err != nil {
			return err
		}
	}

	if state.req.Kind == chat.KindVoice {
		if err := o.Media.Save(state.voicePath, state.req.Audio); err != nil {
			return err
		}
	}

	assistant := chat.Entry{
		Kind:    chat.KindText,
		Role:    chat.RoleAssistant,
		Content: assistantText,
	}
	if err := tx.AppendTurn(ctx, conv, state.pairID, state.userEntry(), assistant); err != nil {
		return err
	}

	if err := o.Notifier.Deduct(ctx, state.principal.UserID, state.remaining, state.principal.Token); err != nil {
		return core.NewPersistenceError("billing notification failed", err)
	}

	return tx.Commit(ctx)
}

func (o *Orchestrator) emit(ctx context.Context, frames chan<- Frame, f Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

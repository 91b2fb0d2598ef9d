package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/core/pricing"
	"github.com/parley-ai/parley/pkg/core/voice/speech"
	"github.com/parley-ai/parley/pkg/core/voice/stt"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/store"
)

// fakeTokens replays scripted deltas, then an optional terminal error.
type fakeTokens struct {
	deltas []string
	err    error
	pos    int
}

func (f *fakeTokens) Next() (string, error) {
	if f.pos < len(f.deltas) {
		d := f.deltas[f.pos]
		f.pos++
		return d, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", io.EOF
}

func (f *fakeTokens) Close() error { return nil }

type fakeProvider struct {
	name   string
	tokens *fakeTokens
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(_ context.Context, _ string, _ []chat.PromptMessage) (core.TokenStream, error) {
	return f.tokens, nil
}

// fakeStore tracks call order across the advisory read and the transaction.
type fakeStore struct {
	mu     sync.Mutex
	conv   *store.Conversation
	events []string

	notifierErr error
	saved       []chat.Entry
	deducted    float64
	committed   bool
	rolledBack  bool
}

func (f *fakeStore) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeStore) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID, userID int64) (*store.Conversation, error) {
	f.record("get")
	if f.conv == nil || f.conv.ID != id || f.conv.UserID != userID {
		return nil, core.NewNotFoundError("conversation not found")
	}
	copied := *f.conv
	return &copied, nil
}

func (f *fakeStore) BeginTurn(_ context.Context) (Tx, error) {
	f.record("begin")
	return &fakeTx{store: f}, nil
}

func (f *fakeStore) Deduct(_ context.Context, _ int64, creditsRemaining float64, _ string) error {
	f.record("deduct")
	f.mu.Lock()
	f.deducted = creditsRemaining
	f.mu.Unlock()
	return f.notifierErr
}

type fakeTx struct {
	store *fakeStore
	done  bool
}

func (t *fakeTx) FindForUpdate(_ context.Context, id uuid.UUID, userID int64) (*store.Conversation, error) {
	t.store.record("find")
	if t.store.conv == nil || t.store.conv.ID != id {
		return nil, core.NewNotFoundError("conversation not found")
	}
	copied := *t.store.conv
	return &copied, nil
}

func (t *fakeTx) AppendTurn(_ context.Context, conv *store.Conversation, pairID int, user, assistant chat.Entry) error {
	t.store.record("append")
	entries := conv.Entries
	if cut := pairID * 2; cut < len(entries) {
		entries = entries[:cut]
	}
	user.Index = pairID * 2
	assistant.Index = pairID*2 + 1
	t.store.mu.Lock()
	t.store.saved = append(entries, user, assistant)
	t.store.mu.Unlock()
	return nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.store.record("commit")
	t.done = true
	t.store.mu.Lock()
	t.store.committed = true
	t.store.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) {
	if t.done {
		return
	}
	t.store.record("rollback")
	t.store.mu.Lock()
	t.store.rolledBack = true
	t.store.mu.Unlock()
}

type fakeMedia struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
}

func (f *fakeMedia) Save(relPath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[relPath] = data
	return nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ io.Reader, _ stt.TranscribeOptions) (string, error) {
	return f.text, f.err
}

type recordingSynth struct {
	mu         sync.Mutex
	containers []string
}

func (f *recordingSynth) Synthesize(_ context.Context, text string, opts speech.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = append(f.containers, opts.Container)
	return []byte("AUDIO[" + text + "]"), nil
}

func newOrchestrator(fs *fakeStore, provider *fakeProvider, synth *recordingSynth) *Orchestrator {
	registry := core.NewRegistry()
	registry.Register(provider)
	return &Orchestrator{
		Store:        fs,
		Media:        &fakeMedia{},
		Prompt:       &chat.ContextBuilder{},
		Transcriber:  &fakeTranscriber{text: "spoken words"},
		Providers:    registry,
		Gate:         pricing.NewGate(pricing.DefaultPrices()),
		Notifier:     fs,
		Synth:        synth,
		SpeechOpts:   speech.Options{Model: "aura-asteria-en", Encoding: "linear16", SampleRate: 16000},
		BufferFrames: 8,
	}
}

func principal() *auth.Principal {
	return &auth.Principal{UserID: 42, CreditsRemaining: 100, Token: "session-token"}
}

func emptyConversation(userID int64) *store.Conversation {
	return &store.Conversation{ID: uuid.New(), UserID: userID}
}

func collectFrames(t *testing.T, s *Stream) ([]byte, error) {
	t.Helper()
	var data []byte
	for {
		select {
		case f, ok := <-s.Frames:
			if !ok {
				return data, nil
			}
			if f.Err != nil {
				return data, f.Err
			}
			data = append(data, f.Data...)
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not finish")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestRun_TextTurn(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"Hello", " there."}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	s, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Voice {
		t.Error("text turn must not be voiced")
	}

	data, streamErr := collectFrames(t, s)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if string(data) != "Hello there." {
		t.Errorf("streamed: %q", data)
	}

	waitFor(t, func() bool { fs.mu.Lock(); defer fs.mu.Unlock(); return fs.committed })

	if len(fs.saved) != 2 {
		t.Fatalf("saved entries: %d", len(fs.saved))
	}
	if fs.saved[0].Role != chat.RoleUser || fs.saved[0].Content != "hi" || fs.saved[0].Index != 0 {
		t.Errorf("user entry: %+v", fs.saved[0])
	}
	if fs.saved[1].Role != chat.RoleAssistant || fs.saved[1].Content != "Hello there." || fs.saved[1].Index != 1 {
		t.Errorf("assistant entry: %+v", fs.saved[1])
	}

	// The notifier gets the snapshot balance minus the gpt-4o price.
	if fs.deducted != 85 {
		t.Errorf("deducted balance: %f", fs.deducted)
	}

	// The deduction is reported inside the transaction, before commit.
	events := fs.Events()
	want := []string{"get", "begin", "find", "append", "deduct", "commit"}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events: %v, want %v", events, want)
		}
	}
}

func TestRun_CostDeductedFromSnapshot(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"x"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	s, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o-mini",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Cost != 0.5625 || s.Remaining != 99.4375 {
		t.Errorf("cost %f remaining %f", s.Cost, s.Remaining)
	}
	collectFrames(t, s)
}

func TestRun_InsufficientCredits(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"x"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	p := principal()
	p.CreditsRemaining = 1

	_, err := o.Run(context.Background(), p, Request{
		Conversation: fs.conv.ID,
		Model:        "o1-preview",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(fs.Events()) != 0 {
		t.Errorf("store must not be touched: %v", fs.Events())
	}
}

func TestRun_UnknownModel(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	_, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "made-up-model",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRun_NotifierFailureRollsBack(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42), notifierErr: errors.New("billing down")}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"answer"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	s, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	_, streamErr := collectFrames(t, s)
	var coreErr *core.Error
	if !errors.As(streamErr, &coreErr) || coreErr.Type != core.ErrPersistence {
		t.Fatalf("expected persistence error, got %v", streamErr)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.committed {
		t.Error("turn must not commit when the notifier fails")
	}
	if !fs.rolledBack {
		t.Error("transaction must roll back")
	}
}

func TestRun_EditTruncatesHistory(t *testing.T) {
	conv := emptyConversation(42)
	conv.Entries = []chat.Entry{
		{Kind: chat.KindText, Role: chat.RoleUser, Index: 0, Content: "old question"},
		{Kind: chat.KindText, Role: chat.RoleAssistant, Index: 1, Content: "old answer"},
		{Kind: chat.KindText, Role: chat.RoleUser, Index: 2, Content: "followup"},
		{Kind: chat.KindText, Role: chat.RoleAssistant, Index: 3, Content: "followup answer"},
	}
	fs := &fakeStore{conv: conv}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"new answer"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	edit := 0
	s, err := o.Run(context.Background(), principal(), Request{
		Conversation: conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "new question",
		EditPair:     &edit,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	collectFrames(t, s)
	waitFor(t, func() bool { fs.mu.Lock(); defer fs.mu.Unlock(); return fs.committed })

	if len(fs.saved) != 2 {
		t.Fatalf("history must be truncated to the edited pair, got %d entries", len(fs.saved))
	}
	if fs.saved[0].Content != "new question" || fs.saved[1].Content != "new answer" {
		t.Errorf("saved: %+v", fs.saved)
	}
}

func TestRun_EditTargetOutOfRange(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	edit := 3
	_, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "hi",
		EditPair:     &edit,
	})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRun_VoiceTurn(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"Hi the", "re. Goodbye. tail"}}}
	synth := &recordingSynth{}
	o := newOrchestrator(fs, provider, synth)

	s, err := o.Run(context.Background(), principal(), Request{
		Conversation:  fs.conv.ID,
		Model:         "gpt-4o",
		Kind:          chat.KindVoice,
		Audio:         []byte("webm-bytes"),
		AudioFilename: "clip.webm",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !s.Voice {
		t.Error("voice turn must be voiced")
	}

	data, streamErr := collectFrames(t, s)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	// Two complete sentences; the unterminated tail is not voiced.
	if string(data) != "AUDIO[Hi there. ]AUDIO[Goodbye. ]" {
		t.Errorf("audio: %q", data)
	}
	if len(synth.containers) != 2 || synth.containers[0] != "wav" || synth.containers[1] != "none" {
		t.Errorf("containers: %v", synth.containers)
	}

	waitFor(t, func() bool { fs.mu.Lock(); defer fs.mu.Unlock(); return fs.committed })

	user := fs.saved[0]
	if user.Kind != chat.KindVoice || user.Transcription != "spoken words" {
		t.Errorf("user entry: %+v", user)
	}
	if !strings.HasPrefix(user.Content, "voice/") || !strings.HasSuffix(user.Content, "-0.webm") {
		t.Errorf("voice path: %q", user.Content)
	}
	// The full text is persisted, including the tail that was never voiced.
	if fs.saved[1].Content != "Hi there. Goodbye. tail" {
		t.Errorf("assistant entry: %q", fs.saved[1].Content)
	}
}

func TestRun_ImageSaveFailureFailsTurn(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"x"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})
	o.Media = &fakeMedia{saveErr: errors.New("disk full")}

	_, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "look at this",
		Images:       []Upload{{Filename: "photo.png", Data: []byte("png-bytes")}},
	})
	if err == nil {
		t.Fatal("a failed upload write must fail the turn")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.committed || len(fs.saved) != 0 {
		t.Error("nothing may persist when the upload never landed")
	}
}

func TestRun_UpstreamErrorMidStream(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{
		deltas: []string{"partial"},
		err:    errors.New("connection reset"),
	}}
	o := newOrchestrator(fs, provider, &recordingSynth{})

	s, err := o.Run(context.Background(), principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	_, streamErr := collectFrames(t, s)
	var coreErr *core.Error
	if !errors.As(streamErr, &coreErr) || coreErr.Type != core.ErrUpstream {
		t.Fatalf("expected upstream error, got %v", streamErr)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.committed || len(fs.saved) != 0 {
		t.Error("failed stream must not persist")
	}
}

func TestRun_DisconnectStillPersists(t *testing.T) {
	fs := &fakeStore{conv: emptyConversation(42)}
	provider := &fakeProvider{name: "openai", tokens: &fakeTokens{deltas: []string{"first", " second"}}}
	o := newOrchestrator(fs, provider, &recordingSynth{})
	o.BufferFrames = 1

	ctx, cancel := context.WithCancel(context.Background())
	s, err := o.Run(ctx, principal(), Request{
		Conversation: fs.conv.ID,
		Model:        "gpt-4o",
		Kind:         chat.KindText,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Read one frame, then drop the connection.
	<-s.Frames
	cancel()

	waitFor(t, func() bool { fs.mu.Lock(); defer fs.mu.Unlock(); return fs.committed })

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.saved) != 2 {
		t.Fatalf("saved entries: %d", len(fs.saved))
	}
	if fs.saved[1].Content == "" {
		t.Error("accumulated text must be persisted after disconnect")
	}
}

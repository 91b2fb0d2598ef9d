package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/voice/stt"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/turn"
)

// TranscriptionsHandler transcribes an uploaded clip without running a turn.
type TranscriptionsHandler struct {
	Transcriber  turn.Transcriber
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h TranscriptionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	if err := r.ParseMultipartForm(h.MaxBodyBytes); err != nil {
		apierror.Write(w, core.NewValidationError("invalid multipart body"), reqID)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		apierror.Write(w, core.NewValidationErrorWithParam("audio clip is required", "audio"), reqID)
		return
	}
	defer file.Close()

	text, err := h.Transcriber.Transcribe(r.Context(), io.LimitReader(file, h.MaxBodyBytes), stt.TranscribeOptions{
		Filename: header.Filename,
	})
	if err != nil {
		apierror.Write(w, core.NewUpstreamError("transcription failed", err), reqID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/mw"
	"github.com/parley-ai/parley/pkg/gateway/turn"
)

// TurnRunner starts the streaming pipeline for one turn.
type TurnRunner interface {
	Run(ctx context.Context, p *auth.Principal, req turn.Request) (*turn.Stream, error)
}

// MessagesHandler streams turn responses. Text turns stream raw text deltas,
// voice turns stream WAV audio. Errors after the first byte are reported in
// the X-Stream-Error trailer since the status line is already gone.
type MessagesHandler struct {
	Runner       TurnRunner
	MaxBodyBytes int64
	// TurnTimeout bounds one turn end to end, zero means unbounded.
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Send handles POST /v1/conversations/{id}/messages.
func (h MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, nil)
}

// Edit handles PUT /v1/conversations/{id}/messages/{pair}. The edited pair
// and everything after it are replaced by the new turn.
func (h MessagesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	pair, err := strconv.Atoi(r.PathValue("pair"))
	if err != nil || pair < 0 {
		apierror.Write(w, core.NewValidationErrorWithParam("invalid message id", "message_id"), reqID)
		return
	}
	h.serve(w, r, &pair)
}

func (h MessagesHandler) serve(w http.ResponseWriter, r *http.Request, editPair *int) {
	p, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	req, err := h.parseRequest(w, r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	req.Conversation = id
	req.EditPair = editPair

	ctx := r.Context()
	if h.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.TurnTimeout)
		defer cancel()
	}

	stream, err := h.Runner.Run(ctx, p, req)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if stream.Voice {
		contentType = "audio/wav"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Trailer", "X-Stream-Error")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for f := range stream.Frames {
		if f.Err != nil {
			apiErr, _ := apierror.FromError(f.Err, reqID)
			w.Header().Set("X-Stream-Error", string(apiErr.Type)+": "+apiErr.Message)
			if h.Logger != nil {
				h.Logger.Error("turn failed mid-stream",
					"request_id", reqID,
					"conversation", id,
					"error", f.Err)
			}
			return
		}
		if _, err := w.Write(f.Data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h MessagesHandler) parseRequest(w http.ResponseWriter, r *http.Request) (turn.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.parseMultipart(r)
	}

	var body struct {
		Model   string `json:"model"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return turn.Request{}, core.NewValidationError("invalid request body")
	}
	kind, err := chat.ParseEntryKind(body.Type)
	if err != nil {
		return turn.Request{}, core.NewValidationErrorWithParam("unknown message type", "type")
	}
	return turn.Request{
		Model: body.Model,
		Kind:  kind,
		Text:  body.Content,
	}, nil
}

func (h MessagesHandler) parseMultipart(r *http.Request) (turn.Request, error) {
	if err := r.ParseMultipartForm(h.MaxBodyBytes); err != nil {
		return turn.Request{}, core.NewValidationError("invalid multipart body")
	}

	kind, err := chat.ParseEntryKind(r.FormValue("type"))
	if err != nil {
		return turn.Request{}, core.NewValidationErrorWithParam("unknown message type", "type")
	}
	req := turn.Request{
		Model: r.FormValue("model"),
		Kind:  kind,
		Text:  r.FormValue("content"),
	}

	if kind == chat.KindVoice {
		file, header, err := r.FormFile("audio")
		if err != nil {
			return turn.Request{}, core.NewValidationErrorWithParam("audio clip is required", "audio")
		}
		defer file.Close()
		audio, err := io.ReadAll(file)
		if err != nil {
			return turn.Request{}, core.NewValidationError("unreadable audio upload")
		}
		req.Audio = audio
		req.AudioFilename = header.Filename
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			file, err := header.Open()
			if err != nil {
				continue
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				continue
			}
			req.Images = append(req.Images, turn.Upload{
				Filename: header.Filename,
				Data:     data,
			})
		}
	}

	return req, nil
}

func requestID(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}

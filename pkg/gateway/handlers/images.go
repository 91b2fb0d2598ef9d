package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/turn"
)

// ImageGenerator renders an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// ImagesHandler generates an image and stores it in the media library. The
// response carries the stored path, fetchable through the media route and
// attachable to later turns.
type ImagesHandler struct {
	Generator ImageGenerator
	Media     turn.MediaLibrary
	Logger    *slog.Logger
}

func (h ImagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.Write(w, core.NewValidationError("invalid request body"), reqID)
		return
	}
	if body.Prompt == "" {
		apierror.Write(w, core.NewValidationErrorWithParam("prompt is required", "prompt"), reqID)
		return
	}

	img, err := h.Generator.GenerateImage(r.Context(), body.Prompt)
	if err != nil {
		apierror.Write(w, core.NewUpstreamError("image generation failed", err), reqID)
		return
	}

	path := fmt.Sprintf("images/gen-%s.png", uuid.New())
	if err := h.Media.Save(path, img); err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

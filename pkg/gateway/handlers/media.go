package handlers

import (
	"net/http"
	"os"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
)

// MediaResolver maps stored entry paths to files on disk.
type MediaResolver interface {
	Resolve(relPath string) (string, error)
}

// MediaHandler serves stored conversation media. Entry paths like
// "voice/{conversation}-{position}.webm" are fetched back through this route.
type MediaHandler struct {
	Resolver MediaResolver
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, reqID, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	full, err := h.Resolver.Resolve(r.PathValue("path"))
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		apierror.Write(w, core.NewNotFoundError("media not found"), reqID)
		return
	}
	http.ServeFile(w, r, full)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-ai/parley/pkg/gateway/media"
)

type stubImageGenerator struct {
	img    []byte
	err    error
	prompt string
}

func (s *stubImageGenerator) GenerateImage(_ context.Context, prompt string) ([]byte, error) {
	s.prompt = prompt
	return s.img, s.err
}

func TestImages_GeneratesAndStores(t *testing.T) {
	lib, err := media.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gen := &stubImageGenerator{img: []byte("png-bytes")}
	h := ImagesHandler{Generator: gen, Media: lib}

	r := authedRequest("POST", "/v1/images", `{"prompt":"a lighthouse"}`, "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if gen.prompt != "a lighthouse" {
		t.Errorf("prompt %q", gen.prompt)
	}
	var resp struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.Path, "images/gen-") || !strings.HasSuffix(resp.Path, ".png") {
		t.Errorf("path %q", resp.Path)
	}
	data, err := os.ReadFile(filepath.Join(lib.Root, filepath.FromSlash(resp.Path)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("stored content %q", data)
	}
}

func TestImages_MissingPrompt(t *testing.T) {
	lib, err := media.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := ImagesHandler{Generator: &stubImageGenerator{}, Media: lib}

	r := authedRequest("POST", "/v1/images", `{}`, "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestImages_GeneratorFailure(t *testing.T) {
	lib, err := media.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := ImagesHandler{
		Generator: &stubImageGenerator{err: errors.New("model overloaded")},
		Media:     lib,
	}

	r := authedRequest("POST", "/v1/images", `{"prompt":"x"}`, "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d", rec.Code)
	}
}

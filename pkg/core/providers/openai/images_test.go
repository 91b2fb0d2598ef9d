package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateImage(t *testing.T) {
	png := []byte("fake-png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header %q", got)
		}
		var req imagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "dall-e-3" || req.Prompt != "a lighthouse" || req.N != 1 {
			t.Errorf("request %+v", req)
		}
		if req.ResponseFormat != "b64_json" {
			t.Errorf("response format %q", req.ResponseFormat)
		}
		fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(png))
	}))
	defer srv.Close()

	p := New("test-key").WithBaseURL(srv.URL)
	img, err := p.GenerateImage(context.Background(), "a lighthouse")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(img) != string(png) {
		t.Errorf("image bytes %q", img)
	}
}

func TestGenerateImage_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"prompt rejected"}}`)
	}))
	defer srv.Close()

	p := New("test-key").WithBaseURL(srv.URL)
	_, err := p.GenerateImage(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error %v", err)
	}
}

func TestGenerateImage_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	p := New("test-key").WithBaseURL(srv.URL)
	if _, err := p.GenerateImage(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

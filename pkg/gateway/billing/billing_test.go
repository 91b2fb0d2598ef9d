package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeduct(t *testing.T) {
	const secret = "shared-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("X-Signature"); got != want {
			t.Errorf("signature: got %q, want %q", got, want)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-session-token" {
			t.Errorf("auth: %q", got)
		}

		var payload struct {
			CreditsRemaining float64 `json:"credits_remaining"`
			UserID           int64   `json:"user_id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.UserID != 42 || payload.CreditsRemaining != 3.4375 {
			t.Errorf("payload: %+v", payload)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, secret, "", nil)
	if err := n.Deduct(context.Background(), 42, 3.4375, "user-session-token"); err != nil {
		t.Fatalf("deduct: %v", err)
	}
}

func TestDeduct_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "balance out of sync", http.StatusConflict)
	}))
	defer srv.Close()

	n := New(srv.URL, "secret", "", nil)
	if err := n.Deduct(context.Background(), 1, 0, ""); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}

func TestDeduct_FallbackServiceToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer service-token" {
			t.Errorf("auth: %q", got)
		}
	}))
	defer srv.Close()

	n := New(srv.URL, "secret", "service-token", nil)
	if err := n.Deduct(context.Background(), 1, 1, ""); err != nil {
		t.Fatalf("deduct: %v", err)
	}
}

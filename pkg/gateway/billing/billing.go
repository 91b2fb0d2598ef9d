// Package billing notifies the account service of credit deductions.
package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier posts the post-turn balance to the account service. Requests are
// signed with a shared HMAC secret so the receiver can reject forgeries.
type Notifier struct {
	url        string
	secret     []byte
	token      string
	httpClient *http.Client
}

// New creates a notifier. token is an optional service bearer token used when
// the caller does not supply one per request.
func New(url, secret, token string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{
		url:        url,
		secret:     []byte(secret),
		token:      token,
		httpClient: client,
	}
}

type deduction struct {
	CreditsRemaining float64 `json:"credits_remaining"`
	UserID           int64   `json:"user_id"`
}

// Deduct reports the user's balance after a turn. bearer is the caller's
// session token; empty falls back to the configured service token.
func (n *Notifier) Deduct(ctx context.Context, userID int64, creditsRemaining float64, bearer string) error {
	body, err := json.Marshal(deduction{
		CreditsRemaining: creditsRemaining,
		UserID:           userID,
	})
	if err != nil {
		return fmt.Errorf("marshal deduction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", n.Sign(body))
	if bearer == "" {
		bearer = n.token
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("billing error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return nil
}

// Sign computes the base64 HMAC-SHA256 signature of a request body.
func (n *Notifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

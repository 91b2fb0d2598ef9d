package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// StreamingContext is a live synthesis session over a websocket. Text goes in
// incrementally via SendText, audio chunks come out on Audio. The session ends
// when the server acknowledges a flush or the connection drops.
type StreamingContext struct {
	conn    *websocket.Conn
	audio   chan []byte
	done    chan struct{}
	stop    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// NewStreamingContext dials the streaming synthesis endpoint.
func (c *Client) NewStreamingContext(ctx context.Context, opts Options) (*StreamingContext, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("speech api key is required")
	}

	wsURL := c.wsBaseURL + "/v1/speak?" + opts.query().Encode()
	header := http.Header{}
	header.Set("Authorization", "Token "+c.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sc := &StreamingContext{
		conn:  conn,
		audio: make(chan []byte, 64),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	go sc.readLoop(ctx)
	return sc, nil
}

func (sc *StreamingContext) readLoop(ctx context.Context) {
	defer func() {
		close(sc.audio)
		close(sc.done)
	}()

	for {
		select {
		case <-ctx.Done():
			sc.setErr(ctx.Err())
			return
		default:
		}

		msgType, data, err := sc.conn.ReadMessage()
		if err != nil {
			if !sc.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.setErr(err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) > 0 {
				select {
				case sc.audio <- data:
				case <-sc.stop:
					return
				}
			}
		case websocket.TextMessage:
			var msg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "Flushed":
				return
			case "Error":
				sc.setErr(fmt.Errorf("speech stream: %s", msg.Description))
				return
			}
		}
	}
}

// SendText queues text for synthesis.
func (sc *StreamingContext) SendText(text string) error {
	return sc.writeJSON(map[string]string{"type": "Speak", "text": text})
}

// Flush asks the server to synthesize everything queued so far. The session
// ends once the resulting audio has been delivered.
func (sc *StreamingContext) Flush() error {
	return sc.writeJSON(map[string]string{"type": "Flush"})
}

func (sc *StreamingContext) writeJSON(payload any) error {
	if sc.closed.Load() {
		return fmt.Errorf("session closed")
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return sc.conn.WriteJSON(payload)
}

// Audio returns the channel of synthesized chunks. It is closed when the
// session ends.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Done is closed when the session ends.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// Err reports the terminal error, if any, once the session has ended.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

func (sc *StreamingContext) setErr(err error) {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	if sc.err == nil {
		sc.err = err
	}
}

// SynthesizeStream synthesizes one utterance over the websocket endpoint and
// returns the collected audio. One session per utterance keeps the container
// flag accurate, since it is fixed at dial time.
func (c *Client) SynthesizeStream(ctx context.Context, text string, opts Options) ([]byte, error) {
	sc, err := c.NewStreamingContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	if err := sc.SendText(text); err != nil {
		return nil, err
	}
	if err := sc.Flush(); err != nil {
		return nil, err
	}

	var audio []byte
	for chunk := range sc.Audio() {
		audio = append(audio, chunk...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamingClient is the websocket-backed view of a client. It satisfies the
// same synthesis contract as the HTTP one-shot path.
type StreamingClient struct {
	c *Client
}

// Streaming returns a view of the client that synthesizes over the websocket
// endpoint.
func (c *Client) Streaming() *StreamingClient {
	return &StreamingClient{c: c}
}

// Synthesize converts text to audio over a short-lived websocket session.
func (s *StreamingClient) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	return s.c.SynthesizeStream(ctx, text, opts)
}

// Close tears down the session.
func (sc *StreamingContext) Close() error {
	if sc.closed.Swap(true) {
		return nil
	}
	close(sc.stop)
	sc.writeMu.Lock()
	_ = sc.conn.WriteJSON(map[string]string{"type": "Close"})
	_ = sc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

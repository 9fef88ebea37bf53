package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// WSAgent talks to a hosted interviewer agent over a websocket. The
// wire protocol is JSON events downstream and binary PCM frames
// upstream, with a JSON hello to open the conversation.
type WSAgent struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
}

// NewWSAgent creates a websocket agent client for the given endpoint.
func NewWSAgent(url, apiKey string) *WSAgent {
	return &WSAgent{
		url:    url,
		apiKey: apiKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (a *WSAgent) Name() string { return "ws-agent" }

// helloMessage opens the conversation on the remote side.
type helloMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
	Language     string `json:"language,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// serverMessage is the downstream event envelope.
type serverMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	IsProbe   bool   `json:"is_probe,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (a *WSAgent) Connect(ctx context.Context, cfg SessionConfig) (Conversation, error) {
	headers := http.Header{}
	if a.apiKey != "" {
		headers.Set("Authorization", "Bearer "+a.apiKey)
	}

	conn, resp, err := a.dialer.DialContext(ctx, a.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("agent connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("agent connect: %w", err)
	}

	hello := helloMessage{
		Type:         "session.start",
		SessionID:    cfg.SessionID,
		SystemPrompt: cfg.SystemPrompt,
		VoiceID:      cfg.VoiceID,
		Language:     cfg.Language,
		SampleRate:   cfg.SampleRate,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent hello: %w", err)
	}

	conv := &wsConversation{
		conn:   conn,
		events: make(chan Event, 100),
	}
	go conv.readLoop()
	return conv, nil
}

type wsConversation struct {
	conn   *websocket.Conn
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConversation) SendAudio(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConversation) Events() <-chan Event { return c.events }

func (c *wsConversation) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConversation) readLoop() {
	defer close(c.events)
	for {
		var msg serverMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events <- &ErrorEvent{Err: err, Retryable: true}
			}
			c.events <- &StatusEvent{Status: StatusDisconnected}
			return
		}

		switch msg.Type {
		case "status":
			c.events <- &StatusEvent{Status: Status(msg.Status)}
		case "turn":
			ts := time.Now()
			if msg.Timestamp > 0 {
				ts = time.UnixMilli(msg.Timestamp)
			}
			c.events <- &TurnEvent{Turn: interview.Turn{
				Speaker:   interview.Speaker(msg.Speaker),
				Text:      msg.Text,
				Timestamp: ts,
				IsProbe:   msg.IsProbe,
			}}
		case "audio":
			data, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				c.events <- &ErrorEvent{Err: fmt.Errorf("bad audio frame: %w", err)}
				continue
			}
			c.events <- &AudioEvent{Data: data}
		case "error":
			c.events <- &ErrorEvent{Err: errors.New(msg.Message), Retryable: msg.Retryable}
		default:
			// Unknown event types are forward compatible noise.
		}
	}
}

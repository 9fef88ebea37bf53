package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// An outboundFrame carries exactly one payload: JSON text or raw audio.
type outboundFrame struct {
	textPayload   []byte
	binaryPayload []byte
}

// outboundWriter owns the websocket write side. Priority frames
// (errors, warnings, pause acknowledgements) always go out before
// queued audio, and a canceled session still gets its priority frames
// flushed before the close handshake.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
}

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// Shutdown flush is bounded so a stuck peer cannot hold the
	// connection open past cancellation.
	shutdownFlushWindow = 100 * time.Millisecond
	shutdownFlushFrames = 8
)

func (w *outboundWriter) pingInterval() time.Duration {
	if w.cfg.PingInterval > 0 {
		return w.cfg.PingInterval
	}
	return defaultPingInterval
}

func (w *outboundWriter) writeTimeout() time.Duration {
	if w.cfg.WriteTimeout > 0 {
		return w.cfg.WriteTimeout
	}
	return defaultWriteTimeout
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	ping := time.NewTicker(w.pingInterval())
	defer ping.Stop()

	for {
		if w.canceled() {
			w.flushPriority()
			w.closeSocket()
			return nil
		}

		// Anything already on the priority queue goes first.
		if wrote, err := w.tryPriority(); err != nil {
			return err
		} else if wrote {
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-ping.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(w.writeTimeout())); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.write(frame); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) canceled() bool {
	if w.ctx == nil {
		return false
	}
	select {
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

// tryPriority writes one queued priority frame without blocking.
func (w *outboundWriter) tryPriority() (bool, error) {
	if w.priority == nil {
		return false, nil
	}
	select {
	case frame, ok := <-w.priority:
		if !ok {
			w.priority = nil
			return true, nil
		}
		return true, w.write(frame)
	default:
		return false, nil
	}
}

// flushPriority drains a handful of pending priority frames after
// cancellation, so the participant still sees the final error or
// paused frame.
func (w *outboundWriter) flushPriority() {
	if w.priority == nil {
		return
	}
	window := shutdownFlushWindow
	if t := w.writeTimeout(); t < window {
		window = t
	}
	deadline := time.Now().Add(window)
	for i := 0; i < shutdownFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.write(frame)
		default:
			return
		}
	}
}

func (w *outboundWriter) closeSocket() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout()))
	_ = w.ws.Close()
}

func (w *outboundWriter) write(frame outboundFrame) error {
	kind := websocket.TextMessage
	payload := frame.textPayload
	if len(payload) == 0 {
		kind = websocket.BinaryMessage
		payload = frame.binaryPayload
	}
	if len(payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout())); err != nil {
		return err
	}
	return w.ws.WriteMessage(kind, payload)
}

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error { return nil }

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- outboundFrame{textPayload: []byte(`{"type":"audio","data":"AAAA"}`)}
	priority <- outboundFrame{textPayload: []byte(`{"type":"error","code":"bad_request"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected two writes, got %d", len(writes))
	}
	if !strings.Contains(writes[0].data, `"type":"error"`) {
		t.Fatalf("first write was not the error frame: %q", writes[0].data)
	}
}

func TestOutboundWriter_BinaryFramesKeepType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 1)
	normal <- outboundFrame{binaryPayload: []byte{0x01, 0x02}}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) != 1 || writes[0].messageType != websocket.BinaryMessage {
		t.Fatalf("writes=%+v", writes)
	}
}

func TestOutboundWriter_ShutdownFlushesPriority(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 2)
	normal := make(chan outboundFrame)

	priority <- outboundFrame{textPayload: []byte(`{"type":"paused","resume_url":"https://example.com/interview/rt_1?resume=sess_1"}`)}
	cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) < 2 {
		t.Fatalf("expected paused frame plus close frame, got %+v", writes)
	}
	if !strings.Contains(writes[0].data, `"type":"paused"`) {
		t.Fatalf("priority frame was not flushed first: %q", writes[0].data)
	}
	if writes[len(writes)-1].messageType != websocket.CloseMessage {
		t.Fatalf("last write was not a close frame: %+v", writes[len(writes)-1])
	}
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/logging"
)

// Frame types exchanged with the bridge.
const (
	FrameMessage    = "message"
	FrameSend       = "send"
	FrameListGroups = "list_groups"
	FrameResponse   = "response"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned for requests made after the connection dropped.
var ErrClosed = errors.New("transport: connection closed")

// Frame is one JSON websocket message. Requests carry an ID that the bridge
// echoes on its response.
type Frame struct {
	Type   string  `json:"type"`
	ID     string  `json:"id,omitempty"`
	ChatID string  `json:"chat_id,omitempty"`
	Text   string  `json:"text,omitempty"`
	Event  *Event  `json:"event,omitempty"`
	OK     bool    `json:"ok,omitempty"`
	Error  string  `json:"error,omitempty"`
	Groups []Group `json:"groups,omitempty"`
}

// Bridge talks to a chat gateway process over a websocket.
type Bridge struct {
	url    string
	dialer websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	pending map[string]chan Frame
	closed  chan struct{}
	lost    chan error

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewBridge creates a bridge client for url (ws:// or wss://).
func NewBridge(url string, logger *zap.Logger) *Bridge {
	return &Bridge{
		url:     url,
		dialer:  *websocket.DefaultDialer,
		logger:  logging.OrNop(logger),
		pending: make(map[string]chan Frame),
	}
}

// OnEvent implements Transport.
func (b *Bridge) OnEvent(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Connect dials the bridge and starts the read loop.
func (b *Bridge) Connect(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.closed = make(chan struct{})
	b.lost = make(chan error, 1)
	closed, lost := b.closed, b.lost
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(conn, closed, lost)

	b.logger.Info("bridge_connected", zap.String("url", b.url))
	return nil
}

// Disconnected implements Transport. It is valid after Connect.
func (b *Bridge) Disconnected() <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

func (b *Bridge) readLoop(conn *websocket.Conn, closed chan struct{}, lost chan<- error) {
	defer b.wg.Done()
	defer close(closed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			dropped := b.conn == conn
			if dropped {
				b.conn = nil
			}
			b.mu.Unlock()
			if dropped {
				_ = conn.Close()
				b.logger.Error("bridge_disconnected", zap.String("url", b.url), zap.Error(err))
				lost <- fmt.Errorf("bridge connection lost: %w", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.logger.Debug("bridge_bad_frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case FrameMessage:
			b.mu.Lock()
			h := b.handler
			b.mu.Unlock()
			if h != nil && f.Event != nil {
				h(*f.Event)
			}
		case FrameResponse:
			b.mu.Lock()
			ch, ok := b.pending[f.ID]
			delete(b.pending, f.ID)
			b.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

// Close shuts the connection and waits for the read loop.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		b.wg.Wait()
		return nil
	}

	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	err := conn.Close()
	b.wg.Wait()
	return err
}

// SendText implements Transport.
func (b *Bridge) SendText(ctx context.Context, chatID, text string) error {
	_, err := b.request(ctx, Frame{Type: FrameSend, ChatID: chatID, Text: text})
	return err
}

// ListGroups implements Transport.
func (b *Bridge) ListGroups(ctx context.Context) ([]Group, error) {
	resp, err := b.request(ctx, Frame{Type: FrameListGroups})
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (b *Bridge) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = ulid.Make().String()
	ch := make(chan Frame, 1)

	b.mu.Lock()
	conn, closed := b.conn, b.closed
	if conn == nil {
		b.mu.Unlock()
		return Frame{}, ErrClosed
	}
	b.pending[f.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, f.ID)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(f)
	b.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("write %s: %w", f.Type, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request rejected"
			}
			return resp, fmt.Errorf("bridge %s: %s", f.Type, msg)
		}
		return resp, nil
	case <-closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

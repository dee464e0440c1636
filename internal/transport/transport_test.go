package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBareID(t *testing.T) {
	tests := map[string]string{
		"966500000000@s.whatsapp.net": "966500000000",
		"  12345  ":                   "12345",
		"group@g.us":                  "group",
		"":                            "",
	}
	for in, want := range tests {
		if got := BareID(in); got != want {
			t.Errorf("BareID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConsole_EmitsLinesAndPrintsReplies(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("*ناروتو*\nhello\n"), &out, "", "owner")

	var (
		mu     sync.Mutex
		events []Event
	)
	c.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, c.Connect(context.Background()))
	c.Wait()

	require.Len(t, events, 2)
	require.Equal(t, "console@g.us", events[0].ChatID)
	require.Equal(t, "owner", events[0].SenderID)
	require.Equal(t, "*ناروتو*", events[0].Text)
	require.NotEqual(t, events[0].MessageID, events[1].MessageID)

	require.NoError(t, c.SendText(context.Background(), "console@g.us", "ناروتو"))
	require.Equal(t, "[console@g.us] ناروتو\n", out.String())

	groups, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Group{{ID: "console@g.us", Name: "Console", Members: 1}}, groups)
}

// fakeGateway answers send/list_groups requests and pushes one message event.
func fakeGateway(t *testing.T, sent chan<- Frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(Frame{Type: FrameMessage, Event: &Event{
			ChatID: "g1@g.us", MessageID: "m1", SenderID: "u1", Text: "*ساسكي*", Timestamp: 100,
		}})

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case FrameSend:
				sent <- f
				if f.Text == "fail" {
					_ = conn.WriteJSON(Frame{Type: FrameResponse, ID: f.ID, Error: "rejected"})
					continue
				}
				_ = conn.WriteJSON(Frame{Type: FrameResponse, ID: f.ID, OK: true})
			case FrameListGroups:
				_ = conn.WriteJSON(Frame{Type: FrameResponse, ID: f.ID, OK: true, Groups: []Group{
					{ID: "g1@g.us", Name: "Anime", Members: 42},
				}})
			}
		}
	}))
}

func TestBridge_RoundTrip(t *testing.T) {
	sent := make(chan Frame, 4)
	srv := fakeGateway(t, sent)
	defer srv.Close()

	b := NewBridge("ws"+strings.TrimPrefix(srv.URL, "http"), zaptest.NewLogger(t))
	events := make(chan Event, 1)
	b.OnEvent(func(ev Event) { events <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))

	select {
	case ev := <-events:
		require.Equal(t, "m1", ev.MessageID)
		require.Equal(t, int64(100), ev.Timestamp)
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	groups, err := b.ListGroups(ctx)
	require.NoError(t, err)
	require.Equal(t, []Group{{ID: "g1@g.us", Name: "Anime", Members: 42}}, groups)

	require.NoError(t, b.SendText(ctx, "g1@g.us", "ساسكي"))
	f := <-sent
	require.Equal(t, "g1@g.us", f.ChatID)
	require.Equal(t, "ساسكي", f.Text)

	err = b.SendText(ctx, "g1@g.us", "fail")
	require.ErrorContains(t, err, "rejected")
	<-sent

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.SendText(ctx, "g1@g.us", "late"), ErrClosed)
}

func TestBridge_ConnectFails(t *testing.T) {
	b := NewBridge("ws://127.0.0.1:1/none", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, b.Connect(ctx))
}

func TestBridge_ReportsDroppedConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Gateway crashes: no close frame.
		conn.Close()
	}))
	defer srv.Close()

	b := NewBridge("ws"+strings.TrimPrefix(srv.URL, "http"), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))

	select {
	case err := <-b.Disconnected():
		require.ErrorContains(t, err, "bridge connection lost")
	case <-ctx.Done():
		t.Fatal("drop not reported")
	}

	require.ErrorIs(t, b.SendText(ctx, "g1@g.us", "late"), ErrClosed)
	require.NoError(t, b.Close())
}

func TestBridge_CloseIsNotADrop(t *testing.T) {
	srv := fakeGateway(t, make(chan Frame, 1))
	defer srv.Close()

	b := NewBridge("ws"+strings.TrimPrefix(srv.URL, "http"), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))
	lost := b.Disconnected()

	require.NoError(t, b.Close())
	select {
	case err := <-lost:
		t.Fatalf("Close() reported a drop: %v", err)
	default:
	}
}

func TestConsole_NeverDrops(t *testing.T) {
	c := NewConsole(strings.NewReader(""), &bytes.Buffer{}, "g@g.us", "me")
	require.Nil(t, c.Disconnected())
}

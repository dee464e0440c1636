package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/delivery"
	"github.com/hpungsan/namecall/internal/pipeline"
	"github.com/hpungsan/namecall/internal/store"
	"github.com/hpungsan/namecall/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	owner    = "966500000001@s.whatsapp.net"
	stranger = "966500000009@s.whatsapp.net"
	groupA   = "anime@g.us"
	groupB   = "other@g.us"
)

type fakeTransport struct {
	mu      sync.Mutex
	handler transport.Handler
	groups  []transport.Group
	sent    []delivery.Task
	closed  bool
	lost    chan error
}

func (f *fakeTransport) Disconnected() <-chan error { return f.lost }

func (f *fakeTransport) Connect(context.Context) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnEvent(h transport.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) emit(ev transport.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeTransport) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery.Task{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeTransport) ListGroups(context.Context) ([]transport.Group, error) {
	return f.groups, nil
}

func (f *fakeTransport) Sent() []delivery.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Task(nil), f.sent...)
}

func (f *fakeTransport) last() string {
	sent := f.Sent()
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1].Text
}

type harness struct {
	bot   *Bot
	tr    *fakeTransport
	queue *delivery.Queue
	store *store.Store
	seq   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tr := &fakeTransport{groups: []transport.Group{
		{ID: groupA, Name: "Anime", Members: 42},
		{ID: groupB, Name: "Family", Members: 7},
	}, lost: make(chan error, 1)}
	st := store.New(nil, logger)
	pl := pipeline.New(st, nil, pipeline.Options{Mode: config.ModePassthrough}, logger)
	t.Cleanup(pl.Close)

	q := delivery.NewQueue(tr, delivery.Options{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}, logger)
	dd, err := NewDeduplicator(DefaultDedupCapacity, 30*time.Second)
	require.NoError(t, err)
	ctl := NewController([]string{owner}, config.DefaultConfig().Commands, tr, st, logger)

	b, err := New(Deps{Transport: tr, Store: st, Pipeline: pl, Queue: q, Dedup: dd, Controller: ctl, Logger: logger})
	require.NoError(t, err)
	return &harness{bot: b, tr: tr, queue: q, store: st}
}

func (h *harness) send(chatID, sender, text string) transport.Event {
	h.seq++
	ev := transport.Event{
		ChatID:    chatID,
		MessageID: "m" + strconv.Itoa(h.seq),
		SenderID:  sender,
		Text:      text,
		Timestamp: time.Now().Unix(),
	}
	h.bot.HandleEvent(context.Background(), ev)
	return ev
}

func TestBot_ActivationFlow(t *testing.T) {
	h := newHarness(t)

	h.send("dm@s.whatsapp.net", owner, ".ابدا")
	require.Equal(t, "Groups:\n1. Anime (42 members)\n2. Family (7 members)\nReply with a number to activate.", h.tr.last())

	h.send("dm@s.whatsapp.net", owner, "1")
	require.Equal(t, "Activated in: Anime", h.tr.last())
	state := h.bot.Status().State
	require.True(t, state.Active)
	require.Equal(t, groupA, state.GroupID)

	h.send(groupA, stranger, "شاهدت *ناروتو/ساسكي* اليوم")
	require.Equal(t, 1, h.queue.Pending())

	h.send(groupB, stranger, "*ساكورا*")
	require.Equal(t, 1, h.queue.Pending(), "other groups are gated")

	h.send("dm@s.whatsapp.net", owner, "deactivate")
	require.Equal(t, "Deactivated", h.tr.last())
	require.False(t, h.bot.Status().State.Active)

	h.send(groupA, stranger, "*كاكاشي*")
	require.Equal(t, 1, h.queue.Pending(), "inactive bot replies to nothing")
}

func TestBot_NonOwnerIgnored(t *testing.T) {
	h := newHarness(t)

	h.send(groupA, stranger, ".a")
	h.send(groupA, stranger, "1")
	h.send(groupA, stranger, ".x")

	require.Empty(t, h.tr.Sent())
	require.False(t, h.bot.Status().State.Active)
}

func TestBot_NonOwnerCannotDeactivate(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, "1")
	require.True(t, h.bot.Status().State.Active)
	sentBefore := len(h.tr.Sent())

	h.send(groupA, stranger, ".x")
	h.send(groupA, stranger, "deactivate")
	h.send(groupA, stranger, ".وقف")

	require.Len(t, h.tr.Sent(), sentBefore)
	require.Zero(t, h.queue.Pending())
	state := h.bot.Status().State
	require.True(t, state.Active)
	require.Equal(t, groupA, state.GroupID)
}

func TestBot_InvalidSelection(t *testing.T) {
	tests := []struct {
		name  string
		input string
		reply string
	}{
		{"past the listing", "5", "invalid group number 5 (have 2 groups)"},
		{"zero", "0", "invalid group number 0 (have 2 groups)"},
		{"zero padded zero", "00", "invalid group number 00 (have 2 groups)"},
		{"overflows int", "99999999999999999999", "invalid group number 99999999999999999999 (have 2 groups)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send("dm", owner, ".a")
			h.send("dm", owner, tt.input)

			require.Equal(t, tt.reply, h.tr.last())
			require.False(t, h.bot.Status().State.Active)
		})
	}
}

func TestBot_SignedNumberIsNotASelection(t *testing.T) {
	for _, input := range []string{"+1", "-1", "1.0", "١"} {
		t.Run(input, func(t *testing.T) {
			h := newHarness(t)
			h.send("dm", owner, input)

			require.Empty(t, h.tr.Sent())
			require.False(t, h.bot.Status().State.Active)
		})
	}
}

func TestBot_PaddedSelection(t *testing.T) {
	h := newHarness(t)

	h.send("dm", owner, "02")
	require.Equal(t, "Activated in: Family", h.tr.last())
}

func TestBot_SelectWithoutPriorListing(t *testing.T) {
	h := newHarness(t)

	h.send("dm", owner, "2")
	require.Equal(t, "Activated in: Family", h.tr.last())
}

func TestBot_NumberWhileActiveIsText(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, "1")
	sentBefore := len(h.tr.Sent())

	h.send(groupA, owner, "2")
	require.Len(t, h.tr.Sent(), sentBefore, "no control reply while active")
	require.Equal(t, groupA, h.bot.Status().State.GroupID)
}

func TestBot_ListAllowedWhileActive(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, "1")

	h.send("dm", owner, ".a")
	require.True(t, strings.HasPrefix(h.tr.last(), "Groups:"))
	require.True(t, h.bot.Status().State.Active)
}

func TestBot_StatusAnySender(t *testing.T) {
	h := newHarness(t)
	h.store.Remember("ساسكي", store.Record{Name: "Sasuke"})

	h.send("dm", stranger, ".حالة")
	require.Equal(t, StatusInactive+"\nLearned names: 1", h.tr.last())

	h.send("dm", owner, "1")
	h.send("dm", stranger, "status")
	require.Equal(t, StatusActive+"\nGroup: Anime\nLearned names: 1", h.tr.last())
}

func TestBot_DeactivateIdempotent(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, ".وقف")
	h.send("dm", owner, ".وقف")

	sent := h.tr.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "Deactivated", sent[0].Text)
	require.Equal(t, "Deactivated", sent[1].Text)
}

func TestBot_MessagesBeforeActivationIgnored(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, "1")
	activatedAt := h.bot.Status().State.ActivatedAt

	h.bot.HandleEvent(context.Background(), transport.Event{
		ChatID: groupA, MessageID: "old", SenderID: stranger,
		Text: "*ناروتو*", Timestamp: activatedAt - 1,
	})
	require.Equal(t, 0, h.queue.Pending())
}

func TestBot_DuplicateEventHandledOnce(t *testing.T) {
	h := newHarness(t)
	h.send("dm", owner, "1")

	ev := transport.Event{ChatID: groupA, MessageID: "dup", SenderID: stranger, Text: "*ناروتو*", Timestamp: time.Now().Unix()}
	h.bot.HandleEvent(context.Background(), ev)
	h.bot.HandleEvent(context.Background(), ev)
	require.Equal(t, 1, h.queue.Pending())
	require.Equal(t, int64(2), h.bot.Status().Admitted)
}

func TestBot_RunEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.tr.mu.Lock()
		defer h.tr.mu.Unlock()
		return h.tr.handler != nil
	}, 2*time.Second, 5*time.Millisecond)

	now := time.Now().Unix()
	h.tr.emit(transport.Event{ChatID: "dm", MessageID: "1", SenderID: owner, Text: "1", Timestamp: now})
	h.tr.emit(transport.Event{ChatID: groupA, MessageID: "2", SenderID: stranger, Text: "*ناروتو/ساسكي*", Timestamp: now})

	require.Eventually(t, func() bool {
		for _, s := range h.tr.Sent() {
			if s.ChatID == groupA && s.Text == "ناروتو ساسكي" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.True(t, h.tr.closed)
	require.Equal(t, 1, h.bot.Status().Delivery.Sent)
}

func TestBot_RunReturnsWhenTransportDrops(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() { done <- h.bot.Run(context.Background()) }()

	h.tr.lost <- errors.New("bridge connection lost: EOF")

	select {
	case err := <-done:
		require.ErrorContains(t, err, "connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("Run() kept waiting after the transport dropped")
	}
	require.True(t, h.tr.closed)
}

// Package bot wires the transport, control commands, pipeline and delivery
// queue into one event loop.
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/delivery"
	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/pipeline"
	"github.com/hpungsan/namecall/internal/store"
	"github.com/hpungsan/namecall/internal/transport"
)

const eventBuffer = 256

// Deps are the collaborators of a Bot.
type Deps struct {
	Transport  transport.Transport
	Store      *store.Store
	Pipeline   *pipeline.Pipeline
	Queue      *delivery.Queue
	Dedup      *Deduplicator
	Controller *Controller
	Logger     *zap.Logger

	// SnapshotSchedule is a cron spec for periodic persistence. Empty disables.
	SnapshotSchedule string
}

// Status is a point-in-time summary for operator surfaces.
type Status struct {
	State     State          `json:"state"`
	Summary   string         `json:"summary"`
	Learned   int            `json:"learned"`
	Static    int            `json:"static"`
	Received  int64          `json:"received"`
	Admitted  int64          `json:"admitted"`
	Replied   int64          `json:"replied"`
	Dropped   int64          `json:"dropped"`
	Delivery  delivery.Stats `json:"delivery"`
	StartedAt time.Time      `json:"started_at"`
}

// Bot runs one event goroutine; transport callbacks only enqueue.
type Bot struct {
	transport transport.Transport
	store     *store.Store
	pipeline  *pipeline.Pipeline
	queue     *delivery.Queue
	dedup     *Deduplicator
	ctl       *Controller
	logger    *zap.Logger
	schedule  string

	events chan transport.Event

	stateMu   sync.RWMutex
	state     State
	summary   string
	startedAt time.Time

	received, admitted, replied, dropped atomic.Int64
}

// New validates deps and creates a bot.
func New(d Deps) (*Bot, error) {
	switch {
	case d.Transport == nil:
		return nil, errors.New("bot: transport is required")
	case d.Store == nil:
		return nil, errors.New("bot: store is required")
	case d.Pipeline == nil:
		return nil, errors.New("bot: pipeline is required")
	case d.Queue == nil:
		return nil, errors.New("bot: delivery queue is required")
	case d.Dedup == nil:
		return nil, errors.New("bot: deduplicator is required")
	case d.Controller == nil:
		return nil, errors.New("bot: controller is required")
	}
	b := &Bot{
		transport: d.Transport,
		store:     d.Store,
		pipeline:  d.Pipeline,
		queue:     d.Queue,
		dedup:     d.Dedup,
		ctl:       d.Controller,
		logger:    logging.OrNop(d.Logger),
		schedule:  d.SnapshotSchedule,
		events:    make(chan transport.Event, eventBuffer),
		startedAt: time.Now(),
	}
	b.syncState()
	return b, nil
}

// Run connects the transport and processes events until ctx is cancelled or
// the transport drops, in which case the drop is returned. On return,
// background work has finished and the store has been persisted.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.transport.OnEvent(b.push)
	if err := b.transport.Connect(ctx); err != nil {
		return err
	}
	lost := b.transport.Disconnected()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.queue.Run(ctx)
	}()

	var scheduler *cronlib.Cron
	if b.schedule != "" {
		scheduler = cronlib.New()
		if _, err := scheduler.AddFunc(b.schedule, func() { _ = b.store.Persist(ctx) }); err != nil {
			b.logger.Warn("snapshot_schedule_invalid", zap.String("schedule", b.schedule), zap.Error(err))
			scheduler = nil
		} else {
			scheduler.Start()
		}
	}

	b.logger.Info("bot_started")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-lost:
			runErr = err
			break loop
		case ev := <-b.events:
			b.HandleEvent(ctx, ev)
		}
	}
	cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := b.transport.Close(); err != nil {
		b.logger.Debug("transport_close_failed", zap.Error(err))
	}
	wg.Wait()
	b.pipeline.Wait()
	b.pipeline.Close()

	// ctx is already cancelled here
	_ = b.store.Persist(context.Background())
	b.logger.Info("bot_stopped")
	return runErr
}

func (b *Bot) push(ev transport.Event) {
	b.received.Add(1)
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event_dropped", zap.String("chat_id", ev.ChatID), zap.String("message_id", ev.MessageID))
	}
}

// HandleEvent runs one event through dedup, control commands, the activation
// gate and the pipeline. It must only be called from one goroutine at a time.
func (b *Bot) HandleEvent(ctx context.Context, ev transport.Event) {
	if !b.dedup.Admit(ev) {
		return
	}
	b.admitted.Add(1)

	if reply, consumed := b.ctl.Handle(ctx, ev); consumed {
		b.syncState()
		if reply != nil {
			if err := b.transport.SendText(ctx, reply.ChatID, reply.Text); err != nil {
				b.logger.Warn("control_reply_failed", zap.String("chat_id", reply.ChatID), zap.Error(err))
			}
		}
		return
	}

	if !b.ctl.Admits(ev) {
		return
	}

	res, ok := b.pipeline.Process(ctx, ev.Text)
	if !ok {
		return
	}
	resp, ok := pipeline.FormatResponse(res)
	if !ok {
		return
	}

	task := b.queue.Enqueue(ev.ChatID, resp.Text, resp.Count)
	b.replied.Add(1)
	b.logger.Debug("reply_queued",
		zap.String("chat_id", ev.ChatID),
		zap.String("task_id", task.ID.String()),
		zap.Int("count", resp.Count),
	)
}

// Status returns a summary safe to call from any goroutine.
func (b *Bot) Status() Status {
	b.stateMu.RLock()
	state, summary := b.state, b.summary
	b.stateMu.RUnlock()

	return Status{
		State:     state,
		Summary:   summary,
		Learned:   b.store.Len(),
		Static:    b.store.StaticLen(),
		Received:  b.received.Load(),
		Admitted:  b.admitted.Load(),
		Replied:   b.replied.Load(),
		Dropped:   b.dropped.Load(),
		Delivery:  b.queue.Stats(),
		StartedAt: b.startedAt,
	}
}

func (b *Bot) syncState() {
	state := b.ctl.State()
	summary := StatusActive
	if !state.Active {
		summary = StatusInactive
	}
	b.stateMu.Lock()
	b.state, b.summary = state, summary
	b.stateMu.Unlock()
}

// Package delivery paces outbound replies through a single FIFO consumer.
package delivery

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/logging"
)

// maxBackoffShift keeps base << failures from overflowing.
const maxBackoffShift = 30

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Task is one queued reply.
type Task struct {
	ID         ulid.ULID `json:"id"`
	ChatID     string    `json:"chat_id"`
	Text       string    `json:"text"`
	Count      int       `json:"count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MistakeOptions configure deliberate imperfections.
type MistakeOptions struct {
	Enabled               bool
	Probability           float64
	CorrectionProbability float64
	CorrectionDelay       time.Duration
	// Kinds limits the kinds chosen. Empty allows all.
	Kinds []MistakeKind
}

// Options configure pacing and backoff.
type Options struct {
	BaseDelay     time.Duration
	PerUnitDelay  time.Duration
	Jitter        time.Duration
	Scale         float64
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BackoffJitter time.Duration
	Mistakes      MistakeOptions

	// Rand and Sleep are replaced in tests.
	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig converts the delivery section of the config.
func OptionsFromConfig(c config.DeliveryConfig) Options {
	return Options{
		BaseDelay:     config.Ms(c.BaseDelayMS),
		PerUnitDelay:  config.Ms(c.PerUnitDelayMS),
		Jitter:        config.Ms(c.JitterMS),
		Scale:         c.DelayScale,
		BackoffBase:   config.Ms(c.BackoffBaseMS),
		BackoffCap:    config.Ms(c.BackoffCapMS),
		BackoffJitter: config.Ms(c.BackoffJitterMS),
		Mistakes: MistakeOptions{
			Enabled:               c.Mistakes.Enabled,
			Probability:           c.Mistakes.Probability,
			CorrectionProbability: c.Mistakes.CorrectionProbability,
			CorrectionDelay:       config.Ms(c.Mistakes.CorrectionDelayMS),
			Kinds:                 mistakeKinds(c.Mistakes.Kinds),
		},
	}
}

func mistakeKinds(in []string) []MistakeKind {
	if len(in) == 0 {
		return nil
	}
	out := make([]MistakeKind, len(in))
	for i, k := range in {
		out[i] = MistakeKind(k)
	}
	return out
}

// Stats are cumulative counters.
type Stats struct {
	Pending     int `json:"pending"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Mistakes    int `json:"mistakes"`
	Corrections int `json:"corrections"`
	Failures    int `json:"consecutive_failures"`
}

// Queue accepts tasks from any goroutine; Run drains them in order.
type Queue struct {
	sender Sender
	opts   Options
	logger *zap.Logger
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}

	// owned by the Run goroutine
	failures int

	sent, failed, mistakes, corrections atomic.Int64
	consecutive                         atomic.Int64

	corrWG sync.WaitGroup
}

// NewQueue creates a queue that sends through sender.
func NewQueue(sender Sender, opts Options, logger *zap.Logger) *Queue {
	q := &Queue{
		sender: sender,
		opts:   opts,
		logger: logging.OrNop(logger),
		rng:    opts.Rand,
		sleep:  opts.Sleep,
		wake:   make(chan struct{}, 1),
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if q.sleep == nil {
		q.sleep = sleepWithContext
	}
	if q.opts.Scale <= 0 {
		q.opts.Scale = 1
	}
	return q
}

// Enqueue appends a task and returns immediately.
func (q *Queue) Enqueue(chatID, text string, count int) Task {
	t := Task{
		ID:         ulid.Make(),
		ChatID:     chatID,
		Text:       text,
		Count:      count,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return t
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:     q.Pending(),
		Sent:        int(q.sent.Load()),
		Failed:      int(q.failed.Load()),
		Mistakes:    int(q.mistakes.Load()),
		Corrections: int(q.corrections.Load()),
		Failures:    int(q.consecutive.Load()),
	}
}

// Run consumes tasks until ctx is cancelled, then waits for scheduled
// corrections to observe the cancellation.
func (q *Queue) Run(ctx context.Context) {
	defer q.corrWG.Wait()

	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		q.process(ctx, task)
	}
}

func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *Queue) process(ctx context.Context, task Task) {
	delay := q.Delay(task.Count)
	text := task.Text

	var dec MistakeDecision
	if q.opts.Mistakes.Enabled {
		dec = decideMistake(q.rng, task.Text, q.opts.Mistakes.Probability, q.opts.Mistakes.Kinds)
		if dec.IsMistake {
			q.mistakes.Add(1)
			if dec.Kind == MistakeDelay {
				delay *= 3
			} else {
				text = dec.Text
			}
			q.logger.Debug("mistake_injected", zap.String("kind", string(dec.Kind)))
		}
	}

	if err := q.sleep(ctx, delay); err != nil {
		return
	}

	if err := q.sender.SendText(ctx, task.ChatID, text); err != nil {
		wait := q.onFailure()
		q.logger.Warn("send_failed",
			zap.String("chat_id", task.ChatID),
			zap.String("task_id", task.ID.String()),
			zap.Int("failures", q.failures),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		_ = q.sleep(ctx, wait)
		return
	}

	q.failures = 0
	q.consecutive.Store(0)
	q.sent.Add(1)

	// Only a mistake the chat actually received gets corrected.
	if dec.Textual() && q.rng.Float64() < q.opts.Mistakes.CorrectionProbability {
		q.scheduleCorrection(ctx, task)
	}
}

// Delay is scale × (base + perUnit × (count − 1) + jitter).
func (q *Queue) Delay(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	d := q.opts.BaseDelay + q.opts.PerUnitDelay*time.Duration(count-1) + q.jitter(q.opts.Jitter)
	return time.Duration(float64(d) * q.opts.Scale)
}

// onFailure records a failed send and returns the backoff to wait.
func (q *Queue) onFailure() time.Duration {
	q.failures++
	q.failed.Add(1)
	q.consecutive.Store(int64(q.failures))
	return backoff(q.opts.BackoffBase, q.opts.BackoffCap, q.failures) + q.jitter(q.opts.BackoffJitter)
}

// backoff is min(base × 2^failures, cap).
func backoff(base, ceiling time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := failures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := base << shift
	if ceiling > 0 && (d > ceiling || d <= 0) {
		return ceiling
	}
	return d
}

func (q *Queue) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(q.rng.Int64N(int64(limit)))
}

func (q *Queue) scheduleCorrection(ctx context.Context, task Task) {
	q.corrWG.Add(1)
	go func() {
		defer q.corrWG.Done()
		if err := q.sleep(ctx, q.opts.Mistakes.CorrectionDelay); err != nil {
			return
		}
		if err := q.sender.SendText(ctx, task.ChatID, task.Text); err != nil {
			q.logger.Warn("correction_failed", zap.String("chat_id", task.ChatID), zap.Error(err))
			return
		}
		q.corrections.Add(1)
	}()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

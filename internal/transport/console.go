package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// Console reads lines from an input stream as messages in one fixed group
// and prints replies to an output stream.
type Console struct {
	in       io.Reader
	out      io.Writer
	groupID  string
	senderID string

	mu      sync.Mutex
	handler Handler
	closed  bool
	seq     int

	wg sync.WaitGroup
}

// NewConsole creates a console transport. Lines appear as sent by senderID.
func NewConsole(in io.Reader, out io.Writer, groupID, senderID string) *Console {
	if groupID == "" {
		groupID = "console@g.us"
	}
	if senderID == "" {
		senderID = "console"
	}
	return &Console{in: in, out: out, groupID: groupID, senderID: senderID}
}

// OnEvent implements Transport.
func (c *Console) OnEvent(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect starts reading input. Reading stops at EOF.
func (c *Console) Connect(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			c.emit(scanner.Text())
		}
	}()
	return nil
}

func (c *Console) emit(line string) {
	c.mu.Lock()
	if c.closed || c.handler == nil {
		c.mu.Unlock()
		return
	}
	c.seq++
	h := c.handler
	ev := Event{
		ChatID:     c.groupID,
		MessageID:  strconv.Itoa(c.seq),
		SenderID:   c.senderID,
		SenderName: "console",
		Text:       line,
		Timestamp:  time.Now().Unix(),
	}
	c.mu.Unlock()
	h(ev)
}

// Close stops delivering events. A read blocked on input is left to finish
// at EOF.
func (c *Console) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Disconnected implements Transport. The console never drops; EOF only stops
// input so queued replies still go out.
func (c *Console) Disconnected() <-chan error {
	return nil
}

// Wait blocks until the reader has stopped.
func (c *Console) Wait() {
	c.wg.Wait()
}

// SendText implements Transport.
func (c *Console) SendText(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", chatID, text)
	return err
}

// ListGroups implements Transport.
func (c *Console) ListGroups(context.Context) ([]Group, error) {
	return []Group{{ID: c.groupID, Name: "Console", Members: 1}}, nil
}

package bot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/transport"
)

// Status lines.
const (
	StatusActive   = "Active in selected group - detecting names"
	StatusInactive = "Inactive - send .ابدا to activate"
	NoGroupsFound  = "No groups found"
)

// State is the activation state. The zero value is inactive.
type State struct {
	Active      bool   `json:"active"`
	GroupID     string `json:"group_id,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
	ActivatedAt int64  `json:"activated_at,omitempty"`
}

// GroupLister lists the groups the bot account is in.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]transport.Group, error)
}

// Counter reports how many names have been learned.
type Counter interface {
	Len() int
}

// Reply is a control-command answer.
type Reply struct {
	ChatID string
	Text   string
}

// groupNumber matches a bare group selection. Signs and spaces are text.
var groupNumber = regexp.MustCompile(`^[0-9]+$`)

type command int

const (
	cmdNone command = iota
	cmdList
	cmdDeactivate
	cmdStatus
)

// Controller owns the activation state. It is driven from the bot's event
// goroutine; State may be read from elsewhere through Bot.Status.
type Controller struct {
	owners   map[string]bool
	commands map[string]command
	lister   GroupLister
	counter  Counter
	logger   *zap.Logger

	state   State
	listing []transport.Group
}

// NewController builds a controller from the owner allow-list and command aliases.
func NewController(owners []string, cmds config.CommandsConfig, lister GroupLister, counter Counter, logger *zap.Logger) *Controller {
	c := &Controller{
		owners:   make(map[string]bool),
		commands: make(map[string]command),
		lister:   lister,
		counter:  counter,
		logger:   logging.OrNop(logger),
	}
	for _, o := range owners {
		if id := transport.BareID(o); id != "" {
			c.owners[id] = true
		}
	}
	for _, s := range cmds.List {
		c.commands[strings.TrimSpace(s)] = cmdList
	}
	for _, s := range cmds.Deactivate {
		c.commands[strings.TrimSpace(s)] = cmdDeactivate
	}
	for _, s := range cmds.Status {
		c.commands[strings.TrimSpace(s)] = cmdStatus
	}
	return c
}

// State returns a copy of the activation state.
func (c *Controller) State() State {
	return c.state
}

// IsOwner reports whether sender is on the allow-list.
func (c *Controller) IsOwner(sender string) bool {
	return c.owners[transport.BareID(sender)]
}

// Handle applies ev if it is a control command. consumed is true when ev was
// a command (even an ignored one) and must not reach the pipeline.
func (c *Controller) Handle(ctx context.Context, ev transport.Event) (reply *Reply, consumed bool) {
	text := strings.TrimSpace(ev.Text)

	switch c.commands[text] {
	case cmdStatus:
		return c.reply(ev, c.StatusText()), true
	case cmdList:
		if !c.IsOwner(ev.SenderID) {
			return nil, true
		}
		return c.reply(ev, c.list(ctx)), true
	case cmdDeactivate:
		if !c.IsOwner(ev.SenderID) {
			return nil, true
		}
		c.deactivate()
		return c.reply(ev, "Deactivated"), true
	}

	if c.state.Active || !c.IsOwner(ev.SenderID) {
		return nil, false
	}
	if !groupNumber.MatchString(text) {
		return nil, false
	}
	return c.reply(ev, c.selectGroup(ctx, text, ev.Timestamp)), true
}

// Admits reports whether ev belongs to the active group and arrived after activation.
func (c *Controller) Admits(ev transport.Event) bool {
	return c.state.Active && ev.ChatID == c.state.GroupID && ev.Timestamp >= c.state.ActivatedAt
}

// StatusText summarizes the current state.
func (c *Controller) StatusText() string {
	var b strings.Builder
	if c.state.Active {
		b.WriteString(StatusActive)
		if c.state.GroupName != "" {
			fmt.Fprintf(&b, "\nGroup: %s", c.state.GroupName)
		}
	} else {
		b.WriteString(StatusInactive)
	}
	if c.counter != nil {
		fmt.Fprintf(&b, "\nLearned names: %d", c.counter.Len())
	}
	return b.String()
}

func (c *Controller) list(ctx context.Context) string {
	groups, err := c.lister.ListGroups(ctx)
	if err != nil {
		c.logger.Warn("list_groups_failed", zap.Error(err))
		return "Could not list groups: " + err.Error()
	}
	c.listing = groups
	return FormatGroups(groups)
}

// selectGroup activates the digits-th group of the last listing. Zero and
// numbers too large for an int are rejected like any other bad index.
func (c *Controller) selectGroup(ctx context.Context, digits string, ts int64) string {
	if c.listing == nil {
		groups, err := c.lister.ListGroups(ctx)
		if err != nil {
			c.logger.Warn("list_groups_failed", zap.Error(err))
			return "Could not list groups: " + err.Error()
		}
		c.listing = groups
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > len(c.listing) {
		return errors.NewInvalidSelection(digits, len(c.listing)).Message
	}

	g := c.listing[n-1]
	c.state = State{Active: true, GroupID: g.ID, GroupName: g.Name, ActivatedAt: ts}
	c.logger.Info("activated", zap.String("group_id", g.ID), zap.String("group", g.Name), zap.Int64("activated_at", ts))
	return "Activated in: " + g.Name
}

func (c *Controller) deactivate() {
	if c.state.Active {
		c.logger.Info("deactivated", zap.String("group_id", c.state.GroupID))
	}
	c.state = State{}
}

func (c *Controller) reply(ev transport.Event, text string) *Reply {
	return &Reply{ChatID: ev.ChatID, Text: text}
}

// FormatGroups renders a numbered group listing.
func FormatGroups(groups []transport.Group) string {
	if len(groups) == 0 {
		return NoGroupsFound
	}
	var b strings.Builder
	b.WriteString("Groups:")
	for i, g := range groups {
		fmt.Fprintf(&b, "\n%d. %s (%d members)", i+1, g.Name, g.Members)
	}
	b.WriteString("\nReply with a number to activate.")
	return b.String()
}

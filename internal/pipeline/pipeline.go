// Package pipeline turns one chat message into the reply candidates.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/resolver"
	"github.com/hpungsan/namecall/internal/store"
)

// Candidate is one token accepted for the reply.
type Candidate struct {
	Input      string  `json:"input"`
	Position   int     `json:"position"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of processing one message.
type Result struct {
	Candidates      []Candidate `json:"candidates"`
	TournamentStyle bool        `json:"tournament_style"`
	OriginalText    string      `json:"original_text"`
}

// Response is the text to send back.
type Response struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Memory is the write side of the mapping store.
type Memory interface {
	Remember(token string, rec store.Record) bool
	Persist(ctx context.Context) error
}

// Resolver resolves a token to a character name.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*resolver.Match, bool)
}

// Options configure a Pipeline.
type Options struct {
	Mode  string
	Learn bool
}

// Pipeline is not safe for concurrent Process calls; the bot drives it from
// its single event goroutine. Background work it spawns is tracked and can be
// awaited with Wait.
type Pipeline struct {
	mode     string
	learn    bool
	memory   Memory
	resolver Resolver
	logger   *zap.Logger

	last string

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a pipeline. memory and res may be nil.
func New(memory Memory, res Resolver, opts Options, logger *zap.Logger) *Pipeline {
	mode := opts.Mode
	if mode == "" {
		mode = config.ModePassthrough
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		mode:     mode,
		learn:    opts.Learn && res != nil && memory != nil,
		memory:   memory,
		resolver: res,
		logger:   logging.OrNop(logger),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Process extracts candidates from text. It returns false when the text is
// blank, repeats the previous message, or yields no candidates.
func (p *Pipeline) Process(ctx context.Context, text string) (*Result, bool) {
	if strings.TrimSpace(text) == "" || text == p.last {
		return nil, false
	}

	content := names.Extract(text)
	if content == "" {
		return nil, false
	}

	var candidates []Candidate
	for i, tok := range names.Tokenize(content) {
		switch p.mode {
		case config.ModeHeuristic:
			c := names.Classify(names.Normalize(tok))
			if !c.IsCandidate {
				continue
			}
			candidates = append(candidates, Candidate{Input: tok, Position: i, Confidence: c.Confidence})
		default:
			candidates = append(candidates, Candidate{Input: tok, Position: i, Confidence: 1.0})
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	p.last = text
	result := &Result{
		Candidates:      candidates,
		TournamentStyle: names.IsTournament(content),
		OriginalText:    text,
	}

	p.spawnPersist()
	if p.learn {
		p.spawnLearn(candidates)
	}

	p.logger.Debug("message_processed",
		zap.Int("candidates", len(candidates)),
		zap.Bool("tournament", result.TournamentStyle),
	)
	return result, true
}

// Wait blocks until spawned background work has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels background work and waits for it.
func (p *Pipeline) Close() {
	p.bgCancel()
	p.wg.Wait()
}

func (p *Pipeline) spawnPersist() {
	if p.memory == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.memory.Persist(p.bgCtx)
	}()
}

func (p *Pipeline) spawnLearn(candidates []Candidate) {
	tokens := make([]string, len(candidates))
	for i, c := range candidates {
		tokens[i] = c.Input
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		learned := 0
		for _, tok := range tokens {
			if p.bgCtx.Err() != nil {
				return
			}
			m, ok := p.resolver.Resolve(p.bgCtx, tok)
			if !ok || m.Source == resolver.SourceLocal {
				continue
			}
			if p.memory.Remember(tok, store.Record{Name: m.Name, Confidence: m.Confidence, Source: m.Source}) {
				learned++
				p.logger.Info("name_learned",
					zap.String("token", tok),
					zap.String("name", m.Name),
					zap.String("source", m.Source),
				)
			}
		}
		if learned > 0 {
			_ = p.memory.Persist(p.bgCtx)
		}
	}()
}

// FormatResponse joins candidate inputs in order. It returns false when the
// result has no candidates.
func FormatResponse(result *Result) (*Response, bool) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, false
	}
	parts := make([]string, len(result.Candidates))
	for i, c := range result.Candidates {
		parts[i] = c.Input
	}
	return &Response{Text: strings.Join(parts, " "), Count: len(parts)}, true
}

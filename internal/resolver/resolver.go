// Package resolver maps a token to a character name, first from the local
// store and otherwise by querying every configured oracle concurrently.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/store"
)

// SourceLocal marks matches served from the store.
const SourceLocal = "local"

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 660 * time.Millisecond

var errCoolingDown = errors.New("resolver: oracle cooling down")

// Lookuper is the read side of the mapping store.
type Lookuper interface {
	Lookup(token string) (store.Record, bool)
}

// Source is an oracle with its call budget.
type Source struct {
	Oracle  Oracle
	Timeout time.Duration
	// RPS <= 0 means unlimited.
	RPS   float64
	Burst int
}

type guardedOracle struct {
	oracle  Oracle
	timeout time.Duration
	limiter *rate.Limiter

	mu        sync.Mutex
	coolUntil time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	store   Lookuper
	oracles []*guardedOracle
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a resolver. Oracle order is the tie-break order.
func New(st Lookuper, sources []Source, logger *zap.Logger) *Resolver {
	r := &Resolver{
		store:  st,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
	for _, src := range sources {
		if src.Oracle == nil {
			continue
		}
		timeout := src.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		limit := rate.Inf
		burst := src.Burst
		if src.RPS > 0 {
			limit = rate.Limit(src.RPS)
			if burst <= 0 {
				burst = 1
			}
		}
		r.oracles = append(r.oracles, &guardedOracle{
			oracle:  src.Oracle,
			timeout: timeout,
			limiter: rate.NewLimiter(limit, burst),
		})
	}
	return r
}

// SourcesFromConfig builds oracles from configuration.
func SourcesFromConfig(cfgs []config.OracleConfig, client *http.Client) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.Kind
		}
		var o Oracle
		switch strings.ToLower(c.Kind) {
		case config.OracleAniList:
			o = NewAniList(name, c.URL, client)
		case config.OracleJikan:
			o = NewJikan(name, c.URL, client)
		case config.OracleKitsu:
			o = NewKitsu(name, c.URL, client)
		default:
			return nil, fmt.Errorf("unknown oracle kind %q", c.Kind)
		}
		sources = append(sources, Source{
			Oracle:  o,
			Timeout: c.Timeout(),
			RPS:     c.RPS,
			Burst:   c.Burst,
		})
	}
	return sources, nil
}

// OracleCount returns the number of configured oracles.
func (r *Resolver) OracleCount() int {
	return len(r.oracles)
}

// Resolve returns the best match for token. Store hits never reach the network.
// Oracle failures are logged at debug and otherwise ignored.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Match, bool) {
	query := strings.TrimSpace(token)
	if names.Normalize(query) == "" {
		return nil, false
	}

	if r.store != nil {
		if rec, ok := r.store.Lookup(query); ok {
			return &Match{Name: rec.Name, Confidence: 1.0, Source: SourceLocal}, true
		}
	}
	if len(r.oracles) == 0 {
		return nil, false
	}

	results := make([]*Match, len(r.oracles))
	var g errgroup.Group
	for i, o := range r.oracles {
		g.Go(func() error {
			m, err := o.lookup(ctx, query, r.now)
			if err != nil {
				r.logger.Debug("oracle_lookup_failed",
					zap.String("oracle", o.oracle.Name()),
					zap.String("token", query),
					zap.Error(err),
				)
				return nil
			}
			results[i] = m
			return nil
		})
	}
	_ = g.Wait()

	var best *Match
	for _, m := range results {
		if m == nil {
			continue
		}
		if best == nil || m.Confidence > best.Confidence {
			best = m
		}
	}
	return best, best != nil
}

func (g *guardedOracle) lookup(ctx context.Context, name string, now func() time.Time) (*Match, error) {
	g.mu.Lock()
	until := g.coolUntil
	g.mu.Unlock()
	if now().Before(until) {
		return nil, errCoolingDown
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(cctx); err != nil {
		return nil, err
	}

	m, err := g.oracle.Lookup(cctx, name)
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		g.mu.Lock()
		g.coolUntil = now().Add(rl.RetryAfter)
		g.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNoMatch
	}
	return m, nil
}

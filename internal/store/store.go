// Package store holds the token → character-name mappings used by the bot.
//
// The store is two maps keyed by normalized token: a static table seeded from
// configuration and a learned table that grows as oracles resolve new names.
// All I/O goes through a Persistence backend; the maps themselves never touch
// disk.
//
// Several processes may share one document (the running bot and CLI or MCP
// invocations). A store therefore never writes its whole view back: Persist
// re-reads the document, applies only the changes this store made, writes the
// result and adopts it. Names learned elsewhere survive, and only an explicit
// Reset or Replace removes entries another process wrote.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/namecall/internal/logging"
	"github.com/hpungsan/namecall/internal/names"
)

// Sources recorded on mappings.
const (
	SourceStatic = "static"
	SourceManual = "manual"
	SourceImport = "import"
)

// ErrNoMappings is returned by a Persistence backend when no document exists yet.
var ErrNoMappings = errors.New("store: no mappings")

// Record is one learned mapping.
type Record struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	StaticNames  map[string]string `json:"staticNames"`
	LearnedNames map[string]Record `json:"learnedNames"`
	LastUpdated  time.Time         `json:"lastUpdated"`
}

// Entry is a flattened mapping for listings.
type Entry struct {
	Token      string  `json:"token"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Static     bool    `json:"static"`
}

// Persistence loads and saves snapshots.
type Persistence interface {
	LoadMappings(ctx context.Context) (*Snapshot, error)
	SaveMappings(ctx context.Context, snap *Snapshot) error
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	static  map[string]string
	learned map[string]Record
	changes *changeSet

	// persistMu orders Persist calls so an older merge never lands last.
	persistMu sync.Mutex
	backend   Persistence
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an empty store. backend may be nil for a memory-only store.
func New(backend Persistence, logger *zap.Logger) *Store {
	return &Store{
		static:  make(map[string]string),
		learned: make(map[string]Record),
		changes: newChanges(),
		backend: backend,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Lookup normalizes token and returns its mapping. Static entries win and
// report confidence 1.0.
func (s *Store) Lookup(token string) (Record, bool) {
	key := names.Normalize(token)
	if key == "" {
		return Record{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if name, ok := s.static[key]; ok {
		return Record{Name: name, Confidence: 1.0, Source: SourceStatic}, true
	}
	rec, ok := s.learned[key]
	return rec, ok
}

// Remember inserts or overwrites a learned mapping. Empty tokens are ignored.
func (s *Store) Remember(token string, rec Record) bool {
	key := names.Normalize(token)
	if key == "" {
		return false
	}

	s.mu.Lock()
	s.learned[key] = rec
	s.changes.remember(key, rec)
	s.mu.Unlock()
	return true
}

// Forget removes a learned mapping.
func (s *Store) Forget(token string) bool {
	key := names.Normalize(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.learned[key]; !ok {
		return false
	}
	delete(s.learned, key)
	s.changes.forget(key)
	return true
}

// Seed merges entries into the static table.
func (s *Store) Seed(static map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, name := range static {
		if key := names.Normalize(token); key != "" {
			s.static[key] = name
			s.changes.static[key] = name
		}
	}
}

// Snapshot returns a deep copy of both tables.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		StaticNames:  make(map[string]string, len(s.static)),
		LearnedNames: make(map[string]Record, len(s.learned)),
		LastUpdated:  s.now().UTC(),
	}
	for k, v := range s.static {
		snap.StaticNames[k] = v
	}
	for k, v := range s.learned {
		snap.LearnedNames[k] = v
	}
	return snap
}

// Replace swaps both tables for the contents of snap, re-normalizing keys.
// A nil snapshot empties the store. The next Persist replaces the document.
func (s *Store) Replace(snap *Snapshot) {
	static, learned := normalizedTables(snap)

	s.mu.Lock()
	s.static = static
	s.learned = learned
	s.changes.replace(static, learned)
	s.mu.Unlock()
}

// Reload adopts snap as read from the backend and re-applies any changes
// not yet persisted on top of it.
func (s *Store) Reload(snap *Snapshot) {
	static, learned := normalizedTables(snap)

	s.mu.Lock()
	s.changes.applyTables(static, learned)
	s.static = static
	s.learned = learned
	s.mu.Unlock()
}

func normalizedTables(snap *Snapshot) (map[string]string, map[string]Record) {
	static := make(map[string]string)
	learned := make(map[string]Record)
	if snap == nil {
		return static, learned
	}
	for token, name := range snap.StaticNames {
		if key := names.Normalize(token); key != "" {
			static[key] = name
		}
	}
	for token, rec := range snap.LearnedNames {
		if key := names.Normalize(token); key != "" {
			learned[key] = rec
		}
	}
	return static, learned
}

// Reset clears the learned table. The static table is kept.
func (s *Store) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.learned)
	s.learned = make(map[string]Record)
	s.changes.resetLearned()
	return n
}

// Len returns the number of learned mappings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.learned)
}

// StaticLen returns the number of static mappings.
func (s *Store) StaticLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.static)
}

// Entries returns every mapping sorted by token, static first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.static)+len(s.learned))
	for k, v := range s.static {
		out = append(out, Entry{Token: k, Name: v, Confidence: 1.0, Source: SourceStatic, Static: true})
	}
	for k, v := range s.learned {
		out = append(out, Entry{Token: k, Name: v.Name, Confidence: v.Confidence, Source: v.Source})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Static != out[j].Static {
			return out[i].Static
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Load replaces the tables with the backend's document and drops any
// unpersisted changes. Any failure leaves the store empty and is returned for
// logging. An absent document is not an error: the store starts empty and an
// initial document is written.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	snap, err := s.backend.LoadMappings(ctx)
	if errors.Is(err, ErrNoMappings) {
		s.load(nil)
		s.logger.Info("mappings_initialized")
		return s.Persist(ctx)
	}
	if err != nil {
		s.load(nil)
		s.logger.Warn("mappings_load_failed", zap.Error(err))
		return err
	}

	s.load(snap)
	s.logger.Info("mappings_loaded",
		zap.Int("static", s.StaticLen()),
		zap.Int("learned", s.Len()),
	)
	return nil
}

func (s *Store) load(snap *Snapshot) {
	static, learned := normalizedTables(snap)

	s.mu.Lock()
	s.static = static
	s.learned = learned
	s.changes = newChanges()
	s.mu.Unlock()
}

// Persist merges this store's changes into the backend's current document,
// writes it, and adopts the merged tables. An unreadable document is
// overwritten with this store's view. Failures are logged and returned, and
// the changes are kept for the next attempt; callers on the hot path ignore
// the error.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	pending := s.changes
	s.changes = newChanges()
	s.mu.Unlock()

	base, err := s.backend.LoadMappings(ctx)
	switch {
	case errors.Is(err, ErrNoMappings) || (err == nil && base == nil):
		base = &Snapshot{}
	case err != nil:
		s.logger.Warn("mappings_unreadable_overwriting", zap.Error(err))
		base = s.Snapshot()
	}

	static, learned := normalizedTables(base)
	pending.applyTables(static, learned)
	merged := &Snapshot{StaticNames: static, LearnedNames: learned, LastUpdated: s.now().UTC()}

	if err := s.backend.SaveMappings(ctx, merged); err != nil {
		s.mu.Lock()
		pending.absorb(s.changes)
		s.changes = pending
		s.mu.Unlock()
		s.logger.Warn("mappings_persist_failed", zap.Error(err))
		return err
	}

	s.Reload(merged)
	return nil
}

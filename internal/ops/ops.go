// Package ops implements the mapping operations shared by the CLI, the MCP
// server and the status server.
package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/store"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxTextRunes     = 4096
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// validateToken trims and normalizes a token argument.
func validateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.NewInvalidRequest("token is required")
	}
	key := names.Normalize(token)
	if key == "" {
		return "", errors.NewInvalidRequest("token must not be empty")
	}
	return key, nil
}

// persist writes the store through its backend, surfacing failures as
// internal errors.
func persist(ctx context.Context, st *store.Store) error {
	if err := st.Persist(ctx); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to persist mappings: %w", err))
	}
	return nil
}

// LookupInput contains parameters for the Lookup operation.
type LookupInput struct {
	Token string // required
}

// LookupOutput is a resolved mapping.
type LookupOutput struct {
	Token      string  `json:"token"`
	Normalized string  `json:"normalized"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Lookup returns the stored mapping for a token.
func Lookup(st *store.Store, input LookupInput) (*LookupOutput, error) {
	key, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	rec, ok := st.Lookup(key)
	if !ok {
		return nil, errors.NewNotFound(key)
	}
	return &LookupOutput{
		Token:      strings.TrimSpace(input.Token),
		Normalized: key,
		Name:       rec.Name,
		Confidence: rec.Confidence,
		Source:     rec.Source,
	}, nil
}

// LearnInput contains parameters for the Learn operation.
type LearnInput struct {
	Token      string  // required
	Name       string  // required
	Confidence float64 // default: 1.0
}

// LearnOutput reports a stored mapping.
type LearnOutput struct {
	Normalized string `json:"normalized"`
	Name       string `json:"name"`
	Replaced   bool   `json:"replaced"`
}

// Learn records a manual mapping and persists the store.
func Learn(ctx context.Context, st *store.Store, input LearnInput) (*LearnOutput, error) {
	key, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	confidence := input.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewInvalidRequest("confidence must be within [0,1]")
	}

	_, replaced := st.Lookup(key)
	st.Remember(key, store.Record{Name: name, Confidence: confidence, Source: store.SourceManual})
	if err := persist(ctx, st); err != nil {
		return nil, err
	}

	return &LearnOutput{Normalized: key, Name: name, Replaced: replaced}, nil
}

// ForgetInput contains parameters for the Forget operation.
type ForgetInput struct {
	Token string // required
}

// ForgetOutput reports a removed mapping.
type ForgetOutput struct {
	Normalized string `json:"normalized"`
	Forgotten  bool   `json:"forgotten"`
}

// Forget removes a learned mapping. Static mappings cannot be forgotten.
func Forget(ctx context.Context, st *store.Store, input ForgetInput) (*ForgetOutput, error) {
	key, err := validateToken(input.Token)
	if err != nil {
		return nil, err
	}
	if !st.Forget(key) {
		if rec, ok := st.Lookup(key); ok && rec.Source == store.SourceStatic {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s is a static mapping", key))
		}
		return nil, errors.NewNotFound(key)
	}
	if err := persist(ctx, st); err != nil {
		return nil, err
	}
	return &ForgetOutput{Normalized: key, Forgotten: true}, nil
}

// ResetOutput reports how many learned mappings were cleared.
type ResetOutput struct {
	Cleared int `json:"cleared"`
	Static  int `json:"static"`
}

// Reset clears every learned mapping and persists the store.
func Reset(ctx context.Context, st *store.Store) (*ResetOutput, error) {
	n := st.Reset()
	if err := persist(ctx, st); err != nil {
		return nil, err
	}
	return &ResetOutput{Cleared: n, Static: st.StaticLen()}, nil
}

// StatsOutput summarizes the store.
type StatsOutput struct {
	Static   int            `json:"static"`
	Learned  int            `json:"learned"`
	BySource map[string]int `json:"by_source"`
}

// Stats counts mappings per source.
func Stats(st *store.Store) *StatsOutput {
	out := &StatsOutput{BySource: make(map[string]int)}
	for _, e := range st.Entries() {
		if e.Static {
			out.Static++
		} else {
			out.Learned++
		}
		out.BySource[e.Source]++
	}
	return out
}

package ops

import (
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/store"
)

// TokenReport describes one token of a delimited message.
type TokenReport struct {
	Token      string  `json:"token"`
	Normalized string  `json:"normalized"`
	Candidate  bool    `json:"candidate"`
	Confidence float64 `json:"confidence"`
	Known      bool    `json:"known"`
	Name       string  `json:"name,omitempty"`
}

// ExtractInput contains parameters for the Extract operation.
type ExtractInput struct {
	Text string // required
}

// ExtractOutput previews how a message would be read.
type ExtractOutput struct {
	Content    string        `json:"content"`
	Tournament bool          `json:"tournament"`
	Tokens     []TokenReport `json:"tokens"`
}

// Extract pulls the delimited content out of text and reports every token
// with its heuristic score and, when st is non-nil, its stored mapping.
func Extract(st *store.Store, input ExtractInput) (*ExtractOutput, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, errors.NewInvalidRequest("text is required")
	}
	if n := utf8.RuneCountInString(input.Text); n > MaxTextRunes {
		return nil, errors.NewInvalidRequest("text is too long")
	}

	content := names.Extract(input.Text)
	out := &ExtractOutput{
		Content:    content,
		Tournament: names.IsTournament(content),
		Tokens:     []TokenReport{},
	}
	for _, tok := range names.Tokenize(content) {
		out.Tokens = append(out.Tokens, report(st, tok))
	}
	return out, nil
}

// ClassifyInput contains parameters for the Classify operation.
type ClassifyInput struct {
	Token string // required
}

// Classify scores a single token.
func Classify(st *store.Store, input ClassifyInput) (*TokenReport, error) {
	if _, err := validateToken(input.Token); err != nil {
		return nil, err
	}
	r := report(st, strings.TrimSpace(input.Token))
	return &r, nil
}

func report(st *store.Store, tok string) TokenReport {
	key := names.Normalize(tok)
	c := names.Classify(key)
	r := TokenReport{
		Token:      tok,
		Normalized: key,
		Candidate:  c.IsCandidate,
		Confidence: c.Confidence,
	}
	if st != nil {
		if rec, ok := st.Lookup(key); ok {
			r.Known = true
			r.Name = rec.Name
		}
	}
	return r
}

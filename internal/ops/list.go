package ops

import (
	"strings"

	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/store"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Source string // optional filter: "static", "manual", "import" or an oracle name
	Query  string // optional substring match on token or name
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []store.Entry `json:"items"`
	Pagination Pagination    `json:"pagination"`
	Sort       string        `json:"sort"`
}

// List returns mappings with pagination, static entries first.
func List(st *store.Store, input ListInput) (*ListOutput, error) {
	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	source := strings.TrimSpace(input.Source)
	query := names.Normalize(input.Query)

	matched := make([]store.Entry, 0)
	for _, e := range st.Entries() {
		if source != "" && e.Source != source {
			continue
		}
		if query != "" && !strings.Contains(e.Token, query) && !strings.Contains(strings.ToLower(e.Name), query) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	items := []store.Entry{}
	if offset < total {
		end := min(offset+limit, total)
		items = matched[offset:end]
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "static_first_token_asc",
	}, nil
}

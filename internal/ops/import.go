package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/names"
	"github.com/hpungsan/namecall/internal/store"
)

// MaxImportBytes bounds the size of an import document.
const MaxImportBytes = 32 << 20

// ImportMode controls how imported mappings combine with existing ones.
type ImportMode string

const (
	ImportModeMerge   ImportMode = "merge"   // imported entries overwrite on collision
	ImportModeReplace ImportMode = "replace" // the document becomes the whole store
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: merge
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Mode     ImportMode `json:"mode"`
	Static   int        `json:"static"`
	Learned  int        `json:"learned"`
	Skipped  int        `json:"skipped"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Import loads mappings from an export or mapping document. Entries with an
// empty token or name are skipped. Learned entries without a source are
// tagged "import".
func Import(ctx context.Context, st *store.Store, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeMerge
	}
	if input.Mode != ImportModeMerge && input.Mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: merge, replace")
	}

	path, err := checkDocumentPath(input.Path, forImport, cfg)
	if err != nil {
		return nil, err
	}
	doc, err := readMappingDocument(path)
	if err != nil {
		return nil, err
	}

	out := &ImportOutput{Mode: input.Mode}
	clean := &store.Snapshot{
		StaticNames:  make(map[string]string, len(doc.StaticNames)),
		LearnedNames: make(map[string]store.Record, len(doc.LearnedNames)),
	}
	for token, name := range doc.StaticNames {
		key := names.Normalize(token)
		if key == "" || strings.TrimSpace(name) == "" {
			out.Skipped++
			out.Warnings = append(out.Warnings, fmt.Sprintf("static %q skipped", token))
			continue
		}
		clean.StaticNames[key] = name
	}
	for token, rec := range doc.LearnedNames {
		key := names.Normalize(token)
		if key == "" || strings.TrimSpace(rec.Name) == "" {
			out.Skipped++
			out.Warnings = append(out.Warnings, fmt.Sprintf("learned %q skipped", token))
			continue
		}
		if rec.Source == "" {
			rec.Source = store.SourceImport
		}
		if rec.Confidence <= 0 || rec.Confidence > 1 {
			rec.Confidence = 1.0
		}
		clean.LearnedNames[key] = rec
	}
	out.Static = len(clean.StaticNames)
	out.Learned = len(clean.LearnedNames)

	switch input.Mode {
	case ImportModeReplace:
		st.Replace(clean)
	default:
		st.Seed(clean.StaticNames)
		for key, rec := range clean.LearnedNames {
			st.Remember(key, rec)
		}
	}

	if err := persist(ctx, st); err != nil {
		return nil, err
	}
	return out, nil
}

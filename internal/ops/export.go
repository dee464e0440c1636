package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/store"
)

// ExportSchemaVersion is written into every export document.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path  string // optional, default: ~/.namecall/exports/<label>-<timestamp>.json
	Label string // optional, default: "mappings"
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Static     int    `json:"static"`
	Learned    int    `json:"learned"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportDocument is the export file format: the mapping document plus a
// marker header. Import also accepts a bare mapping document.
type ExportDocument struct {
	NamecallExport bool   `json:"_namecall_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
	store.Snapshot
}

// Export writes every mapping to a JSON document.
func Export(ctx context.Context, st *store.Store, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(input.Label, now)
		if err != nil {
			return nil, err
		}
	}

	// Default paths go through the same checks; the label is user input.
	exportPath, err := checkDocumentPath(exportPath, forExport, cfg)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewUnavailable("export", err)
	}

	snap := st.Snapshot()
	doc := ExportDocument{
		NamecallExport: true,
		SchemaVersion:  ExportSchemaVersion,
		ExportedAt:     now.Unix(),
		Snapshot:       *snap,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	if err := writeExportFile(exportPath, data); err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Static:     len(snap.StaticNames),
		Learned:    len(snap.LearnedNames),
		ExportedAt: doc.ExportedAt,
	}, nil
}

// writeExportFile writes data to a random temp file beside path and renames
// it into place, so a failed export never clobbers an existing file.
func writeExportFile(path string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultExportPath builds ~/.namecall/exports/<label>-<timestamp>.json.
func defaultExportPath(label string, now time.Time) (string, error) {
	dir, err := exportsDir()
	if err != nil {
		return "", err
	}
	timestamp := now.Format("2006-01-02T150405")
	filename := fmt.Sprintf("%s-%s.json", labelSlug(label), timestamp)
	return filepath.Join(dir, filename), nil
}

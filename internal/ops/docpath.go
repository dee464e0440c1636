package ops

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/hpungsan/namecall/internal/config"
	"github.com/hpungsan/namecall/internal/errors"
)

// docAccess is the direction a mapping document travels.
type docAccess int

const (
	forImport docAccess = iota
	forExport
)

// checkDocumentPath vets the path of an export or import document and
// returns it absolute. Documents are .json files sitting directly in
// ~/.namecall/exports or an allowed_paths entry, never reached through ".."
// or a symlink. AllowUnsafePaths lifts only the directory rule.
func checkDocumentPath(path string, access docAccess, cfg *config.Config) (string, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
		}
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return "", errors.NewInvalidRequest("path must have .json extension")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		dirs, err := documentDirs(cfg)
		if err != nil {
			return "", err
		}
		parent := filepath.Dir(abs)
		if !containsDir(dirs, parent) {
			return "", errors.NewInvalidRequest(fmt.Sprintf("file must be directly in one of %v", dirs))
		}
		if isSymlink(parent) {
			return "", errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if access == forImport {
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return "", errors.NewFileNotFound(path)
		}
	}
	if isSymlink(abs) {
		return "", errors.NewInvalidRequest("path must not be a symlink")
	}
	return abs, nil
}

// documentDirs lists the exports directory and the absolute allowed_paths,
// symlinked entries resolved.
func documentDirs(cfg *config.Config) ([]string, error) {
	home, err := exportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{home}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}
	for i, d := range dirs {
		if !isSymlink(d) {
			continue
		}
		resolved, err := filepath.EvalSymlinks(d)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve allowed path %s: %v", d, err))
		}
		dirs[i] = resolved
	}
	return dirs, nil
}

func containsDir(dirs []string, dir string) bool {
	for _, d := range dirs {
		if d == dir {
			return true
		}
	}
	return false
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// exportsDir returns ~/.namecall/exports.
func exportsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(home, ".namecall", "exports"), nil
}

// labelSlug reduces an export label to letters, digits, '_' and single
// dashes. An empty result becomes "mappings".
func labelSlug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if unicode.IsControl(r) || dash || b.Len() == 0 {
			continue
		}
		b.WriteByte('-')
		dash = true
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "mappings"
	}
	return slug
}

// readMappingDocument opens a document that passed checkDocumentPath and
// decodes it. The top level must be an object carrying staticNames,
// learnedNames or the export marker; a marked document must match
// ExportSchemaVersion.
func readMappingDocument(path string) (*ExportDocument, error) {
	file, err := openNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		if _, ok := err.(*errors.BotError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read import file: %w", err))
	}
	if len(data) > MaxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file exceeds %d bytes", MaxImportBytes))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid mapping document: %v", err))
	}
	_, hasStatic := top["staticNames"]
	_, hasLearned := top["learnedNames"]
	_, marked := top["_namecall_export"]
	if !hasStatic && !hasLearned && !marked {
		return nil, errors.NewInvalidRequest("not a mapping document: expected staticNames or learnedNames")
	}

	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid mapping document: %v", err))
	}
	if doc.NamecallExport && doc.SchemaVersion != ExportSchemaVersion {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported schema_version %q", doc.SchemaVersion))
	}
	return &doc, nil
}

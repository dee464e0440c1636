package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcher_ReloadsExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character-mappings.json")
	file := NewJSONFile(path)
	s := New(file, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Load(ctx))

	w, err := NewWatcher(s, file, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounce = 30 * time.Millisecond
	go w.Run(ctx)

	edited := Snapshot{
		StaticNames:  map[string]string{},
		LearnedNames: map[string]Record{"ساكورا": {Name: "Sakura Haruno", Confidence: 1, Source: SourceManual}},
	}
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	require.Eventually(t, func() bool {
		_, ok := s.Lookup("ساكورا")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-w.done()
}

func TestWatcher_IgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character-mappings.json")
	file := NewJSONFile(path)
	s := New(file, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Load(ctx))

	w, err := NewWatcher(s, file, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounce = 30 * time.Millisecond
	go w.Run(ctx)

	s.Remember("ساسكي", Record{Name: "Sasuke"})
	require.NoError(t, s.Persist(ctx))

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, w.Reloads())
	require.False(t, file.ChangedOnDisk())

	cancel()
	<-w.done()
}

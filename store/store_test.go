package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitmirror/store"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields an empty document", func(t *testing.T) {
		s := store.New(filepath.Join(t.TempDir(), "mirror-config.json"))

		doc, err := s.Load()
		require.NoError(t, err)
		require.Empty(t, doc.Mirrors)
		require.Equal(t, "0 */6 * * *", doc.Defaults.Schedule)
		require.Equal(t, 600, doc.Defaults.TimeoutSeconds)
		require.Equal(t, 3, doc.Defaults.MaxConcurrent)
	})

	t.Run("corrupt file recovers as empty with a reported error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		s := store.New(path)
		doc, err := s.Load()

		var corrupt *store.CorruptError
		require.ErrorAs(t, err, &corrupt)
		require.NotNil(t, doc)
		require.Empty(t, doc.Mirrors)
	})

	t.Run("fills last_status for legacy records", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		raw := `{"version":"1.0","mirrors":{"repo-x":{"enabled":true,"schedule":"0 * * * *","timeout_seconds":600}}}`
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

		doc, err := store.New(path).Load()
		require.NoError(t, err)
		require.Equal(t, store.StatusNever, doc.Mirrors["repo-x"].LastStatus)
	})
}

func TestSave(t *testing.T) {
	t.Run("round-trips the document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		s := store.New(path)

		lastRun := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
		errText := "timeout after 600s"
		duration := int64(600)

		doc, err := s.Load()
		require.NoError(t, err)
		doc.Mirrors["repo-x"] = &store.Mirror{
			Enabled:             true,
			Schedule:            "0 */6 * * *",
			TimeoutSeconds:      600,
			LastRunAt:           &lastRun,
			LastStatus:          store.StatusTimeout,
			LastError:           &errText,
			LastDurationSeconds: &duration,
		}
		require.NoError(t, s.Save(doc))

		reloaded, err := s.Load()
		require.NoError(t, err)
		require.Equal(t, doc, reloaded)
	})

	t.Run("save of a freshly loaded document is a no-op", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		s := store.New(path)

		doc, err := s.Load()
		require.NoError(t, err)
		doc.Mirrors["repo-x"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 300, LastStatus: store.StatusNever}
		require.NoError(t, s.Save(doc))

		before, err := os.ReadFile(path)
		require.NoError(t, err)

		loaded, err := s.Load()
		require.NoError(t, err)
		require.NoError(t, s.Save(loaded))

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, string(before), string(after))
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		s := store.New(filepath.Join(dir, "mirror-config.json"))

		doc, err := s.Load()
		require.NoError(t, err)
		require.NoError(t, s.Save(doc))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "mirror-config.json", entries[0].Name())
	})

	t.Run("creates the parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "deeper", "mirror-config.json")
		s := store.New(path)

		doc, err := s.Load()
		require.NoError(t, err)
		require.NoError(t, s.Save(doc))
		_, err = os.Stat(path)
		require.NoError(t, err)
	})
}

func TestUpdate(t *testing.T) {
	t.Run("applies the mutation and persists it", func(t *testing.T) {
		s := store.New(filepath.Join(t.TempDir(), "mirror-config.json"))

		_, err := s.Update(func(doc *store.Document) error {
			doc.Mirrors["repo-x"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 600, LastStatus: store.StatusNever}
			return nil
		})
		require.NoError(t, err)

		doc, err := s.Load()
		require.NoError(t, err)
		require.True(t, doc.Mirrors["repo-x"].Enabled)
	})

	t.Run("re-reads the file before mutating", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		first := store.New(path)
		second := store.New(path)

		_, err := first.Update(func(doc *store.Document) error {
			doc.Mirrors["repo-a"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 600, LastStatus: store.StatusNever}
			return nil
		})
		require.NoError(t, err)

		// A separate invocation mutates a different mirror; both survive.
		_, err = second.Update(func(doc *store.Document) error {
			doc.Mirrors["repo-b"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 600, LastStatus: store.StatusNever}
			return nil
		})
		require.NoError(t, err)

		doc, err := first.Load()
		require.NoError(t, err)
		require.Contains(t, doc.Mirrors, "repo-a")
		require.Contains(t, doc.Mirrors, "repo-b")
	})

	t.Run("a failing mutation leaves the file untouched", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		s := store.New(path)
		_, err := s.Update(func(doc *store.Document) error {
			doc.Mirrors["repo-a"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 600, LastStatus: store.StatusNever}
			return nil
		})
		require.NoError(t, err)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		boom := os.ErrInvalid
		_, err = s.Update(func(doc *store.Document) error {
			doc.Mirrors["repo-b"] = &store.Mirror{Enabled: true}
			return boom
		})
		require.ErrorIs(t, err, boom)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, string(before), string(after))
	})

	t.Run("treats a corrupt document as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror-config.json")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		s := store.New(path)
		_, err := s.Update(func(doc *store.Document) error {
			require.Empty(t, doc.Mirrors)
			doc.Mirrors["repo-a"] = &store.Mirror{Enabled: true, Schedule: "0 * * * *", TimeoutSeconds: 600, LastStatus: store.StatusNever}
			return nil
		})
		require.NoError(t, err)

		doc, err := s.Load()
		require.NoError(t, err)
		require.Contains(t, doc.Mirrors, "repo-a")
	})
}

package clip

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title  string
		prefix string
		want   string
		ok     bool
	}{
		{title: "Play: Tasty Clip!", prefix: "Play:", want: "tasty-clip", ok: true},
		{title: "  play:   Big   Moment  ", prefix: "Play:", want: "big-moment", ok: true},
		{title: "PLAY: snake_case-ok", prefix: " Play: ", want: "snake_case-ok", ok: true},
		{title: "Play: Café Crème", prefix: "Play:", want: "caf-crme", ok: true},
		{title: "Play: Ééé", prefix: "Play:", ok: false},
		{title: "Play: ../../etc/passwd", prefix: "Play:", want: "etcpasswd", ok: true},
		{title: "Hydrate", prefix: "Play:", ok: false},
		{title: "Play:", prefix: "Play:", ok: false},
		{title: "Play: !!!", prefix: "Play:", ok: false},
		{title: "", prefix: "Play:", ok: false},
		{title: "Pl", prefix: "Play:", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			t.Parallel()

			got, ok := Slug(tt.title, tt.prefix)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFoldedSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title string
		want  string
		ok    bool
	}{
		{title: "Play: Café Crème", want: "cafe-creme", ok: true},
		{title: "Play: Ééé", want: "eee", ok: true},
		{title: "Play: Tasty Clip!", want: "tasty-clip", ok: true},
		{title: "Hydrate", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			t.Parallel()

			got, ok := FoldedSlug(tt.title, "Play:")
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	dir := filepath.FromSlash("/clips")

	newFS := func(t *testing.T, files ...string) afero.Fs {
		t.Helper()
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll(dir, 0o755))
		for _, f := range files {
			require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, f), []byte("clip"), 0o644))
		}
		return fs
	}

	t.Run("end to end title to file", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "tasty-clip.mp4"), dir, "Play:", []string{".mp4", ".mov"})

		path, ok := r.Resolve("Play: Tasty Clip!")
		require.True(t, ok)
		require.Equal(t, filepath.Join(dir, "tasty-clip.mp4"), path)
	})

	t.Run("extension order wins", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "clip.mov", "clip.webm"), dir, "Play:", []string{".mp4", ".webm", ".mov"})

		path, ok := r.Resolve("Play: clip")
		require.True(t, ok)
		require.Equal(t, filepath.Join(dir, "clip.webm"), path)
	})

	t.Run("plain slug before folded slug", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "caf-crme.mp4", "cafe-creme.mp4"), dir, "Play:", []string{".mp4"})

		path, ok := r.Resolve("Play: Café Crème")
		require.True(t, ok)
		require.Equal(t, filepath.Join(dir, "caf-crme.mp4"), path)
	})

	t.Run("falls back to folded slug", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "cafe-creme.webm"), dir, "Play:", []string{".mp4", ".webm"})

		path, ok := r.Resolve("Play: Café Crème")
		require.True(t, ok)
		require.Equal(t, filepath.Join(dir, "cafe-creme.webm"), path)
	})

	t.Run("concurrent resolves", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "cafe-creme-brulee.mp4"), dir, "Play:", []string{".mp4"})
		want := filepath.Join(dir, "cafe-creme-brulee.mp4")

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					path, ok := r.Resolve("Play: Café Crème Brûlée")
					assert.True(t, ok)
					assert.Equal(t, want, path)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("directories are not clips", func(t *testing.T) {
		t.Parallel()

		fs := newFS(t)
		require.NoError(t, fs.MkdirAll(filepath.Join(dir, "clip.mp4"), 0o755))

		r := NewResolver(zerolog.Nop(), fs, dir, "Play:", []string{".mp4"})

		_, ok := r.Resolve("Play: clip")
		require.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "other.mp4"), dir, "Play:", []string{".mp4"})

		_, ok := r.Resolve("Play: clip")
		require.False(t, ok)
	})

	t.Run("prefix mismatch", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(zerolog.Nop(), newFS(t, "clip.mp4"), dir, "Play:", []string{".mp4"})

		_, ok := r.Resolve("Hydrate: clip")
		require.False(t, ok)
	})

	t.Run("extension escaping dir is skipped", func(t *testing.T) {
		t.Parallel()

		fs := newFS(t)
		require.NoError(t, afero.WriteFile(fs, filepath.FromSlash("/secret.mp4"), []byte("x"), 0o644))

		r := NewResolver(zerolog.Nop(), fs, dir, "Play:", []string{"/../../secret.mp4"})

		_, ok := r.Resolve("Play: clip")
		require.False(t, ok)
	})
}

func TestResolver_EnsureDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r := NewResolver(zerolog.Nop(), fs, "/data/clips", "Play:", []string{".mp4"})

	require.NoError(t, r.EnsureDir())

	info, err := fs.Stat("/data/clips")
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

package clip

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Resolver maps reward titles like "Play: Tasty Clip" to media files inside a directory.
type Resolver struct {
	logger     zerolog.Logger
	fs         afero.Fs
	dir        string
	prefix     string
	extensions []string
}

func NewResolver(logger zerolog.Logger, fs afero.Fs, dir, prefix string, extensions []string) *Resolver {
	return &Resolver{
		logger:     logger.With().Str("component", "clip-resolver").Logger(),
		fs:         fs,
		dir:        filepath.Clean(dir),
		prefix:     prefix,
		extensions: extensions,
	}
}

func (r *Resolver) Dir() string {
	return r.dir
}

// EnsureDir creates the clips directory if it does not exist yet.
func (r *Resolver) EnsureDir() error {
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create clips dir %s: %w", r.dir, err)
	}

	return nil
}

// Resolve returns the first existing regular file <dir>/<slug><ext>, probing
// extensions in configured order. The plain slug is probed before the
// diacritic folded one.
func (r *Resolver) Resolve(rewardTitle string) (string, bool) {
	slugs := slugCandidates(rewardTitle, r.prefix)
	if len(slugs) == 0 {
		r.logger.Debug().Str("title", rewardTitle).Str("prefix", r.prefix).Msg("title does not name a clip")
		return "", false
	}

	for _, slug := range slugs {
		for _, ext := range r.extensions {
			candidate := filepath.Join(r.dir, slug+ext)
			if !isWithinDir(r.dir, candidate) {
				continue
			}

			info, err := r.fs.Stat(candidate)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}

			r.logger.Debug().Str("path", candidate).Str("size", humanize.Bytes(uint64(info.Size()))).Msg("resolved clip")
			return candidate, true
		}
	}

	r.logger.Debug().
		Str("expected", fmt.Sprintf("%s/{%s}.{%s}", r.dir, strings.Join(slugs, ","), strings.Join(r.extensions, ","))).
		Msg("no clip file found")

	return "", false
}

func isWithinDir(dir, candidate string) bool {
	rel, err := filepath.Rel(dir, candidate)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}

// Slug reduces a reward title starting with prefix (compared case-insensitively)
// to a file name safe token: lowercase, whitespace runs replaced by "-" and
// everything outside [a-z0-9-_] dropped, non-ASCII letters included.
func Slug(title, prefix string) (string, bool) {
	remainder, ok := stripPrefix(title, prefix)
	if !ok {
		return "", false
	}

	return sanitize(remainder)
}

// FoldedSlug works like Slug but folds diacritics to their base letter first,
// so "Café" becomes "cafe" instead of "caf".
func FoldedSlug(title, prefix string) (string, bool) {
	remainder, ok := stripPrefix(title, prefix)
	if !ok {
		return "", false
	}

	// a transform.Transformer keeps state, every call needs its own chain
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(stripMarks, remainder)
	if err != nil {
		folded = remainder
	}

	return sanitize(folded)
}

func slugCandidates(title, prefix string) []string {
	var slugs []string

	if slug, ok := Slug(title, prefix); ok {
		slugs = append(slugs, slug)
	}

	if folded, ok := FoldedSlug(title, prefix); ok && !slices.Contains(slugs, folded) {
		slugs = append(slugs, folded)
	}

	return slugs
}

func stripPrefix(title, prefix string) (string, bool) {
	title = strings.TrimSpace(title)
	prefix = strings.TrimSpace(prefix)

	if title == "" || len(title) < len(prefix) || !strings.EqualFold(title[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(title[len(prefix):]), true
}

func sanitize(s string) (string, bool) {
	s = strings.Join(strings.Fields(strings.ToLower(s)), "-")

	var b strings.Builder
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			b.WriteRune(c)
		}
	}

	if b.Len() == 0 {
		return "", false
	}

	return b.String(), true
}

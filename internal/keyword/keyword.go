// Package keyword loads the watched keyword list and matches it against
// disclosure text.
package keyword

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Source yields the current keyword list.
type Source interface {
	Load(ctx context.Context) ([]string, error)
}

// FileSource reads keywords from a UTF-8 text file, one keyword per line.
type FileSource struct {
	path string
}

// NewFileSource builds a Source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the file. A missing file yields an empty list.
func (s *FileSource) Load(_ context.Context) ([]string, error) {
	return Load(s.path)
}

// Load reads keywords from path. A missing file yields an empty list.
func Load(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open keywords file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	return Parse(f)
}

// Parse reads one keyword per line, trimming whitespace and dropping blank
// lines and repeats. Order of first appearance is preserved.
func Parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	seen := make(map[string]struct{})
	var keywords []string
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		keywords = append(keywords, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	return keywords, nil
}

// Matcher finds which keywords occur in a disclosure. Matching is
// case-sensitive substring search.
type Matcher struct {
	keywords []string
	ac       *ahocorasick.Matcher
}

// NewMatcher compiles keywords. Blank entries and repeats are ignored.
func NewMatcher(keywords []string) *Matcher {
	seen := make(map[string]struct{}, len(keywords))
	kept := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		kept = append(kept, kw)
	}
	m := &Matcher{keywords: kept}
	if len(kept) > 0 {
		m.ac = ahocorasick.NewStringMatcher(kept)
	}
	return m
}

// Len reports how many keywords the matcher holds.
func (m *Matcher) Len() int {
	return len(m.keywords)
}

// Keywords returns a copy of the compiled keyword list.
func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

// Match returns every keyword found in subject or content, in list order.
// The two fields are searched as one text joined by a newline so a match
// never spans the boundary.
func (m *Matcher) Match(subject, content string) []string {
	if m == nil || m.ac == nil {
		return nil
	}
	hits := m.ac.MatchThreadSafe([]byte(subject + "\n" + content))
	if len(hits) == 0 {
		return nil
	}
	found := make(map[int]struct{}, len(hits))
	for _, idx := range hits {
		found[idx] = struct{}{}
	}
	matched := make([]string, 0, len(found))
	for idx, kw := range m.keywords {
		if _, ok := found[idx]; ok {
			matched = append(matched, kw)
		}
	}
	return matched
}

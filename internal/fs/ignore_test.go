package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.draft.md"})
		if len(m.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(m.patterns))
		}
		if m.patterns[0].pattern != "*.draft.md" {
			t.Errorf("expected *.draft.md, got %s", m.patterns[0].pattern)
		}
	})

	t.Run("classifies path vs segment patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"drafts/", "blog/archive"})
		if m.patterns[0].matchPath {
			t.Error("drafts/ should be a segment pattern")
		}
		if m.patterns[0].pattern != "drafts" {
			t.Errorf("trailing slash not trimmed: %q", m.patterns[0].pattern)
		}
		if !m.patterns[1].matchPath {
			t.Error("blog/archive should be a path pattern")
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{"segment glob matches file in root", []string{"*.tmp"}, "notes.tmp", true},
		{"segment glob matches file in subdirectory", []string{"*.tmp"}, filepath.Join("blog", "notes.tmp"), true},
		{"segment glob does not match other extension", []string{"*.tmp"}, "post.md", false},
		{"ignore file itself", []string{IgnoreFileName}, IgnoreFileName, true},
		{"segment pattern hides directory contents", []string{"drafts"}, filepath.Join("blog", "drafts", "idea.md"), true},
		{"segment pattern needs whole segment", []string{"drafts"}, filepath.Join("blog", "drafts-old.md"), false},
		{"path pattern matches exact relative path", []string{"blog/archive"}, filepath.Join("blog", "archive"), true},
		{"path pattern matches below directory", []string{"blog/archive"}, filepath.Join("blog", "archive", "2019.md"), true},
		{"path pattern does not match elsewhere", []string{"blog/archive"}, filepath.Join("docs", "archive"), false},
		{"path pattern with glob", []string{"blog/*.bak"}, filepath.Join("blog", "post.bak"), true},
		{"question mark wildcard", []string{"?.md"}, "a.md", true},
		{"question mark does not match multiple chars", []string{"?.md"}, "ab.md", false},
		{"malformed pattern is skipped", []string{"[", "*.tmp"}, "x.tmp", true},
		{"no patterns matches nothing", nil, "anything.md", false},
		{"empty path", []string{"*"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			got := m.Match(tt.relativePath)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads patterns from file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, IgnoreFileName)
		content := "*.tmp\n# comment\n\ndrafts/\nblog/archive\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}

		m := NewIgnoreMatcher(patterns)
		if len(m.patterns) != 3 {
			t.Errorf("expected 3 parsed patterns, got %d", len(m.patterns))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}

package cms_test

import (
	"testing"

	"cms-go/internal/cms"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{".", ""},
		{"/content/blog/", "content/blog"},
		{`content\blog\post.md`, "content/blog/post.md"},
		{"content//blog/./post.md", "content/blog/post.md"},
		{"  content/a/../b  ", "content/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cms.NormalizePath(tt.in); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripRootAndPrefix(t *testing.T) {
	tests := []struct {
		p, root   string
		stripped  string
		hasPrefix bool
	}{
		{"blog/a.md", "blog", "a.md", true},
		{"blog-root/a.md", "blog", "blog-root/a.md", false},
		{"blog", "blog", "", true},
		{"a.md", "", "a.md", true},
		{"/blog/x/y.md", "blog/", "x/y.md", true},
	}
	for _, tt := range tests {
		t.Run(tt.p+"|"+tt.root, func(t *testing.T) {
			if got := cms.StripRoot(tt.p, tt.root); got != tt.stripped {
				t.Errorf("StripRoot() = %q, want %q", got, tt.stripped)
			}
			if got := cms.HasPathPrefix(tt.p, tt.root); got != tt.hasPrefix {
				t.Errorf("HasPathPrefix() = %v, want %v", got, tt.hasPrefix)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Getting Started", "getting-started"},
		{"Héllo Wörld!", "hello-world"},
		{"  --Go 1.25 Release--  ", "go-1-25-release"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cms.Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	for s, want := range map[string]bool{"getting-started": true, "Getting": false, "a/b": false, "": false} {
		if got := cms.ValidSlug(s); got != want {
			t.Errorf("ValidSlug(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestLocaleRules(t *testing.T) {
	structural := cms.LocaleRules{Enabled: true, Default: "en"}
	allowList := cms.LocaleRules{Enabled: true, Default: "en", Supported: []string{"en", "fr", "pt-BR"}}
	disabled := cms.LocaleRules{Default: "en"}

	tests := []struct {
		name   string
		rules  cms.LocaleRules
		path   string
		locale string
		url    string
		locKey string
	}{
		{"structural match", structural, "content/fr/guides/intro.md", "fr", "guides/intro", "guides/intro"},
		{"structural region", structural, "content/pt-br/intro.md", "pt-BR", "intro", "intro"},
		{"structural non-locale", structural, "content/guides/intro.md", "en", "guides/intro", "guides/intro"},
		{"allow-list match", allowList, "content/fr/intro.md", "fr", "intro", "intro"},
		{"allow-list rejects look-alike", allowList, "content/de/intro.md", "en", "de/intro", "de/intro"},
		{"allow-list is case-insensitive", allowList, "content/PT-br/intro.md", "pt-BR", "intro", "intro"},
		{"disabled keeps segment", disabled, "content/fr/intro.md", "en", "fr/intro", "fr/intro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rules.ExtractLocale(tt.path, "content"); got != tt.locale {
				t.Errorf("ExtractLocale() = %q, want %q", got, tt.locale)
			}
			if got := tt.rules.ContentURL(tt.path, "content", "intro"); got != tt.url {
				t.Errorf("ContentURL() = %q, want %q", got, tt.url)
			}
			if got := tt.rules.LocalizationKey(tt.path, "content"); got != tt.locKey {
				t.Errorf("LocalizationKey() = %q, want %q", got, tt.locKey)
			}
		})
	}
}

func TestCanonicalLocale(t *testing.T) {
	for in, want := range map[string]string{"EN": "en", "pt-br": "pt-BR", "Zh-hant": "zh-HANT"} {
		if got := cms.CanonicalLocale(in); got != want {
			t.Errorf("CanonicalLocale(%q) = %q, want %q", in, got, want)
		}
	}
}

package cms

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var localePattern = regexp.MustCompile(`(?i)^[a-z]{2}(-[a-z]{2})?$`)

// NormalizePath converts p to forward slashes with no leading or trailing slash.
// The repository root normalizes to "".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// JoinPath joins repository-relative segments and normalizes the result.
func JoinPath(elem ...string) string {
	return NormalizePath(path.Join(elem...))
}

// StripRoot removes root from the front of p only when it matches whole path
// segments: "blog" strips "blog/a.md" but not "blog-root/a.md".
func StripRoot(p, root string) string {
	p = NormalizePath(p)
	root = NormalizePath(root)
	if root == "" {
		return p
	}
	if p == root {
		return ""
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root)+1:]
	}
	return p
}

// HasPathPrefix reports whether p lies under prefix on a segment boundary.
func HasPathPrefix(p, prefix string) bool {
	p = NormalizePath(p)
	prefix = NormalizePath(prefix)
	return prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/")
}

// LocaleRules decides which path segments name a locale.
type LocaleRules struct {
	Enabled   bool
	Default   string
	Supported []string
}

func (o ProviderOptions) localeRules() LocaleRules {
	return LocaleRules{Enabled: o.EnableLocalization, Default: o.DefaultLocale, Supported: o.SupportedLocales}
}

// Match returns the canonical locale for segment. A configured allow-list is
// authoritative; the structural rule applies only when none is configured.
func (r LocaleRules) Match(segment string) (string, bool) {
	if segment == "" {
		return "", false
	}
	if len(r.Supported) > 0 {
		for _, l := range r.Supported {
			if strings.EqualFold(l, segment) {
				return l, true
			}
		}
		return "", false
	}
	if !localePattern.MatchString(segment) {
		return "", false
	}
	return CanonicalLocale(segment), true
}

// CanonicalLocale formats a locale as "xx" or "xx-YY".
func CanonicalLocale(l string) string {
	lang, region, ok := strings.Cut(l, "-")
	if !ok {
		return strings.ToLower(l)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}

// ExtractLocale returns the locale named by the first segment of p below root,
// or the default locale when localization is disabled or nothing matches.
func (r LocaleRules) ExtractLocale(p, root string) string {
	if r.Enabled {
		rel := StripRoot(p, root)
		first, _, _ := strings.Cut(rel, "/")
		if l, ok := r.Match(first); ok {
			return l
		}
	}
	return r.Default
}

// stripLocale drops a leading locale segment from rel.
func (r LocaleRules) stripLocale(rel string) string {
	if !r.Enabled {
		return rel
	}
	first, rest, _ := strings.Cut(rel, "/")
	if _, ok := r.Match(first); ok {
		return rest
	}
	return rel
}

// ContentURL derives the canonical URL for the item at p: content root,
// filename and (when localized) the locale segment are removed, then slug is appended.
func (r LocaleRules) ContentURL(p, root, slug string) string {
	rel := StripRoot(p, root)
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	dir = r.stripLocale(dir)
	if dir == "" {
		return slug
	}
	return dir + "/" + slug
}

// LocalizationKey is p with its content root, locale segment and extension removed.
// Translations of the same document share the same key.
func (r LocaleRules) LocalizationKey(p, root string) string {
	rel := r.stripLocale(StripRoot(p, root))
	return strings.TrimSuffix(rel, path.Ext(rel))
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugValid   = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// Slugify folds diacritics, lowercases s and collapses every run of other
// characters into one hyphen.
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = folded
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidSlug reports whether s is a usable URL segment.
func ValidSlug(s string) bool {
	return slugValid.MatchString(s)
}

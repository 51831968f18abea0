package cms

import (
	"bufio"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const frontMatterDelimiter = "---"

// SplitFrontMatter separates a leading front-matter block from the body.
// An optional BOM and leading whitespace are tolerated before the opening
// delimiter. Without a closing delimiter the whole text is body.
func SplitFrontMatter(text string) (block, body string, found bool) {
	text = strings.TrimPrefix(text, "\ufeff")
	trimmed := strings.TrimLeft(text, " \t\r\n")

	first, rest, ok := strings.Cut(trimmed, "\n")
	if !ok || strings.TrimRight(first, " \t\r") != frontMatterDelimiter {
		return "", text, false
	}

	offset := 0
	for offset <= len(rest) {
		line, _, hasMore := strings.Cut(rest[offset:], "\n")
		if strings.TrimRight(line, " \t\r") == frontMatterDelimiter {
			block = rest[:offset]
			body = ""
			if hasMore {
				body = rest[offset+len(line)+1:]
			}
			return strings.TrimRight(block, "\r\n"), body, true
		}
		if !hasMore {
			break
		}
		offset += len(line) + 1
	}
	return "", text, false
}

// FrontMatter is the typed form of a front-matter map.
type FrontMatter struct {
	Title         string
	Author        string
	Description   string
	Slug          string
	FeaturedImage string
	Locale        string
	ContentID     string
	Status        string
	Date          *time.Time
	Featured      *bool
	Order         *int
	Tags          []string
	Categories    []string
	SEO           SEO
	Metadata      map[string]MetadataValue
}

// ParseFrontMatter converts raw front-matter fields into a FrontMatter.
// Keys match case-insensitively; unknown keys become typed metadata.
func ParseFrontMatter(fields map[string]string) FrontMatter {
	var fm FrontMatter
	keys := slices.Sorted(maps.Keys(fields))
	for _, rawKey := range keys {
		value := strings.TrimSpace(fields[rawKey])
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(rawKey)), "-", "_")
		switch key {
		case "title":
			fm.Title = value
		case "author":
			fm.Author = value
		case "description", "summary":
			fm.Description = value
		case "slug":
			fm.Slug = value
		case "date":
			if t, ok := ParseDate(value); ok {
				fm.Date = &t
			}
		case "tags":
			fm.Tags = ParseList(value)
		case "categories", "category":
			fm.Categories = mergeLists(fm.Categories, ParseList(value))
		case "featured", "is_featured":
			if b, err := strconv.ParseBool(value); err == nil {
				fm.Featured = &b
			}
		case "featured_image", "feature_image", "image":
			if fm.FeaturedImage == "" {
				fm.FeaturedImage = value
			}
		case "locale", "language":
			fm.Locale = value
		case "content_id", "localization_id":
			fm.ContentID = value
		case "status":
			fm.Status = strings.ToLower(value)
		case "order", "weight":
			if n, err := strconv.Atoi(value); err == nil {
				fm.Order = &n
			}
		default:
			if strings.HasPrefix(key, "seo_") && fm.SEO.set(strings.TrimPrefix(key, "seo_"), value) {
				continue
			}
			if fm.Metadata == nil {
				fm.Metadata = make(map[string]MetadataValue)
			}
			fm.Metadata[rawKey] = InferMetadataValue(value)
		}
	}
	return fm
}

func (s *SEO) set(key, value string) bool {
	switch key {
	case "title", "meta_title":
		s.MetaTitle = value
	case "description", "meta_description":
		s.MetaDescription = value
	case "keywords":
		s.Keywords = value
	case "og_title":
		s.OGTitle = value
	case "og_description":
		s.OGDescription = value
	case "og_image":
		s.OGImage = value
	case "og_type":
		s.OGType = value
	case "twitter_card":
		s.TwitterCard = value
	case "twitter_title":
		s.TwitterTitle = value
	case "twitter_description":
		s.TwitterDescription = value
	case "twitter_image":
		s.TwitterImage = value
	case "canonical", "canonical_url":
		s.CanonicalURL = value
	case "robots":
		s.Robots = value
	case "json_ld", "jsonld", "structured_data":
		s.JSONLD = value
	default:
		return false
	}
	return true
}

// ParseList accepts "[a, b]" or a bare comma/semicolon-separated list.
// Quoted tokens may contain separators. Tokens are trimmed and unquoted;
// empty tokens and case-insensitive duplicates are dropped.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		raw = raw[1 : len(raw)-1]
	}
	var out []string
	for _, tok := range splitList(raw) {
		tok = unquote(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		out = mergeLists(out, []string{tok})
	}
	return out
}

// splitList cuts raw at commas and semicolons outside quotes. A quote opens
// only at the start of a token, so apostrophes inside words are literal.
func splitList(raw string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		quote   rune
		escaped bool
	)
	for _, r := range raw {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\' && quote == '"':
				escaped = true
			case r == quote:
				quote = 0
			}
		case (r == '"' || r == '\'') && strings.TrimSpace(cur.String()) == "":
			quote = r
			cur.WriteRune(r)
		case r == ',' || r == ';':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(tokens, cur.String())
}

func unquote(s string) string {
	if len(s) >= 2 {
		if s[0] == '"' && s[len(s)-1] == '"' {
			if u, err := strconv.Unquote(s); err == nil {
				return strings.TrimSpace(u)
			}
			return strings.TrimSpace(s[1 : len(s)-1])
		}
		if s[0] == '\'' && s[len(s)-1] == '\'' {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func mergeLists(dst, src []string) []string {
	for _, v := range src {
		if !slices.ContainsFunc(dst, func(e string) bool { return strings.EqualFold(e, v) }) {
			dst = append(dst, v)
		}
	}
	return dst
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate parses the date formats commonly found in front matter. Values
// without a zone are taken as UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = unquote(strings.TrimSpace(raw))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// TitleFromFilename turns "getting-started.md" into "Getting Started".
func TitleFromFilename(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return cases.Title(language.English).String(strings.TrimSpace(base))
}

// RenderDocument serializes item back to Markdown with a front-matter header.
// Parsing the output yields the same title, tags, categories and body.
// Date, slug, locale and content id are derived on read, so for parsed items
// they are written only when the source front matter carried them.
func RenderDocument(item *ContentItem) string {
	var b strings.Builder
	w := bufio.NewWriter(&b)
	line := func(key, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s: %s\n", key, strconv.Quote(value))
		}
	}
	list := func(key string, values []string) {
		if len(values) == 0 {
			return
		}
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = strconv.Quote(v)
		}
		fmt.Fprintf(w, "%s: [%s]\n", key, strings.Join(quoted, ", "))
	}

	w.WriteString(frontMatterDelimiter + "\n")
	derived := func(set bool) bool { return !item.explicit.known || set }

	line("title", item.Title)
	line("author", item.Author)
	if derived(item.explicit.date) && !item.DateCreated.IsZero() {
		fmt.Fprintf(w, "date: %s\n", item.DateCreated.UTC().Format(time.RFC3339))
	}
	line("description", item.Description)
	if derived(item.explicit.slug) {
		line("slug", item.Slug)
	}
	if derived(item.explicit.locale) {
		line("locale", item.Locale)
	}
	if derived(item.explicit.contentID) {
		line("content_id", item.ContentID)
	}
	if item.Status != "" && item.Status != StatusPublished {
		line("status", item.Status)
	}
	if item.IsFeatured {
		w.WriteString("featured: true\n")
	}
	line("featured_image", item.FeaturedImageURL)
	if item.Order != 0 {
		fmt.Fprintf(w, "order: %d\n", item.Order)
	}
	list("categories", item.Categories)
	list("tags", item.Tags)

	s := item.SEO
	line("seo_title", s.MetaTitle)
	line("seo_description", s.MetaDescription)
	line("seo_keywords", s.Keywords)
	line("seo_og_title", s.OGTitle)
	line("seo_og_description", s.OGDescription)
	line("seo_og_image", s.OGImage)
	line("seo_og_type", s.OGType)
	line("seo_twitter_card", s.TwitterCard)
	line("seo_twitter_title", s.TwitterTitle)
	line("seo_twitter_description", s.TwitterDescription)
	line("seo_twitter_image", s.TwitterImage)
	line("seo_canonical", s.CanonicalURL)
	line("seo_robots", s.Robots)
	line("seo_json_ld", s.JSONLD)

	for _, k := range slices.Sorted(maps.Keys(item.Metadata)) {
		v := item.Metadata[k]
		if v.Kind == MetaString {
			fmt.Fprintf(w, "%s: %s\n", k, strconv.Quote(v.Str))
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", k, v.String())
	}
	w.WriteString(frontMatterDelimiter + "\n")
	w.WriteString(item.OriginalMarkdown)
	w.Flush()
	return b.String()
}

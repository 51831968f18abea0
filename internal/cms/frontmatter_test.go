package cms_test

import (
	"maps"
	"slices"
	"testing"
	"time"

	"cms-go/internal/cms"
	"cms-go/internal/markdown"
)

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantBlock string
		wantBody  string
		wantFound bool
	}{
		{"plain", "---\ntitle: A\n---\nbody\n", "title: A", "body\n", true},
		{"bom and blank lines", "\ufeff\n\n---\ntitle: A\n---\nbody", "title: A", "body", true},
		{"crlf", "---\r\ntitle: A\r\n---\r\nbody", "title: A", "body", true},
		{"empty block", "---\n---\nbody", "", "body", true},
		{"closing at eof", "---\ntitle: A\n---", "title: A", "", true},
		{"unclosed", "---\ntitle: A\nbody", "", "---\ntitle: A\nbody", false},
		{"no front matter", "# Heading\n", "", "# Heading\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, body, found := cms.SplitFrontMatter(tt.text)
			if block != tt.wantBlock || body != tt.wantBody || found != tt.wantFound {
				t.Errorf("SplitFrontMatter() = (%q, %q, %v), want (%q, %q, %v)",
					block, body, found, tt.wantBlock, tt.wantBody, tt.wantFound)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"[go, testing]", []string{"go", "testing"}},
		{`["Go", 'go', "rust"]`, []string{"Go", "rust"}},
		{"a; b, ,c", []string{"a", "b", "c"}},
		{`["go, rust", web]`, []string{"go, rust", "web"}},
		{`['a;b', "say \"hi\", ok"]`, []string{"a;b", `say "hi", ok`}},
		{"it's, fine", []string{"it's", "fine"}},
		{"", nil},
		{"[]", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cms.ParseList(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("ParseList(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-03-05", want, true},
		{"2024/03/05", want, true},
		{`"March 5, 2024"`, want, true},
		{"Mar 5, 2024", want, true},
		{"2024-03-05T09:30:00+02:00", time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC), true},
		{"2024-03-05 09:30", time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := cms.ParseDate(tt.in)
			if ok != tt.ok || !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestInferMetadataValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.5", 3.5},
		{"1e3", 1000.0},
		{"Inf", "Inf"},
		{"hello world", "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cms.InferMetadataValue(tt.in).Value(); got != tt.want {
				t.Errorf("InferMetadataValue(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFrontMatter(t *testing.T) {
	fm := cms.ParseFrontMatter(map[string]string{
		"Title":           " Hello ",
		"category":        "[news]",
		"categories":      "[News, releases]",
		"is-featured":     "true",
		"weight":          "3",
		"seo_description": "Short",
		"status":          "Draft",
		"reviewers":       "2",
	})

	if fm.Title != "Hello" {
		t.Errorf("Title = %q, want Hello", fm.Title)
	}
	if !slices.Equal(fm.Categories, []string{"News", "releases"}) {
		t.Errorf("Categories = %q, want [News releases]", fm.Categories)
	}
	if fm.Featured == nil || !*fm.Featured {
		t.Error("Featured not set from is-featured")
	}
	if fm.Order == nil || *fm.Order != 3 {
		t.Errorf("Order = %v, want 3", fm.Order)
	}
	if fm.SEO.MetaDescription != "Short" || fm.Status != "draft" {
		t.Errorf("SEO/status = %q/%q", fm.SEO.MetaDescription, fm.Status)
	}
	if got := fm.Metadata["reviewers"]; got.Kind != cms.MetaInt || got.Int != 2 {
		t.Errorf("Metadata[reviewers] = %+v, want int 2", got)
	}
}

func TestTitleFromFilename(t *testing.T) {
	for in, want := range map[string]string{
		"getting-started.md":       "Getting Started",
		"content/api_reference.md": "Api Reference",
		"faq":                      "Faq",
	} {
		if got := cms.TitleFromFilename(in); got != want {
			t.Errorf("TitleFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDocument_ListWithSeparators(t *testing.T) {
	fm, _, err := cms.ParseDocument(markdown.New(), "---\ntags: [\"go, rust\", web]\ncategories:\n  - \"news; tech\"\n---\nBody\n")
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if want := []string{"go, rust", "web"}; !slices.Equal(fm.Tags, want) {
		t.Errorf("Tags = %q, want %q", fm.Tags, want)
	}
	if want := []string{"news; tech"}; !slices.Equal(fm.Categories, want) {
		t.Errorf("Categories = %q, want %q", fm.Categories, want)
	}
}

func TestRenderDocument_RoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	item := &cms.ContentItem{
		Title:            `Quotes "and" colons: ok`,
		Author:           "Jane",
		Description:      "An intro",
		Slug:             "intro",
		Status:           cms.StatusDraft,
		IsFeatured:       true,
		Order:            2,
		DateCreated:      created,
		Categories:       []string{"guides"},
		Tags:             []string{"go, rust", "setup"},
		SEO:              cms.SEO{MetaTitle: "Intro | Docs"},
		Metadata:         map[string]cms.MetadataValue{"views": {Kind: cms.MetaInt, Int: 42}, "team": cms.StringValue("docs")},
		OriginalMarkdown: "# Intro\n\nBody text.\n",
	}

	fm, body, err := cms.ParseDocument(markdown.New(), cms.RenderDocument(item))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if fm.Title != item.Title || fm.Author != item.Author || fm.Description != item.Description || fm.Slug != item.Slug {
		t.Errorf("scalar fields = %+v", fm)
	}
	if !slices.Equal(fm.Tags, item.Tags) || !slices.Equal(fm.Categories, item.Categories) {
		t.Errorf("lists = %q / %q", fm.Tags, fm.Categories)
	}
	if fm.Date == nil || !fm.Date.Equal(created) {
		t.Errorf("Date = %v, want %v", fm.Date, created)
	}
	if fm.Status != cms.StatusDraft || fm.Featured == nil || !*fm.Featured || fm.Order == nil || *fm.Order != 2 {
		t.Errorf("status/featured/order = %q %v %v", fm.Status, fm.Featured, fm.Order)
	}
	if fm.SEO.MetaTitle != item.SEO.MetaTitle {
		t.Errorf("SEO.MetaTitle = %q", fm.SEO.MetaTitle)
	}
	if !maps.Equal(fm.Metadata, item.Metadata) {
		t.Errorf("Metadata = %+v, want %+v", fm.Metadata, item.Metadata)
	}
	if body != item.OriginalMarkdown {
		t.Errorf("body = %q, want %q", body, item.OriginalMarkdown)
	}
}

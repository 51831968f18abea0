package cms

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Item statuses recognized in front matter.
const (
	StatusPublished = "published"
	StatusDraft     = "draft"
)

// ContentItem is one parsed content unit.
//
// Items belong to exactly one cache generation. Once a generation is published
// its items are never mutated; writers work on a Clone.
type ContentItem struct {
	ID                 string `json:"id"`
	Path               string `json:"path"`
	ProviderID         string `json:"providerId"`
	ProviderSpecificID string `json:"providerSpecificId"`

	Title            string `json:"title"`
	Author           string `json:"author,omitempty"`
	Description      string `json:"description,omitempty"`
	Content          string `json:"content"`
	OriginalMarkdown string `json:"originalMarkdown"`
	Slug             string `json:"slug"`
	URL              string `json:"url"`

	Categories       []string `json:"categories"`
	Tags             []string `json:"tags"`
	IsFeatured       bool     `json:"isFeatured"`
	FeaturedImageURL string   `json:"featuredImageUrl,omitempty"`
	Status           string   `json:"status"`
	Order            int      `json:"order"`
	ReadTimeMinutes  int      `json:"readTimeMinutes"`

	DateCreated  time.Time  `json:"dateCreated"`
	LastModified *time.Time `json:"lastModified,omitempty"`

	Locale    string `json:"locale"`
	ContentID string `json:"contentId"`

	DirectoryID string `json:"directoryId,omitempty"`

	Metadata map[string]MetadataValue `json:"metadata,omitempty"`
	SEO      SEO                      `json:"seo"`

	directory *DirectoryItem
	explicit  explicitFields
}

// explicitFields records which derived fields the source front matter set.
// Items built by hand leave it unknown and render every field.
type explicitFields struct {
	known     bool
	date      bool
	slug      bool
	locale    bool
	contentID bool
}

// Directory returns the owning directory, or nil for items outside the tree.
func (c *ContentItem) Directory() *DirectoryItem { return c.directory }

// LocalizationID is the id shared by all locale variants of this item.
func (c *ContentItem) LocalizationID() string { return c.ContentID }

// ModifiedOrCreated returns LastModified when known, else DateCreated.
func (c *ContentItem) ModifiedOrCreated() time.Time {
	if c.LastModified != nil {
		return *c.LastModified
	}
	return c.DateCreated
}

// Clone returns a deep copy detached from its generation.
func (c *ContentItem) Clone() *ContentItem {
	out := *c
	out.Categories = slices.Clone(c.Categories)
	out.Tags = slices.Clone(c.Tags)
	out.Metadata = maps.Clone(c.Metadata)
	if c.LastModified != nil {
		t := *c.LastModified
		out.LastModified = &t
	}
	out.directory = nil
	return &out
}

// SEO holds explicit search/social overrides from front matter.
// Empty fields fall back along the chain applied by ContentItem.ResolvedSEO.
type SEO struct {
	MetaTitle          string `json:"metaTitle,omitempty"`
	MetaDescription    string `json:"metaDescription,omitempty"`
	Keywords           string `json:"keywords,omitempty"`
	OGTitle            string `json:"ogTitle,omitempty"`
	OGDescription      string `json:"ogDescription,omitempty"`
	OGImage            string `json:"ogImage,omitempty"`
	OGType             string `json:"ogType,omitempty"`
	TwitterCard        string `json:"twitterCard,omitempty"`
	TwitterTitle       string `json:"twitterTitle,omitempty"`
	TwitterDescription string `json:"twitterDescription,omitempty"`
	TwitterImage       string `json:"twitterImage,omitempty"`
	CanonicalURL       string `json:"canonicalUrl,omitempty"`
	Robots             string `json:"robots,omitempty"`
	JSONLD             string `json:"jsonLd,omitempty"`
}

// ResolvedSEO returns the SEO block with every empty field filled from its
// fallback chain: the item's own fields, then values derived from the item
// (OG title -> meta title -> item title, twitter -> OG), then the nearest
// directory that sets the field, then fixed defaults. Directories only
// supply fields that can be shared between items: keywords, images, types,
// the twitter card and robots.
func (c *ContentItem) ResolvedSEO() SEO {
	s := c.SEO
	dir := c.inheritedSEO()

	s.MetaTitle = firstNonEmpty(s.MetaTitle, c.Title)
	s.MetaDescription = firstNonEmpty(s.MetaDescription, c.Description)
	if s.Keywords == "" && len(c.Tags) > 0 {
		s.Keywords = strings.Join(c.Tags, ", ")
	}
	s.Keywords = firstNonEmpty(s.Keywords, dir.Keywords)
	s.OGTitle = firstNonEmpty(s.OGTitle, s.MetaTitle)
	s.OGDescription = firstNonEmpty(s.OGDescription, s.MetaDescription)
	s.OGImage = firstNonEmpty(s.OGImage, c.FeaturedImageURL, dir.OGImage)
	s.OGType = firstNonEmpty(s.OGType, dir.OGType, "article")
	s.TwitterTitle = firstNonEmpty(s.TwitterTitle, s.OGTitle)
	s.TwitterDescription = firstNonEmpty(s.TwitterDescription, s.OGDescription)
	s.TwitterImage = firstNonEmpty(s.TwitterImage, dir.TwitterImage, s.OGImage)
	s.TwitterCard = firstNonEmpty(s.TwitterCard, dir.TwitterCard)
	if s.TwitterCard == "" {
		s.TwitterCard = "summary"
		if s.TwitterImage != "" {
			s.TwitterCard = "summary_large_image"
		}
	}
	s.CanonicalURL = firstNonEmpty(s.CanonicalURL, c.URL)
	s.Robots = firstNonEmpty(s.Robots, dir.Robots, "index, follow")
	return s
}

// inheritedSEO merges the SEO blocks of the owning directory and its
// ancestors, nearest first.
func (c *ContentItem) inheritedSEO() SEO {
	var s SEO
	seen := make(map[*DirectoryItem]bool)
	for d := c.directory; d != nil && !seen[d]; d = d.parent {
		seen[d] = true
		s.Keywords = firstNonEmpty(s.Keywords, d.SEO.Keywords)
		s.OGImage = firstNonEmpty(s.OGImage, d.SEO.OGImage)
		s.OGType = firstNonEmpty(s.OGType, d.SEO.OGType)
		s.TwitterCard = firstNonEmpty(s.TwitterCard, d.SEO.TwitterCard)
		s.TwitterImage = firstNonEmpty(s.TwitterImage, d.SEO.TwitterImage)
		s.Robots = firstNonEmpty(s.Robots, d.SEO.Robots)
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

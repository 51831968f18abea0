package cms

import (
	"context"
	"fmt"
	"path"
	"strings"
)

const wordsPerMinute = 200

// Assembler turns one repository file into a ContentItem.
type Assembler struct {
	opts     ProviderOptions
	rules    LocaleRules
	remote   RemoteTree
	markdown Markdown
	clock    Clock
	logger   Logger
}

// NewAssembler creates an Assembler for the provider described by opts.
func NewAssembler(opts ProviderOptions, remote RemoteTree, markdown Markdown, clock Clock, logger Logger) *Assembler {
	opts = opts.withDefaults()
	return &Assembler{
		opts:     opts,
		rules:    opts.localeRules(),
		remote:   remote,
		markdown: markdown,
		clock:    clock,
		logger:   logger,
	}
}

// Accepts reports whether entry is a content file: a file with a supported
// extension that is not the directory sentinel.
func (a *Assembler) Accepts(entry Entry) bool {
	if entry.Type != EntryFile {
		return false
	}
	name := entry.Name
	if name == "" {
		name = path.Base(entry.Path)
	}
	if strings.EqualFold(name, a.opts.IndexFile) {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range a.opts.SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Assemble fetches entry and builds its item. It returns nil, nil for
// entries that are not content. dir may be nil.
func (a *Assembler) Assemble(ctx context.Context, entry Entry, dir *DirectoryItem) (*ContentItem, error) {
	if !a.Accepts(entry) {
		return nil, nil
	}
	p := NormalizePath(entry.Path)

	file, err := a.remote.GetFileContent(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", p, err)
	}

	history, err := a.remote.GetCommitHistory(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("commit history unavailable, using current time", "path", p, "error", err)
		history = nil
	}

	item, err := a.Build(p, file.SHA, file.Content, history)
	if err != nil {
		return nil, err
	}
	if dir != nil {
		item.DirectoryID = dir.ID
	}
	return item, nil
}

// Build assembles an item from already-fetched text. history is newest first;
// when empty, the clock supplies the dates.
func (a *Assembler) Build(p, sha, text string, history []Commit) (*ContentItem, error) {
	p = NormalizePath(p)
	fm, body, err := ParseDocument(a.markdown, text)
	if err != nil {
		return nil, fmt.Errorf("parsing front matter of %s: %w", p, err)
	}

	html, err := a.markdown.RenderHTML(body)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", p, err)
	}

	item := &ContentItem{
		ID:                 StableID("item", a.opts.ID, p),
		Path:               p,
		ProviderID:         a.opts.ID,
		ProviderSpecificID: sha,
		Title:              fm.Title,
		Author:             fm.Author,
		Description:        fm.Description,
		Content:            html,
		OriginalMarkdown:   body,
		Categories:         fm.Categories,
		Tags:               fm.Tags,
		FeaturedImageURL:   fm.FeaturedImage,
		Status:             fm.Status,
		Metadata:           fm.Metadata,
		SEO:                fm.SEO,
		ReadTimeMinutes:    readTime(body),
		explicit: explicitFields{
			known:     true,
			date:      fm.Date != nil,
			slug:      fm.Slug != "",
			locale:    fm.Locale != "",
			contentID: fm.ContentID != "",
		},
	}
	if item.Title == "" {
		item.Title = TitleFromFilename(p)
	}
	if item.Status == "" {
		item.Status = StatusPublished
	}
	if item.Categories == nil {
		item.Categories = []string{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if fm.Featured != nil {
		item.IsFeatured = *fm.Featured
	}
	if fm.Order != nil {
		item.Order = *fm.Order
	}

	a.applyDates(item, fm, history)

	item.Slug = a.slugFor(fm.Slug, item)
	item.URL = a.rules.ContentURL(p, a.opts.ContentPath, item.Slug)

	item.Locale = a.rules.ExtractLocale(p, a.opts.ContentPath)
	if fm.Locale != "" {
		item.Locale = CanonicalLocale(fm.Locale)
	}

	item.ContentID = fm.ContentID
	if item.ContentID == "" {
		item.ContentID = StableID("localization", a.opts.ID, a.rules.LocalizationKey(p, a.opts.ContentPath))
	}
	return item, nil
}

func (a *Assembler) applyDates(item *ContentItem, fm FrontMatter, history []Commit) {
	if len(history) > 0 {
		item.DateCreated = history[len(history)-1].Date.UTC()
		modified := history[0].Date.UTC()
		item.LastModified = &modified
	} else {
		now := a.clock.Now().UTC()
		item.DateCreated = now
		item.LastModified = &now
	}
	if fm.Date != nil {
		item.DateCreated = *fm.Date
	}
}

func (a *Assembler) slugFor(explicit string, item *ContentItem) string {
	if ValidSlug(explicit) {
		return explicit
	}
	for _, candidate := range []string{explicit, item.Title, strings.TrimSuffix(path.Base(item.Path), path.Ext(item.Path))} {
		if s := Slugify(candidate); s != "" {
			return s
		}
	}
	return "item-" + item.ID[:8]
}

// ParseDocument splits text and decodes its front matter with md.
func ParseDocument(md Markdown, text string) (FrontMatter, string, error) {
	block, body, found := SplitFrontMatter(text)
	if !found {
		return FrontMatter{}, body, nil
	}
	fields, err := md.ParseFrontMatter(block)
	if err != nil {
		return FrontMatter{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ParseFrontMatter(fields), body, nil
}

func readTime(body string) int {
	words := len(strings.Fields(body))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}


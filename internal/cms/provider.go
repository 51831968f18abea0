package cms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

type triggerKey struct{}

// WithTrigger tags ctx with the reason for any fill it causes. The trigger is
// recorded in the sync history.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok {
		return t
	}
	return TriggerLazy
}

// Provider serves one content source through its own cache.
type Provider struct {
	ID string

	opts      ProviderOptions
	remote    RemoteTree
	builder   *TreeBuilder
	assembler *Assembler
	cache     *ContentCache
	archiver  *SnapshotArchiver
	state     StateStore
	clock     Clock
	logger    Logger
}

// ProviderOption configures optional provider collaborators.
type ProviderOption func(*Provider)

// WithStateStore records sync runs in store.
func WithStateStore(store StateStore) ProviderOption {
	return func(p *Provider) { p.state = store }
}

// WithSnapshots archives fills whose head commit is new and warm-starts from
// the newest archive when the first fill fails.
func WithSnapshots(a *SnapshotArchiver) ProviderOption {
	return func(p *Provider) { p.archiver = a }
}

// NewProvider creates a provider. Nothing is fetched until the first read.
func NewProvider(opts ProviderOptions, remote RemoteTree, markdown Markdown, clock Clock, logger Logger, options ...ProviderOption) *Provider {
	opts = opts.withDefaults()
	p := &Provider{
		ID:        opts.ID,
		opts:      opts,
		remote:    remote,
		builder:   NewTreeBuilder(opts, remote, markdown, logger),
		assembler: NewAssembler(opts, remote, markdown, clock, logger),
		clock:     clock,
		logger:    logger,
	}
	for _, o := range options {
		o(p)
	}
	p.cache = NewContentCache(opts.CacheDuration, clock, logger, p.fill)
	if p.archiver != nil {
		p.cache.OnFill(p.archive)
	}
	return p
}

// Options returns the effective provider options.
func (p *Provider) Options() ProviderOptions { return p.opts }

// Stats reports the cache state without fetching.
func (p *Provider) Stats() CacheStats { return p.cache.Stats() }

// Generation returns the live generation, filling the cache if needed.
func (p *Provider) Generation(ctx context.Context) (*Generation, error) {
	return p.cache.EnsureLoaded(ctx)
}

// GetAll returns every item ordered by path.
func (p *Provider) GetAll(ctx context.Context) ([]*ContentItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.List(), nil
}

// GetByID returns the item with id, or nil if there is none.
func (p *Provider) GetByID(ctx context.Context, id string) (*ContentItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.Item(id), nil
}

// GetByPath returns the item at the repository path, or nil.
func (p *Provider) GetByPath(ctx context.Context, path string) (*ContentItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.ItemByPath(path), nil
}

// GetByURL returns the item served at url in locale, or nil.
func (p *Provider) GetByURL(ctx context.Context, url, locale string) (*ContentItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.ItemByURL(url, locale), nil
}

// Query runs q against the live generation.
func (p *Provider) Query(ctx context.Context, q Query) (*QueryResult, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyQuery(ctx, g.ordered, q)
}

// Directories returns every directory ordered by path.
func (p *Provider) Directories(ctx context.Context) ([]*DirectoryItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.DirectoryList(), nil
}

// GetDirectory returns the directory with id, or nil.
func (p *Provider) GetDirectory(ctx context.Context, id string) (*DirectoryItem, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.Directory(id), nil
}

// Localization returns the translation index of the live generation.
func (p *Provider) Localization(ctx context.Context) (*LocalizationInfo, error) {
	g, err := p.cache.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return g.Localization(), nil
}

// Refresh refills the cache unconditionally. On failure the previous
// generation stays live and the error is returned.
func (p *Provider) Refresh(ctx context.Context) (*Generation, error) {
	if _, ok := ctx.Value(triggerKey{}).(string); !ok {
		ctx = WithTrigger(ctx, TriggerForced)
	}
	return p.cache.ForceRefresh(ctx)
}

// InvalidateAndRefresh refreshes the cache because the remote head moved to
// sha. It is a no-op when the live generation was already built from sha.
// It returns the commit of the published generation, which may differ from
// sha when the branch moved again, or be empty when the head was unknown.
func (p *Provider) InvalidateAndRefresh(ctx context.Context, sha string) (string, error) {
	if cur := p.cache.Current(); cur != nil && sha != "" && cur.CommitSHA == sha && p.cache.State() == CacheLive {
		p.logger.Debug("generation already current", "provider", p.ID, "commit", sha)
		return sha, nil
	}
	g, err := p.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return g.CommitSHA, nil
}

// Invalidate marks the live generation stale and lifts any failure backoff,
// so the next read fetches from the remote.
func (p *Provider) Invalidate() {
	p.cache.Invalidate()
}

// LatestCommitSHA returns the head commit of the configured branch.
func (p *Provider) LatestCommitSHA(ctx context.Context) (string, error) {
	return p.remote.GetLatestCommitSHA(ctx, p.opts.Branch)
}

// History returns the commits that touched the item with id, newest first.
func (p *Provider) History(ctx context.Context, id string) ([]Commit, error) {
	item, err := p.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, Wrap("history", id, ErrNotFound)
	}
	return p.remote.GetCommitHistory(ctx, item.Path)
}

// Draft builds an unsaved item from a Markdown document destined for path.
// When an item already lives at path its blob SHA and commit dates are
// carried over so that Save updates it in place.
func (p *Provider) Draft(ctx context.Context, path, text string) (*ContentItem, error) {
	path = NormalizePath(path)
	item, err := p.assembler.Build(path, "", text, nil)
	if err != nil {
		return nil, Wrap("draft", path, err)
	}
	existing, err := p.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		item.ID = existing.ID
		item.ProviderSpecificID = existing.ProviderSpecificID
		item.DirectoryID = existing.DirectoryID
		if !item.explicit.date {
			item.DateCreated = existing.DateCreated
		}
		if existing.LastModified != nil {
			t := *existing.LastModified
			item.LastModified = &t
		}
	}
	return item, nil
}

// Save writes item to the remote as Markdown with front matter. An item
// without ProviderSpecificID is created; otherwise ProviderSpecificID must
// match the remote blob or the write fails with ErrConflict. The returned
// item carries the new blob SHA.
func (p *Provider) Save(ctx context.Context, item *ContentItem, message string) (*ContentItem, error) {
	if item == nil {
		return nil, Validationf("nil item")
	}
	path := NormalizePath(item.Path)
	if err := p.validateWrite(item, path); err != nil {
		return nil, Wrap("save", path, err)
	}
	draft := item.Clone()
	draft.Path = path
	doc := RenderDocument(draft)
	if message == "" {
		message = "Update " + path
		if draft.ProviderSpecificID == "" {
			message = "Create " + path
		}
	}

	res, err := p.remote.CreateOrUpdateFile(ctx, path, doc, message, draft.ProviderSpecificID)
	if err != nil {
		return nil, Wrap("save", path, err)
	}
	p.logger.Info("content saved", "provider", p.ID, "path", path, "commit", res.CommitSHA)

	g, err := p.cache.ForceRefresh(WithTrigger(ctx, TriggerWrite))
	if g != nil {
		if saved := g.ItemByPath(path); saved != nil && (res.ContentSHA == "" || saved.ProviderSpecificID == res.ContentSHA) {
			return saved, nil
		}
	}
	if err != nil {
		p.logger.Warn("refresh after save failed", "provider", p.ID, "path", path, "error", err)
	}

	// The remote may not reflect the write yet; answer from what was written.
	saved, berr := p.assembler.Build(path, res.ContentSHA, doc, nil)
	if berr != nil {
		return nil, Wrap("save", path, berr)
	}
	if !saved.explicit.date && !draft.DateCreated.IsZero() {
		saved.DateCreated = draft.DateCreated
	}
	return saved, nil
}

// Delete removes the item with id from the remote.
func (p *Provider) Delete(ctx context.Context, id, message string) error {
	item, err := p.GetByID(ctx, id)
	if err != nil {
		return Wrap("delete", id, err)
	}
	if item == nil {
		return Wrap("delete", id, ErrNotFound)
	}
	if message == "" {
		message = "Delete " + item.Path
	}
	res, err := p.remote.DeleteFile(ctx, item.Path, message, item.ProviderSpecificID)
	if err != nil {
		return Wrap("delete", item.Path, err)
	}
	p.logger.Info("content deleted", "provider", p.ID, "path", item.Path, "commit", res.CommitSHA)

	if _, err := p.cache.ForceRefresh(WithTrigger(ctx, TriggerWrite)); err != nil {
		p.logger.Warn("refresh after delete failed", "provider", p.ID, "path", item.Path, "error", err)
	}
	return nil
}

// Snapshots lists the archived generations, newest first.
func (p *Provider) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	if p.archiver == nil {
		return nil, fmt.Errorf("snapshots are not enabled for provider %s", p.ID)
	}
	return p.archiver.List(ctx, p.ID)
}

// RestoreSnapshot loads an archived generation without publishing it.
func (p *Provider) RestoreSnapshot(ctx context.Context, name string) (*Generation, error) {
	if p.archiver == nil {
		return nil, fmt.Errorf("snapshots are not enabled for provider %s", p.ID)
	}
	return p.archiver.Restore(ctx, p.ID, name)
}

// SyncHistory returns recent fills of this provider, newest first.
func (p *Provider) SyncHistory(ctx context.Context, limit int) ([]*SyncRecord, error) {
	if p.state == nil {
		return nil, nil
	}
	return p.state.RecentSyncs(ctx, p.ID, limit)
}

func (p *Provider) validateWrite(item *ContentItem, path string) error {
	if path == "" {
		return Validationf("item has no path")
	}
	if !p.assembler.Accepts(Entry{Path: path, Type: EntryFile}) {
		return Validationf("%q is not a content file", path)
	}
	if p.opts.ContentPath != "" && !HasPathPrefix(path, p.opts.ContentPath) {
		return Validationf("%q is outside content path %q", path, p.opts.ContentPath)
	}
	if item.Slug != "" && !ValidSlug(item.Slug) {
		return Validationf("invalid slug %q", item.Slug)
	}
	return nil
}

// fill builds a complete generation from the remote. It runs under the
// cache lock, so at most one fill per provider is in flight.
func (p *Provider) fill(ctx context.Context) (*Generation, error) {
	rec := &SyncRecord{
		ProviderID: p.ID,
		Trigger:    triggerFrom(ctx),
		StartedAt:  p.clock.Now().UTC(),
	}

	sha, err := p.remote.GetLatestCommitSHA(ctx, p.opts.Branch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("head commit unavailable", "provider", p.ID, "error", err)
		sha = ""
	}
	rec.CommitSHA = sha

	g, err := p.crawl(ctx, sha)
	rec.FinishedAt = p.clock.Now().UTC()
	if err != nil {
		rec.Status, rec.Error = "error", err.Error()
		p.record(ctx, rec)
		if restored := p.warmStart(ctx); restored != nil {
			return restored, nil
		}
		return nil, err
	}

	rec.Status = "success"
	rec.Items, rec.Directories = len(g.Items), len(g.Directories)
	p.record(ctx, rec)
	p.logger.Info("content loaded", "provider", p.ID, "commit", sha, "items", rec.Items, "directories", rec.Directories, "trigger", rec.Trigger)
	return g, nil
}

// archive runs after a fill is published, outside the cache lock.
func (p *Provider) archive(ctx context.Context, g *Generation) {
	name, err := p.archiver.Keep(context.WithoutCancel(ctx), g)
	switch {
	case err != nil:
		p.logger.Warn("snapshot archive failed", "provider", p.ID, "error", err)
	case name != "":
		p.logger.Debug("snapshot archived", "provider", p.ID, "name", name)
	}
}

func (p *Provider) crawl(ctx context.Context, sha string) (*Generation, error) {
	res, err := p.builder.Build(ctx, p.opts.ContentPath)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		items []*ContentItem
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.FillConcurrency)
	for _, dir := range res.Tree.All() {
		for _, entry := range res.Files[dir] {
			if !p.assembler.Accepts(entry) {
				continue
			}
			eg.Go(func() error {
				item, err := p.assembler.Assemble(egctx, entry, dir)
				if err != nil {
					if egctx.Err() != nil {
						return egctx.Err()
					}
					p.logger.Warn("skipping content file", "provider", p.ID, "path", entry.Path, "error", err)
					return nil
				}
				if item == nil {
					return nil
				}
				mu.Lock()
				items = append(items, item)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return NewGeneration(p.ID, sha, res.Tree, items, p.opts.DefaultLocale), nil
}

// warmStart restores the newest snapshot when the cache has never been filled.
func (p *Provider) warmStart(ctx context.Context) *Generation {
	if p.archiver == nil || p.cache.Current() != nil || ctx.Err() != nil {
		return nil
	}
	g, err := p.archiver.RestoreLatest(ctx, p.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logger.Warn("snapshot warm start failed", "provider", p.ID, "error", err)
		}
		return nil
	}
	p.logger.Warn("serving content restored from snapshot", "provider", p.ID, "commit", g.CommitSHA)
	return g
}

func (p *Provider) record(ctx context.Context, rec *SyncRecord) {
	if p.state == nil {
		return
	}
	if err := p.state.RecordSync(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("recording sync failed", "provider", p.ID, "error", err)
	}
}

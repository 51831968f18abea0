package cms

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service routes reads and writes to the configured providers.
//
// Reads go to the default provider unless one is named. When that provider
// cannot load content, reads log the failure and return empty results.
// Writes always surface their errors.
type Service struct {
	providers map[string]*Provider
	order     []string
	defaultID string
	logger    Logger
}

// NewService registers providers. An empty defaultID selects the first provider.
func NewService(defaultID string, logger Logger, providers ...*Provider) (*Service, error) {
	if len(providers) == 0 {
		return nil, Validationf("at least one provider is required")
	}
	s := &Service{providers: make(map[string]*Provider, len(providers)), logger: logger}
	for _, p := range providers {
		if p.ID == "" {
			return nil, Validationf("provider without id")
		}
		if _, dup := s.providers[p.ID]; dup {
			return nil, Validationf("duplicate provider id %q", p.ID)
		}
		s.providers[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	if defaultID == "" {
		defaultID = s.order[0]
	}
	if _, ok := s.providers[defaultID]; !ok {
		return nil, Validationf("default provider %q is not configured", defaultID)
	}
	s.defaultID = defaultID
	return s, nil
}

// Provider returns the provider with id; an empty id means the default.
func (s *Service) Provider(id string) (*Provider, error) {
	if id == "" {
		id = s.defaultID
	}
	p, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ErrNotFound, id)
	}
	return p, nil
}

// Default returns the default provider.
func (s *Service) Default() *Provider { return s.providers[s.defaultID] }

// Providers returns every provider in registration order.
func (s *Service) Providers() []*Provider {
	out := make([]*Provider, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.providers[id])
	}
	return out
}

// Match returns the providers tracking branch of the repository fullName
// ("owner/repo", compared case-insensitively).
func (s *Service) Match(fullName, branch string) []*Provider {
	var out []*Provider
	for _, p := range s.Providers() {
		name := p.opts.FullName()
		if name == "" || !strings.EqualFold(name, fullName) {
			continue
		}
		want := p.opts.Branch
		if want == "" {
			want = "main"
		}
		if want == branch {
			out = append(out, p)
		}
	}
	return out
}

// generation loads the named provider's content. Unavailable content is
// reported as a nil generation; only cancellation and unknown providers are errors.
func (s *Service) generation(ctx context.Context, providerID string) (*Generation, error) {
	p, err := s.Provider(providerID)
	if err != nil {
		return nil, err
	}
	g, err := p.Generation(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("content unavailable", "provider", p.ID, "error", err)
		return nil, nil
	}
	return g, nil
}

// GetAll returns every item of the provider.
func (s *Service) GetAll(ctx context.Context, providerID string) ([]*ContentItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return []*ContentItem{}, err
	}
	return g.List(), nil
}

// GetByID returns the item with id, or nil.
func (s *Service) GetByID(ctx context.Context, providerID, id string) (*ContentItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return nil, err
	}
	return g.Item(id), nil
}

// GetByPath returns the item at path, or nil.
func (s *Service) GetByPath(ctx context.Context, providerID, path string) (*ContentItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return nil, err
	}
	return g.ItemByPath(path), nil
}

// GetByURL returns the item served at url in locale, or nil.
func (s *Service) GetByURL(ctx context.Context, providerID, url, locale string) (*ContentItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return nil, err
	}
	return g.ItemByURL(url, locale), nil
}

// Query runs q against q.ProviderID, or the default provider.
func (s *Service) Query(ctx context.Context, q Query) (*QueryResult, error) {
	g, err := s.generation(ctx, q.ProviderID)
	if g == nil {
		if err != nil {
			return nil, err
		}
		return &QueryResult{Items: []*ContentItem{}}, nil
	}
	return ApplyQuery(ctx, g.ordered, q)
}

// Directories returns every directory of the provider.
func (s *Service) Directories(ctx context.Context, providerID string) ([]*DirectoryItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return []*DirectoryItem{}, err
	}
	return g.DirectoryList(), nil
}

// RootDirectories returns the top-level directories of the provider.
func (s *Service) RootDirectories(ctx context.Context, providerID string) ([]*DirectoryItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return []*DirectoryItem{}, err
	}
	return g.RootDirectories(), nil
}

// GetDirectory returns the directory with id, or nil.
func (s *Service) GetDirectory(ctx context.Context, providerID, id string) (*DirectoryItem, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		return nil, err
	}
	return g.Directory(id), nil
}

// Localization returns the provider's translation index.
func (s *Service) Localization(ctx context.Context, providerID string) (*LocalizationInfo, error) {
	g, err := s.generation(ctx, providerID)
	if g == nil {
		if err != nil {
			return nil, err
		}
		p, _ := s.Provider(providerID)
		return &LocalizationInfo{
			DefaultLocale:    p.opts.DefaultLocale,
			AvailableLocales: []string{},
			Translations:     map[string]map[string]string{},
		}, nil
	}
	return g.Localization(), nil
}

// Save writes item through the provider named by providerID, falling back
// to item.ProviderID and then the default.
func (s *Service) Save(ctx context.Context, providerID string, item *ContentItem, message string) (*ContentItem, error) {
	if providerID == "" && item != nil {
		providerID = item.ProviderID
	}
	p, err := s.Provider(providerID)
	if err != nil {
		return nil, err
	}
	return p.Save(ctx, item, message)
}

// Delete removes the item with id from the provider.
func (s *Service) Delete(ctx context.Context, providerID, id, message string) error {
	p, err := s.Provider(providerID)
	if err != nil {
		return err
	}
	return p.Delete(ctx, id, message)
}

// RefreshAll force-refreshes every provider and joins their errors.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, p := range s.Providers() {
		if _, err := p.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

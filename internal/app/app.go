package app

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"cms-go/internal/cms"
	"cms-go/internal/config"
	"cms-go/internal/database"
	"cms-go/internal/encryption"
	"cms-go/internal/markdown"
	"cms-go/internal/remote"
	"cms-go/internal/server"
	"cms-go/internal/vault"
)

// CMSApp is the application layer between the CLI and the content service.
// It constructs all dependencies from config, exposes the operations the
// commands need and releases the state database on Close.
type CMSApp struct {
	cfg       *config.Config
	state     *database.SQLiteStore
	service   *cms.Service
	poller    *cms.Poller
	encryptor cms.Encryptor
	clock     cms.Clock
	logger    cms.Logger
	op        *Operation
	logFile   *os.File
}

// NewCMSApp creates a fully wired CMSApp from cfg. operation names the CLI
// command being run and tags every log line. The caller must call Close.
func NewCMSApp(ctx context.Context, cfg *config.Config, operation string) (*CMSApp, error) {
	clock := cms.RealClock{}
	op := NewOperation(operation, clock.Now())

	logger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := newCMSApp(ctx, cfg, &slogAdapter{l: logger}, clock)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.op = op
	a.logFile = logFile
	return a, nil
}

// newCMSApp wires the collaborators with an explicit logger and clock.
func newCMSApp(ctx context.Context, cfg *config.Config, logger cms.Logger, clock cms.Clock) (*CMSApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	state, err := database.NewStateStoreFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	a := &CMSApp{cfg: cfg, state: state, clock: clock, logger: logger}

	var archiver *cms.SnapshotArchiver
	if cfg.Snapshots.Enabled {
		archiver, err = a.newArchiver(ctx)
		if err != nil {
			state.Close()
			return nil, err
		}
	}

	md := markdown.New()
	providers := make([]*cms.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		tree, err := remote.NewRemoteFromConfig(pc, clock, logger)
		if err != nil {
			state.Close()
			return nil, fmt.Errorf("creating remote for provider %s: %w", pc.ID, err)
		}
		options := []cms.ProviderOption{cms.WithStateStore(state)}
		if archiver != nil {
			options = append(options, cms.WithSnapshots(archiver))
		}
		providers = append(providers, cms.NewProvider(providerOptions(cfg, pc), tree, md, clock, logger, options...))
	}

	svc, err := cms.NewService(cfg.DefaultProvider, logger, providers...)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("creating service: %w", err)
	}
	a.service = svc

	if cfg.Polling.Enabled {
		a.poller = cms.NewPoller(cfg.Polling.Interval(), state, clock, logger)
		for _, p := range providers {
			a.poller.Add(p.ID, p)
		}
	}
	return a, nil
}

func (a *CMSApp) newArchiver(ctx context.Context) (*cms.SnapshotArchiver, error) {
	v, err := vault.NewVaultFromConfig(ctx, a.cfg.Snapshots.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot vault: %w", err)
	}
	if err := v.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("snapshot vault %s: %w", a.cfg.Snapshots.Vault.Name, err)
	}
	enc, err := a.Encryptor()
	if err != nil {
		return nil, err
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("snapshots are enabled but no key pair exists: run `cms keys init`")
	}
	if a.cfg.Snapshots.Passphrase == "" {
		a.logger.Warn("snapshot passphrase not set, warm starts are disabled")
	}
	return cms.NewSnapshotArchiver(v, enc, a.cfg.Snapshots.Passphrase, a.cfg.Snapshots.Retain, a.clock, a.logger), nil
}

// providerOptions merges the shared cache and localization settings into
// the per-provider configuration.
func providerOptions(cfg *config.Config, pc config.ProviderConfig) cms.ProviderOptions {
	return cms.ProviderOptions{
		ID:                  pc.ID,
		Owner:               pc.Owner,
		Repository:          pc.Repository,
		Branch:              pc.Branch,
		ContentPath:         pc.ContentPath,
		SupportedExtensions: pc.SupportedExtensions,
		IndexFile:           pc.IndexFile,
		CacheDuration:       cfg.Cache.Duration(),
		FillConcurrency:     pc.FillConcurrency,
		EnableLocalization:  cfg.Localization.Enabled,
		DefaultLocale:       cfg.Localization.DefaultLocale,
		SupportedLocales:    cfg.Localization.SupportedLocales,
	}
}

// Service returns the content service.
func (a *CMSApp) Service() *cms.Service { return a.service }

// Encryptor returns the snapshot encryptor built from config.
func (a *CMSApp) Encryptor() (cms.Encryptor, error) {
	if a.encryptor != nil {
		return a.encryptor, nil
	}
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Snapshots.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc
	return enc, nil
}

// SyncResult summarizes one forced refresh.
type SyncResult struct {
	ProviderID string
	Stats      cms.CacheStats
	Err        error
}

// Sync refreshes providerID, or every provider when it is empty. A failing
// provider does not stop the others; its error is carried in the result.
func (a *CMSApp) Sync(ctx context.Context, providerID string) ([]SyncResult, error) {
	providers := a.service.Providers()
	if providerID != "" {
		p, err := a.service.Provider(providerID)
		if err != nil {
			return nil, err
		}
		providers = []*cms.Provider{p}
	}

	ctx = cms.WithTrigger(ctx, cms.TriggerForced)
	results := make([]SyncResult, 0, len(providers))
	for _, p := range providers {
		_, err := p.Refresh(ctx)
		if err != nil {
			a.op.Fail()
		}
		results = append(results, SyncResult{ProviderID: p.ID, Stats: p.Stats(), Err: err})
	}
	return results, nil
}

// Query runs q against its provider.
func (a *CMSApp) Query(ctx context.Context, q cms.Query) (*cms.QueryResult, error) {
	return a.service.Query(ctx, q)
}

// Get resolves ref as an item id, then a repository path, then a URL.
func (a *CMSApp) Get(ctx context.Context, providerID, ref string) (*cms.ContentItem, error) {
	lookups := []func() (*cms.ContentItem, error){
		func() (*cms.ContentItem, error) { return a.service.GetByID(ctx, providerID, ref) },
		func() (*cms.ContentItem, error) { return a.service.GetByPath(ctx, providerID, ref) },
		func() (*cms.ContentItem, error) { return a.service.GetByURL(ctx, providerID, ref, "") },
	}
	for _, lookup := range lookups {
		item, err := lookup()
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, cms.Wrap("get", ref, cms.ErrNotFound)
}

// Put writes the Markdown document text to path, creating or updating it.
func (a *CMSApp) Put(ctx context.Context, providerID, path, text, message string) (*cms.ContentItem, error) {
	p, err := a.service.Provider(providerID)
	if err != nil {
		return nil, err
	}
	draft, err := p.Draft(ctx, path, text)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	saved, err := a.service.Save(ctx, p.ID, draft, message)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	return saved, nil
}

// Delete removes the item referenced by ref (id, path or URL).
func (a *CMSApp) Delete(ctx context.Context, providerID, ref, message string) error {
	item, err := a.Get(ctx, providerID, ref)
	if err != nil {
		return err
	}
	if err := a.service.Delete(ctx, item.ProviderID, item.ID, message); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// History returns recent fills, newest first. An empty providerID returns
// the runs of every provider.
func (a *CMSApp) History(ctx context.Context, providerID string, limit int) ([]*cms.SyncRecord, error) {
	if providerID != "" {
		if _, err := a.service.Provider(providerID); err != nil {
			return nil, err
		}
	}
	return a.state.RecentSyncs(ctx, providerID, limit)
}

// Webhooks returns recent webhook deliveries, newest first.
func (a *CMSApp) Webhooks(ctx context.Context, limit int) ([]*cms.WebhookDelivery, error) {
	return a.state.RecentWebhooks(ctx, limit)
}

// Snapshots lists the archived generations of providerID, newest first.
func (a *CMSApp) Snapshots(ctx context.Context, providerID string) ([]cms.SnapshotInfo, error) {
	p, err := a.service.Provider(providerID)
	if err != nil {
		return nil, err
	}
	return p.Snapshots(ctx)
}

// Snapshot decrypts one archived generation without publishing it.
func (a *CMSApp) Snapshot(ctx context.Context, providerID, name string) (*cms.Generation, error) {
	p, err := a.service.Provider(providerID)
	if err != nil {
		return nil, err
	}
	return p.RestoreSnapshot(ctx, name)
}

// Serve runs the HTTP server and, when enabled, the change poller until ctx
// is cancelled.
func (a *CMSApp) Serve(ctx context.Context) error {
	srv, err := server.NewServer(server.Config{
		Address:       a.cfg.Server.Address,
		WebhookSecret: a.cfg.Webhook.Secret,
		Service:       a.service,
		Poller:        a.poller,
		State:         a.state,
		Clock:         a.clock,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(ctx) })
	}
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	return g.Wait()
}

// Close logs the operation outcome and releases resources.
func (a *CMSApp) Close() error {
	var firstErr error
	if a.op != nil {
		a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
			"elapsed", a.op.Elapsed(a.clock.Now()).String())
	}
	if err := a.state.Close(); err != nil {
		firstErr = fmt.Errorf("closing state store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

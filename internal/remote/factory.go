package remote

import (
	"fmt"

	"cms-go/internal/cms"
	"cms-go/internal/config"
	"cms-go/internal/fs"
)

// NewRemoteFromConfig creates a RemoteTree implementation based on the provider config type.
func NewRemoteFromConfig(cfg config.ProviderConfig, clock cms.Clock, logger cms.Logger) (cms.RemoteTree, error) {
	switch cfg.Type {
	case "github":
		if cfg.Owner == "" || cfg.Repository == "" {
			return nil, fmt.Errorf("github provider requires owner and repository to be set")
		}
		return NewGitHubTree(GitHubConfig{
			Owner:             cfg.Owner,
			Repository:        cfg.Repository,
			Branch:            cfg.Branch,
			Token:             cfg.APIToken,
			BaseURL:           cfg.APIBaseURL,
			Timeout:           cfg.RequestTimeout(),
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger), nil
	case "filesystem":
		if cfg.RootDir == "" {
			return nil, fmt.Errorf("filesystem provider requires root_dir to be set")
		}
		dir, err := fs.NewContentDir(cfg.RootDir, cfg.Ignore, logger)
		if err != nil {
			return nil, err
		}
		return dir, nil
	case "memory":
		return NewMemoryTree(cfg.Branch, clock), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

package cms

import (
	"strings"
	"time"
)

// Defaults applied by ProviderOptions.withDefaults.
const (
	DefaultIndexFile       = "_index.md"
	DefaultLocale          = "en"
	DefaultCacheDuration   = 30 * time.Minute
	DefaultFillConcurrency = 4
)

// ProviderOptions configures one content provider.
type ProviderOptions struct {
	ID string

	// Repository identity, used to match webhook events.
	Owner      string
	Repository string
	Branch     string

	ContentPath         string
	SupportedExtensions []string
	IndexFile           string

	CacheDuration   time.Duration
	FillConcurrency int

	EnableLocalization bool
	DefaultLocale      string
	SupportedLocales   []string
}

func (o ProviderOptions) withDefaults() ProviderOptions {
	o.ContentPath = NormalizePath(o.ContentPath)
	if len(o.SupportedExtensions) == 0 {
		o.SupportedExtensions = []string{".md", ".markdown"}
	}
	exts := make([]string, 0, len(o.SupportedExtensions))
	for _, e := range o.SupportedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	o.SupportedExtensions = exts
	if o.IndexFile == "" {
		o.IndexFile = DefaultIndexFile
	}
	if o.CacheDuration <= 0 {
		o.CacheDuration = DefaultCacheDuration
	}
	if o.FillConcurrency <= 0 {
		o.FillConcurrency = DefaultFillConcurrency
	}
	if o.DefaultLocale == "" {
		o.DefaultLocale = DefaultLocale
	}
	return o
}

// FullName returns "owner/repository", or "" when either part is unset.
func (o ProviderOptions) FullName() string {
	if o.Owner == "" || o.Repository == "" {
		return ""
	}
	return o.Owner + "/" + o.Repository
}

package cms

import (
	"slices"
	"strings"
)

// LocalizationInfo groups the locale variants of each logical document.
// It is derived from a generation's items and never stored.
type LocalizationInfo struct {
	DefaultLocale    string                       `json:"defaultLocale"`
	AvailableLocales []string                     `json:"availableLocales"`
	Translations     map[string]map[string]string `json:"translations"`
}

// BuildLocalization scans items and indexes translations by content id.
// Each translation maps a locale to the item's URL.
func BuildLocalization(items []*ContentItem, defaultLocale string) *LocalizationInfo {
	info := &LocalizationInfo{
		DefaultLocale: defaultLocale,
		Translations:  make(map[string]map[string]string),
	}
	seen := make(map[string]bool)
	if defaultLocale != "" {
		seen[strings.ToLower(defaultLocale)] = true
		info.AvailableLocales = append(info.AvailableLocales, defaultLocale)
	}
	for _, it := range items {
		if it.Locale != "" && !seen[strings.ToLower(it.Locale)] {
			seen[strings.ToLower(it.Locale)] = true
			info.AvailableLocales = append(info.AvailableLocales, it.Locale)
		}
		if it.ContentID == "" {
			continue
		}
		byLocale := info.Translations[it.ContentID]
		if byLocale == nil {
			byLocale = make(map[string]string)
			info.Translations[it.ContentID] = byLocale
		}
		if _, exists := byLocale[it.Locale]; !exists {
			byLocale[it.Locale] = it.URL
		}
	}
	slices.Sort(info.AvailableLocales)
	return info
}

// TranslationsOf returns the locale→URL map for item's logical document,
// excluding item's own locale.
func (l *LocalizationInfo) TranslationsOf(item *ContentItem) map[string]string {
	out := make(map[string]string)
	for locale, url := range l.Translations[item.ContentID] {
		if locale != item.Locale {
			out[locale] = url
		}
	}
	return out
}

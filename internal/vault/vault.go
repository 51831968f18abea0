// Package vault stores encrypted snapshot archives of loaded content
// generations. Archives are grouped by provider and identified by name.
package vault

import (
	"strings"

	"cms-go/internal/cms"
)

// checkKey rejects provider IDs and snapshot names that would escape their
// directory or prefix.
func checkKey(providerID, name string) error {
	if err := checkSegment("provider id", providerID); err != nil {
		return err
	}
	return checkSegment("snapshot name", name)
}

func checkSegment(what, s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return cms.Validationf("invalid %s %q", what, s)
	}
	return nil
}

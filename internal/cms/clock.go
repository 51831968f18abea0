package cms

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so cache expiry and commit fallbacks are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Namespace for every name-based id derived by this package.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cms-go/content"))

// StableID derives a deterministic id from its parts. The same parts always
// produce the same id, which keeps ids valid across cache generations.
func StableID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

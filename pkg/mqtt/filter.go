package mqtt

import (
	"strings"

	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
)

// matchFilter reports whether name is covered by filter, honouring the
// single level (+) and multi level (#) wildcards.
func matchFilter(filter, name string) bool {
	for {
		f, fRest, fMore := strings.Cut(filter, "/")
		if f == topic.MultiWildcard {
			return true
		}
		n, nRest, nMore := strings.Cut(name, "/")
		if f != topic.Wildcard && f != n {
			return false
		}
		if !fMore || !nMore {
			// "a/#" also matches the parent level "a".
			return fMore == nMore || (fMore && fRest == topic.MultiWildcard)
		}
		filter, name = fRest, nRest
	}
}

// plainFilter drops the $share/<group>/ prefix of a shared subscription.
func plainFilter(filter string) string {
	if rest, ok := strings.CutPrefix(filter, topic.SharePrefix); ok {
		if _, f, ok := strings.Cut(rest, "/"); ok {
			return f
		}
	}
	return filter
}

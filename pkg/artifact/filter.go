package artifact

import (
	"slices"
	"time"
)

// Filter selects artifacts from a backend listing. Empty fields match
// everything; populated fields must all hold at once. Time bounds are
// exclusive.
type Filter struct {
	XenHosts     []string
	Kinds        []Kind
	ObjectNames  []string
	Compressions []Compression
	Before       *time.Time
	After        *time.Time
}

// FilterFor restricts to the (host, kind, object) identity of a, the
// scope a backup run rotates over.
func FilterFor(a Artifact) Filter {
	return Filter{
		XenHosts:    []string{a.XenHost},
		Kinds:       []Kind{a.Kind},
		ObjectNames: []string{a.ObjectName},
	}
}

func (f Filter) Matches(a Artifact) bool {
	if len(f.XenHosts) > 0 && !slices.Contains(f.XenHosts, a.XenHost) {
		return false
	}

	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, a.Kind) {
		return false
	}

	if len(f.ObjectNames) > 0 && !slices.Contains(f.ObjectNames, a.ObjectName) {
		return false
	}

	if len(f.Compressions) > 0 && !slices.Contains(f.Compressions, a.Compression) {
		return false
	}

	if f.Before != nil && !a.Timestamp.Before(*f.Before) {
		return false
	}

	if f.After != nil && !a.Timestamp.After(*f.After) {
		return false
	}

	return true
}

package retention

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/xenbak/xenbakd/pkg/artifact"
)

// Policy describes how many artifacts a storage backend keeps. Either
// KeepLast is set (flat rotation: the newest N artifacts survive) or the
// tiered counts are (per age bucket). A zero policy disables rotation.
type Policy struct {
	KeepLast int `mapstructure:"keep_last"`

	Daily   int `mapstructure:"daily"`
	Weekly  int `mapstructure:"weekly"`
	Monthly int `mapstructure:"monthly"`
	Yearly  int `mapstructure:"yearly"`
}

// Age bounds of the tiered buckets. Artifacts older than the yearly
// bound are never rotated away.
const (
	dailyBound   = 24 * time.Hour
	weeklyBound  = 7 * 24 * time.Hour
	monthlyBound = 30 * 24 * time.Hour
	yearlyBound  = 365 * 24 * time.Hour
)

func (p Policy) IsZero() bool {
	return p.KeepLast == 0 && p.Daily == 0 && p.Weekly == 0 && p.Monthly == 0 && p.Yearly == 0
}

func (p Policy) Validate() error {
	if p.KeepLast < 0 || p.Daily < 0 || p.Weekly < 0 || p.Monthly < 0 || p.Yearly < 0 {
		return errors.New("retention counts cannot be negative")
	}

	if p.KeepLast > 0 && (p.Daily > 0 || p.Weekly > 0 || p.Monthly > 0 || p.Yearly > 0) {
		return errors.New("retention policy cannot combine keep_last with tiered counts")
	}

	return nil
}

type identity struct {
	xenHost    string
	kind       artifact.Kind
	objectName string
}

// Plan returns the artifacts that should be deleted under p, evaluated
// at now. Artifacts are grouped by (host, kind, object) identity first,
// so a broad listing never rotates one object's history against
// another's. A zero policy plans nothing.
func Plan(artifacts []artifact.Artifact, p Policy, now time.Time) []artifact.Artifact {
	if p.IsZero() {
		return nil
	}

	groups := make(map[identity][]artifact.Artifact)
	for _, a := range artifacts {
		key := identity{xenHost: a.XenHost, kind: a.Kind, objectName: a.ObjectName}
		groups[key] = append(groups[key], a)
	}

	keys := make([]identity, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].xenHost != keys[j].xenHost {
			return keys[i].xenHost < keys[j].xenHost
		}
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].objectName < keys[j].objectName
	})

	var deletions []artifact.Artifact
	for _, key := range keys {
		if p.KeepLast > 0 {
			deletions = append(deletions, planFlat(groups[key], p.KeepLast)...)
		} else {
			deletions = append(deletions, planTiered(groups[key], p, now)...)
		}
	}

	return deletions
}

// planFlat keeps the newest keep artifacts and deletes the rest.
func planFlat(group []artifact.Artifact, keep int) []artifact.Artifact {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Timestamp.After(group[j].Timestamp)
	})

	if len(group) <= keep {
		return nil
	}

	return group[keep:]
}

// planTiered walks the group oldest first and classifies every artifact
// into the first bucket whose age bound it satisfies. The artifact that
// pushes a bucket's counter over its configured count is deleted, so
// within a bucket the oldest artifacts survive.
func planTiered(group []artifact.Artifact, p Policy, now time.Time) []artifact.Artifact {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Timestamp.Before(group[j].Timestamp)
	})

	var deletions []artifact.Artifact
	var daily, weekly, monthly, yearly int

	for _, a := range group {
		age := now.Sub(a.Timestamp)

		switch {
		case age <= dailyBound:
			daily++
			if daily > p.Daily {
				deletions = append(deletions, a)
			}

		case age <= weeklyBound:
			weekly++
			if weekly > p.Weekly {
				deletions = append(deletions, a)
			}

		case age <= monthlyBound:
			monthly++
			if monthly > p.Monthly {
				deletions = append(deletions, a)
			}

		case age <= yearlyBound:
			yearly++
			if yearly > p.Yearly {
				deletions = append(deletions, a)
			}

			// older than the yearly bound: keep unconditionally
		}
	}

	return deletions
}

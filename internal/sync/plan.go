package sync

import (
	"sort"

	"github.com/Urpagin/DynamicWallpaper/internal/catalog"
)

// Plan represents the reconciliation operations for one cycle. The two sets
// are disjoint by construction: a filename present both remotely and locally
// is already synced and appears in neither.
type Plan struct {
	Download []catalog.ImageRecord // remote entries absent locally
	Delete   []string              // local filenames absent remotely
}

// IsEmpty returns true if the plan has no work
func (p *Plan) IsEmpty() bool {
	return len(p.Download) == 0 && len(p.Delete) == 0
}

// BuildPlan diffs the remote catalog against the local inventory. Filename
// equality is the sole identity criterion; content is never considered here.
// Both sets come back sorted so logs and tests are stable.
func BuildPlan(remote []catalog.ImageRecord, local []string) *Plan {
	localSet := make(map[string]bool, len(local))
	for _, name := range local {
		localSet[name] = true
	}

	plan := &Plan{}
	remoteSet := make(map[string]bool, len(remote))
	for _, rec := range remote {
		if remoteSet[rec.Filename] {
			continue // duplicate catalog entry
		}
		remoteSet[rec.Filename] = true

		if !localSet[rec.Filename] {
			plan.Download = append(plan.Download, rec)
		}
	}

	for _, name := range local {
		if !remoteSet[name] {
			plan.Delete = append(plan.Delete, name)
		}
	}

	sort.Slice(plan.Download, func(i, j int) bool {
		return plan.Download[i].Filename < plan.Download[j].Filename
	})
	sort.Strings(plan.Delete)

	return plan
}

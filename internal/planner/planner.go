// Package planner implements the sync negotiation algorithm, the C3
// component and the core of the spec: given a local inventory/tombstone
// pair and a remote inventory/tombstone pair, compute the action plan one
// peer must apply to converge. Pure and deterministic (I4) — no I/O, no
// wall-clock reads; the only inputs are the four maps passed in. Grounded
// on mutagen's pkg/synchronization/core/reconcile.go in shape (a pure,
// input-only reconciliation pass producing a change/conflict list) though
// the per-path rule set here follows spec.md §4.3 verbatim rather than
// mutagen's three-way ancestor-based merge.
package planner

import (
	"sort"
	"time"

	"github.com/abuss/syncpair/internal/model"
)

// Conflict is a diagnostic record of a same-instant disagreement, always
// resolved (never blocks the plan) but reported for visibility.
type Conflict struct {
	Path          string
	LocalInstant  time.Time
	RemoteInstant time.Time
	Winner        string // "local" or "remote"
}

// Plan is the output of Plan(): what the local side must do to converge
// with the remote side.
type Plan struct {
	Upload       []string
	Download     []model.FileInfo
	DeleteLocal  []string
	DeleteRemote []string
	Conflicts    []Conflict
}

func newPlan() *Plan {
	return &Plan{
		Upload:       []string{},
		Download:     []model.FileInfo{},
		DeleteLocal:  []string{},
		DeleteRemote: []string{},
		Conflicts:    []Conflict{},
	}
}

// Plan computes the action plan from the perspective of the local peer,
// implementing spec.md §4.3 rules 1-5 per relpath independently.
func Plan(local model.Inventory, localTombstones model.Tombstones, remote model.Inventory, remoteTombstones model.Tombstones) *Plan {
	p := newPlan()

	paths := unionPaths(local, localTombstones, remote, remoteTombstones)
	for _, path := range paths {
		lf, lLive := local[path]
		ld, lDead := localTombstones[path]
		rf, rLive := remote[path]
		rd, rDead := remoteTombstones[path]

		switch {
		case lLive && rLive:
			planBothLive(p, path, lf, rf)
		case lLive && rDead:
			planLiveVsTombstoneLocal(p, path, lf, rd)
		case rLive && lDead:
			planLiveVsTombstoneRemote(p, path, rf, ld)
		case lDead && rDead:
			// rule 5: both tombstoned, no action.
		case lLive && !rLive && !rDead:
			p.Upload = append(p.Upload, path)
		case rLive && !lLive && !lDead:
			p.Download = append(p.Download, rf)
		case lDead && !rLive && !rDead:
			// only local tombstone, remote has no record at all: nothing
			// to inform (rule 1 requires p in R for delete_remote).
		case rDead && !lLive && !lDead:
			// only remote tombstone, local has no record: nothing to do
			// (rule 2 requires p in L for delete_local).
		}
	}

	sort.Slice(p.Conflicts, func(i, j int) bool { return p.Conflicts[i].Path < p.Conflicts[j].Path })
	sort.Strings(p.Upload)
	sort.Strings(p.DeleteLocal)
	sort.Strings(p.DeleteRemote)
	sort.Slice(p.Download, func(i, j int) bool { return p.Download[i].Path < p.Download[j].Path })

	return p
}

// planBothLive implements rule 3: both sides have a live inventory entry.
func planBothLive(p *Plan, path string, lf, rf model.FileInfo) {
	if lf.Hash == rf.Hash {
		// No action; coalescing modified=min(tL,tR) is the caller's
		// concern when it persists the agreed state (the planner itself
		// does not mutate anything).
		return
	}
	switch {
	case lf.Modified.After(rf.Modified):
		p.Upload = append(p.Upload, path)
	case rf.Modified.After(lf.Modified):
		p.Download = append(p.Download, rf)
	default:
		// Exact tie, differing hashes: deterministically prefer remote.
		p.Conflicts = append(p.Conflicts, Conflict{
			Path:          path,
			LocalInstant:  lf.Modified,
			RemoteInstant: rf.Modified,
			Winner:        "remote",
		})
		p.Download = append(p.Download, rf)
	}
}

// planLiveVsTombstoneLocal implements rule 4 for p ∈ L, p ∈ Rd: local has
// a live entry, remote has a tombstone. Strictly-newer local resurrects
// (upload); otherwise the remote deletion wins (delete_local — the caller
// stamps the local tombstone with the remote's deletion instant rd when
// it applies this action).
func planLiveVsTombstoneLocal(p *Plan, path string, lf model.FileInfo, rd time.Time) {
	if lf.Modified.After(rd) {
		p.Upload = append(p.Upload, path)
		return
	}
	p.DeleteLocal = append(p.DeleteLocal, path)
}

// planLiveVsTombstoneRemote implements rule 4's symmetric case for
// p ∈ R, p ∈ Ld: remote has a live entry, local has a tombstone.
// Strictly-newer remote resurrects (download); otherwise the local
// deletion wins (delete_remote — the caller informs the coordinator to
// tombstone at the local instant ld).
func planLiveVsTombstoneRemote(p *Plan, path string, rf model.FileInfo, ld time.Time) {
	if rf.Modified.After(ld) {
		p.Download = append(p.Download, rf)
		return
	}
	p.DeleteRemote = append(p.DeleteRemote, path)
}

func unionPaths(local model.Inventory, localTombstones model.Tombstones, remote model.Inventory, remoteTombstones model.Tombstones) []string {
	set := make(map[string]struct{}, len(local)+len(localTombstones)+len(remote)+len(remoteTombstones))
	for p := range local {
		set[p] = struct{}{}
	}
	for p := range localTombstones {
		set[p] = struct{}{}
	}
	for p := range remote {
		set[p] = struct{}{}
	}
	for p := range remoteTombstones {
		set[p] = struct{}{}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

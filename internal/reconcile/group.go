package reconcile

import (
	"sort"

	"github.com/reconlabs/txreconcile/internal/model"
)

// Group is the ephemeral, per-txn_id bucket of views staged so far. It
// lives only in process memory. The stage:{txn_id} cache entry mirrors
// the staged payloads, but the engine never reads it back: a group is
// not rebuilt after a restart.
type Group struct {
	TxnID string
	views map[string]model.TransactionView // keyed by source
}

// NewGroup creates an empty group for txnID.
func NewGroup(txnID string) *Group {
	return &Group{TxnID: txnID, views: make(map[string]model.TransactionView)}
}

// Add records (or replaces) the view reported by its source.
func (g *Group) Add(v model.TransactionView) {
	g.views[v.Source] = v
}

// HasQuorum reports whether at least two distinct sources have reported
// for this transaction — the minimum needed to compare anything (§4.3.2).
func (g *Group) HasQuorum() bool {
	return len(g.views) >= 2
}

// Sources returns the reporting sources in lexicographic order, the fixed
// iteration order the comparison rules rely on for determinism (§4.3.4,
// §8).
func (g *Group) Sources() []string {
	names := make([]string, 0, len(g.views))
	for name := range g.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Views returns the group's views in source-lexicographic order.
func (g *Group) Views() []model.TransactionView {
	sources := g.Sources()
	out := make([]model.TransactionView, 0, len(sources))
	for _, s := range sources {
		out = append(out, g.views[s])
	}
	return out
}

// Empty reports whether the group holds no views.
func (g *Group) Empty() bool { return len(g.views) == 0 }

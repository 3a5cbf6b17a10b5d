package sources

import (
	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Table is a static routing table: per intent, tier 1..n maps to the
// source names ranked into that tier. Tiers are 1-based.
type Table struct {
	tiers map[string][][]string
}

var _ contractx.RoutingTable = (*Table)(nil)

// NewTable builds a table from intent -> ordered tiers.
func NewTable(tiers map[string][][]string) *Table {
	copied := make(map[string][][]string, len(tiers))
	for intent, ranked := range tiers {
		copied[intent] = append([][]string(nil), ranked...)
	}
	return &Table{tiers: copied}
}

func (t *Table) SourcesFor(intent string, tier int) []string {
	ranked, ok := t.tiers[intent]
	if !ok || tier < 1 || tier > len(ranked) {
		return nil
	}
	return ranked[tier-1]
}

func (t *Table) MaxTier(intent string) int {
	return len(t.tiers[intent])
}

// TravelTable ranks the travel sources: partner APIs first, the
// aggregator second, and the broad model-backed tier last.
func TravelTable() *Table {
	return NewTable(map[string][][]string{
		"travel.plan": {
			{"partner-hotels", "partner-flights"},
			{"aggregator"},
			{"web-broad"},
		},
		"travel.hotel": {
			{"partner-hotels"},
			{"aggregator"},
			{"web-broad"},
		},
	})
}

// Flags gates sources by name. A source missing from the map is
// enabled.
type Flags struct {
	disabled map[string]bool
}

var _ contractx.FeatureFlags = (*Flags)(nil)

func NewFlags(disabled ...string) *Flags {
	m := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		m[name] = true
	}
	return &Flags{disabled: m}
}

func (f *Flags) SourceEnabled(name string) bool {
	return !f.disabled[name]
}

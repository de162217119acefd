// Package catalog holds the frozen, data-driven description of every
// source table the CDC pipeline polls. Nothing outside this package
// branches on a source identifier: every source-specific decision is
// expressed as a field here.
package catalog

import "time"

// Entry describes one pollable source table and how to assemble its
// fragments into a conversation document.
type Entry struct {
	// SourceKey is the catalog identifier, e.g. "verint", "sf_oc".
	SourceKey string

	// Table, IDColumn, TimeColumn name the physical fragment table.
	Table      string
	IDColumn   string
	TimeColumn string

	// ValidChannels is the superset of channel tags a fragment may carry.
	// RequiredChannels must all be observed before a conversation assembles.
	ValidChannels    []string
	RequiredChannels []string

	// MinSegments is the minimum fragment count for a conversation to assemble.
	MinSegments int

	// BaseFilter is an optional extra SQL predicate applied to every query
	// against this source, beyond the time-window predicate.
	BaseFilter string

	// TimeFilterHot is the recency predicate used by the normal CDC hot path.
	// TimeFilterBulk and TimeFilterDelta are the two backfill-phase predicates.
	TimeFilterHot   string
	TimeFilterBulk  string
	TimeFilterDelta string

	// HotWindow is the lookback duration paired with TimeFilterHot: how far
	// back the hot path looks for unprocessed fragments each cycle. This is
	// the "~8.3h" recency window from the original system's DELTA query,
	// distinct from the 90-day retention window backfill's bulk phase uses.
	HotWindow time.Duration

	// IndexHint is opaque text forwarded to the DB adapter (e.g. an Oracle
	// optimizer hint); the core never interprets it.
	IndexHint string

	// ModeKey is the CDC-mode-status row key for this source, e.g. "NORMAL_VERINT".
	ModeKey string

	// DestinationTypeTag classifies conversations from this source, e.g. CALL, WAPP.
	DestinationTypeTag string

	// Enabled gates whether the CDC loop and backfill engine poll this source.
	Enabled bool
}

// Catalog is the frozen, ordered list of source entries. Order is the
// iteration order the CDC loop follows each cycle; no cross-source
// ordering is otherwise promised.
type Catalog struct {
	entries []Entry
}

// New freezes the given entries into a Catalog. It panics on a
// structurally invalid entry (empty key, zero MinSegments, or a
// RequiredChannels tag absent from ValidChannels) since the catalog is
// assembled once at process start and a bad entry is a programming error,
// not a runtime condition.
func New(entries []Entry) *Catalog {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.SourceKey == "" {
			panic("catalog: entry with empty SourceKey")
		}
		if seen[e.SourceKey] {
			panic("catalog: duplicate SourceKey " + e.SourceKey)
		}
		seen[e.SourceKey] = true

		if e.MinSegments < 1 {
			panic("catalog: " + e.SourceKey + " has MinSegments < 1")
		}
		valid := make(map[string]bool, len(e.ValidChannels))
		for _, c := range e.ValidChannels {
			valid[c] = true
		}
		for _, c := range e.RequiredChannels {
			if !valid[c] {
				panic("catalog: " + e.SourceKey + " requires channel " + c + " not in ValidChannels")
			}
		}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Catalog{entries: out}
}

// All returns the catalog entries in declared order.
func (c *Catalog) All() []Entry {
	return c.entries
}

// Enabled returns only the entries with Enabled set, in declared order.
func (c *Catalog) Enabled() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry for a source key and whether it was found.
func (c *Catalog) Lookup(sourceKey string) (Entry, bool) {
	for _, e := range c.entries {
		if e.SourceKey == sourceKey {
			return e, true
		}
	}
	return Entry{}, false
}

// DestinationTypeFor returns the destination type tag for a catalog id,
// falling back to "CALL" (the historical majority source) when the id is
// unknown — mirroring the inbound ingestor's own fallback for results that
// cannot otherwise be routed.
func (c *Catalog) DestinationTypeFor(sourceKey string) string {
	if e, ok := c.Lookup(sourceKey); ok {
		return e.DestinationTypeTag
	}
	return "CALL"
}

package cdcloop

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scalytics/cdcbridge/internal/assembler"
	"github.com/scalytics/cdcbridge/internal/catalog"
)

// Phase selects which of an entry's three time-filter predicates a query
// uses: the hot CDC path, or one of backfill's two phases.
type Phase string

const (
	PhaseHot   Phase = "hot"
	PhaseBulk  Phase = "bulk"
	PhaseDelta Phase = "delta"
)

// Candidate is one assemble-ready id paired with its fragment table's
// time-column value, in the ascending-time order CollectCandidates
// returns them.
type Candidate struct {
	ID   string
	Time time.Time
}

// Collector finds candidate source ids ready to assemble: distinct ids
// present in an entry's fragment table within the phase's time window,
// excluding excludeIDs, ordered oldest-fragment-time-first. Implementations
// own the actual relational connection; the driver and backfill engine
// only depend on this interface.
type Collector interface {
	CollectCandidates(ctx context.Context, entry catalog.Entry, phase Phase, since time.Time, limit int, excludeIDs []string) ([]Candidate, error)
}

// SQLReader is a database/sql-backed Collector and assembler.SourceReader.
// Catalog time-filter predicates are written with Oracle-style named
// binds (":since", ":windowStart") so a single catalog works unmodified
// against the production RDBMS driver; bindify translates them to the
// positional "?" placeholder style most database/sql drivers (including
// modernc.org/sqlite, used here for local runs and tests) expect.
type SQLReader struct {
	DB *sql.DB
}

// NewSQLReader wraps an open *sql.DB as a Collector/SourceReader pair.
func NewSQLReader(db *sql.DB) *SQLReader {
	return &SQLReader{DB: db}
}

func (r *SQLReader) filterFor(entry catalog.Entry, phase Phase) string {
	switch phase {
	case PhaseBulk:
		return entry.TimeFilterBulk
	case PhaseDelta:
		return entry.TimeFilterDelta
	default:
		return entry.TimeFilterHot
	}
}

// bindify rewrites every ":name" token in filter to "?", in appearance
// order, matching the positional args the caller supplies.
func bindify(filter string) string {
	var b strings.Builder
	i := 0
	for i < len(filter) {
		if filter[i] == ':' {
			j := i + 1
			for j < len(filter) && (isIdentByte(filter[j])) {
				j++
			}
			if j > i+1 {
				b.WriteByte('?')
				i = j
				continue
			}
		}
		b.WriteByte(filter[i])
		i++
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// CollectCandidates returns distinct ids in entry's table whose time
// column falls within the phase window and whose id is not in
// excludeIDs, with entry.BaseFilter applied alongside the phase's time
// predicate, each paired with its earliest matching time and ordered
// oldest-fragment-time-first. The query reads at most limit (id, time)
// rows (0 means unlimited); an id with several fragment times in the
// window uses up several of those rows — the SQL-level equivalent of the original's
// "NOT IN processed_store(recent-window) ... ORDER BY time ASC FETCH
// FIRST N ROWS". excludeIDs is typically the processed-id store's recent
// window, fetched by the caller since it lives in a separate database
// from entry's source table.
func (r *SQLReader) CollectCandidates(ctx context.Context, entry catalog.Entry, phase Phase, since time.Time, limit int, excludeIDs []string) ([]Candidate, error) {
	filter := bindify(r.filterFor(entry, phase))

	query := fmt.Sprintf("SELECT DISTINCT %s, %s FROM %s WHERE %s", entry.IDColumn, entry.TimeColumn, entry.Table, filter)
	args := []any{since.UTC()}
	if entry.BaseFilter != "" {
		query += " AND " + entry.BaseFilter
	}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND %s NOT IN (%s)", entry.IDColumn, strings.Join(placeholders, ","))
	}
	query += fmt.Sprintf(" ORDER BY %s ASC", entry.TimeColumn)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cdcloop: collect candidates for %s: %w", entry.SourceKey, err)
	}
	defer rows.Close()

	var candidates []Candidate
	seen := make(map[string]bool)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Time); err != nil {
			return nil, fmt.Errorf("cdcloop: scan candidate for %s: %w", entry.SourceKey, err)
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// FetchFragments returns every fragment row for sourceID from entry's
// table, in ascending time-column order (the tie-break order the
// assembler relies on).
func (r *SQLReader) FetchFragments(ctx context.Context, entry catalog.Entry, sourceID string) ([]assembler.Fragment, error) {
	query := fmt.Sprintf(
		"SELECT account_key, subscriber_key, channel_tag, text, %s FROM %s WHERE %s = ? ORDER BY %s ASC",
		entry.TimeColumn, entry.Table, entry.IDColumn, entry.TimeColumn,
	)
	rows, err := r.DB.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("cdcloop: fetch fragments for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var frags []assembler.Fragment
	for rows.Next() {
		var f assembler.Fragment
		if err := rows.Scan(&f.AccountKey, &f.SubscriberKey, &f.ChannelTag, &f.Text, &f.FragmentTime); err != nil {
			return nil, fmt.Errorf("cdcloop: scan fragment for %s: %w", sourceID, err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

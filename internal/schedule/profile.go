package schedule

import (
	"fmt"
	"sort"
	"time"

	"mhw-backend/internal/models"
)

// DefaultColumn is the profile column used when a group names none
const DefaultColumn = "chill"

// Entry is one row of the target profile
type Entry struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Profile is a time series of baseline temperatures, sorted by timestamp
type Profile struct {
	source  string
	columns []string
	entries []Entry
}

// NewProfile sorts the entries and rejects an empty profile
func NewProfile(source string, columns []string, entries []Entry) (*Profile, error) {
	if len(entries) == 0 {
		return nil, &models.ProfileLookupFailure{Source: source, Reason: "profile has no entries"}
	}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return &Profile{
		source:  source,
		columns: append([]string(nil), columns...),
		entries: sorted,
	}, nil
}

// Len returns the number of entries
func (p *Profile) Len() int {
	return len(p.entries)
}

// Columns returns the value column names
func (p *Profile) Columns() []string {
	return append([]string(nil), p.columns...)
}

// Span returns the first and last timestamps of the profile
func (p *Profile) Span() (time.Time, time.Time) {
	return p.entries[0].Timestamp, p.entries[len(p.entries)-1].Timestamp
}

// Lookup returns the entry nearest to now; a tie goes to the earlier entry
func (p *Profile) Lookup(now time.Time) Entry {
	entries := p.entries
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(now)
	})

	if i == 0 {
		return entries[0]
	}
	if i == len(entries) {
		return entries[len(entries)-1]
	}

	before, after := entries[i-1], entries[i]
	if now.Sub(before.Timestamp) <= after.Timestamp.Sub(now) {
		return before
	}
	return after
}

// Baselines returns the baseline of each group at now from its profile column
func (p *Profile) Baselines(now time.Time, groups []models.TankGroup) (models.TargetSet, error) {
	entry := p.Lookup(now)
	baselines := make(models.TargetSet, len(groups))

	for _, g := range groups {
		column := g.ProfileColumn
		if column == "" {
			column = DefaultColumn
		}

		v, ok := entry.Values[column]
		if !ok {
			return nil, &models.ProfileLookupFailure{
				Source: p.source,
				Reason: fmt.Sprintf("group %s: no column %q at %s", g.ID, column, entry.Timestamp.Format(time.DateTime)),
			}
		}
		baselines[g.ID] = v
	}

	return baselines, nil
}

// HasColumn reports whether the profile carries the named column
func (p *Profile) HasColumn(column string) bool {
	for _, c := range p.columns {
		if c == column {
			return true
		}
	}
	return false
}

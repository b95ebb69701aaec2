package budget

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// NAME SERIES
// =============================================================================

// Series describes a printf-style name series such as "BUD-2025-LIVE-.####".
type Series struct {
	Prefix string // "BUD-2025-LIVE-"
	Digits int
}

// Key is the counter key stored in the series table.
func (s Series) Key() string { return s.Prefix + "." + strings.Repeat("#", s.Digits) }

func (s Series) Format(seq int) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Digits, seq)
}

// Parse extracts the sequence number from a name in this series.
func (s Series) Parse(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, s.Prefix)
	if !ok || len(rest) != s.Digits {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reserve issues the next name of the series.
func (s Series) Reserve(ctx context.Context, store Store) (string, error) {
	seq, err := store.NextSeries(ctx, s.Key())
	if err != nil {
		return "", fmt.Errorf("series %s: %w", s.Key(), err)
	}
	return s.Format(seq), nil
}

// Release rolls the counter back if name was the last one issued.
func (s Series) Release(ctx context.Context, store Store, name string) error {
	seq, ok := s.Parse(name)
	if !ok {
		return nil
	}
	return store.ReleaseSeries(ctx, s.Key(), seq)
}

// BudgetSeries is BUD-{year}-{LIVE|APP}-.
func (st Settings) BudgetSeries(year string, t BudgetType) Series {
	token := st.LiveToken
	if t == BudgetSnapshot {
		token = st.SnapshotToken
	}
	return Series{Prefix: fmt.Sprintf("%s-%s-%s-", st.BudgetPrefix, year, token), Digits: st.SeriesDigits}
}

// AddendumSeries is ADD-{year}-{abbr}-.
func (st Settings) AddendumSeries(year, abbr string) Series {
	return Series{Prefix: fmt.Sprintf("%s-%s-%s-", st.AddendumPrefix, year, abbr), Digits: st.SeriesDigits}
}

var nonSlug = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Slugify makes an uppercase abbreviation of at most 12 characters.
func Slugify(value string) string {
	cleaned := strings.ToUpper(strings.Trim(nonSlug.ReplaceAllString(value, "-"), "-"))
	if len(cleaned) > 12 {
		cut := strings.TrimRight(cleaned[:12], "-")
		if cut == "" {
			cut = cleaned[:12]
		}
		cleaned = cut
	}
	if cleaned == "" {
		return "CC"
	}
	return cleaned
}

// UniqueAbbr returns base, or base-2, base-3... whichever isn't taken.
func UniqueAbbr(base string, taken func(string) bool) string {
	abbr := base
	for n := 2; taken(abbr); n++ {
		abbr = fmt.Sprintf("%s-%d", base, n)
	}
	return abbr
}

// Package sniffer classifies spreadsheet workbooks into one of the known
// statement sources by scanning sheet names and leading rows for fixed
// signature substrings.
package sniffer

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Source identifies a known statement layout.
type Source string

const (
	SourceBank         Source = "bank"
	SourceCardIsracard Source = "card-isracard"
	SourceCardMax      Source = "card-max"
	SourceUnknown      Source = "unknown"
)

// cardFamilyPrefix tags every credit-card source; the categorization
// engine's generic "any credit card" filter prefix-matches against it.
const cardFamilyPrefix = "card"

// IsCard reports whether the source belongs to the credit-card family.
func (s Source) IsCard() bool {
	return strings.HasPrefix(string(s), cardFamilyPrefix)
}

// Workbook is the minimal spreadsheet view the sniffer needs.
type Workbook interface {
	Sheets() []string
	Rows(sheet string) ([][]string, error)
}

// scanRowLimit bounds how many leading rows of a sheet are inspected.
const scanRowLimit = 40

// signature is one source's fingerprint. Signatures are not mutually
// exclusive across formats; the slice order below is the fixed detection
// priority and the first satisfied signature wins.
type signature struct {
	source    Source
	patterns  []string
	minHits   int  // distinct patterns that must appear
	allSheets bool // scan header rows of every sheet, not just the first
}

var signatures = []signature{
	{
		source: SourceBank,
		patterns: []string{
			"תנועות בחשבון",
			"תיאור הפעולה",
			"עובר ושב",
			"יתרה משוערכת",
		},
		minHits: 1,
	},
	{
		source: SourceCardIsracard,
		patterns: []string{
			"פירוט עסקאות לכרטיס",
			"מסתיים בספרות",
			"מועד חיוב",
			"שם בית עסק",
		},
		minHits:   2,
		allSheets: true,
	},
	{
		source: SourceCardMax,
		patterns: []string{
			"עסקאות במועד החיוב",
			"שם בית העסק",
			"תאריך עסקה",
			"4 ספרות אחרונות",
		},
		minHits: 2,
	},
}

// One matcher over every signature pattern; a single pass through the text
// yields the hits for all sources at once.
var (
	allPatterns   [][]byte
	patternOwners []struct {
		source  Source
		pattern string
	}
	matcher *ahocorasick.Matcher
)

func init() {
	for _, sig := range signatures {
		for _, p := range sig.patterns {
			allPatterns = append(allPatterns, []byte(p))
			patternOwners = append(patternOwners, struct {
				source  Source
				pattern string
			}{sig.source, p})
		}
	}
	matcher = ahocorasick.NewMatcher(allPatterns)
}

// Detect classifies a workbook as exactly one known source, or
// SourceUnknown when no signature is satisfied.
func Detect(wb Workbook) Source {
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return SourceUnknown
	}

	primary := strings.Join(sheets, "\n") + "\n" + sheetText(wb, sheets[0])
	hits := hitsBySource(primary)

	for _, sig := range signatures {
		count := len(hits[sig.source])
		if count < sig.minHits && sig.allSheets && len(sheets) > 1 {
			// Header fingerprints may live on any sheet for this format.
			var b strings.Builder
			for _, sheet := range sheets[1:] {
				b.WriteString(sheetText(wb, sheet))
				b.WriteByte('\n')
			}
			for src, patterns := range hitsBySource(b.String()) {
				if src != sig.source {
					continue
				}
				union := hits[src]
				for p := range patterns {
					if union == nil {
						union = make(map[string]struct{})
					}
					union[p] = struct{}{}
				}
				hits[src] = union
			}
			count = len(hits[sig.source])
		}
		if count >= sig.minHits {
			return sig.source
		}
	}

	return SourceUnknown
}

// hitsBySource returns, per source, the set of distinct signature patterns
// present in the text.
func hitsBySource(text string) map[Source]map[string]struct{} {
	hits := make(map[Source]map[string]struct{})
	for _, idx := range matcher.Match([]byte(text)) {
		if idx < 0 || idx >= len(patternOwners) {
			continue
		}
		owner := patternOwners[idx]
		if hits[owner.source] == nil {
			hits[owner.source] = make(map[string]struct{})
		}
		hits[owner.source][owner.pattern] = struct{}{}
	}
	return hits
}

func sheetText(wb Workbook, sheet string) string {
	rows, err := wb.Rows(sheet)
	if err != nil {
		return ""
	}
	if len(rows) > scanRowLimit {
		rows = rows[:scanRowLimit]
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, "|"))
		b.WriteByte('\n')
	}
	return b.String()
}

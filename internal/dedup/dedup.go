// Package dedup collapses raw outage records into a canonical set
// before they reach change detection.
package dedup

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/outage-watcher/internal/models"
)

var (
	dotDateRe   = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	isoDateRe   = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	slashDateRe = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// stripMarks removes combining diacritical marks after NFD decomposition,
// so visually close spellings compare equal.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Deduplicate returns the records with at most one entry per content
// key, preserving first-seen order, plus the number of removed
// duplicates.
func Deduplicate(outages []models.Outage) ([]models.Outage, int) {
	if len(outages) == 0 {
		return outages, 0
	}

	seen := make(map[string]struct{}, len(outages))
	unique := make([]models.Outage, 0, len(outages))
	removed := 0

	for _, outage := range outages {
		key := ContentKey(outage)
		if _, ok := seen[key]; ok {
			removed++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, outage)
	}

	return unique, removed
}

// ContentKey derives the normalized (date, place) pair that identifies a
// logically-unique outage record. When no date can be extracted the key
// falls back to the full record so nothing is silently discarded.
func ContentKey(o models.Outage) string {
	dateKey := extractDateKey(o.DateFrom)
	if dateKey == "" {
		return "no_date_" + strings.Join([]string{o.District, o.Place, o.Addresses, o.DateFrom, o.DateTo, o.Energy}, "|")
	}
	return dateKey + "_" + NormalizePlace(o.Place)
}

// extractDateKey parses the supported date formats out of free text and
// returns a normalized YYYY-MM-DD key, or "" when no date is found.
func extractDateKey(dateText string) string {
	trimmed := strings.TrimSpace(dateText)
	if trimmed == "" || trimmed == "-" {
		return ""
	}

	if m := dotDateRe.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[3], pad2(m[2]), pad2(m[1]))
	}
	if m := isoDateRe.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	if m := slashDateRe.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[3], pad2(m[2]), pad2(m[1]))
	}

	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// NormalizePlace lower-cases a place name, folds е/ё, strips diacritics
// and punctuation, and collapses whitespace so spelling variants map to
// the same key.
func NormalizePlace(place string) string {
	if strings.TrimSpace(place) == "" {
		return "unknown"
	}

	s := strings.ToLower(strings.TrimSpace(place))
	s = strings.ReplaceAll(s, "ё", "е")

	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	s = spaceRe.ReplaceAllString(s, "_")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

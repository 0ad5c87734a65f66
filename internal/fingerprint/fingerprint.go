// Package fingerprint canonicalizes law-update content and produces the
// stable hash used for cross-source deduplication and merge detection.
package fingerprint

import (
	"crypto/sha256"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ErrEmptyContent is returned when canonicalization yields an empty string.
// Hashing the empty string would collapse every blank record onto one
// degenerate hash and trigger false-positive merges.
var ErrEmptyContent = errors.New("content is empty after canonicalization")

// SourceRef ties a law update back to one upstream identifier.
type SourceRef struct {
	Source string
	LawID  string
}

// Record is the fingerprint view of a law update. Callers map their storage
// rows into this shape before hashing or merging.
type Record struct {
	LawID      string
	Title      string
	Summary    string
	Area       string
	Keywords   []string
	SourceRefs []SourceRef
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Canonicalize lower-cases, strips control runes, and collapses whitespace.
// Title and text are joined with a newline so reordered fields cannot alias.
func Canonicalize(title, text string) string {
	t := normalize(title)
	b := normalize(text)
	switch {
	case t == "" && b == "":
		return ""
	case b == "":
		return t
	case t == "":
		return b
	default:
		return t + "\n" + b
	}
}

// Hash returns the SHA-256 fingerprint of the record's canonical content.
// Two records describing the same legal change from different sources hash
// identically even when their identifiers differ.
func Hash(r Record) ([]byte, error) {
	canonical := Canonicalize(r.Title, r.Summary)
	if canonical == "" {
		return nil, ErrEmptyContent
	}
	sum := sha256.Sum256([]byte(canonical))
	return sum[:], nil
}

// Merge combines two records sharing a content hash. The result keeps the
// most complete metadata: keywords union, longer summary, earliest
// CreatedAt, latest UpdatedAt, and both sides' source references. Merge is
// symmetric in everything except the surviving LawID, which is taken from
// the record seen first.
func Merge(existing, incoming Record) Record {
	merged := existing

	if len(strings.TrimSpace(incoming.Summary)) > len(strings.TrimSpace(existing.Summary)) {
		merged.Summary = incoming.Summary
	}
	if strings.TrimSpace(merged.Title) == "" {
		merged.Title = incoming.Title
	}
	if strings.TrimSpace(merged.Area) == "" {
		merged.Area = incoming.Area
	}

	merged.Keywords = unionStrings(existing.Keywords, incoming.Keywords)
	merged.SourceRefs = unionRefs(existing.SourceRefs, incoming.SourceRefs)

	if !incoming.CreatedAt.IsZero() && (merged.CreatedAt.IsZero() || incoming.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	}

	return merged
}

func normalize(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func unionStrings(left, right []string) []string {
	seen := make(map[string]struct{}, len(left)+len(right))
	union := make([]string, 0, len(left)+len(right))
	for _, list := range [][]string{left, right} {
		for _, raw := range list {
			value := strings.TrimSpace(strings.ToLower(raw))
			if value == "" {
				continue
			}
			if _, exists := seen[value]; exists {
				continue
			}
			seen[value] = struct{}{}
			union = append(union, value)
		}
	}
	sort.Strings(union)
	return union
}

func unionRefs(left, right []SourceRef) []SourceRef {
	seen := make(map[SourceRef]struct{}, len(left)+len(right))
	union := make([]SourceRef, 0, len(left)+len(right))
	for _, list := range [][]SourceRef{left, right} {
		for _, ref := range list {
			ref.Source = strings.TrimSpace(ref.Source)
			ref.LawID = strings.TrimSpace(ref.LawID)
			if ref.Source == "" && ref.LawID == "" {
				continue
			}
			if _, exists := seen[ref]; exists {
				continue
			}
			seen[ref] = struct{}{}
			union = append(union, ref)
		}
	}
	sort.Slice(union, func(i, j int) bool {
		if union[i].Source != union[j].Source {
			return union[i].Source < union[j].Source
		}
		return union[i].LawID < union[j].LawID
	})
	return union
}

package store

import (
	"context"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/doctorapp/internal/translit"
)

const (
	// Minimum Jaro-Winkler score for a name that also sounds like the query.
	phoneticThreshold = 0.70
	// Minimum score when there is no phonetic overlap.
	fuzzyThreshold = 0.85

	// DefaultSuggestLimit is used when SuggestPatients is given limit <= 0.
	DefaultSuggestLimit = 10
)

// SuggestPatients ranks patients whose full name resembles q, for queries
// that a substring search misses ("Ilic" for "Ilić", "Jovanvic" for
// "Jovanović"). Names are compared case-insensitively after transliteration
// and diacritic folding. Candidates that share a Double Metaphone code with
// the query need a Jaro-Winkler score of 0.70; others need 0.85. The best
// matches come first, at most limit of them.
func (s *Store) SuggestPatients(ctx context.Context, q string, limit int) []PatientSummary {
	ctx, done := s.track(ctx, "suggest_patients")
	all, err := s.querySummaries(ctx, `SELECT id, full_name, phone_number, email FROM patient ORDER BY id`)
	done(err)
	if err != nil {
		return []PatientSummary{}
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	return rankByName(q, all, limit)
}

type scored struct {
	p        PatientSummary
	score    float64
	phonetic bool
}

func rankByName(q string, candidates []PatientSummary, limit int) []PatientSummary {
	query := normaliseName(q)
	if query == "" {
		return []PatientSummary{}
	}
	qTokens := strings.Fields(query)
	qCodes := codesForTokens(qTokens)

	var hits []scored
	for _, c := range candidates {
		name := normaliseName(c.FullName)
		if name == "" {
			continue
		}
		tokens := strings.Fields(name)
		phonetic := codesOverlap(qCodes, codesForTokens(tokens))
		score := bestJWScore(qTokens, tokens, query, name)
		if strings.Contains(name, query) {
			score = 1
		}
		threshold := fuzzyThreshold
		if phonetic {
			threshold = phoneticThreshold
		}
		if score >= threshold {
			hits = append(hits, scored{p: c, score: score, phonetic: phonetic})
		}
	}

	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		case a.phonetic && !b.phonetic:
			return -1
		case !a.phonetic && b.phonetic:
			return 1
		}
		return 0
	})

	out := make([]PatientSummary, 0, min(limit, len(hits)))
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.p)
	}
	return out
}

var diacriticFolder = strings.NewReplacer(
	"č", "c", "ć", "c", "š", "s", "ž", "z", "đ", "dj",
)

// normaliseName lower-cases s, maps Serbian Cyrillic to Latin and folds the
// Latin diacritics so that phonetic codes are computed on plain ASCII.
func normaliseName(s string) string {
	s = strings.ToLower(strings.TrimSpace(translit.ToLatin(s)))
	return diacriticFolder.Replace(s)
}

// codesForTokens returns the union of all Double Metaphone codes for tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(qTokens, nTokens []string, qFull, nFull string) float64 {
	score := matchr.JaroWinkler(qFull, nFull, false)

	if len(qTokens) > 1 || len(nTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nTokens, ""), false); s > score {
			score = s
		}
	}
	for _, qt := range qTokens {
		for _, nt := range nTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}

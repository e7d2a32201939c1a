package util

import (
	"sort"
	"strings"
	"unicode"
)

// Snippet returns a cleaned single-line preview of s capped at maxRunes.
func Snippet(s string, maxRunes int) string {
	return clean(s, maxRunes)
}

// EvidenceSnippet picks the sentence(s) of text that share the most terms
// with query. The best sentence is returned alone unless a runner-up also
// matches, in which case both are joined in their original order.
func EvidenceSnippet(text, query string, maxRunes int) string {
	text = clean(text, 4000)
	if text == "" {
		return ""
	}
	terms := QueryTerms(query)
	sentences := SplitSentences(text)
	if len(terms) == 0 || len(sentences) == 0 {
		return clean(text, maxRunes)
	}

	type scored struct {
		pos   int
		score int
	}
	list := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, term := range terms {
			if strings.Contains(low, term) {
				n++
			}
		}
		list = append(list, scored{pos: i, score: n})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].score > list[j].score
	})

	best := list[0]
	if len(list) > 1 && list[1].score > 0 {
		a, b := best.pos, list[1].pos
		if b < a {
			a, b = b, a
		}
		return clean(sentences[a]+" "+sentences[b], maxRunes)
	}
	return clean(sentences[best.pos], maxRunes)
}

// SplitSentences breaks s after '.', '!' or '?'.
func SplitSentences(s string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if x := strings.TrimSpace(b.String()); x != "" {
				out = append(out, x)
			}
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {}, "why": {},
	"which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {}, "from": {},
	"many": {}, "much": {}, "did": {}, "does": {}, "there": {}, "their": {}, "study": {},
	"paper": {}, "about": {}, "who": {}, "when": {}, "where": {}, "they": {}, "its": {},
}

// QueryTerms lowercases s and returns its distinct content words.
func QueryTerms(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := map[string]struct{}{}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		f = stem(f)
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// stem strips a plural "s" so "participants" also matches "participant".
func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func clean(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 420
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	if len(out) > maxRunes {
		return strings.TrimSpace(string(out[:maxRunes])) + "..."
	}
	return string(out)
}

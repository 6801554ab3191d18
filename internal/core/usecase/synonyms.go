package usecase

import "strings"

// Small fixed synonym set applied before the lexical pass to soften
// vocabulary mismatch between queries and archived conversations.
var querySynonyms = map[string][]string{
	"error":   {"failure", "fault"},
	"bug":     {"defect", "issue"},
	"fix":     {"repair", "resolve"},
	"delete":  {"remove", "drop"},
	"create":  {"add", "insert"},
	"fast":    {"quick", "performant"},
	"slow":    {"sluggish", "latency"},
	"auth":    {"authentication", "login"},
	"config":  {"configuration", "settings"},
	"limit":   {"throttle", "cap"},
	"crash":   {"panic", "abort"},
	"docs":    {"documentation", "manual"},
	"test":    {"spec", "check"},
	"deploy":  {"release", "rollout"},
	"message": {"msg", "turn"},
}

// expandQuery appends synonyms of known query terms, deduplicated, keeping
// the original terms first.
func expandQuery(query string) string {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]struct{}, len(terms))
	expanded := make([]string, 0, len(terms))
	add := func(term string) {
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		expanded = append(expanded, term)
	}

	for _, term := range terms {
		add(term)
	}
	for _, term := range terms {
		for _, syn := range querySynonyms[term] {
			add(syn)
		}
	}
	return strings.Join(expanded, " ")
}

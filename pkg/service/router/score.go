package router

import (
	"sort"
	"strings"
	"unicode"

	"github.com/qqmikey/datachat/pkg/model"
)

// Lexical re-ranking of candidate entity types. The LLM proposes candidates;
// these heuristics promote types whose names or namespaces literally appear
// in the question, and demote the assistant's internal namespace unless the
// user explicitly asks about it.

const boostThreshold = 25

// containsToken reports whether token occurs in text with non-alphanumeric
// characters (or string edges) on both sides. Text and token must already be
// lowercase.
func containsToken(text, token string) bool {
	if token == "" {
		return false
	}
	for i := 0; ; {
		idx := strings.Index(text[i:], token)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(token)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end >= len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		i = start + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// camelToWords turns "DomainChat" into "domain chat".
func camelToWords(value string) string {
	var b strings.Builder
	for i, r := range value {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// namespaceVariants lists the spellings of a namespace a user may type.
func namespaceVariants(ns string) []string {
	lowered := strings.ToLower(ns)
	seen := map[string]struct{}{}
	var out []string
	for _, v := range []string{
		lowered,
		strings.ReplaceAll(lowered, "_", " "),
		strings.ReplaceAll(lowered, "_", "-"),
		strings.ReplaceAll(lowered, "_", "."),
	} {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// mentionedNamespaces returns the manifest namespaces literally mentioned in
// the question, alphabetically ordered.
func mentionedNamespaces(question string, manifest model.Manifest) []string {
	text := strings.ToLower(question)
	var mentioned []string
	for _, ns := range manifest.Namespaces() {
		for _, variant := range namespaceVariants(ns) {
			if containsToken(text, variant) {
				mentioned = append(mentioned, ns)
				break
			}
		}
	}
	return mentioned
}

// internalHints are phrasings that signal the user really wants the
// assistant's own audit data.
var internalHints = []string{
	"assistant internals",
	"audit log",
	"audit logs",
	"execution record",
	"execution records",
	"query log",
	"querylog",
	"router log",
}

func (r *Router) isExplicitInternalRequest(question string) bool {
	text := strings.ToLower(question)
	for _, hint := range namespaceVariants(r.internalNamespace) {
		if containsToken(text, hint) {
			return true
		}
	}
	for _, hint := range internalHints {
		if containsToken(text, hint) {
			return true
		}
	}
	return false
}

// scoreEntityMatch scores how strongly the question points at one entity type
// key. Weights, in order: exact namespaced key, type name (with plural),
// camel-case words, any long camel word, mentioned namespace, and a penalty
// for the internal namespace.
func (r *Router) scoreEntityMatch(question, key string, mentioned []string) int {
	text := strings.ToLower(question)
	ns, name := model.SplitKey(key)
	nsLower := strings.ToLower(ns)
	nameLower := strings.ToLower(name)
	camelWords := camelToWords(name)
	score := 0

	keyLower := strings.ToLower(key)
	fullKeyVariants := []string{
		keyLower,
		strings.ReplaceAll(keyLower, ".", "_"),
		strings.ReplaceAll(keyLower, ".", "-"),
		strings.ReplaceAll(keyLower, ".", " "),
	}
	for _, variant := range fullKeyVariants {
		if containsToken(text, variant) {
			score += 120
			break
		}
	}

	if containsToken(text, nameLower) || containsToken(text, nameLower+"s") {
		score += 40
	}
	if camelWords != nameLower && (containsToken(text, camelWords) || containsToken(text, camelWords+"s")) {
		score += 35
	}
	for _, part := range strings.Fields(camelWords) {
		if len(part) < 4 {
			continue
		}
		if containsToken(text, part) || containsToken(text, part+"s") {
			score += 28
			break
		}
	}

	if containsString(mentioned, ns) {
		score += 55
	} else {
		for _, variant := range namespaceVariants(ns) {
			if containsToken(text, variant) {
				score += 20
				break
			}
		}
	}

	if nsLower == r.internalNamespace {
		score -= 50
		explicit := r.isExplicitInternalRequest(question)
		if explicit {
			score += 60
		}
		if len(mentioned) > 0 && !containsString(mentioned, r.internalNamespace) && !explicit {
			score -= 90
		}
	}
	return score
}

// prioritizeCandidates re-ranks the model's candidates: manifest keys whose
// lexical score clears the boost threshold come first (highest score, then
// reverse-alphabetical on ties), followed by the model's own order.
func (r *Router) prioritizeCandidates(question string, candidates []string, manifest model.Manifest, limit int) []string {
	keys := manifest.Keys()
	if len(keys) == 0 {
		if len(candidates) > limit {
			return candidates[:limit]
		}
		return candidates
	}
	mentioned := mentionedNamespaces(question, manifest)

	scores := make(map[string]int, len(keys))
	for _, key := range keys {
		scores[key] = r.scoreEntityMatch(question, key, mentioned)
	}
	ranked := append([]string(nil), keys...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] > ranked[j]
	})

	var boosted []string
	for _, key := range ranked {
		if scores[key] < boostThreshold {
			break
		}
		boosted = append(boosted, key)
		if len(boosted) >= limit {
			break
		}
	}

	var ordered []string
	for _, key := range append(boosted, candidates...) {
		if !manifest.Has(key) || containsString(ordered, key) {
			continue
		}
		ordered = append(ordered, key)
	}
	if len(ordered) == 0 {
		ordered = candidates
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

// prioritizeOptions aligns clarification options with the candidate order,
// synthesizing plain options for candidates the model skipped.
func prioritizeOptions(options []model.ClarificationOption, candidates []string, limit int) []model.ClarificationOption {
	byEntity := map[string]model.ClarificationOption{}
	for _, opt := range options {
		if opt.EntityType == "" {
			continue
		}
		if _, ok := byEntity[opt.EntityType]; !ok {
			byEntity[opt.EntityType] = opt
		}
	}

	var ordered []model.ClarificationOption
	taken := map[string]struct{}{}
	for _, key := range candidates {
		if opt, ok := byEntity[key]; ok {
			if _, dup := taken[opt.EntityType]; !dup {
				ordered = append(ordered, opt)
				taken[opt.EntityType] = struct{}{}
			}
			continue
		}
		ordered = append(ordered, model.ClarificationOption{
			ID:         itoa(len(ordered) + 1),
			Label:      key,
			EntityType: key,
		})
		taken[key] = struct{}{}
	}
	for _, opt := range options {
		if _, dup := taken[opt.EntityType]; dup {
			continue
		}
		ordered = append(ordered, opt)
		taken[opt.EntityType] = struct{}{}
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

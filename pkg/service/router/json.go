package router

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/qqmikey/datachat/pkg/model"
)

// extractJSONObject pulls a JSON object out of LLM output. It tries the whole
// text first, then the span from the first "{" to the last "}" to survive
// fenced code blocks and surrounding prose. Anything unparseable yields an
// empty map.
func extractJSONObject(text string) map[string]any {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return map[string]any{}
	}

	var direct map[string]any
	if err := json.Unmarshal([]byte(raw), &direct); err == nil {
		return direct
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return map[string]any{}
	}
	var embedded map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &embedded); err != nil {
		return map[string]any{}
	}
	return embedded
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func floatValue(v any, fallback float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return fallback
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

func upperTrimmed(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// normalizeCandidates keeps only entity type keys that exist in the manifest,
// deduplicated, in the order the model proposed them.
func normalizeCandidates(v any, manifest model.Manifest, limit int) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		key := trimmed(stringValue(item))
		if key == "" || !manifest.Has(key) {
			continue
		}
		if containsString(out, key) {
			continue
		}
		out = append(out, key)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// normalizeOptions keeps only options whose entity type exists in the
// manifest, filling missing ids and labels.
func normalizeOptions(v any, manifest model.Manifest, limit int) []model.ClarificationOption {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []model.ClarificationOption
	idx := 1
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entity := trimmed(stringValue(obj["entity_type"]))
		if entity == "" || !manifest.Has(entity) {
			continue
		}
		label := trimmed(stringValue(obj["label"]))
		if label == "" {
			label = entity
		}
		id := trimmed(stringValue(obj["id"]))
		if id == "" {
			id = itoa(idx)
		}
		out = append(out, model.ClarificationOption{ID: id, Label: label, EntityType: entity})
		idx++
		if len(out) >= limit {
			break
		}
	}
	return out
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

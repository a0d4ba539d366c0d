package model

import (
	"sort"
	"strings"
)

// Manifest is a point-in-time mapping from a namespaced entity type key
// ("namespace.EntityType") to its ordered scalar field names. Snapshots are
// immutable; the manifest cache replaces the whole map on refresh.
type Manifest map[string][]string

// Keys returns all entity type keys in alphabetical order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the given entity type key exists in the manifest.
func (m Manifest) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Clone returns a deep copy of the manifest.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, fields := range m {
		out[k] = append([]string(nil), fields...)
	}
	return out
}

// SplitKey splits "namespace.EntityType" into its namespace and type name.
// A key without a dot is treated as a bare type name with empty namespace.
func SplitKey(key string) (namespace, name string) {
	idx := strings.Index(key, ".")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// Namespaces returns the distinct namespaces present in the manifest,
// alphabetically ordered.
func (m Manifest) Namespaces() []string {
	seen := map[string]struct{}{}
	for _, key := range m.Keys() {
		ns, _ := SplitKey(key)
		if _, ok := seen[ns]; !ok {
			seen[ns] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// BareNames maps each simple entity type name to its manifest key. When two
// namespaces declare the same type name, the alphabetically later key wins,
// deterministically.
func (m Manifest) BareNames() map[string]string {
	out := make(map[string]string, len(m))
	for _, key := range m.Keys() {
		_, name := SplitKey(key)
		if name == "" {
			continue
		}
		out[name] = key
	}
	return out
}

// Snippet renders the manifest as a bounded textual digest for LLM prompts:
// at most maxTypes entity types alphabetically, at most maxFields fields per
// type.
func (m Manifest) Snippet(maxTypes, maxFields int) string {
	keys := m.Keys()
	if len(keys) > maxTypes {
		keys = keys[:maxTypes]
	}
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		fields := m[key]
		if len(fields) > maxFields {
			fields = fields[:maxFields]
		}
		lines = append(lines, key+": "+strings.Join(fields, ", "))
	}
	return strings.Join(lines, "\n")
}

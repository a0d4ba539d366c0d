package assistant

import (
	"errors"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/model"
)

// namespacedRefRe detects the common mistake of referencing an entity type
// through its namespace, like shop.Order.
var namespacedRefRe = regexp.MustCompile(`\b\w+\.[A-Z][A-Za-z0-9_]*\b`)

// autofixCode rewrites namespaced entity references to bare type names:
// "shop.models.Order" and "shop.Order" both become "Order". Best effort; the
// original code still runs if the fixed variant fails.
func autofixCode(code string, mf model.Manifest) string {
	src := strings.TrimSpace(code)
	if src == "" {
		return src
	}

	fixed := src
	for _, key := range mf.Keys() {
		ns, name := model.SplitKey(key)
		if ns == "" || name == "" {
			continue
		}
		withModels := regexp.MustCompile(`\b` + regexp.QuoteMeta(ns) + `\.models\.` + regexp.QuoteMeta(name) + `\b`)
		fixed = withModels.ReplaceAllString(fixed, name)
		plain := regexp.MustCompile(`\b` + regexp.QuoteMeta(ns) + `\.` + regexp.QuoteMeta(name) + `\b`)
		fixed = plain.ReplaceAllString(fixed, name)
	}
	return fixed
}

// isRetryableError reports whether a failed attempt is worth another
// generation. Missing configuration and LLM client errors are permanent;
// everything from execution is considered fixable by regeneration.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrNotConfigured) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403, 404:
			return false
		}
	}
	return true
}

package assistant

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/qqmikey/datachat/pkg/model"
)

func TestExtractParts(t *testing.T) {
	t.Run("three part response", func(t *testing.T) {
		content := "There are 5 paid orders.\nFiltered by status and counted.\n\n```python\nresult = Order.filter(status == \"paid\").count()\n```"
		summary, explanation, code := extractParts(content)
		gt.V(t, summary).Equal("There are 5 paid orders.")
		gt.V(t, explanation).Equal("Filtered by status and counted.")
		gt.V(t, code).Equal(`result = Order.filter(status == "paid").count()`)
	})

	t.Run("salvages unfenced code", func(t *testing.T) {
		content := "Here is the query.\nresult = Order.count()"
		summary, _, code := extractParts(content)
		gt.V(t, summary).Equal("Here is the query.")
		gt.V(t, code).Equal("result = Order.count()")
	})

	t.Run("no code at all", func(t *testing.T) {
		summary, explanation, code := extractParts("I cannot answer this.")
		gt.V(t, summary).Equal("I cannot answer this.")
		gt.V(t, explanation).Equal("")
		gt.V(t, code).Equal("")
	})
}

func TestAutofixCode(t *testing.T) {
	mf := model.Manifest{
		"shop.Order": {"id", "status"},
		"app.User":   {"id", "name"},
	}

	t.Run("rewrites namespaced references", func(t *testing.T) {
		fixed := autofixCode("result = shop.Order.filter(status == \"paid\").count()", mf)
		gt.V(t, fixed).Equal(`result = Order.filter(status == "paid").count()`)
	})

	t.Run("rewrites models path references", func(t *testing.T) {
		fixed := autofixCode("result = app.models.User.count()", mf)
		gt.V(t, fixed).Equal("result = User.count()")
	})

	t.Run("leaves bare names alone", func(t *testing.T) {
		code := "result = Order.count()"
		gt.V(t, autofixCode(code, mf)).Equal(code)
	})

	t.Run("ignores unknown namespaces", func(t *testing.T) {
		code := "result = billing.Invoice.count()"
		gt.V(t, autofixCode(code, mf)).Equal(code)
	})
}

func TestNormalizeTitle(t *testing.T) {
	gt.V(t, normalizeTitle("  Title: \"Order trends\"  \nsecond line", 80)).Equal("Order trends")
	gt.V(t, normalizeTitle("Payments   by   month...", 80)).Equal("Payments by month")
	gt.V(t, normalizeTitle("`User signups`", 80)).Equal("User signups")
	gt.V(t, normalizeTitle("", 80)).Equal("")
	gt.V(t, normalizeTitle("abcdefghij", 5)).Equal("abcde")
}

func TestIsRetryableError(t *testing.T) {
	gt.False(t, isRetryableError(nil))
	gt.False(t, isRetryableError(model.ErrNotConfigured))
	gt.False(t, isRetryableError(genai.APIError{Code: 401}))
	gt.False(t, isRetryableError(genai.APIError{Code: 404}))
	gt.True(t, isRetryableError(genai.APIError{Code: 500}))
	gt.True(t, isRetryableError(errors.New("unknown field \"email\"")))
}

func TestRetryHint(t *testing.T) {
	gt.V(t, retryHint("", "")).Equal("")

	hint := retryHint("result = app.User.count()", `name "app" is not defined`)
	gt.S(t, hint).Contains("Previous attempt failed")
	gt.S(t, hint).Contains("is not defined")
	gt.S(t, hint).Contains("bare type name")
}
